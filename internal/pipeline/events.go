package pipeline

import (
	"github.com/ricesearch/rice-eval/internal/fusion"
	"github.com/ricesearch/rice-eval/internal/report"
)

// RankingsFused is the payload of bus.TopicRankingsFused.
type RankingsFused struct {
	RunID    string           `json:"run_id"`
	Config   string           `json:"config"`
	Queries  int              `json:"queries"`
	Rankings []fusion.Ranking `json:"rankings"`
}

// ReportCompleted is the payload of bus.TopicReportCompleted.
type ReportCompleted struct {
	RunID       string             `json:"run_id"`
	Config      string             `json:"config"`
	Fingerprint string             `json:"fingerprint"`
	Means       map[string]float64 `json:"means"`
	Scored      int                `json:"scored"`
	Unscored    int                `json:"unscored"`

	// Summary is the full report, so subscribers can store it.
	Summary *report.Summary `json:"summary,omitempty"`
}

func newRankingsFused(runID, config string, rankings []fusion.Ranking) RankingsFused {
	return RankingsFused{RunID: runID, Config: config, Queries: len(rankings), Rankings: rankings}
}

func newReportCompleted(s *report.Summary) ReportCompleted {
	means := make(map[string]float64, len(s.Metrics))
	for _, m := range s.Metrics {
		means[m.Metric] = m.Mean
	}
	scored, unscored := queryCounts(s)
	return ReportCompleted{
		RunID:       s.ID,
		Config:      s.Config,
		Fingerprint: s.Fingerprint,
		Means:       means,
		Scored:      scored,
		Unscored:    unscored,
		Summary:     s,
	}
}
