// Package report aggregates per-query metric results into per-configuration
// summaries, compares configurations and keeps a history of published reports.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/ricesearch/rice-eval/internal/evaluation"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// QueryValue is one row of a metric's per-query breakdown.
type QueryValue struct {
	QueryID string  `json:"query_id"`
	Value   float64 `json:"value"`
	Scored  bool    `json:"scored"`
}

// MetricSummary is the aggregate of one metric over all queries of a configuration.
type MetricSummary struct {
	Metric   string       `json:"metric"`
	Mean     float64      `json:"mean"`
	Scored   int          `json:"scored"`
	Unscored int          `json:"unscored"`
	Queries  []QueryValue `json:"queries"`
}

// Summary is the report of one configuration.
type Summary struct {
	ID          string          `json:"id,omitempty"`
	Config      string          `json:"config"`
	Fingerprint string          `json:"fingerprint,omitempty"`
	CreatedAt   time.Time       `json:"created_at,omitempty"`
	Metrics     []MetricSummary `json:"metrics"`
}

// Metric returns the summary of the named metric.
func (s *Summary) Metric(name string) (MetricSummary, bool) {
	for _, m := range s.Metrics {
		if m.Metric == name {
			return m, true
		}
	}
	return MetricSummary{}, false
}

// QueryIDs returns every query in the breakdown, ascending.
func (s *Summary) QueryIDs() []string {
	seen := make(map[string]struct{})
	for _, m := range s.Metrics {
		for _, q := range m.Queries {
			seen[q.QueryID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Summarize aggregates results of one configuration. The mean of a metric is
// taken over scored queries only; unscored queries stay in the breakdown.
// Rows are ordered by query ID before summing, so the result does not depend
// on the order results arrive in.
func Summarize(config string, results []evaluation.MetricResult) (*Summary, error) {
	byMetric := make(map[string][]QueryValue)
	seen := make(map[[2]string]struct{}, len(results))

	for _, r := range results {
		key := [2]string{r.QueryID, r.Metric}
		if _, dup := seen[key]; dup {
			return nil, apperrors.ValidationError(fmt.Sprintf("config %s: duplicate %s result for query %s", config, r.Metric, r.QueryID))
		}
		seen[key] = struct{}{}
		byMetric[r.Metric] = append(byMetric[r.Metric], QueryValue{QueryID: r.QueryID, Value: r.Value, Scored: r.Scored})
	}

	names := make([]string, 0, len(byMetric))
	for name := range byMetric {
		names = append(names, name)
	}
	sort.Strings(names)

	s := &Summary{Config: config, Metrics: make([]MetricSummary, 0, len(names))}
	for _, name := range names {
		rows := byMetric[name]
		sort.Slice(rows, func(i, j int) bool { return rows[i].QueryID < rows[j].QueryID })

		ms := MetricSummary{Metric: name, Queries: rows}
		sum := 0.0
		for _, q := range rows {
			if !q.Scored {
				ms.Unscored++
				continue
			}
			ms.Scored++
			sum += q.Value
		}
		if ms.Scored > 0 {
			ms.Mean = sum / float64(ms.Scored)
		}
		s.Metrics = append(s.Metrics, ms)
	}

	return s, nil
}
