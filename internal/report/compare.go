package report

import "sort"

// ComparisonRow is one configuration's aggregate of a metric.
type ComparisonRow struct {
	Config   string  `json:"config"`
	Metric   string  `json:"metric"`
	Mean     float64 `json:"mean"`
	Scored   int     `json:"scored"`
	Unscored int     `json:"unscored"`
	Found    bool    `json:"found"`
}

// Compare lines up summaries on metric, best mean first and by config name on ties.
// Summaries that lack the metric are listed last with Found false.
func Compare(summaries []*Summary, metric string) []ComparisonRow {
	rows := make([]ComparisonRow, 0, len(summaries))
	for _, s := range summaries {
		row := ComparisonRow{Config: s.Config, Metric: metric}
		if m, ok := s.Metric(metric); ok {
			row.Mean = m.Mean
			row.Scored = m.Scored
			row.Unscored = m.Unscored
			row.Found = true
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Found != b.Found {
			return a.Found
		}
		if a.Mean != b.Mean {
			return a.Mean > b.Mean
		}
		return a.Config < b.Config
	})
	return rows
}
