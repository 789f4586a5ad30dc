package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/goccy/go-json"
)

// Unscored marks a query without judgments in tabular output.
const Unscored = "unscored"

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// WriteQueryTSV writes the per-query breakdown of s: one row per query, one
// column per metric, followed by a "mean" row.
func WriteQueryTSV(w io.Writer, s *Summary) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'

	header := []string{"query_id"}
	values := make([]map[string]QueryValue, len(s.Metrics))
	for i, m := range s.Metrics {
		header = append(header, m.Metric)
		values[i] = make(map[string]QueryValue, len(m.Queries))
		for _, q := range m.Queries {
			values[i][q.QueryID] = q
		}
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, id := range s.QueryIDs() {
		row := []string{id}
		for i := range s.Metrics {
			q, ok := values[i][id]
			switch {
			case !ok:
				row = append(row, "")
			case !q.Scored:
				row = append(row, Unscored)
			default:
				row = append(row, formatValue(q.Value))
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	mean := []string{"mean"}
	for _, m := range s.Metrics {
		mean = append(mean, formatValue(m.Mean))
	}
	if err := cw.Write(mean); err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}

// WriteComparisonTSV writes comparison rows as a table.
func WriteComparisonTSV(w io.Writer, rows []ComparisonRow) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'

	if err := cw.Write([]string{"config", "metric", "mean", "scored", "unscored"}); err != nil {
		return err
	}
	for _, r := range rows {
		mean := formatValue(r.Mean)
		if !r.Found {
			mean = ""
		}
		if err := cw.Write([]string{r.Config, r.Metric, mean, strconv.Itoa(r.Scored), strconv.Itoa(r.Unscored)}); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
