package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/ricesearch/rice-eval/internal/evaluation"
)

func sample(t *testing.T) *Summary {
	t.Helper()
	s, err := Summarize("fused", []evaluation.MetricResult{
		{QueryID: "1", Metric: "ndcg@5", Value: 0.5, Scored: true},
		{QueryID: "1", Metric: "mrr", Value: 1, Scored: true},
		{QueryID: "2", Metric: "ndcg@5"},
		{QueryID: "2", Metric: "mrr"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestWriteQueryTSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteQueryTSV(&buf, sample(t)); err != nil {
		t.Fatalf("WriteQueryTSV() error = %v", err)
	}

	want := strings.Join([]string{
		"query_id\tmrr\tndcg@5",
		"1\t1.0000\t0.5000",
		"2\tunscored\tunscored",
		"mean\t1.0000\t0.5000",
	}, "\n") + "\n"
	if buf.String() != want {
		t.Errorf("WriteQueryTSV() =\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestWriteComparisonTSV(t *testing.T) {
	rows := []ComparisonRow{
		{Config: "a", Metric: "mrr", Mean: 0.25, Scored: 4, Unscored: 1, Found: true},
		{Config: "b", Metric: "mrr"},
	}

	var buf bytes.Buffer
	if err := WriteComparisonTSV(&buf, rows); err != nil {
		t.Fatalf("WriteComparisonTSV() error = %v", err)
	}

	want := "config\tmetric\tmean\tscored\tunscored\na\tmrr\t0.2500\t4\t1\nb\tmrr\t\t0\t0\n"
	if buf.String() != want {
		t.Errorf("WriteComparisonTSV() = %q, want %q", buf.String(), want)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sample(t)); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	var decoded Summary
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if decoded.Config != "fused" || len(decoded.Metrics) != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
	if !strings.Contains(buf.String(), "\n  \"config\"") {
		t.Error("expected indented output")
	}
}
