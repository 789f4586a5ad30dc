package main

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/pipeline"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/report"
	"github.com/ricesearch/rice-eval/internal/server"
)

const (
	testQrels = "q1 0 d1 2\nq1 0 d2 1\nq1 0 d3 0\n"
	testBM25  = "q1 Q0 d1 1 3.0 bm25\nq1 Q0 d2 2 2.0 bm25\nq1 Q0 d3 3 1.0 bm25\nq2 Q0 d7 1 1.0 bm25\n"
	testDense = "q1 Q0 d1 1 0.9 dense\nq1 Q0 d2 2 0.8 dense\nq1 Q0 d3 3 0.1 dense\n"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseRunSpecs(t *testing.T) {
	specs, err := parseRunSpecs([]string{"sparse=bm25.trec", "dense.trec"})
	if err != nil {
		t.Fatal(err)
	}
	if specs[0] != (runSpec{Method: "sparse", Path: "bm25.trec"}) {
		t.Errorf("specs[0] = %+v", specs[0])
	}
	if specs[1] != (runSpec{Path: "dense.trec"}) {
		t.Errorf("specs[1] = %+v", specs[1])
	}

	if _, err := parseRunSpecs([]string{"sparse="}); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestParseWeights(t *testing.T) {
	w, err := parseWeights(map[string]string{"sparse": "0.7", "dense": " 0.3 "})
	if err != nil {
		t.Fatal(err)
	}
	if w["sparse"] != 0.7 || w["dense"] != 0.3 {
		t.Errorf("weights = %v", w)
	}

	if _, err := parseWeights(map[string]string{"sparse": "lots"}); err == nil {
		t.Error("expected error for non-numeric weight")
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "rice-eval dev") {
		t.Errorf("output = %q", out)
	}
}

func TestEvaluateCmd(t *testing.T) {
	dir := t.TempDir()
	qrels := writeTemp(t, dir, "rel.qrels", testQrels)
	bm25 := writeTemp(t, dir, "bm25.trec", testBM25)
	dense := writeTemp(t, dir, "dense.trec", testDense)
	outDir := filepath.Join(dir, "reports")

	out, err := execute(t, "evaluate",
		"--qrels", qrels,
		"--run", "sparse="+bm25,
		"--run", "dense="+dense,
		"--out-dir", outDir,
	)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	if lines[0] != "config\tmetric\tmean\tscored\tunscored" {
		t.Errorf("header = %q", lines[0])
	}
	// Every default config ranks q1 ideally; q2 has no judgments.
	for i, name := range []string{"dense", "fused", "sparse"} {
		want := name + "\tndcg@10\t1.0000\t1\t1"
		if lines[i+1] != want {
			t.Errorf("line %d = %q, want %q", i+1, lines[i+1], want)
		}
	}

	for _, f := range []string{"fused.tsv", "fused.json", "fused.trec"} {
		if _, err := os.Stat(filepath.Join(outDir, f)); err != nil {
			t.Errorf("missing %s: %v", f, err)
		}
	}

	// The written reports feed compare.
	out, err = execute(t, "compare", "--metric", "ndcg@5",
		filepath.Join(outDir, "sparse.json"), filepath.Join(outDir, "fused.json"))
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if !strings.Contains(out, "fused\tndcg@5\t1.0000\t1\t1") {
		t.Errorf("compare output:\n%s", out)
	}
}

func TestEvaluateCmd_Errors(t *testing.T) {
	dir := t.TempDir()
	qrels := writeTemp(t, dir, "rel.qrels", testQrels)
	bm25 := writeTemp(t, dir, "bm25.trec", testBM25)
	bad := writeTemp(t, dir, "bad.trec", "q1 Q0 d1\n")

	tests := []struct {
		name string
		args []string
	}{
		{"missing qrels flag", []string{"evaluate", "--run", "sparse=" + bm25}},
		{"no runs", []string{"evaluate", "--qrels", qrels}},
		{"malformed run", []string{"evaluate", "--qrels", qrels, "--run", "sparse=" + bad}},
		{"same method twice", []string{"evaluate", "--qrels", qrels, "--run", "sparse=" + bm25, "--run", "sparse=" + bm25}},
		{"unknown config", []string{"evaluate", "--qrels", qrels, "--run", "sparse=" + bm25, "--fusion", "nope"}},
		{"negative weight", []string{"evaluate", "--qrels", qrels, "--run", "sparse=" + bm25, "--weights", "sparse=-1"}},
		{"bad format", []string{"evaluate", "--qrels", qrels, "--run", "sparse=" + bm25, "--format", "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFuseCmd(t *testing.T) {
	dir := t.TempDir()
	bm25 := writeTemp(t, dir, "bm25.trec", testBM25)
	dense := writeTemp(t, dir, "dense.trec", testDense)

	out, err := execute(t, "fuse",
		"--run", "sparse="+bm25,
		"--run", "dense="+dense,
		"--weights", "sparse=0.5,dense=0.5",
		"--name", "half",
		"--top-k", "2",
	)
	if err != nil {
		t.Fatalf("fuse: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	// q1 truncated to two entries, q2 keeps its single candidate.
	if len(lines) != 3 {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	fields := strings.Fields(lines[0])
	if fields[0] != "q1" || fields[2] != "d1" || fields[3] != "1" || fields[5] != "half" {
		t.Errorf("first line = %q", lines[0])
	}
	if !strings.HasPrefix(lines[2], "q2 Q0 d7 1 ") {
		t.Errorf("last line = %q", lines[2])
	}
}

func TestTopicsCmd(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "topics.xml", `<topics>
  <topic><number>2</number><title>Which is better, a laptop or a desktop?</title><objects>laptop, desktop</objects></topic>
  <topic><number>1</number><title>Is Python faster than Java?</title><objects>Python, Java</objects></topic>
</topics>`)

	out, err := execute(t, "topics", path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "1\t") || !strings.HasSuffix(lines[1], "laptop, desktop") {
		t.Errorf("output:\n%s", out)
	}
	if strings.Contains(lines[1], "?") {
		t.Errorf("query text not cleaned: %q", lines[1])
	}
}

func TestStanceCmd(t *testing.T) {
	dir := t.TempDir()
	topics := writeTemp(t, dir, "topics.xml", `<topics>
  <topic><number>q1</number><title>Is Python faster than Java?</title><objects>Python, Java</objects></topic>
</topics>`)
	corpusPath := writeTemp(t, dir, "corpus.jsonl",
		`{"id":"d1","contents":"Python is much faster than Java for scripting."}`+"\n"+
			`{"id":"d2","contents":"The weather was nice today."}`+"\n"+
			`{"id":"d3","contents":"Java is better than Python for large systems."}`+"\n")
	bm25 := writeTemp(t, dir, "bm25.trec", testBM25)
	dense := writeTemp(t, dir, "dense.trec", testDense)

	out, err := execute(t, "stance",
		"--topics", topics,
		"--corpus", corpusPath,
		"--run", "sparse="+bm25,
		"--run", "dense="+dense,
		"--top", "3",
	)
	if err != nil {
		t.Fatalf("stance: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d label lines:\n%s", len(lines), out)
	}
	for _, l := range lines {
		if f := strings.Fields(l); len(f) != 3 || f[0] != "q1" {
			t.Errorf("bad label line %q", l)
		}
	}

	gold := writeTemp(t, dir, "gold.qrels", out)
	out, err = execute(t, "stance",
		"--topics", topics,
		"--corpus", corpusPath,
		"--run", "sparse="+bm25,
		"--run", "dense="+dense,
		"--top", "3",
		"--gold", gold,
	)
	if err != nil {
		t.Fatalf("stance --gold: %v", err)
	}
	if !strings.Contains(out, "accuracy\t1.0000") {
		t.Errorf("scoring own predictions should be exact:\n%s", out)
	}
}

func TestSubmitAndRemoteCompare(t *testing.T) {
	cfg := config.Default()
	p, err := pipeline.New(cfg, nil, pipeline.Deps{Reports: report.NewMemoryStore(0)})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(server.New(cfg, p, logger.Discard(), server.Options{}).Handler())
	defer srv.Close()

	dir := t.TempDir()
	qrels := writeTemp(t, dir, "rel.qrels", testQrels)
	bm25 := writeTemp(t, dir, "bm25.trec", testBM25)
	dense := writeTemp(t, dir, "dense.trec", testDense)

	out, err := execute(t, "submit",
		"--server", srv.URL,
		"--qrels", qrels,
		"--run", "sparse="+bm25,
		"--run", "dense="+dense,
		"--fusion", "fused",
	)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.Contains(out, "fused\tndcg@10\t1.0000\t1\t1") {
		t.Errorf("submit output:\n%s", out)
	}

	out, err = execute(t, "compare", "--server", srv.URL, "--metric", "p@5")
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "fused\tp@5\t") {
		t.Errorf("compare output:\n%s", out)
	}

	if _, err := execute(t, "submit", "--server", srv.URL, "--run", bm25); err == nil {
		t.Error("expected error for run without method")
	}
}

func TestEventsCmd(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RICE_BUS_JOURNAL", filepath.Join(dir, "events.jsonl"))
	qrels := writeTemp(t, dir, "rel.qrels", testQrels)
	bm25 := writeTemp(t, dir, "bm25.trec", testBM25)
	dense := writeTemp(t, dir, "dense.trec", testDense)

	if _, err := execute(t, "evaluate", "--publish",
		"--qrels", qrels, "--run", "sparse="+bm25, "--run", "dense="+dense); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	out, err := execute(t, "events", "--topic", "report.completed")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d report events:\n%s", len(lines), out)
	}
	for _, line := range lines {
		if fields := strings.Split(line, "\t"); len(fields) != 5 || fields[1] != "report.completed" || fields[3] != "rice-eval" {
			t.Errorf("event line = %q", line)
		}
	}

	out, err = execute(t, "events", "--since", "1h", "--limit", "4")
	if err != nil {
		t.Fatalf("events --limit: %v", err)
	}
	if n := len(strings.Split(strings.TrimSpace(out), "\n")); n != 4 {
		t.Errorf("--limit 4 listed %d events", n)
	}

	// Every config published one fused ranking and one report.
	out, err = execute(t, "events", "--restore")
	if err != nil {
		t.Fatalf("events --restore: %v", err)
	}
	if out != "restored 3 reports from 6 events\n" {
		t.Errorf("restore output = %q", out)
	}

	if _, err := execute(t, "events", "--since", "yesterday"); err == nil {
		t.Error("expected error for invalid --since")
	}
	if _, err := execute(t, "events", "--journal", filepath.Join(dir, "missing.jsonl")); err == nil {
		t.Error("expected error for missing journal")
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		value   string
		want    time.Time
		wantErr bool
	}{
		{"", time.Time{}, false},
		{"2024-02-29T08:00:00Z", time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC), false},
		{"90m", now.Add(-90 * time.Minute), false},
		{"-1h", time.Time{}, true},
		{"soon", time.Time{}, true},
	}

	for _, tt := range tests {
		got, err := parseSince(tt.value, now)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseSince(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseSince(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
