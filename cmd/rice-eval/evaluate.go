package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-eval/internal/bus"
	"github.com/ricesearch/rice-eval/internal/pipeline"
	"github.com/ricesearch/rice-eval/internal/report"
	"github.com/ricesearch/rice-eval/internal/run"
)

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Fuse runs and score them against relevance judgments",
		Long: `Evaluate fuses the given runs under each fusion config, computes nDCG@K and
the binary metrics per query, and prints the configs side by side.

Queries without judgments are listed as unscored and excluded from the means.`,
		Example: `  rice-eval evaluate --qrels touche-rel.qrels --quality-qrels touche-qual.qrels \
    --run sparse=bm25.trec --run dense=dense.trec --per-query
  rice-eval evaluate --qrels rel.qrels --run sparse=bm25.trec --run dense=dense.trec \
    --weights sparse=0.7,dense=0.3 --strategy rrf --out-dir reports/`,
		RunE: runEvaluate,
	}

	cmd.Flags().String("qrels", "", "relevance qrels file (required)")
	cmd.Flags().String("quality-qrels", "", "quality qrels file")
	cmd.Flags().StringArray("run", nil, "candidate run as method=path (repeatable)")
	cmd.Flags().String("topics", "", "topics XML; topics without candidates are scored too")
	cmd.Flags().String("metric", "", "metric to compare on (default: ndcg@ largest K)")
	cmd.Flags().Bool("per-query", false, "print the per-query breakdown of every config")
	cmd.Flags().String("out-dir", "", "write <config>.tsv, <config>.json and <config>.trec here")
	cmd.Flags().Bool("publish", false, "publish events on the configured bus")
	cmd.Flags().Bool("save", false, "save reports to the configured report store")
	fusionFlags(cmd)
	_ = cmd.MarkFlagRequired("qrels")

	return cmd
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	relPath, _ := cmd.Flags().GetString("qrels")
	qualPath, _ := cmd.Flags().GetString("quality-qrels")
	store, err := loadJudgments(relPath, qualPath)
	if err != nil {
		return err
	}

	deps := pipeline.Deps{Log: e.log}
	if publish, _ := cmd.Flags().GetBool("publish"); publish {
		b, err := bus.NewBus(e.cfg.Bus, e.log)
		if err != nil {
			return err
		}
		defer func() { _ = b.Close() }()
		deps.Bus = b
	}
	if save, _ := cmd.Flags().GetBool("save"); save {
		rs, err := report.NewStore(e.cfg.Store)
		if err != nil {
			return err
		}
		defer func() { _ = rs.Close() }()
		deps.Reports = rs
	}

	p, err := pipeline.New(e.cfg, store, deps)
	if err != nil {
		return err
	}
	runs, _ := cmd.Flags().GetStringArray("run")
	if err := loadRuns(p, runs, e.cfg.Eval.RunDepth); err != nil {
		return err
	}
	topicsPath, _ := cmd.Flags().GetString("topics")
	if _, err := loadTopics(p, topicsPath); err != nil {
		return err
	}

	configs, err := selectConfigs(cmd, e.cfg)
	if err != nil {
		return err
	}
	results, err := p.EvaluateAll(ctx, configs)
	if err != nil {
		return err
	}

	metric, _ := cmd.Flags().GetString("metric")
	if metric == "" {
		metric = defaultMetric(p)
	}
	rows := pipeline.Compare(results, metric)

	if outDir, _ := cmd.Flags().GetString("out-dir"); outDir != "" {
		if err := writeResults(outDir, results); err != nil {
			return err
		}
		e.log.Info("Wrote reports", "dir", outDir, "configs", len(results))
	}

	out := cmd.OutOrStdout()
	if e.format == "json" {
		summaries := make([]*report.Summary, len(results))
		for i, r := range results {
			summaries[i] = r.Summary
		}
		return report.WriteJSON(out, map[string]any{
			"metric":     metric,
			"comparison": rows,
			"reports":    summaries,
		})
	}

	if err := report.WriteComparisonTSV(out, rows); err != nil {
		return err
	}
	if perQuery, _ := cmd.Flags().GetBool("per-query"); perQuery {
		for _, r := range results {
			fmt.Fprintf(out, "\n# %s\n", r.Config.Name)
			if err := report.WriteQueryTSV(out, r.Summary); err != nil {
				return err
			}
		}
	}
	return nil
}

// defaultMetric is nDCG at the largest configured cutoff.
func defaultMetric(p *pipeline.Pipeline) string {
	ks := p.Options().Ks
	k := 0
	for _, v := range ks {
		k = max(k, v)
	}
	return "ndcg@" + strconv.Itoa(k)
}

func writeResults(dir string, results []*pipeline.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	for _, r := range results {
		base := filepath.Join(dir, r.Config.Name)
		if err := writeFile(base+".tsv", func(f *os.File) error { return report.WriteQueryTSV(f, r.Summary) }); err != nil {
			return err
		}
		if err := writeFile(base+".json", func(f *os.File) error { return report.WriteJSON(f, r.Summary) }); err != nil {
			return err
		}
		if err := writeFile(base+".trec", func(f *os.File) error {
			return run.WriteTREC(f, r.Config.Name, rankingLists(r.Rankings))
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func compareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare [report.json...]",
		Short: "Compare saved reports on one metric",
		Long: `Compare lines up report JSON files written by 'evaluate --out-dir'. Without
arguments the latest report of every config is used, read from --server when
given and from the configured report store otherwise.`,
		RunE: runCompare,
	}
	cmd.Flags().String("metric", "ndcg@10", "metric to compare on")
	clientFlags(cmd)
	return cmd
}

func runCompare(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}

	var summaries []*report.Summary
	serverURL, _ := cmd.Flags().GetString("server")
	switch {
	case len(args) > 0:
		summaries, err = readSummaries(args)
	case serverURL != "":
		summaries, err = remoteSummaries(cmd, e)
	default:
		summaries, err = latestSummaries(cmd, e)
	}
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		return fmt.Errorf("no reports to compare")
	}

	metric, _ := cmd.Flags().GetString("metric")
	rows := report.Compare(summaries, metric)
	if e.format == "json" {
		return report.WriteJSON(cmd.OutOrStdout(), rows)
	}
	return report.WriteComparisonTSV(cmd.OutOrStdout(), rows)
}

func readSummaries(paths []string) ([]*report.Summary, error) {
	summaries := make([]*report.Summary, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading report: %w", err)
		}
		var s report.Summary
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
		if s.Config == "" {
			return nil, fmt.Errorf("%s: report has no config name", path)
		}
		summaries = append(summaries, &s)
	}
	return summaries, nil
}

func latestSummaries(cmd *cobra.Command, e *env) ([]*report.Summary, error) {
	store, err := report.NewStore(e.cfg.Store)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	configs, err := store.Configs(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]*report.Summary, 0, len(configs))
	for _, name := range configs {
		s, err := store.Latest(ctx, name)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

func remoteSummaries(cmd *cobra.Command, e *env) ([]*report.Summary, error) {
	c := newClient(cmd, e)
	ctx := cmd.Context()

	configs, err := c.ReportConfigs(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]*report.Summary, 0, len(configs))
	for _, name := range configs {
		s, err := c.LatestReport(ctx, name)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}
