package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-eval/internal/fusion"
	"github.com/ricesearch/rice-eval/internal/pipeline"
	"github.com/ricesearch/rice-eval/internal/run"
)

func fuseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fuse",
		Short: "Fuse candidate runs into TREC rankings",
		Long: `Fuse merges per-method candidate runs into one ranking per query and
writes the result in TREC run format, tagged with the fusion config name.

Without --weights every configured fusion config (or those named by --fusion)
is applied and all rankings are written to the same output.`,
		Example: `  rice-eval fuse --run sparse=bm25.trec --run dense=dense.trec --weights sparse=0.5,dense=0.5
  rice-eval fuse --run sparse=bm25.trec --run dense=dense.trec --fusion fused -o fused.trec`,
		RunE: runFuse,
	}

	cmd.Flags().StringArray("run", nil, "candidate run as method=path (repeatable)")
	cmd.Flags().String("topics", "", "topics XML; adds topics without candidates as empty rankings")
	cmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	fusionFlags(cmd)

	return cmd
}

func runFuse(cmd *cobra.Command, _ []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}

	p, err := pipeline.New(e.cfg, nil, pipeline.Deps{Log: e.log})
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
	for _, fc := range configs {
		if err := fc.Validate(); err != nil {
			return fmt.Errorf("config %s: %w", fc.Name, err)
		}
	}

	outPath, _ := cmd.Flags().GetString("output")
	out, closeOut, err := createOutput(cmd, outPath)
	if err != nil {
		return err
	}
	defer func() { _ = closeOut() }()

	for _, fc := range configs {
		rankings, err := p.Fuse(cmd.Context(), fc)
		if err != nil {
			return fmt.Errorf("config %s: %w", fc.Name, err)
		}
		if err := run.WriteTREC(out, fc.Name, rankingLists(rankings)); err != nil {
			return err
		}
		e.log.WithConfig(fc.Name).Info("Fused rankings", "queries", len(rankings), "top_k", fc.TopK)
	}
	return closeOut()
}

func rankingLists(rankings []fusion.Ranking) []run.CandidateList {
	lists := make([]run.CandidateList, len(rankings))
	for i, r := range rankings {
		lists[i] = r.List()
	}
	return lists
}
