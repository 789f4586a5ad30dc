package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-eval/internal/corpus"
	"github.com/ricesearch/rice-eval/internal/fusion"
	"github.com/ricesearch/rice-eval/internal/pipeline"
	"github.com/ricesearch/rice-eval/internal/report"
	"github.com/ricesearch/rice-eval/internal/stance"
	"github.com/ricesearch/rice-eval/internal/topic"
)

func stanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stance",
		Short: "Classify the stance of top fused passages",
		Long: `Stance fuses the runs under one fusion config, takes the top passages of
every topic and labels each FIRST, SECOND, NEUTRAL or NO with the lexical
baseline classifier. Labels are written as "qid label docid" lines.

With --gold the predictions are scored (accuracy, macro-F1, per-label P/R/F1)
and the scores are printed instead.`,
		Example: `  rice-eval stance --topics topics.xml --corpus passages.jsonl \
    --run sparse=bm25.trec --run dense=dense.trec --gold stance.qrels`,
		RunE: runStance,
	}

	cmd.Flags().String("topics", "", "topics XML (required)")
	cmd.Flags().String("corpus", "", "passage corpus JSONL (required)")
	cmd.Flags().StringArray("run", nil, "candidate run as method=path (repeatable)")
	cmd.Flags().String("fusion-config", "fused", "configured fusion config to take passages from")
	cmd.Flags().Int("top", 0, "passages per topic (default: eval.stance_top)")
	cmd.Flags().String("gold", "", "gold stance labels to score against")
	cmd.Flags().StringP("output", "o", "", "labels output file (default: stdout)")
	_ = cmd.MarkFlagRequired("topics")
	_ = cmd.MarkFlagRequired("corpus")

	return cmd
}

func runStance(cmd *cobra.Command, _ []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	p, err := pipeline.New(e.cfg, nil, pipeline.Deps{Log: e.log})
	if err != nil {
		return err
	}
	runs, _ := cmd.Flags().GetStringArray("run")
	if err := loadRuns(p, runs, e.cfg.Eval.RunDepth); err != nil {
		return err
	}
	topicsPath, _ := cmd.Flags().GetString("topics")
	topics, err := loadTopics(p, topicsPath)
	if err != nil {
		return err
	}

	name, _ := cmd.Flags().GetString("fusion-config")
	fc, ok := e.cfg.FusionConfig(name)
	if !ok {
		return fmt.Errorf("unknown fusion config %q", name)
	}
	rankings, err := p.Fuse(ctx, fc)
	if err != nil {
		return err
	}

	top, _ := cmd.Flags().GetInt("top")
	if top <= 0 {
		top = e.cfg.Eval.StanceTop
	}

	// Only passages that can be selected are kept in memory.
	wanted := make(map[string]struct{})
	for _, r := range rankings {
		for i, entry := range r.Entries {
			if i >= top {
				break
			}
			wanted[entry.DocID] = struct{}{}
		}
	}
	corpusPath, _ := cmd.Flags().GetString("corpus")
	passages, err := corpus.LoadJSONL(corpusPath, func(id string) bool {
		_, ok := wanted[id]
		return ok
	})
	if err != nil {
		return err
	}
	e.log.Info("Loaded passages", "kept", passages.Len(), "wanted", len(wanted))

	inputs, err := stanceInputs(rankings, topics, passages, top)
	if err != nil {
		return err
	}

	predicted, err := stance.ClassifyAll(ctx, stance.Lexical{}, inputs, e.cfg.Eval.Workers)
	if err != nil {
		return err
	}

	goldPath, _ := cmd.Flags().GetString("gold")
	if goldPath != "" {
		gold, err := stance.LoadLabels(goldPath)
		if err != nil {
			return err
		}
		scores, err := stance.Evaluate(gold, predicted)
		if err != nil {
			return err
		}
		return writeStanceScores(cmd, e, scores)
	}

	outPath, _ := cmd.Flags().GetString("output")
	out, closeOut, err := createOutput(cmd, outPath)
	if err != nil {
		return err
	}
	defer func() { _ = closeOut() }()
	if err := stance.WriteLabels(out, predicted); err != nil {
		return err
	}
	return closeOut()
}

// stanceInputs selects classifier inputs for every ranking whose query is a topic.
func stanceInputs(rankings []fusion.Ranking, topics topic.Set, passages *corpus.Corpus, top int) ([]stance.Input, error) {
	var inputs []stance.Input
	for _, r := range rankings {
		q, ok := topics[r.QueryID]
		if !ok {
			continue
		}
		in, err := stance.SelectInputs(r, passages, q, top)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in...)
	}
	return inputs, nil
}

func writeStanceScores(cmd *cobra.Command, e *env, scores stance.Scores) error {
	out := cmd.OutOrStdout()
	if e.format == "json" {
		return report.WriteJSON(out, scores)
	}

	fmt.Fprintf(out, "accuracy\t%.4f\n", scores.Accuracy)
	fmt.Fprintf(out, "macro_f1\t%.4f\n", scores.MacroF1)
	fmt.Fprintf(out, "total\t%d\n", scores.Total)
	fmt.Fprintf(out, "missing\t%d\n", scores.Missing)
	for _, label := range stance.Labels {
		s, ok := scores.PerLabel[label]
		if !ok {
			continue
		}
		fmt.Fprintf(out, "%s\tP=%.4f\tR=%.4f\tF1=%.4f\tsupport=%d\n", label, s.Precision, s.Recall, s.F1, s.Support)
	}
	return nil
}
