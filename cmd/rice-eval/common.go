package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/fusion"
	"github.com/ricesearch/rice-eval/internal/judgment"
	"github.com/ricesearch/rice-eval/internal/pipeline"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/run"
	"github.com/ricesearch/rice-eval/internal/topic"
)

// env is the state shared by every subcommand.
type env struct {
	cfg    *config.Config
	log    *logger.Logger
	format string
}

// setup loads the configuration and builds a logger that writes to stderr,
// keeping stdout for results.
func setup(cmd *cobra.Command) (*env, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	format, _ := cmd.Flags().GetString("format")

	if format != "text" && format != "json" {
		return nil, fmt.Errorf("unknown format %q (want text or json)", format)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	log := logger.NewWithWriter(level, cfg.Log.Format, cmd.ErrOrStderr())

	return &env{cfg: cfg, log: log, format: format}, nil
}

// runSpec is a --run flag value: "method=path" or just "path", in which case
// the method comes from the run tag in the file.
type runSpec struct {
	Method string
	Path   string
}

func parseRunSpecs(values []string) ([]runSpec, error) {
	specs := make([]runSpec, 0, len(values))
	for _, v := range values {
		method, path, ok := strings.Cut(v, "=")
		if !ok {
			method, path = "", v
		}
		if path == "" {
			return nil, fmt.Errorf("invalid --run %q: missing path", v)
		}
		specs = append(specs, runSpec{Method: method, Path: path})
	}
	return specs, nil
}

// loadRuns reads every run into p. Two runs resolving to the same method are rejected.
func loadRuns(p *pipeline.Pipeline, values []string, depth int) error {
	specs, err := parseRunSpecs(values)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return fmt.Errorf("at least one --run is required")
	}

	seen := make(map[string]string)
	for _, s := range specs {
		r, err := run.LoadTREC(s.Path, run.ReadOptions{Method: s.Method, Depth: depth})
		if err != nil {
			return err
		}
		if prev, ok := seen[r.Method]; ok {
			return fmt.Errorf("method %q given twice (%s and %s)", r.Method, prev, s.Path)
		}
		seen[r.Method] = s.Path
		p.AddRun(r)
	}
	return nil
}

// parseWeights parses "sparse=0.7,dense=0.3" style flag values.
func parseWeights(raw map[string]string) (map[string]float64, error) {
	weights := make(map[string]float64, len(raw))
	for method, v := range raw {
		w, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight for %q: %w", method, err)
		}
		weights[method] = w
	}
	return weights, nil
}

// fusionFlags registers the flags that pick or build fusion configs.
func fusionFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("fusion", nil, "configured fusion config names (default: all configured)")
	cmd.Flags().StringToString("weights", nil, "ad hoc config weights, e.g. sparse=0.7,dense=0.3")
	cmd.Flags().String("strategy", string(fusion.StrategyWeighted), "ad hoc config strategy (weighted, rrf, intersection)")
	cmd.Flags().String("normalization", string(fusion.NormalizeMinMax), "ad hoc config normalization (minmax, none)")
	cmd.Flags().String("name", "adhoc", "ad hoc config name")
	cmd.Flags().Int("top-k", 0, "fused depth (default: eval.top_k)")
}

// selectConfigs returns the ad hoc config when --weights is given, else the
// named configured configs, else every configured config.
func selectConfigs(cmd *cobra.Command, cfg *config.Config) ([]fusion.Config, error) {
	topK, _ := cmd.Flags().GetInt("top-k")

	if cmd.Flags().Changed("weights") {
		raw, _ := cmd.Flags().GetStringToString("weights")
		weights, err := parseWeights(raw)
		if err != nil {
			return nil, err
		}
		name, _ := cmd.Flags().GetString("name")
		strategy, _ := cmd.Flags().GetString("strategy")
		norm, _ := cmd.Flags().GetString("normalization")

		fc := fusion.Config{
			Name:          name,
			Strategy:      fusion.Strategy(strategy),
			Weights:       weights,
			TopK:          cfg.Eval.TopK,
			Normalization: fusion.Normalization(norm),
		}
		if topK > 0 {
			fc.TopK = topK
		}
		return []fusion.Config{fc}, nil
	}

	var configs []fusion.Config
	names, _ := cmd.Flags().GetStringSlice("fusion")
	if len(names) == 0 {
		configs = append(configs, cfg.Fusion.Configs...)
	}
	for _, name := range names {
		fc, ok := cfg.FusionConfig(name)
		if !ok {
			return nil, fmt.Errorf("unknown fusion config %q", name)
		}
		configs = append(configs, fc)
	}
	if topK > 0 {
		for i := range configs {
			configs[i].TopK = topK
		}
	}
	return configs, nil
}

// loadTopics reads the topics file into p when path is set.
func loadTopics(p *pipeline.Pipeline, path string) (topic.Set, error) {
	if path == "" {
		return nil, nil
	}
	topics, err := topic.LoadXML(path)
	if err != nil {
		return nil, err
	}
	p.SetTopics(topics.IDs())
	return topics, nil
}

// loadJudgments reads qrels, or returns an empty store when no path is given.
func loadJudgments(relevance, quality string) (*judgment.Store, error) {
	if relevance == "" {
		if quality != "" {
			return nil, fmt.Errorf("--quality-qrels requires --qrels")
		}
		return judgment.NewStore(nil)
	}
	return judgment.Load(relevance, quality)
}

// createOutput opens path for writing, or returns stdout when path is empty or "-".
func createOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return f, f.Close, nil
}
