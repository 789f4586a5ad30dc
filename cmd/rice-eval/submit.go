package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-eval/internal/client"
	"github.com/ricesearch/rice-eval/internal/pipeline"
	"github.com/ricesearch/rice-eval/internal/report"
)

// clientFlags registers the flags that address a rice-eval server.
func clientFlags(cmd *cobra.Command) {
	cmd.Flags().String("server", "", "rice-eval server URL")
	cmd.Flags().String("api-key", "", "server API key (default: security.api_key)")
}

func newClient(cmd *cobra.Command, e *env) *client.Client {
	cfg := client.DefaultConfig()
	cfg.BaseURL, _ = cmd.Flags().GetString("server")
	cfg.APIKey, _ = cmd.Flags().GetString("api-key")
	if cfg.APIKey == "" {
		cfg.APIKey = e.cfg.Security.APIKey
	}
	return client.New(cfg)
}

func submitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Upload judgments and runs to a server and evaluate there",
		Long: `Submit sends qrels and candidate runs to a running rice-eval-server, asks it
to evaluate the named fusion configs (default: all configured on the server),
and prints the comparison. Reports are kept in the server's report store.`,
		Example: `  rice-eval submit --server http://eval:8080 --qrels rel.qrels \
    --run sparse=bm25.trec --run dense=dense.trec --fusion fused`,
		RunE: runSubmit,
	}

	clientFlags(cmd)
	cmd.Flags().String("qrels", "", "relevance qrels file")
	cmd.Flags().String("quality-qrels", "", "quality qrels file")
	cmd.Flags().StringArray("run", nil, "candidate run as method=path (repeatable)")
	cmd.Flags().StringSlice("fusion", nil, "server fusion config names")
	cmd.Flags().String("metric", "", "metric to compare on")
	_ = cmd.MarkFlagRequired("server")

	return cmd
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	c := newClient(cmd, e)

	if _, err := c.Health(ctx); err != nil {
		return fmt.Errorf("server not reachable: %w", err)
	}

	relPath, _ := cmd.Flags().GetString("qrels")
	qualPath, _ := cmd.Flags().GetString("quality-qrels")
	if relPath != "" {
		req := pipeline.JudgmentsRequest{}
		rel, err := os.ReadFile(relPath)
		if err != nil {
			return fmt.Errorf("reading qrels: %w", err)
		}
		req.Relevance = string(rel)
		if qualPath != "" {
			qual, err := os.ReadFile(qualPath)
			if err != nil {
				return fmt.Errorf("reading quality qrels: %w", err)
			}
			req.Quality = string(qual)
		}
		if err := c.PutJudgments(ctx, req); err != nil {
			return err
		}
		e.log.Info("Uploaded judgments", "path", relPath)
	}

	values, _ := cmd.Flags().GetStringArray("run")
	specs, err := parseRunSpecs(values)
	if err != nil {
		return err
	}
	for _, s := range specs {
		if s.Method == "" {
			return fmt.Errorf("--run %s: submit needs method=path", s.Path)
		}
		f, err := os.Open(s.Path)
		if err != nil {
			return fmt.Errorf("opening run: %w", err)
		}
		resp, err := c.UploadRun(ctx, s.Method, f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("uploading %s: %w", s.Path, err)
		}
		e.log.Info("Uploaded run", "method", resp.Method, "queries", resp.Queries)
	}

	names, _ := cmd.Flags().GetStringSlice("fusion")
	metric, _ := cmd.Flags().GetString("metric")
	res, err := c.Evaluate(ctx, pipeline.EvaluateRequest{Configs: names, Metric: metric})
	if err != nil {
		return err
	}

	if e.format == "json" {
		return report.WriteJSON(cmd.OutOrStdout(), res)
	}
	return report.WriteComparisonTSV(cmd.OutOrStdout(), res.Comparison)
}
