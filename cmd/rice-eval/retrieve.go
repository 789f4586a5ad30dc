package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-eval/internal/metrics"
	"github.com/ricesearch/rice-eval/internal/qdrant"
	"github.com/ricesearch/rice-eval/internal/run"
)

func retrieveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retrieve",
		Short: "Produce candidate runs from a Qdrant collection",
		Long: `Retrieve searches the configured Qdrant collection with precomputed query
vectors and writes one TREC run per method (sparse, dense) to the output
directory as <method>.trec.

Points must carry the passage ID in the "doc_id" payload field; several
points of the same passage keep the best score.`,
		Example: `  rice-eval retrieve --vectors queries.jsonl --out-dir runs/
  rice-eval retrieve --vectors queries.jsonl --method dense --qdrant grpc://qdrant:6334`,
		RunE: runRetrieve,
	}

	cmd.Flags().String("vectors", "", "query vectors JSONL (required)")
	cmd.Flags().StringSlice("method", []string{qdrant.MethodSparse, qdrant.MethodDense}, "methods to retrieve with")
	cmd.Flags().String("out-dir", ".", "directory for <method>.trec")
	cmd.Flags().String("qdrant", "", "Qdrant URL (overrides config)")
	cmd.Flags().String("collection", "", "collection name (overrides config)")
	cmd.Flags().Int("limit", 0, "candidates per query (default: qdrant.top_k)")
	_ = cmd.MarkFlagRequired("vectors")

	return cmd
}

func runRetrieve(cmd *cobra.Command, _ []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if u, _ := cmd.Flags().GetString("qdrant"); u != "" {
		e.cfg.Qdrant.URL = u
	}
	if c, _ := cmd.Flags().GetString("collection"); c != "" {
		e.cfg.Qdrant.Collection = c
	}
	if n, _ := cmd.Flags().GetInt("limit"); n > 0 {
		e.cfg.Qdrant.TopK = n
	}

	vectorsPath, _ := cmd.Flags().GetString("vectors")
	vectors, err := qdrant.LoadQueryVectors(vectorsPath)
	if err != nil {
		return err
	}

	clientCfg, err := qdrant.ConfigFrom(e.cfg.Qdrant)
	if err != nil {
		return err
	}
	m := metrics.New()
	client, err := qdrant.NewClient(clientCfg, e.log, m)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.HealthCheck(ctx, e.cfg.Qdrant.Collection); err != nil {
		return err
	}

	retriever := qdrant.NewRetriever(client, qdrant.SettingsFrom(e.cfg.Qdrant), e.log, m)

	outDir, _ := cmd.Flags().GetString("out-dir")
	methods, _ := cmd.Flags().GetStringSlice("method")
	for _, method := range methods {
		r, err := retriever.Retrieve(ctx, method, vectors, e.cfg.Eval.Workers)
		if err != nil {
			return fmt.Errorf("%s retrieval: %w", method, err)
		}

		lists := make([]run.CandidateList, 0, len(r.Lists))
		for _, id := range r.QueryIDs() {
			lists = append(lists, r.List(id))
		}
		path := filepath.Join(outDir, method+".trec")
		if err := writeFile(path, func(f *os.File) error { return run.WriteTREC(f, method, lists) }); err != nil {
			return err
		}
		e.log.Info("Wrote run", "method", method, "queries", len(lists), "path", path)
	}
	return nil
}
