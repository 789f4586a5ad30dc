// Package main provides the rice-eval HTTP server binary.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-eval/internal/bus"
	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/judgment"
	"github.com/ricesearch/rice-eval/internal/metrics"
	"github.com/ricesearch/rice-eval/internal/pipeline"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/pkg/security"
	"github.com/ricesearch/rice-eval/internal/report"
	"github.com/ricesearch/rice-eval/internal/run"
	"github.com/ricesearch/rice-eval/internal/server"
	"github.com/ricesearch/rice-eval/internal/topic"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rice-eval-server",
		Short: "rice-eval server - HTTP API for fusion and evaluation",
		Long: `rice-eval-server keeps judgments and candidate runs in memory and serves
fusion, evaluation and report history over HTTP.

Judgments and runs can be preloaded from files or posted later to
/v1/judgments and /v1/runs/{method}.

Examples:
  rice-eval-server                                       # Start with defaults
  rice-eval-server --port 9090                           # Custom port
  rice-eval-server --qrels rel.qrels --run sparse=bm25.trec --run dense=dense.trec`,
		RunE:         runServer,
		SilenceUsage: true,
	}

	rootCmd.Flags().StringP("config", "c", "", "config file path")
	rootCmd.Flags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.Flags().String("host", "", "server host (overrides config)")
	rootCmd.Flags().Int("port", 0, "HTTP port (overrides config)")
	rootCmd.Flags().String("qrels", "", "relevance qrels to preload")
	rootCmd.Flags().String("quality-qrels", "", "quality qrels to preload")
	rootCmd.Flags().StringArray("run", nil, "candidate run to preload as method=path (repeatable)")
	rootCmd.Flags().String("topics", "", "topics XML to preload")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rice-eval-server %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Port = port
	}

	// Setup logger
	logLevel := cfg.Log.Level
	if verbose {
		logLevel = "debug"
	}
	var logOut io.Writer = os.Stderr
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		logOut = io.MultiWriter(os.Stderr, f)
	}
	log := logger.NewWithWriter(logLevel, cfg.Log.Format, logOut)

	log.Info("Starting rice-eval server", "version", version, "addr", cfg.Address())
	log.Debug("Effective configuration", "settings", security.MaskSensitiveMap(map[string]string{
		"store_type":     cfg.Store.Type,
		"redis_url":      cfg.Store.RedisURL,
		"bus_type":       cfg.Bus.Type,
		"kafka_brokers":  cfg.Bus.KafkaBrokers,
		"journal_path":   cfg.Bus.JournalPath,
		"api_key":        cfg.Security.APIKey,
		"qdrant_url":     cfg.Qdrant.URL,
		"qdrant_api_key": cfg.Qdrant.APIKey,
		"rate_limit":     strconv.Itoa(cfg.Security.RateLimit),
	}))

	// Metrics first: the bus is instrumented with them.
	m := metrics.New()

	innerBus, err := bus.NewBus(cfg.Bus, log)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	eventBus := bus.NewInstrumentedBus(innerBus, m)
	log.Info("Initialized event bus", "type", cfg.Bus.Type, "journal", cfg.Bus.JournalPath != "")

	reports, err := report.NewStore(cfg.Store)
	if err != nil {
		_ = eventBus.Close()
		return fmt.Errorf("failed to create report store: %w", err)
	}
	log.Info("Initialized report store", "type", cfg.Store.Type, "retention_days", cfg.Store.RetentionDays)

	closers := []server.Closer{eventBus, reports}
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	store, err := preloadJudgments(cmd)
	if err != nil {
		closeAll()
		return err
	}

	p, err := pipeline.New(cfg, store, pipeline.Deps{
		Log:     log,
		Bus:     eventBus,
		Metrics: m,
		Reports: reports,
	})
	if err != nil {
		closeAll()
		return err
	}
	if err := preloadRuns(cmd, p, cfg.Eval.RunDepth, log); err != nil {
		closeAll()
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Bus.IngestReports {
		if err := pipeline.IngestReports(ctx, eventBus, reports, log); err != nil {
			closeAll()
			return fmt.Errorf("failed to subscribe to reports: %w", err)
		}
		log.Info("Ingesting published reports", "topic", bus.TopicReportCompleted)
	}

	log.Info("Pipeline ready",
		"judged_queries", len(store.Queries()),
		"runs", len(p.Runs()),
		"configs", len(cfg.Fusion.Configs),
	)

	srv := server.New(cfg, p, log, server.Options{
		Version: version,
		Metrics: m,
		Closers: closers,
	})

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func preloadJudgments(cmd *cobra.Command) (*judgment.Store, error) {
	rel, _ := cmd.Flags().GetString("qrels")
	qual, _ := cmd.Flags().GetString("quality-qrels")
	if rel == "" {
		return judgment.NewStore(nil)
	}
	return judgment.Load(rel, qual)
}

func preloadRuns(cmd *cobra.Command, p *pipeline.Pipeline, depth int, log *logger.Logger) error {
	if path, _ := cmd.Flags().GetString("topics"); path != "" {
		topics, err := topic.LoadXML(path)
		if err != nil {
			return err
		}
		p.SetTopics(topics.IDs())
		log.Info("Loaded topics", "count", len(topics))
	}

	values, _ := cmd.Flags().GetStringArray("run")
	for _, v := range values {
		method, path, ok := strings.Cut(v, "=")
		if !ok {
			method, path = "", v
		}
		r, err := run.LoadTREC(path, run.ReadOptions{Method: method, Depth: depth})
		if err != nil {
			return err
		}
		p.AddRun(r)
		log.Info("Loaded run", "method", r.Method, "queries", len(r.Lists))
	}
	return nil
}
