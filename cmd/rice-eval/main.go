// Package main provides the rice-eval command line tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rice-eval",
		Short: "rice-eval - fusion and evaluation of passage retrieval runs",
		Long: `rice-eval fuses sparse and dense candidate runs for comparative
questions and scores the fused rankings against relevance judgments.

Examples:
  rice-eval fuse --run sparse=bm25.trec --run dense=dense.trec
  rice-eval evaluate --qrels rel.qrels --run sparse=bm25.trec --run dense=dense.trec
  rice-eval retrieve --vectors queries.jsonl --out-dir runs/
  rice-eval stance --topics topics.xml --corpus passages.jsonl --run sparse=bm25.trec
  rice-eval events --since 24h --topic report.completed`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().String("format", "text", "output format (text, json)")

	rootCmd.AddCommand(
		fuseCmd(),
		evaluateCmd(),
		compareCmd(),
		retrieveCmd(),
		topicsCmd(),
		stanceCmd(),
		submitCmd(),
		eventsCmd(),
		versionCmd(),
	)
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rice-eval %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}
