package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-eval/internal/bus"
	"github.com/ricesearch/rice-eval/internal/pipeline"
	"github.com/ricesearch/rice-eval/internal/report"
)

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List or restore events recorded in the bus journal",
		Long: `List events recorded in the bus journal, or replay them with --restore
so every report.completed summary is saved to the configured report store.

Examples:
  rice-eval events --since 24h --topic report.completed
  rice-eval events --journal events.jsonl --restore`,
		Args: cobra.NoArgs,
		RunE: runEvents,
	}

	cmd.Flags().String("journal", "", "journal file (default: bus.journal_path)")
	cmd.Flags().String("since", "", "only events after this RFC3339 time or duration ago (e.g. 24h)")
	cmd.Flags().String("topic", "", "only list events of this topic")
	cmd.Flags().Int("limit", 0, "list at most this many events")
	cmd.Flags().Bool("restore", false, "save journaled reports to the report store")
	return cmd
}

func runEvents(cmd *cobra.Command, _ []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("journal")
	if path == "" {
		path = e.cfg.Bus.JournalPath
	}
	if path == "" {
		return fmt.Errorf("no journal: set --journal or bus.journal_path")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}

	sinceValue, _ := cmd.Flags().GetString("since")
	since, err := parseSince(sinceValue, time.Now())
	if err != nil {
		return err
	}

	journal, err := bus.OpenJournal(path)
	if err != nil {
		return err
	}
	defer journal.Close()

	if restore, _ := cmd.Flags().GetBool("restore"); restore {
		return restoreReports(cmd, e, journal, since)
	}

	entries, err := journal.Entries(since, 0)
	if err != nil {
		return err
	}
	topicFilter, _ := cmd.Flags().GetString("topic")
	limit, _ := cmd.Flags().GetInt("limit")

	selected := make([]bus.JournalEntry, 0, len(entries))
	for _, entry := range entries {
		if topicFilter != "" && entry.Topic != topicFilter {
			continue
		}
		selected = append(selected, entry)
		if limit > 0 && len(selected) >= limit {
			break
		}
	}

	out := cmd.OutOrStdout()
	if e.format == "json" {
		return report.WriteJSON(out, selected)
	}
	for _, entry := range selected {
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\n",
			entry.Timestamp.UTC().Format(time.RFC3339), entry.Topic,
			entry.Event.ID, entry.Event.Source, entry.Event.CorrelationID)
	}
	return nil
}

// restoreReports replays the journal into an in-process bus whose only
// subscriber stores report summaries.
func restoreReports(cmd *cobra.Command, e *env, journal *bus.Journal, since time.Time) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := report.NewStore(e.cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	before, err := countReports(ctx, store)
	if err != nil {
		return err
	}

	target := bus.NewMemoryBus(e.log)
	if err := pipeline.IngestReports(ctx, target, store, e.log); err != nil {
		_ = target.Close()
		return err
	}
	replayed, err := journal.Replay(ctx, target, since)
	// Close waits for the ingest handlers to finish.
	if closeErr := target.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	after, err := countReports(ctx, store)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "restored %d reports from %d events\n", after-before, replayed)
	return nil
}

func countReports(ctx context.Context, store report.Store) (int, error) {
	configs, err := store.Configs(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range configs {
		history, err := store.History(ctx, c, time.Time{})
		if err != nil {
			return 0, err
		}
		n += len(history)
	}
	return n, nil
}

// parseSince accepts an RFC3339 timestamp or a duration counted back from now.
// An empty value means the beginning of the journal.
func parseSince(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return time.Time{}, fmt.Errorf("invalid --since %q: want RFC3339 time or positive duration", value)
	}
	return now.Add(-d), nil
}
