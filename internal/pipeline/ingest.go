package pipeline

import (
	"context"
	"fmt"

	"github.com/ricesearch/rice-eval/internal/bus"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/report"
)

// IngestReports subscribes to bus.TopicReportCompleted and saves the summary
// carried by each event into store. A summary already stored under the same
// run ID is skipped, so redelivered events and reports this process saved
// itself are stored once.
func IngestReports(ctx context.Context, b bus.Bus, store report.Store, log *logger.Logger) error {
	if log == nil {
		log = logger.Discard()
	}
	return b.Subscribe(ctx, bus.TopicReportCompleted, func(ctx context.Context, event bus.Event) error {
		return ingestReport(ctx, store, log, event)
	})
}

func ingestReport(ctx context.Context, store report.Store, log *logger.Logger, event bus.Event) error {
	var payload ReportCompleted
	if err := event.Decode(&payload); err != nil {
		return fmt.Errorf("decoding event %s: %w", event.ID, err)
	}

	s := payload.Summary
	if s == nil || s.ID == "" || s.Config == "" {
		log.Debug("report event carries no summary", "event_id", event.ID, "source", event.Source)
		return nil
	}

	stored, err := hasSummary(ctx, store, s)
	if err != nil {
		return err
	}
	if stored {
		return nil
	}

	if err := store.Save(ctx, s); err != nil {
		return apperrors.StorageError("saving ingested report", err)
	}
	log.WithConfig(s.Config).WithRun(s.ID).Info("report ingested", "source", event.Source)
	return nil
}

func hasSummary(ctx context.Context, store report.Store, s *report.Summary) (bool, error) {
	history, err := store.History(ctx, s.Config, s.CreatedAt)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	for _, h := range history {
		if h.ID == s.ID {
			return true, nil
		}
	}
	return false, nil
}
