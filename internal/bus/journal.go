package bus

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

// JournalEntry is one published event as recorded on disk.
type JournalEntry struct {
	Event     Event     `json:"event"`
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
}

// Journal appends published events to a JSON lines file so a run's events can
// be inspected or replayed later.
type Journal struct {
	path    string
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// OpenJournal opens (or creates) the journal file at path.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	return &Journal{path: path, file: file, encoder: json.NewEncoder(file)}, nil
}

// Append writes one entry and syncs the file.
func (j *Journal) Append(topic string, event Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return errors.New(errors.CodeUnavailable, "journal is closed")
	}

	if err := j.encoder.Encode(JournalEntry{Event: event, Topic: topic, Timestamp: time.Now()}); err != nil {
		return fmt.Errorf("encoding journal entry: %w", err)
	}
	return j.file.Sync()
}

// Entries returns entries recorded after since, oldest first. limit > 0 caps the count.
func (j *Journal) Entries(since time.Time, limit int) ([]JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	defer file.Close()

	var entries []JournalEntry
	scanner := bufio.NewScanner(file)

	// Fused ranking events can be large.
	const maxEntrySize = 16 << 20
	scanner.Buffer(make([]byte, 0, 64*1024), maxEntrySize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		var e JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, errors.ParseError(j.path, lineNo, err.Error())
		}
		if !e.Timestamp.After(since) {
			continue
		}
		entries = append(entries, e)
		if limit > 0 && len(entries) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}

	return entries, nil
}

// Replay publishes entries recorded after since to b, in order.
func (j *Journal) Replay(ctx context.Context, b Bus, since time.Time) (int, error) {
	entries, err := j.Entries(since, 0)
	if err != nil {
		return 0, err
	}

	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := b.Publish(ctx, e.Topic, e.Event); err != nil {
			return i, fmt.Errorf("replaying event %s: %w", e.Event.ID, err)
		}
	}
	return len(entries), nil
}

// Close closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	j.encoder = nil
	return err
}

// JournaledBus records every published event in a Journal before delegating.
type JournaledBus struct {
	inner   Bus
	journal *Journal
	log     *logger.Logger
}

// NewJournaledBus wraps inner. Journal failures are logged, never returned.
func NewJournaledBus(inner Bus, journal *Journal, log *logger.Logger) *JournaledBus {
	if log == nil {
		log = logger.Default()
	}
	return &JournaledBus{inner: inner, journal: journal, log: log}
}

func (b *JournaledBus) Publish(ctx context.Context, topic string, event Event) error {
	if err := b.journal.Append(topic, event); err != nil {
		b.log.Warn("Failed to journal event", "topic", topic, "event_id", event.ID, "error", err)
	}
	return b.inner.Publish(ctx, topic, event)
}

func (b *JournaledBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	return b.inner.Subscribe(ctx, topic, handler)
}

// Close closes the journal, then the inner bus.
func (b *JournaledBus) Close() error {
	if err := b.journal.Close(); err != nil {
		b.log.Warn("Failed to close journal", "error", err)
	}
	return b.inner.Close()
}
