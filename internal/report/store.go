package report

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// DefaultRetention is how long published reports are kept.
const DefaultRetention = 30 * 24 * time.Hour

// Store keeps the history of published summaries per configuration.
type Store interface {
	// Save records s. s.CreatedAt orders the history.
	Save(ctx context.Context, s *Summary) error

	// Latest returns the most recent summary of config, or a NOT_FOUND error.
	Latest(ctx context.Context, config string) (*Summary, error)

	// History returns summaries of config created at or after since, oldest first.
	History(ctx context.Context, config string, since time.Time) ([]*Summary, error)

	// Configs returns the configurations with stored summaries, ascending.
	Configs(ctx context.Context) ([]string, error)

	Close() error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu        sync.RWMutex
	byConfig  map[string][]*Summary
	retention time.Duration
	now       func() time.Time
}

// NewMemoryStore creates an empty store that drops summaries older than retention.
// A non-positive retention uses DefaultRetention.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{
		byConfig:  make(map[string][]*Summary),
		retention: retention,
		now:       time.Now,
	}
}

func (m *MemoryStore) Save(_ context.Context, s *Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := append(m.byConfig[s.Config], s)
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })

	cutoff := m.now().Add(-m.retention)
	keep := list[:0]
	for _, x := range list {
		if !x.CreatedAt.Before(cutoff) {
			keep = append(keep, x)
		}
	}
	m.byConfig[s.Config] = keep
	return nil
}

func (m *MemoryStore) Latest(_ context.Context, config string) (*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.byConfig[config]
	if len(list) == 0 {
		return nil, apperrors.NotFoundError("report for config " + config)
	}
	return list[len(list)-1], nil
}

func (m *MemoryStore) History(_ context.Context, config string, since time.Time) ([]*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Summary
	for _, s := range m.byConfig[config] {
		if !s.CreatedAt.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemoryStore) Configs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.byConfig))
	for name, list := range m.byConfig {
		if len(list) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
