package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fisimaster/studybuddy/internal/kvstore"
	"github.com/fisimaster/studybuddy/internal/observe"
)

// DefaultKey is the store key the collection is persisted under.
const DefaultKey = "fisi_master_reminders"

var (
	// ErrEmptyText is returned by Add for a blank reminder text.
	ErrEmptyText = errors.New("reminder: text must not be empty")

	// ErrNotFound is returned for an unknown reminder ID.
	ErrNotFound = errors.New("reminder: not found")
)

// StoreOption configures a [Store].
type StoreOption func(*Store)

// WithKey sets the store key. Default [DefaultKey].
func WithKey(key string) StoreOption {
	return func(s *Store) { s.key = key }
}

// WithIDGenerator replaces the UUID generator, for deterministic tests.
func WithIDGenerator(fn func() string) StoreOption {
	return func(s *Store) { s.newID = fn }
}

// WithStoreMetrics sets the metrics sink. Default [observe.DefaultMetrics].
func WithStoreMetrics(m *observe.Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// Store is the in-memory reminder collection, written through to a
// [kvstore.Store] after every change. Persistence is best-effort: a failed
// write is logged and the in-memory collection stays authoritative.
//
// All methods are safe for concurrent use.
type Store struct {
	kv      kvstore.Store
	key     string
	newID   func() string
	metrics *observe.Metrics

	mu    sync.Mutex
	items []Reminder

	// saveMu orders writes so the last one always carries the newest state.
	saveMu sync.Mutex
}

// NewStore returns an empty Store backed by kv. Call Load to read the
// persisted collection.
func NewStore(kv kvstore.Store, opts ...StoreOption) *Store {
	s := &Store{kv: kv, key: DefaultKey, newID: uuid.NewString}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Load replaces the collection with the persisted one. A missing,
// unreadable or corrupt value leaves an empty collection; Load never fails.
func (s *Store) Load(ctx context.Context) {
	items := s.read(ctx)
	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
}

func (s *Store) read(ctx context.Context) []Reminder {
	data, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.metrics.RecordStorageError(ctx, "load")
		slog.Warn("reminder: load failed, starting empty", "key", s.key, "err", err)
		return nil
	}
	var items []Reminder
	if err := json.Unmarshal(data, &items); err != nil {
		s.metrics.RecordStorageError(ctx, "decode")
		slog.Warn("reminder: stored reminders are corrupt, starting empty", "key", s.key, "err", err)
		return nil
	}
	return items
}

// Add creates an unseen reminder and persists the collection.
func (s *Store) Add(ctx context.Context, text string, target time.Time) (Reminder, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reminder{}, ErrEmptyText
	}
	r := Reminder{ID: s.newID(), Text: text, TargetTime: target.UnixMilli()}

	s.mu.Lock()
	s.items = append(s.items, r)
	s.mu.Unlock()

	s.persist(ctx)
	return r, nil
}

// Remove deletes the reminder with id.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.items = slices.Delete(s.items, i, i+1)
	s.mu.Unlock()

	s.persist(ctx)
	return nil
}

// MarkSeen flips the reminder with id to seen. It reports whether this call
// made the change; a reminder that was already seen is left untouched and
// nothing is written.
func (s *Store) MarkSeen(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.items[i].Seen {
		s.mu.Unlock()
		return false, nil
	}
	s.items[i].Seen = true
	s.mu.Unlock()

	s.persist(ctx)
	return true, nil
}

// Get returns the reminder with id.
func (s *Store) Get(id string) (Reminder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.items[i], true
	}
	return Reminder{}, false
}

// List returns a copy of the collection in insertion order.
func (s *Store) List() []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

// Upcoming returns the pending reminders, soonest first.
func (s *Store) Upcoming(now time.Time) []Reminder {
	return Upcoming(s.List(), now)
}

func (s *Store) indexLocked(id string) int {
	return slices.IndexFunc(s.items, func(r Reminder) bool { return r.ID == id })
}

func (s *Store) persist(ctx context.Context) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	items := s.List()
	if items == nil {
		items = []Reminder{}
	}
	data, err := json.Marshal(items)
	if err == nil {
		err = s.kv.Set(ctx, s.key, data)
	}
	if err != nil {
		s.metrics.RecordStorageError(ctx, "save")
		slog.Warn("reminder: save failed", "key", s.key, "err", err)
	}
}
