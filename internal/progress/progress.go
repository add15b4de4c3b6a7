// Package progress tracks which parts of each Lernfeld the learner has done:
// read the lesson, finished the quiz, talked to the tutor.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"math"
	"strconv"
	"sync"

	"github.com/fisimaster/studybuddy/internal/kvstore"
	"github.com/fisimaster/studybuddy/internal/observe"
)

// DefaultKey is the store key progress is persisted under.
const DefaultKey = "fisi_master_progress"

// Entry is the progress of one Lernfeld.
type Entry struct {
	ContentSeen bool `json:"contentSeen"`
	QuizDone    bool `json:"quizDone"`
	ChatStarted bool `json:"chatStarted"`
}

// Percent returns the share of completed activities, rounded to a whole
// percent.
func (e Entry) Percent() int {
	n := 0
	for _, done := range []bool{e.ContentSeen, e.QuizDone, e.ChatStarted} {
		if done {
			n++
		}
	}
	return int(math.Round(float64(n) / 3 * 100))
}

// Tracker holds progress per Lernfeld number, written through to a
// [kvstore.Store]. Load and save are best-effort like the reminder store.
//
// All methods are safe for concurrent use.
type Tracker struct {
	kv      kvstore.Store
	key     string
	metrics *observe.Metrics

	mu      sync.Mutex
	entries map[int]Entry
	saveMu  sync.Mutex
}

// New returns an empty Tracker over kv under key; an empty key means
// [DefaultKey].
func New(kv kvstore.Store, key string, m *observe.Metrics) *Tracker {
	if key == "" {
		key = DefaultKey
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Tracker{kv: kv, key: key, metrics: m, entries: map[int]Entry{}}
}

// Load replaces the in-memory progress with the persisted value. Anything
// unreadable yields empty progress.
func (t *Tracker) Load(ctx context.Context) {
	entries := map[int]Entry{}
	data, err := t.kv.Get(ctx, t.key)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
	case err != nil:
		t.metrics.RecordStorageError(ctx, "load")
		slog.Warn("progress: load failed, starting empty", "key", t.key, "err", err)
	default:
		// Keys are Lernfeld numbers as JSON object keys.
		var raw map[string]Entry
		if err := json.Unmarshal(data, &raw); err != nil {
			t.metrics.RecordStorageError(ctx, "decode")
			slog.Warn("progress: stored progress is corrupt, starting empty", "key", t.key, "err", err)
			break
		}
		for k, e := range raw {
			n, err := strconv.Atoi(k)
			if err != nil {
				slog.Debug("progress: skipping entry", "key", k)
				continue
			}
			entries[n] = e
		}
	}

	t.mu.Lock()
	t.entries = entries
	t.mu.Unlock()
}

// Get returns the progress of Lernfeld lf.
func (t *Tracker) Get(lf int) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[lf]
}

// All returns a copy of every recorded entry.
func (t *Tracker) All() map[int]Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.entries)
}

// MarkContentSeen records that the lesson of lf was shown.
func (t *Tracker) MarkContentSeen(ctx context.Context, lf int) {
	t.update(ctx, lf, func(e *Entry) { e.ContentSeen = true })
}

// MarkQuizDone records a finished quiz for lf.
func (t *Tracker) MarkQuizDone(ctx context.Context, lf int) {
	t.update(ctx, lf, func(e *Entry) { e.QuizDone = true })
}

// MarkChatStarted records a tutor conversation for lf.
func (t *Tracker) MarkChatStarted(ctx context.Context, lf int) {
	t.update(ctx, lf, func(e *Entry) { e.ChatStarted = true })
}

// Reset clears all progress and deletes the persisted value.
func (t *Tracker) Reset(ctx context.Context) {
	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	t.mu.Lock()
	t.entries = map[int]Entry{}
	t.mu.Unlock()

	if err := t.kv.Delete(ctx, t.key); err != nil {
		t.metrics.RecordStorageError(ctx, "delete")
		slog.Warn("progress: reset failed", "key", t.key, "err", err)
	}
}

func (t *Tracker) update(ctx context.Context, lf int, fn func(*Entry)) {
	t.mu.Lock()
	e := t.entries[lf]
	before := e
	fn(&e)
	t.entries[lf] = e
	t.mu.Unlock()

	if e != before {
		t.save(ctx)
	}
}

func (t *Tracker) save(ctx context.Context) {
	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	t.mu.Lock()
	raw := make(map[string]Entry, len(t.entries))
	for n, e := range t.entries {
		raw[strconv.Itoa(n)] = e
	}
	t.mu.Unlock()

	data, err := json.Marshal(raw)
	if err == nil {
		err = t.kv.Set(ctx, t.key, data)
	}
	if err != nil {
		t.metrics.RecordStorageError(ctx, "save")
		slog.Warn("progress: save failed", "key", t.key, "err", err)
	}
}
