package progress

import (
	"context"
	"errors"
	"testing"

	"github.com/fisimaster/studybuddy/internal/kvstore"
	"github.com/fisimaster/studybuddy/internal/observe"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func newTracker(t *testing.T, kv kvstore.Store) *Tracker {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	return New(kv, "", m)
}

func TestEntry_Percent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		e    Entry
		want int
	}{
		{Entry{}, 0},
		{Entry{ContentSeen: true}, 33},
		{Entry{ContentSeen: true, ChatStarted: true}, 67},
		{Entry{ContentSeen: true, QuizDone: true, ChatStarted: true}, 100},
	}
	for _, tt := range tests {
		if got := tt.e.Percent(); got != tt.want {
			t.Errorf("%+v.Percent() = %d, want %d", tt.e, got, tt.want)
		}
	}
}

func TestTracker_MarkAndReload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := kvstore.NewMemStore()

	tr := newTracker(t, kv)
	tr.MarkContentSeen(ctx, 5)
	tr.MarkQuizDone(ctx, 5)
	tr.MarkChatStarted(ctx, 9)

	data, err := kv.Get(ctx, DefaultKey)
	if err != nil {
		t.Fatalf("nothing persisted: %v", err)
	}
	if want := `{"5":{"contentSeen":true,"quizDone":true,"chatStarted":false},"9":{"contentSeen":false,"quizDone":false,"chatStarted":true}}`; string(data) != want {
		t.Errorf("stored = %s\nwant     %s", data, want)
	}

	other := newTracker(t, kv)
	other.Load(ctx)
	if got := other.Get(5); got != (Entry{ContentSeen: true, QuizDone: true}) {
		t.Errorf("Get(5) = %+v", got)
	}
	if got := other.Get(1); got != (Entry{}) {
		t.Errorf("Get(1) = %+v, want zero", got)
	}
	if n := len(other.All()); n != 2 {
		t.Errorf("All() has %d entries, want 2", n)
	}
}

func TestTracker_LoadBestEffort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		want  int
	}{
		{"corrupt", "{not json", 0},
		{"array", "[]", 0},
		{"non-numeric key skipped", `{"x":{"quizDone":true},"3":{"quizDone":true}}`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			kv := kvstore.NewMemStore()
			tr := newTracker(t, kv)
			tr.MarkContentSeen(ctx, 1)
			// Overwrite what the mark persisted so Load sees only tt.value.
			if err := kv.Set(ctx, DefaultKey, []byte(tt.value)); err != nil {
				t.Fatal(err)
			}
			if raw, _ := kv.Get(ctx, DefaultKey); string(raw) != tt.value {
				t.Fatalf("stored = %q, want %q", raw, tt.value)
			}

			tr.Load(ctx)
			if n := len(tr.All()); n != tt.want {
				t.Errorf("entries = %d, want %d", n, tt.want)
			}
			if tt.want == 0 && tr.Get(1) != (Entry{}) {
				t.Errorf("Get(1) = %+v, in-memory mark survived Load", tr.Get(1))
			}
		})
	}
}

type brokenKV struct{ kvstore.MemStore }

func (b *brokenKV) Get(context.Context, string) ([]byte, error) { return nil, errors.New("io") }
func (b *brokenKV) Set(context.Context, string, []byte) error   { return errors.New("io") }
func (b *brokenKV) Delete(context.Context, string) error        { return errors.New("io") }

func TestTracker_StorageFailuresAreNotFatal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTracker(t, &brokenKV{})

	tr.Load(ctx)
	tr.MarkQuizDone(ctx, 2)
	if !tr.Get(2).QuizDone {
		t.Error("in-memory progress lost after failed save")
	}
	tr.Reset(ctx)
	if n := len(tr.All()); n != 0 {
		t.Errorf("entries after Reset = %d", n)
	}
}

func TestTracker_Reset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := kvstore.NewMemStore()
	tr := newTracker(t, kv)
	tr.MarkContentSeen(ctx, 1)

	tr.Reset(ctx)
	if _, err := kv.Get(ctx, DefaultKey); !errors.Is(err, kvstore.ErrNotFound) {
		t.Errorf("persisted progress survived Reset: %v", err)
	}
	if got := tr.Get(1); got != (Entry{}) {
		t.Errorf("Get(1) = %+v after Reset", got)
	}
}

func TestTracker_SeparateFromReminders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := kvstore.NewMemStore()
	kv.Set(ctx, "fisi_master_reminders", []byte(`[]`))

	tr := newTracker(t, kv)
	tr.MarkQuizDone(ctx, 1)
	tr.Reset(ctx)

	if v, err := kv.Get(ctx, "fisi_master_reminders"); err != nil || string(v) != "[]" {
		t.Errorf("reminders key touched: %s, %v", v, err)
	}
}
