package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fisimaster/studybuddy/internal/app"
	"github.com/fisimaster/studybuddy/internal/tutor"
	"github.com/fisimaster/studybuddy/internal/voice"
	audiomock "github.com/fisimaster/studybuddy/pkg/audio/mock"
	llmmock "github.com/fisimaster/studybuddy/pkg/provider/llm/mock"
	sttmock "github.com/fisimaster/studybuddy/pkg/provider/stt/mock"
)

// voiceFactory hands out coordinators that can listen and remembers them.
type voiceFactory struct {
	mu      sync.Mutex
	created []*voice.Coordinator
}

func (f *voiceFactory) New() *voice.Coordinator {
	c := voice.NewCoordinator(voice.NewInputSession(&sttmock.Provider{}, &audiomock.Source{}), nil)
	f.mu.Lock()
	f.created = append(f.created, c)
	f.mu.Unlock()
	return c
}

func (f *voiceFactory) Get(i int) *voice.Coordinator {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[i]
}

func newTestSessionManager() (*app.SessionManager, *voiceFactory) {
	f := &voiceFactory{}
	sm := app.NewSessionManager(app.SessionManagerConfig{
		Generator: tutor.NewGenerator(&llmmock.Provider{}, nil),
		NewVoice:  f.New,
		Now:       func() time.Time { return start },
	})
	return sm, f
}

func TestSessionManager_StartStop(t *testing.T) {
	t.Parallel()

	sm, _ := newTestSessionManager()
	lf, _ := tutor.Find(5)

	conv, err := sm.Start(&lf)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !sm.IsActive() {
		t.Fatal("expected session to be active after Start")
	}

	info := sm.Info()
	if info.Lernfeld == nil || info.Lernfeld.ID != 5 {
		t.Errorf("Lernfeld = %+v, want LF5", info.Lernfeld)
	}
	if !info.StartedAt.Equal(start) {
		t.Errorf("StartedAt = %v, want %v", info.StartedAt, start)
	}
	if got, want := info.Topic(), lf.Label(); got != want {
		t.Errorf("Topic = %q, want %q", got, want)
	}
	if msgs := conv.Messages(); len(msgs) != 1 || msgs[0].Text != tutor.Greeting(lf) {
		t.Errorf("messages = %+v, want the tutor greeting", msgs)
	}
	if sm.Conversation() != conv || sm.Voice() == nil {
		t.Error("active conversation or voice not exposed")
	}

	// The caller's Lernfeld is copied.
	lf.Title = "changed"
	if sm.Info().Lernfeld.Title == "changed" {
		t.Error("session shares the caller's Lernfeld")
	}

	if !sm.Stop() {
		t.Error("Stop() = false with an active session")
	}
	if sm.IsActive() || sm.Conversation() != nil || sm.Voice() != nil {
		t.Error("session still active after Stop")
	}
	if sm.Info().Lernfeld != nil {
		t.Error("Info not cleared after Stop")
	}
	if sm.Stop() {
		t.Error("second Stop() = true")
	}
}

func TestSessionManager_StartReplacesPrevious(t *testing.T) {
	t.Parallel()

	sm, voices := newTestSessionManager()
	lf, _ := tutor.Find(3)

	if _, err := sm.Start(&lf); err != nil {
		t.Fatal(err)
	}
	if _, err := sm.Start(nil); err != nil {
		t.Fatal(err)
	}

	if got := sm.Info().Topic(); got != "Assistent" {
		t.Errorf("Topic = %q, want Assistent", got)
	}

	ctx := context.Background()
	if err := voices.Get(0).StartListening(ctx, "", voice.ListenCallbacks{}); !errors.Is(err, voice.ErrClosed) {
		t.Errorf("previous voice StartListening = %v, want ErrClosed", err)
	}
	if sm.Voice() != voices.Get(1) {
		t.Error("active voice is not the newest coordinator")
	}
}

func TestSessionManager_Current(t *testing.T) {
	t.Parallel()

	sm, _ := newTestSessionManager()
	conv, err := sm.Current()
	if err != nil {
		t.Fatalf("Current() error: %v", err)
	}
	if sm.Info().Lernfeld != nil {
		t.Error("Current() did not start the general assistant")
	}
	again, err := sm.Current()
	if err != nil || again != conv {
		t.Errorf("Current() = %p, %v; want the active conversation %p", again, err, conv)
	}
}

func TestSessionManager_NoTutor(t *testing.T) {
	t.Parallel()

	sm := app.NewSessionManager(app.SessionManagerConfig{})
	if _, err := sm.Start(nil); !errors.Is(err, app.ErrNoTutor) {
		t.Errorf("Start err = %v, want ErrNoTutor", err)
	}
	if _, err := sm.Current(); !errors.Is(err, app.ErrNoTutor) {
		t.Errorf("Current err = %v, want ErrNoTutor", err)
	}
	if sm.IsActive() {
		t.Error("session active without a tutor")
	}
}
