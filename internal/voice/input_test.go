package voice_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/fisimaster/studybuddy/internal/voice"
	"github.com/fisimaster/studybuddy/pkg/audio"
	audiomock "github.com/fisimaster/studybuddy/pkg/audio/mock"
	"github.com/fisimaster/studybuddy/pkg/provider/stt"
	sttmock "github.com/fisimaster/studybuddy/pkg/provider/stt/mock"
	"github.com/fisimaster/studybuddy/pkg/types"
)

func newInput(t *testing.T) (*voice.InputSession, *sttmock.Provider, *audiomock.Source) {
	t.Helper()
	p := &sttmock.Provider{}
	src := &audiomock.Source{}
	s := voice.NewInputSession(p, src, voice.WithStopGrace(20*time.Millisecond))
	t.Cleanup(s.Stop)
	return s, p, src
}

func TestInputSession_Unsupported(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider stt.Provider
		source   audio.Source
	}{
		{name: "no provider", source: &audiomock.Source{}},
		{name: "no source", provider: &sttmock.Provider{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := voice.NewInputSession(tt.provider, tt.source)
			if s.Supported() {
				t.Fatal("Supported() = true")
			}
			var r recorder
			if err := s.Start(context.Background(), r.callbacks()); !errors.Is(err, stt.ErrUnsupported) {
				t.Fatalf("Start error = %v, want ErrUnsupported", err)
			}
			if events, _, _ := r.snapshot(); len(events) != 0 {
				t.Errorf("callbacks fired: %q", events)
			}
		})
	}
}

func TestInputSession_StreamConfig(t *testing.T) {
	t.Parallel()

	s, p, src := newInput(t)
	var r recorder
	if err := s.Start(context.Background(), r.callbacks()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.CallCount() != 1 {
		t.Fatalf("StartStream calls = %d, want 1", p.CallCount())
	}
	cfg := p.StartStreamCalls[0].Cfg
	want := stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "de-DE", InterimResults: true}
	if cfg != want {
		t.Errorf("cfg = %+v, want %+v", cfg, want)
	}
	if src.Opens() != 1 || src.OpenCalls[0].SampleRate != 16000 {
		t.Errorf("source opens = %+v", src.OpenCalls)
	}
	if !s.Active() {
		t.Error("Active() = false after Start")
	}
}

func TestInputSession_DeliversInterimBeforeFinal(t *testing.T) {
	t.Parallel()

	s, p, _ := newInput(t)
	var r recorder
	if err := s.Start(context.Background(), r.callbacks()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := p.LastSession()
	sess.Emit(types.Transcript{Text: "Server"})
	sess.Emit(
		types.Transcript{Text: "DNS Konfiguration", IsFinal: true},
		types.Transcript{Text: "und"},
	)
	sess.Emit()
	sess.End(nil)

	waitFor(t, "end", func() bool { return r.endCount() == 1 })
	events, _, errs := r.snapshot()
	want := []string{"Server/false", "und/false", "DNS Konfiguration/true", "end"}
	if !slices.Equal(events, want) {
		t.Errorf("events = %q, want %q", events, want)
	}
	if len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
	if s.Active() {
		t.Error("Active() = true after end")
	}
}

func TestInputSession_TerminalErrors(t *testing.T) {
	t.Parallel()

	hard := errors.New("network unreachable")
	tests := []struct {
		name       string
		err        error
		wantEvents []string
	}{
		{name: "normal end", err: nil, wantEvents: []string{"end"}},
		{name: "no speech is benign", err: stt.ErrNoSpeech, wantEvents: []string{"end"}},
		{name: "hard error precedes end", err: hard, wantEvents: []string{"error", "end"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, p, _ := newInput(t)
			var r recorder
			if err := s.Start(context.Background(), r.callbacks()); err != nil {
				t.Fatalf("Start: %v", err)
			}
			p.LastSession().End(tt.err)

			waitFor(t, "end", func() bool { return r.endCount() == 1 })
			events, _, errs := r.snapshot()
			if !slices.Equal(events, tt.wantEvents) {
				t.Errorf("events = %q, want %q", events, tt.wantEvents)
			}
			if tt.err == hard && (len(errs) != 1 || !errors.Is(errs[0], hard)) {
				t.Errorf("errs = %v, want [%v]", errs, hard)
			}
		})
	}
}

func TestInputSession_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	s, p, _ := newInput(t)
	s.Stop() // idle: no-op

	var r recorder
	if err := s.Start(context.Background(), r.callbacks()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := p.LastSession()

	s.Stop()
	if r.endCount() != 1 {
		t.Fatalf("ends after Stop = %d, want 1", r.endCount())
	}
	s.Stop()

	// Late results from the provider must be ignored.
	sess.Emit(types.Transcript{Text: "zu spät", IsFinal: true})
	sess.End(errors.New("late failure"))

	waitFor(t, "handle close", func() bool { return sess.Closes() > 0 })
	events, ends, errs := r.snapshot()
	if ends != 1 || len(errs) != 0 || !slices.Equal(events, []string{"end"}) {
		t.Errorf("events = %q ends = %d errs = %v, want a single end", events, ends, errs)
	}
	if sess.Stops() != 1 {
		t.Errorf("handle Stop calls = %d, want 1", sess.Stops())
	}
}

func TestInputSession_StopDuringFragmentEndsDelivery(t *testing.T) {
	t.Parallel()

	s, p, _ := newInput(t)
	var r recorder
	cb := r.callbacks()
	record := cb.OnFragment
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	cb.OnFragment = func(text string, isFinal bool) {
		record(text, isFinal)
		once.Do(func() {
			close(entered)
			<-release
		})
	}
	if err := s.Start(context.Background(), cb); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := p.LastSession()
	sess.Emit(
		types.Transcript{Text: "Server"},
		types.Transcript{Text: "Server DNS", IsFinal: true},
	)
	waitClosed(t, entered)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	waitFor(t, "capture detached", func() bool { return !s.Active() })
	time.Sleep(20 * time.Millisecond)
	select {
	case <-stopped:
		t.Fatal("Stop returned while a fragment callback was running")
	default:
	}
	close(release)
	waitClosed(t, stopped)

	waitFor(t, "handle close", func() bool { return sess.Closes() > 0 })
	events, ends, _ := r.snapshot()
	want := []string{"Server/false", "end"}
	if ends != 1 || !slices.Equal(events, want) {
		t.Errorf("events = %q, want %q", events, want)
	}
}

func TestInputSession_StopAbortsAfterGrace(t *testing.T) {
	t.Parallel()

	s, p, _ := newInput(t)
	var r recorder
	if err := s.Start(context.Background(), r.callbacks()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := p.LastSession()
	s.Stop()
	waitFor(t, "abort after grace", func() bool { return sess.Closes() > 0 })
}

func TestInputSession_StartStreamFailure(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{StartStreamErr: errors.New("401 unauthorized")}
	s := voice.NewInputSession(p, &audiomock.Source{})
	var r recorder
	if err := s.Start(context.Background(), r.callbacks()); err != nil {
		t.Fatalf("Start returned %v, want failure via callbacks", err)
	}
	events, _, _ := r.snapshot()
	if !slices.Equal(events, []string{"error", "end"}) {
		t.Errorf("events = %q, want [error end]", events)
	}
	if s.Active() {
		t.Error("Active() = true after failed start")
	}
}

func TestInputSession_SourceFailureClosesHandle(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{}
	s := voice.NewInputSession(p, &audiomock.Source{OpenErr: errors.New("no device")})
	var r recorder
	if err := s.Start(context.Background(), r.callbacks()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	events, _, _ := r.snapshot()
	if !slices.Equal(events, []string{"error", "end"}) {
		t.Errorf("events = %q, want [error end]", events)
	}
	if p.LastSession().Closes() != 1 {
		t.Error("recognition session not closed")
	}
}

func TestInputSession_RestartEndsPrevious(t *testing.T) {
	t.Parallel()

	s, p, _ := newInput(t)
	var first, second recorder
	if err := s.Start(context.Background(), first.callbacks()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background(), second.callbacks()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if first.endCount() != 1 {
		t.Errorf("first capture ends = %d, want 1", first.endCount())
	}
	if second.endCount() != 0 {
		t.Errorf("second capture ended early")
	}
	if p.CallCount() != 2 {
		t.Errorf("StartStream calls = %d, want 2", p.CallCount())
	}
}

func TestInputSession_ForwardsAudio(t *testing.T) {
	t.Parallel()

	s, p, src := newInput(t)
	var r recorder
	if err := s.Start(context.Background(), r.callbacks()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src.Feed([]byte{1, 2, 3, 4})
	sess := p.LastSession()
	waitFor(t, "audio", func() bool {
		return len(sess.Sent()) == 1
	})
}
