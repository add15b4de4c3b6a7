package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fisimaster/studybuddy/internal/observe"
	"github.com/fisimaster/studybuddy/pkg/audio"
	"github.com/fisimaster/studybuddy/pkg/provider/stt"
)

const (
	defaultLanguage   = "de-DE"
	defaultSampleRate = 16000
	defaultStopGrace  = 2 * time.Second
)

// InputCallbacks receives the events of one capture. Any field may be nil.
//
// OnFragment calls are serialised and arrive in recognizer order. OnError, if
// called, precedes OnEnd. OnEnd is called exactly once per successful Start,
// and no OnFragment follows it. OnFragment must not call Stop or Start on the
// same session: Stop waits for a fragment callback in flight.
type InputCallbacks struct {
	OnFragment func(text string, isFinal bool)
	OnEnd      func()
	OnError    func(err error)
}

// InputOption configures an [InputSession].
type InputOption func(*InputSession)

// WithLanguage sets the recognition language. Default "de-DE".
func WithLanguage(lang string) InputOption {
	return func(s *InputSession) { s.language = lang }
}

// WithSampleRate sets the capture sample rate. Default 16000.
func WithSampleRate(rate int) InputOption {
	return func(s *InputSession) { s.sampleRate = rate }
}

// WithStopGrace bounds how long a stopped capture may keep its recognition
// session open to flush pending results before it is aborted. Default 2s.
func WithStopGrace(d time.Duration) InputOption {
	return func(s *InputSession) { s.stopGrace = d }
}

// WithInputMetrics sets the metrics sink. Default [observe.DefaultMetrics].
func WithInputMetrics(m *observe.Metrics) InputOption {
	return func(s *InputSession) { s.metrics = m }
}

// InputSession owns at most one capture at a time.
//
// All methods are safe for concurrent use.
type InputSession struct {
	provider   stt.Provider
	source     audio.Source
	language   string
	sampleRate int
	stopGrace  time.Duration
	metrics    *observe.Metrics

	mu  sync.Mutex
	cur *capture
}

// capture is one start→result*→end lifecycle.
type capture struct {
	cb     InputCallbacks
	handle stt.SessionHandle
	cancel context.CancelFunc

	stopOnce sync.Once
	stopped  chan struct{}
	endOnce  sync.Once

	// deliverMu is held across the stopped check and OnFragment.
	deliverMu sync.Mutex
}

func (c *capture) isStopped() bool {
	select {
	case <-c.stopped:
		return true
	default:
		return false
	}
}

// deliver hands one fragment to OnFragment unless c has been stopped.
func (c *capture) deliver(text string, isFinal bool) {
	if text == "" || c.cb.OnFragment == nil {
		return
	}
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	if c.isStopped() {
		return
	}
	c.cb.OnFragment(text, isFinal)
}

// NewInputSession creates an InputSession. A nil provider or source makes
// the session unsupported.
func NewInputSession(provider stt.Provider, source audio.Source, opts ...InputOption) *InputSession {
	s := &InputSession{
		provider:   provider,
		source:     source,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		stopGrace:  defaultStopGrace,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Supported reports whether speech capture is available.
func (s *InputSession) Supported() bool {
	return s.provider != nil && s.source != nil
}

// Active reports whether a capture is running.
func (s *InputSession) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

// Start begins one recognition turn with interim results in the configured
// language. It returns [stt.ErrUnsupported] without invoking any callback when
// capture is unavailable. Otherwise it returns nil and reports every further
// failure through cb. A capture that is still running is stopped first and
// receives its own OnEnd.
func (s *InputSession) Start(ctx context.Context, cb InputCallbacks) error {
	if !s.Supported() {
		return stt.ErrUnsupported
	}
	s.Stop()

	ctx, cancel := context.WithCancel(ctx)
	c := &capture{cb: cb, cancel: cancel, stopped: make(chan struct{})}

	handle, err := s.provider.StartStream(ctx, stt.StreamConfig{
		SampleRate:     s.sampleRate,
		Channels:       1,
		Language:       s.language,
		InterimResults: true,
	})
	if err != nil {
		cancel()
		s.finish(c, fmt.Errorf("voice: start recognition: %w", err))
		return nil
	}
	frames, err := s.source.Open(ctx, s.sampleRate)
	if err != nil {
		_ = handle.Close()
		cancel()
		s.finish(c, fmt.Errorf("voice: open capture: %w", err))
		return nil
	}
	c.handle = handle

	s.mu.Lock()
	prev := s.cur
	s.cur = c
	s.mu.Unlock()
	if prev != nil {
		s.stop(prev)
	}

	go feed(handle, frames)
	go s.pump(c)
	return nil
}

// Stop ends the running capture. Its OnEnd fires before Stop returns and
// results arriving afterwards are discarded. Stop is a no-op when idle.
func (s *InputSession) Stop() {
	s.mu.Lock()
	c := s.cur
	s.cur = nil
	s.mu.Unlock()
	if c != nil {
		s.stop(c)
	}
}

func (s *InputSession) stop(c *capture) {
	c.stopOnce.Do(func() { close(c.stopped) })
	// Wait for a fragment callback in flight.
	c.deliverMu.Lock()
	c.deliverMu.Unlock()
	if err := c.handle.Stop(); err != nil {
		slog.Debug("voice: stop recognition", "err", err)
	}
	s.finish(c, nil)
}

// feed forwards captured audio until the capture channel closes.
func feed(handle stt.SessionHandle, frames <-chan []byte) {
	for f := range frames {
		if err := handle.SendAudio(f); err != nil {
			audio.Drain(frames)
			return
		}
	}
}

// pump delivers result batches until the recognition turn ends. After a Stop
// it keeps reading so the provider can flush, but discards everything, and
// aborts the session once the grace period has passed.
func (s *InputSession) pump(c *capture) {
	defer c.cancel()
	defer func() { _ = c.handle.Close() }()

	results := c.handle.Results()
	stopped := c.stopped
	var grace <-chan time.Time
	for {
		select {
		case batch, ok := <-results:
			if !ok {
				s.finish(c, c.handle.Err())
				return
			}
			interim, final := batch.Split()
			c.deliver(interim, false)
			c.deliver(final, true)
		case <-stopped:
			stopped = nil
			t := time.NewTimer(s.stopGrace)
			defer t.Stop()
			grace = t.C
		case <-grace:
			grace = nil
			_ = c.handle.Close()
		}
	}
}

// finish runs the end callbacks of c exactly once.
func (s *InputSession) finish(c *capture, err error) {
	c.endOnce.Do(func() {
		s.mu.Lock()
		if s.cur == c {
			s.cur = nil
		}
		s.mu.Unlock()

		ctx := context.Background()
		switch {
		case c.isStopped():
			s.metrics.RecordListenSession(ctx, "stopped")
		case err == nil:
			s.metrics.RecordListenSession(ctx, "completed")
		case errors.Is(err, stt.ErrNoSpeech):
			slog.Debug("voice: no speech detected")
			s.metrics.RecordListenSession(ctx, "no_speech")
		default:
			slog.Debug("voice: recognition failed", "err", err)
			s.metrics.RecordListenSession(ctx, "error")
			s.metrics.RecordRecognitionError(ctx, errorKind(err))
			if c.cb.OnError != nil {
				c.cb.OnError(err)
			}
		}
		if c.cb.OnEnd != nil {
			c.cb.OnEnd()
		}
	})
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "provider"
	}
}
