package voice

import (
	"context"
	"errors"
	"sync"

	"github.com/fisimaster/studybuddy/internal/observe"
	"github.com/fisimaster/studybuddy/internal/transcript"
	"github.com/fisimaster/studybuddy/pkg/provider/stt"
)

// ErrClosed is returned by a [Coordinator] after Close.
var ErrClosed = errors.New("voice: coordinator closed")

// Mode is the activity of a [Coordinator].
type Mode int

const (
	Idle Mode = iota
	Listening
	Speaking
)

func (m Mode) String() string {
	switch m {
	case Listening:
		return "listening"
	case Speaking:
		return "speaking"
	default:
		return "idle"
	}
}

// Listener is the capture side of a coordinator. [InputSession] implements it.
type Listener interface {
	Supported() bool
	Start(ctx context.Context, cb InputCallbacks) error
	Stop()
}

// Speaker is the output side of a coordinator. [OutputController]
// implements it.
type Speaker interface {
	Supported() bool
	Speak(ctx context.Context, text string) <-chan struct{}
	Stop()
}

var (
	_ Listener = (*InputSession)(nil)
	_ Speaker  = (*OutputController)(nil)
)

// ListenCallbacks receives the progress of one dictation. Any field may be nil.
type ListenCallbacks struct {
	// OnTranscript receives the display text (committed text plus preview)
	// whenever it changes.
	OnTranscript func(display string)

	// OnError receives hard recognition errors. A "no speech" end is not an
	// error.
	OnError func(err error)

	// OnEnd is called exactly once per successful StartListening with the
	// committed text of the dictation.
	OnEnd func(committed string)
}

// Coordinator arbitrates one view's listener and speaker so that the view is
// never listening and speaking at once. Each consuming view owns its own
// Coordinator.
//
// All methods are safe for concurrent use. Listen callbacks run one at a time
// on a goroutine owned by the Coordinator, so they may call back into it.
type Coordinator struct {
	input   Listener
	output  Speaker
	metrics *observe.Metrics
	events  *dispatcher

	// opMu serialises the operations that start or stop either side.
	opMu sync.Mutex

	mu     sync.Mutex
	mode   Mode
	gen    uint64
	acc    *transcript.Accumulator
	closed bool
}

// CoordinatorOption configures a [Coordinator].
type CoordinatorOption func(*Coordinator)

// WithCoordinatorMetrics sets the metrics sink. Default
// [observe.DefaultMetrics].
func WithCoordinatorMetrics(m *observe.Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates an idle Coordinator over input and output.
func NewCoordinator(input Listener, output Speaker, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{input: input, output: output, events: newDispatcher()}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.metrics.ActiveVoiceSessions.Add(context.Background(), 1)
	return c
}

// Mode returns the current mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// CanListen reports whether dictation is available.
func (c *Coordinator) CanListen() bool {
	return c.input != nil && c.input.Supported()
}

// CanSpeak reports whether read-aloud is available.
func (c *Coordinator) CanSpeak() bool {
	return c.output != nil && c.output.Supported()
}

// Display returns the display text of the current or most recent dictation.
func (c *Coordinator) Display() string {
	c.mu.Lock()
	acc := c.acc
	c.mu.Unlock()
	if acc == nil {
		return ""
	}
	return acc.Display()
}

// StartListening starts a dictation that continues seed. An utterance in
// progress is stopped first, as is a previous dictation, which still receives
// its OnEnd. It returns [stt.ErrUnsupported] when capture is unavailable and
// [ErrClosed] after Close; in both cases no callback is invoked.
func (c *Coordinator) StartListening(ctx context.Context, seed string, cb ListenCallbacks) error {
	if !c.CanListen() {
		return stt.ErrUnsupported
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	acc := &transcript.Accumulator{}
	acc.Seed(seed)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.setModeLocked(Idle)
	c.gen++
	gen := c.gen
	c.acc = acc
	c.setModeLocked(Listening)
	c.mu.Unlock()

	if c.output != nil {
		c.output.Stop()
	}

	err := c.input.Start(ctx, InputCallbacks{
		OnFragment: func(text string, isFinal bool) {
			c.mu.Lock()
			if c.gen != gen || !acc.Apply(text, isFinal) {
				c.mu.Unlock()
				return
			}
			display := acc.Display()
			c.mu.Unlock()
			if cb.OnTranscript != nil {
				c.events.post(func() { cb.OnTranscript(display) })
			}
		},
		OnError: func(err error) {
			if cb.OnError != nil {
				c.events.post(func() { cb.OnError(err) })
			}
		},
		OnEnd: func() {
			c.mu.Lock()
			if c.gen == gen {
				c.setModeLocked(Idle)
			}
			c.mu.Unlock()
			committed := acc.Committed()
			if cb.OnEnd != nil {
				c.events.post(func() { cb.OnEnd(committed) })
			}
		},
	})
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.setModeLocked(Idle)
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

// StopListening ends the current dictation. No-op unless listening.
func (c *Coordinator) StopListening() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.mode != Listening {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.setModeLocked(Idle)
	c.mu.Unlock()
	c.input.Stop()
}

// Speak reads text aloud, stopping a running dictation first. The returned
// channel is closed when the utterance ends; it is closed immediately when
// output is unavailable or the coordinator is closed.
func (c *Coordinator) Speak(ctx context.Context, text string) <-chan struct{} {
	if !c.CanSpeak() {
		return closedChan()
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return closedChan()
	}
	c.setModeLocked(Idle)
	c.gen++
	gen := c.gen
	c.setModeLocked(Speaking)
	c.mu.Unlock()

	if c.input != nil {
		c.input.Stop()
	}

	done := c.output.Speak(ctx, text)
	go func() {
		<-done
		c.mu.Lock()
		if c.gen == gen {
			c.setModeLocked(Idle)
		}
		c.mu.Unlock()
	}()
	return done
}

// StopSpeaking cancels the current utterance. No-op unless speaking.
func (c *Coordinator) StopSpeaking() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.mode != Speaking {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.setModeLocked(Idle)
	c.mu.Unlock()
	c.output.Stop()
}

// Close force-stops both sides and rejects further starts. Callbacks already
// queued still run. Close is idempotent.
func (c *Coordinator) Close() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gen++
	c.setModeLocked(Idle)
	c.mu.Unlock()

	if c.input != nil {
		c.input.Stop()
	}
	if c.output != nil {
		c.output.Stop()
	}
	c.events.close()
	c.metrics.ActiveVoiceSessions.Add(context.Background(), -1)
	return nil
}

// setModeLocked changes the mode and records the transition. Must be called
// with c.mu held.
func (c *Coordinator) setModeLocked(m Mode) {
	if c.mode == m {
		return
	}
	c.metrics.RecordModeTransition(context.Background(), c.mode.String(), m.String())
	c.mode = m
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
