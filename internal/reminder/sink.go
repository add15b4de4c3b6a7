package reminder

import (
	"context"
	"sync"

	"github.com/fisimaster/studybuddy/internal/chime"
)

// Sink receives due reminders. Deliver is called with the reminder already
// marked seen and should return promptly.
type Sink interface {
	Deliver(ctx context.Context, r Reminder)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, r Reminder)

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, r Reminder) { f(ctx, r) }

// NotifierConfig configures a [Notifier]. Every field is optional.
type NotifierConfig struct {
	// OnShow displays a notification. It replaces whatever was shown.
	OnShow func(r Reminder)

	// OnDismiss hides the notification.
	OnDismiss func()

	// Chime is played on every delivery.
	Chime *chime.Chime

	// Speak reads the reminder text aloud when set, e.g. through a
	// voice coordinator.
	Speak func(ctx context.Context, text string)
}

// Notifier is the host's [Sink]. It holds the single active notification; a
// newer delivery replaces it. The chime is fire-and-forget and never delays
// delivery.
type Notifier struct {
	cfg NotifierConfig

	mu     sync.Mutex
	active *Reminder
	chime  *chime.Chime
}

var _ Sink = (*Notifier)(nil)

// NewNotifier creates a Notifier.
func NewNotifier(cfg NotifierConfig) *Notifier {
	return &Notifier{cfg: cfg, chime: cfg.Chime}
}

// SetChime replaces the delivery cue. nil silences it.
func (n *Notifier) SetChime(c *chime.Chime) {
	n.mu.Lock()
	n.chime = c
	n.mu.Unlock()
}

// Deliver implements [Sink].
func (n *Notifier) Deliver(ctx context.Context, r Reminder) {
	n.mu.Lock()
	n.active = &r
	c := n.chime
	n.mu.Unlock()

	c.Play()
	if n.cfg.OnShow != nil {
		n.cfg.OnShow(r)
	}
	if n.cfg.Speak != nil {
		n.cfg.Speak(ctx, r.Text)
	}
}

// Active returns the displayed notification, if any.
func (n *Notifier) Active() (Reminder, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.active == nil {
		return Reminder{}, false
	}
	return *n.active, true
}

// Dismiss clears the active notification. The reminder stays seen. It
// reports whether a notification was shown.
func (n *Notifier) Dismiss() bool {
	n.mu.Lock()
	had := n.active != nil
	n.active = nil
	n.mu.Unlock()

	if had && n.cfg.OnDismiss != nil {
		n.cfg.OnDismiss()
	}
	return had
}
