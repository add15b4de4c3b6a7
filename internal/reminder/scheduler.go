package reminder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fisimaster/studybuddy/internal/observe"
)

// DefaultInterval is the period between due checks.
const DefaultInterval = 10 * time.Second

// ErrStopped is returned by [Scheduler.Start] after Stop.
var ErrStopped = errors.New("reminder: scheduler stopped")

// Collection is the scheduler's view of the reminders. The scheduler reads
// snapshots and asks the owner to flip the seen flag; it never edits a
// reminder itself. [Store] implements it.
type Collection interface {
	List() []Reminder

	// MarkSeen reports whether this call changed the reminder from unseen
	// to seen.
	MarkSeen(ctx context.Context, id string) (bool, error)
}

var _ Collection = (*Store)(nil)

// SchedulerConfig configures a [Scheduler].
type SchedulerConfig struct {
	// Reminders is the collection to watch. Required.
	Reminders Collection

	// Sink receives due reminders. Required.
	Sink Sink

	// Interval between checks. Defaults to [DefaultInterval].
	Interval time.Duration

	// Now returns the current time. Defaults to [time.Now].
	Now func() time.Time

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Scheduler polls a [Collection] and delivers due reminders, one per check.
// A reminder is marked seen before the sink sees it, so it is delivered at
// most once however slow the sink is or however checks overlap.
//
// All methods are safe for concurrent use. A Sink must not call Stop.
type Scheduler struct {
	reminders Collection
	sink      Sink
	interval  time.Duration
	now       func() time.Time
	metrics   *observe.Metrics

	// tickMu serialises checks against each other and against Stop.
	tickMu  sync.Mutex
	stopped bool

	mu      sync.Mutex
	started bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a stopped Scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	s := &Scheduler{
		reminders: cfg.Reminders,
		sink:      cfg.Sink,
		interval:  cfg.Interval,
		now:       cfg.Now,
		metrics:   cfg.Metrics,
		done:      make(chan struct{}),
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Start begins checking every interval in a background goroutine, which
// runs until Stop is called or ctx is cancelled. The first check happens one
// interval after Start. Starting a running scheduler is a no-op; a loop ended
// by ctx may be started again.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return ErrStopped
	default:
	}
	if s.started {
		return nil
	}
	s.started = true

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop ends the check loop and waits for a check in progress to finish. No
// delivery happens after Stop returns. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.mu.Unlock()

	s.tickMu.Lock()
	s.stopped = true
	s.tickMu.Unlock()

	s.wg.Wait()
}

// Running reports whether the check loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return false
	default:
		return s.started
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one check: the first due reminder in collection order is marked
// seen and delivered. It returns the delivered reminder, if any. Tick does
// nothing after Stop.
func (s *Scheduler) Tick(ctx context.Context) (Reminder, bool) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	if s.stopped {
		return Reminder{}, false
	}
	s.metrics.ReminderChecks.Add(ctx, 1)

	r, ok := NextDue(s.reminders.List(), s.now())
	if !ok {
		return Reminder{}, false
	}
	changed, err := s.reminders.MarkSeen(ctx, r.ID)
	if err != nil {
		// Removed between the snapshot and now.
		slog.Debug("reminder: due reminder vanished", "id", r.ID, "err", err)
		return Reminder{}, false
	}
	if !changed {
		return Reminder{}, false
	}
	r.Seen = true

	s.metrics.ReminderDeliveries.Add(ctx, 1)
	slog.Info("reminder: due", "id", r.ID, "text", r.Text)
	s.sink.Deliver(ctx, r)
	return r, true
}
