// Package app wires all studybuddy subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run starts the reminder scheduler and blocks, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore, WithClock,
// etc.) and the [Providers] struct. When an option is not provided, New uses
// in-memory or default implementations.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fisimaster/studybuddy/internal/chime"
	"github.com/fisimaster/studybuddy/internal/config"
	"github.com/fisimaster/studybuddy/internal/health"
	"github.com/fisimaster/studybuddy/internal/kvstore"
	"github.com/fisimaster/studybuddy/internal/observe"
	"github.com/fisimaster/studybuddy/internal/progress"
	"github.com/fisimaster/studybuddy/internal/reminder"
	"github.com/fisimaster/studybuddy/internal/tutor"
	"github.com/fisimaster/studybuddy/internal/voice"
	"github.com/fisimaster/studybuddy/pkg/audio"
	"github.com/fisimaster/studybuddy/pkg/audio/player"
	"github.com/fisimaster/studybuddy/pkg/provider/llm"
	"github.com/fisimaster/studybuddy/pkg/provider/stt"
	"github.com/fisimaster/studybuddy/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Nil means the
// capability is not available. Populated by main.go via the config registry.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider

	// Source captures microphone audio for dictation.
	Source audio.Source

	// Output plays synthesized speech. It runs at voice.sample_rate.
	Output audio.Output

	// Chime plays the reminder cue. Nil disables the cue.
	Chime chime.PlayFunc
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	now       func() time.Time

	kv        kvstore.Store
	reminders *reminder.Store
	scheduler *reminder.Scheduler
	notifier  *reminder.Notifier
	progress  *progress.Tracker
	generator *tutor.Generator
	sessions  *SessionManager
	player    *player.Player

	// alerts is the voice of the reminder notification view.
	alerts *voice.Coordinator

	speakReminders atomic.Bool

	mu       sync.Mutex
	onShow   func(reminder.Reminder)
	onHide   func()
	chimes   []*chime.Chime
	settings config.RemindersConfig

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects the durable store instead of an in-memory one. The App
// takes ownership and closes it on Shutdown.
func WithStore(kv kvstore.Store) Option {
	return func(a *App) { a.kv = kv }
}

// WithMetrics sets the metrics sink. Default [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithClock replaces time.Now for reminders and conversations.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// New creates an App by wiring all subsystems together. Persisted reminders
// and progress are loaded before New returns; the scheduler starts in Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	a := &App{cfg: cfg, providers: providers}
	if a.providers == nil {
		a.providers = &Providers{}
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.kv == nil {
		slog.Warn("no durable store configured, data is kept in memory only")
		a.kv = kvstore.NewMemStore()
	}

	a.initStorage(ctx)
	a.initAudio()
	a.initReminders()
	a.initTutor()

	if a.player != nil {
		a.closers = append(a.closers, a.player.Close)
	}
	if c, ok := a.providers.Output.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
	a.closers = append(a.closers, a.kv.Close)
	return a, nil
}

// initStorage loads reminders and progress.
func (a *App) initStorage(ctx context.Context) {
	var opts []reminder.StoreOption
	if key := a.cfg.Storage.RemindersKey; key != "" {
		opts = append(opts, reminder.WithKey(key))
	}
	opts = append(opts, reminder.WithStoreMetrics(a.metrics))
	a.reminders = reminder.NewStore(a.kv, opts...)
	a.reminders.Load(ctx)

	a.progress = progress.New(a.kv, a.cfg.Storage.ProgressKey, a.metrics)
	a.progress.Load(ctx)

	slog.Info("storage loaded",
		"backend", a.cfg.Storage.Backend,
		"reminders", len(a.reminders.List()),
	)
}

// initAudio creates the shared playback slot.
func (a *App) initAudio() {
	if a.cfg.Voice.Disabled {
		slog.Info("voice disabled by configuration")
		return
	}
	if a.providers.Output != nil {
		a.player = player.New(a.providers.Output, player.WithOutputRate(a.cfg.Voice.SampleRate))
	}
}

// initReminders builds the notification view and the scheduler.
func (a *App) initReminders() {
	a.alerts = a.NewVoice()
	a.notifier = reminder.NewNotifier(reminder.NotifierConfig{
		OnShow:    a.show,
		OnDismiss: a.hide,
		Speak:     a.speakReminder,
	})
	a.ApplyReminderSettings(a.cfg.Reminders)

	a.scheduler = reminder.NewScheduler(reminder.SchedulerConfig{
		Reminders: a.reminders,
		Sink:      a.notifier,
		Interval:  a.cfg.Reminders.CheckInterval,
		Now:       a.now,
		Metrics:   a.metrics,
	})
}

// initTutor creates the generator and the chat session manager.
func (a *App) initTutor() {
	if a.providers.LLM != nil {
		a.generator = tutor.NewGenerator(a.providers.LLM, a.metrics)
	} else {
		slog.Warn("no llm provider configured, lessons, quizzes and chat are unavailable")
	}
	a.sessions = NewSessionManager(SessionManagerConfig{
		Generator: a.generator,
		Progress:  a.progress,
		NewVoice:  a.NewVoice,
		Now:       a.now,
	})
}

// NewVoice creates a voice coordinator for one view. Every view owns its
// coordinator; the caller must Close it.
func (a *App) NewVoice() *voice.Coordinator {
	var (
		input  voice.Listener
		output voice.Speaker
	)
	if !a.cfg.Voice.Disabled {
		vc := a.cfg.Voice
		inOpts := []voice.InputOption{voice.WithInputMetrics(a.metrics)}
		if vc.Language != "" {
			inOpts = append(inOpts, voice.WithLanguage(vc.Language))
		}
		if vc.SampleRate > 0 {
			inOpts = append(inOpts, voice.WithSampleRate(vc.SampleRate))
		}
		if vc.StopGrace > 0 {
			inOpts = append(inOpts, voice.WithStopGrace(vc.StopGrace))
		}
		input = voice.NewInputSession(a.providers.STT, a.providers.Source, inOpts...)

		outOpts := []voice.OutputOption{voice.WithOutputMetrics(a.metrics)}
		if vc.Language != "" {
			outOpts = append(outOpts, voice.WithVoiceLanguage(vc.Language))
		}
		if vc.DisfavoredVoice != "" {
			outOpts = append(outOpts, voice.WithDisfavoredVoice(vc.DisfavoredVoice))
		}
		var p audio.Player
		if a.player != nil {
			p = a.player
		}
		output = voice.NewOutputController(a.providers.TTS, p, outOpts...)
	}
	return voice.NewCoordinator(input, output, voice.WithCoordinatorMetrics(a.metrics))
}

// Run starts the reminder scheduler and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("app: start scheduler: %w", err)
	}
	slog.Info("app running",
		"reminders", len(a.reminders.Upcoming(a.now())),
		"check_interval", a.cfg.Reminders.CheckInterval,
		"dictation", a.alerts.CanListen(),
		"read_aloud", a.alerts.CanSpeak(),
	)
	<-ctx.Done()
	return ctx.Err()
}

// Reminders returns the reminder collection.
func (a *App) Reminders() *reminder.Store { return a.reminders }

// Scheduler returns the reminder scheduler.
func (a *App) Scheduler() *reminder.Scheduler { return a.scheduler }

// Notifier returns the notification sink.
func (a *App) Notifier() *reminder.Notifier { return a.notifier }

// Progress returns the learning progress tracker.
func (a *App) Progress() *progress.Tracker { return a.progress }

// Generator returns the tutor, or nil when no LLM is configured.
func (a *App) Generator() *tutor.Generator { return a.generator }

// Sessions returns the chat session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Now returns the application clock.
func (a *App) Now() time.Time { return a.now() }

// ReminderSettings returns the reminder settings in effect.
func (a *App) ReminderSettings() config.RemindersConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// OnNotification sets the display callbacks of the notification view.
func (a *App) OnNotification(show func(reminder.Reminder), hide func()) {
	a.mu.Lock()
	a.onShow = show
	a.onHide = hide
	a.mu.Unlock()
}

func (a *App) show(r reminder.Reminder) {
	a.mu.Lock()
	fn := a.onShow
	a.mu.Unlock()
	if fn != nil {
		fn(r)
	}
}

func (a *App) hide() {
	a.mu.Lock()
	fn := a.onHide
	a.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (a *App) speakReminder(ctx context.Context, text string) {
	if !a.speakReminders.Load() {
		return
	}
	// The scheduler's context ends with the app; speech must not be tied
	// to the tick that delivered it.
	a.alerts.Speak(context.WithoutCancel(ctx), text)
}

// ApplyReminderSettings switches the delivery cue and read-aloud.
func (a *App) ApplyReminderSettings(rc config.RemindersConfig) {
	a.speakReminders.Store(rc.Speak)

	var c *chime.Chime
	if rc.ChimeEnabled() && a.providers.Chime != nil {
		vol := rc.ChimeVolume
		if vol == 0 {
			vol = config.DefaultChimeVolume
		}
		c = chime.New(a.providers.Chime, vol)
	}

	a.mu.Lock()
	a.settings = rc
	if c != nil {
		a.chimes = append(a.chimes, c)
	}
	a.mu.Unlock()
	a.notifier.SetChime(c)
}

// ApplyConfig applies the hot-reloadable part of a config change. Changes
// that need a restart are logged.
func (a *App) ApplyConfig(diff config.ConfigDiff) {
	if diff.RemindersChanged {
		a.ApplyReminderSettings(diff.NewReminders)
		slog.Info("reminder settings reloaded",
			"chime", diff.NewReminders.ChimeEnabled(),
			"speak", diff.NewReminders.Speak,
		)
	}
	if len(diff.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "sections", diff.RestartRequired)
	}
}

// Checkers returns the readiness checks of the running app.
func (a *App) Checkers() []health.Checker {
	checks := []health.Checker{{
		Name: "scheduler",
		Check: func(context.Context) error {
			if !a.scheduler.Running() {
				return fmt.Errorf("reminder scheduler not running")
			}
			return nil
		},
	}}
	if p, ok := a.kv.(kvstore.Pinger); ok {
		checks = append(checks, health.Checker{Name: "storage", Check: p.Ping})
	}
	for name, p := range map[string]any{"llm": a.providers.LLM, "stt": a.providers.STT, "tts": a.providers.TTS} {
		if b, ok := p.(availability); ok {
			checks = append(checks, health.Checker{
				Name:     name,
				Check:    func(context.Context) error { return b.Available() },
				Optional: true,
			})
		}
	}
	return checks
}

// availability is implemented by providers behind circuit breakers.
type availability interface {
	Available() error
}

// Shutdown tears down all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.scheduler.Stop()
		a.sessions.Stop()
		if err := a.alerts.Close(); err != nil {
			slog.Warn("voice close error", "err", err)
		}

		a.mu.Lock()
		chimes := a.chimes
		a.mu.Unlock()
		for _, c := range chimes {
			c.Wait()
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
