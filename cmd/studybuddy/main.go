// Command studybuddy runs the study companion in a terminal: tutoring
// chats, dictation, read-aloud and study reminders.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/fisimaster/studybuddy/internal/app"
	"github.com/fisimaster/studybuddy/internal/config"
	"github.com/fisimaster/studybuddy/internal/health"
	"github.com/fisimaster/studybuddy/internal/kvstore"
	"github.com/fisimaster/studybuddy/internal/observe"
	"github.com/fisimaster/studybuddy/internal/resilience"
	"github.com/fisimaster/studybuddy/pkg/audio/pulse"
	"github.com/fisimaster/studybuddy/pkg/provider/llm"
	"github.com/fisimaster/studybuddy/pkg/provider/llm/anyllm"
	"github.com/fisimaster/studybuddy/pkg/provider/stt"
	"github.com/fisimaster/studybuddy/pkg/provider/stt/deepgram"
	"github.com/fisimaster/studybuddy/pkg/provider/stt/whisper"
	"github.com/fisimaster/studybuddy/pkg/provider/tts"
	"github.com/fisimaster/studybuddy/pkg/provider/tts/coqui"
	"github.com/fisimaster/studybuddy/pkg/provider/tts/elevenlabs"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// errConsoleClosed ends the run group when the user quits the console.
var errConsoleClosed = errors.New("console closed")

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "studybuddy.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	watch := true
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "studybuddy: config file %q not found, using defaults\n", *configPath)
		cfg, watch = config.Default(), false
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "studybuddy: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("studybuddy starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	var telemetry *observe.Telemetry
	if cfg.Observe.Metrics {
		telemetry, err = observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName:    "studybuddy",
			ServiceVersion: version,
		})
		if err != nil {
			slog.Error("failed to initialise telemetry", "err", err)
			return 1
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := telemetry.Shutdown(flushCtx); err != nil {
				slog.Warn("telemetry shutdown error", "err", err)
			}
		}()
	}
	// Instruments come from the global provider installed above, if any.
	metrics := observe.DefaultMetrics()

	// ── Registry ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Voice)
	registerBuiltinStores(reg)
	slog.Debug("registered backends", "available", reg.Registered())

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	attachAudio(cfg.Voice, providers)

	store, err := reg.CreateStore(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to open storage", "backend", cfg.Storage.Backend, "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, providers)

	application, err := app.New(ctx, cfg, providers, app.WithStore(store), app.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = store.Close()
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	var watcher *config.Watcher
	if watch {
		watcher, err = config.NewWatcher(*configPath, func(d config.ConfigDiff, _ *config.Config) {
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			application.ApplyConfig(d)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		}
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	if watcher != nil {
		g.Go(func() error { return watcher.Watch(gctx) })
	}
	g.Go(func() error { return application.Run(gctx) })
	g.Go(func() error {
		if err := app.NewConsole(application, os.Stdin, os.Stdout).Run(gctx); err != nil {
			return err
		}
		return errConsoleClosed
	})
	if srv := newHTTPServer(cfg, application, metrics, telemetry); srv != nil {
		g.Go(func() error {
			slog.Info("http listener started", "addr", srv.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(closeCtx)
		})
	}

	exit := 0
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, errConsoleClosed) {
		slog.Error("run error", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return exit
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider factories that ship with
// studybuddy into reg. Synthesizers produce audio at the playback rate of vc.
func registerBuiltinProviders(reg *config.Registry, vc config.VoiceConfig) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// Every any-llm backend takes an optional API key and base URL. Local
	// servers such as ollama simply leave the key empty.
	for _, backend := range config.ValidProviderNames["llm"] {
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(backend, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if d, err := optDuration(entry.Options, "no_speech_timeout"); err != nil {
			return nil, err
		} else if d > 0 {
			opts = append(opts, deepgram.WithNoSpeechTimeout(d))
		}
		p, err := deepgram.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// whisper is a local whisper.cpp server; BaseURL is its address.
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if d, err := optDuration(entry.Options, "silence"); err != nil {
			return nil, err
		} else if d > 0 {
			opts = append(opts, whisper.WithSilence(d))
		}
		if d, err := optDuration(entry.Options, "no_speech_timeout"); err != nil {
			return nil, err
		} else if d > 0 {
			opts = append(opts, whisper.WithNoSpeechTimeout(d))
		}
		p, err := whisper.New(entry.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		outputFmt := optString(entry.Options, "output_format")
		if outputFmt == "" && vc.SampleRate > 0 {
			outputFmt = fmt.Sprintf("pcm_%d", vc.SampleRate)
		}
		if outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, elevenlabs.WithLanguage(lang))
		}
		p, err := elevenlabs.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithMode(coqui.Mode(mode)))
		}
		rate := optInt(entry.Options, "output_sample_rate")
		if rate <= 0 {
			rate = vc.SampleRate
		}
		opts = append(opts, coqui.WithOutputSampleRate(rate))
		p, err := coqui.New(entry.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// registerBuiltinStores wires one store factory per storage backend.
func registerBuiltinStores(reg *config.Registry) {
	reg.RegisterStore(config.BackendMemory, func(context.Context, config.StorageConfig) (kvstore.Store, error) {
		return kvstore.NewMemStore(), nil
	})
	reg.RegisterStore(config.BackendFile, func(_ context.Context, sc config.StorageConfig) (kvstore.Store, error) {
		return kvstore.NewFileStore(sc.Path)
	})
	reg.RegisterStore(config.BackendSQLite, func(ctx context.Context, sc config.StorageConfig) (kvstore.Store, error) {
		return kvstore.OpenSQLite(ctx, sc.Path)
	})
	reg.RegisterStore(config.BackendPostgres, func(ctx context.Context, sc config.StorageConfig) (kvstore.Store, error) {
		s, err := kvstore.OpenPostgres(ctx, sc.DSN)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	})
	reg.RegisterStore(config.BackendRedis, func(ctx context.Context, sc config.StorageConfig) (kvstore.Store, error) {
		return kvstore.OpenRedis(ctx, kvstore.RedisOptions{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			Prefix:   sc.Redis.Prefix,
		})
	})
}

// buildProviders instantiates the providers named in cfg, primaries first
// and fallbacks after, and puts each capability behind a circuit breaker.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	pc := cfg.Providers
	bc := resilience.BreakerConfig{Threshold: pc.Breaker.Threshold, Cooldown: pc.Breaker.Cooldown}

	llms, err := createAll("llm", pc.LLM, pc.Fallbacks.LLM, reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	if len(llms) > 0 {
		chain := resilience.NewLLM(llms[0].name, llms[0].provider, bc)
		for _, n := range llms[1:] {
			chain.Add(n.name, n.provider)
		}
		ps.LLM = chain
	}

	if cfg.Voice.Disabled {
		return ps, nil
	}

	stts, err := createAll("stt", pc.STT, pc.Fallbacks.STT, reg.CreateSTT)
	if err != nil {
		return nil, err
	}
	if len(stts) > 0 {
		chain := resilience.NewSTT(stts[0].name, stts[0].provider, bc)
		for _, n := range stts[1:] {
			chain.Add(n.name, n.provider)
		}
		ps.STT = chain
	}

	ttss, err := createAll("tts", pc.TTS, pc.Fallbacks.TTS, reg.CreateTTS)
	if err != nil {
		return nil, err
	}
	if len(ttss) > 0 {
		chain := resilience.NewTTS(ttss[0].name, ttss[0].provider, bc)
		for _, n := range ttss[1:] {
			chain.Add(n.name, n.provider)
		}
		ps.TTS = chain
	}

	return ps, nil
}

type namedProvider[T any] struct {
	name     string
	provider T
}

// createAll builds primary and then every spare of one capability. Entries
// without a name or with an unknown name are skipped.
func createAll[T any](kind string, primary config.ProviderEntry, spares []config.ProviderEntry, create func(config.ProviderEntry) (T, error)) ([]namedProvider[T], error) {
	var out []namedProvider[T]
	for _, entry := range append([]config.ProviderEntry{primary}, spares...) {
		if entry.Name == "" {
			continue
		}
		name := entry.Name
		if entry.Model != "" {
			name += "/" + entry.Model
		}
		p, err := create(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown provider, skipping", "kind", kind, "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
		}
		slog.Info("provider created", "kind", kind, "name", name, "fallback", len(out) > 0)
		out = append(out, namedProvider[T]{name: name, provider: p})
	}
	return out, nil
}

// attachAudio connects the PulseAudio capture source, playback sink and
// chime. A missing sound server leaves the app text-only.
func attachAudio(vc config.VoiceConfig, ps *app.Providers) {
	if vc.Disabled {
		return
	}
	sources, err := pulse.Sources()
	if err != nil {
		slog.Warn("no sound server, dictation and read-aloud unavailable", "err", err)
		return
	}
	for id, name := range sources {
		slog.Debug("capture device", "id", id, "name", name)
	}
	if vc.InputDevice != "" {
		if _, ok := sources[vc.InputDevice]; !ok {
			slog.Warn("input device not found, using default", "device", vc.InputDevice)
			vc.InputDevice = ""
		}
	}
	ps.Source = &pulse.Source{Device: vc.InputDevice}

	if ps.TTS != nil {
		sink, err := pulse.NewSink(vc.SampleRate, 200*time.Millisecond)
		if err != nil {
			slog.Warn("playback unavailable", "err", err)
		} else {
			ps.Output = sink
		}
	}

	// Chime samples are already scaled to the configured volume.
	ps.Chime = func(samples []int16, rate int) error {
		return pulse.PlayOnce(samples, rate, 1)
	}
}

// ── HTTP ──────────────────────────────────────────────────────────────────────

// newHTTPServer serves health probes and, with telemetry, Prometheus metrics.
// It returns nil when no listen address is configured.
func newHTTPServer(cfg *config.Config, a *app.App, m *observe.Metrics, t *observe.Telemetry) *http.Server {
	if cfg.Server.ListenAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	health.New(a.Checkers()...).Register(mux)
	if t != nil {
		mux.Handle("GET /metrics", t.Handler())
	}
	return &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(m)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, ps *app.Providers) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       studybuddy: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	audioState := "(unavailable)"
	switch {
	case cfg.Voice.Disabled:
		audioState = "(disabled)"
	case ps.Source != nil:
		audioState = "pulse"
	}
	fmt.Printf("║  Audio           : %-19s ║\n", audioState)
	fmt.Printf("║  Storage         : %-19s ║\n", cfg.Storage.Backend)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// optInt extracts an integer option. YAML numbers decode as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optDuration parses a duration option such as "8s". Absent means zero.
func optDuration(opts map[string]any, key string) (time.Duration, error) {
	s := optString(opts, key)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("option %s: %w", key, err)
	}
	return d, nil
}
