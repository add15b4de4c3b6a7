package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultLanguage        = "de-DE"
	DefaultDisfavoredVoice = "Google"
	DefaultStopGrace       = 2 * time.Second
	DefaultSampleRate      = 16000
	DefaultCheckInterval   = 10 * time.Second
	DefaultChimeVolume     = 0.2
	DefaultDataDir         = "studybuddy-data"
	DefaultRemindersKey    = "fisi_master_reminders"
	DefaultProgressKey     = "fisi_master_progress"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram", "whisper"},
	"tts": {"elevenlabs", "coqui"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown fields are rejected. An empty document
// yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used without a config file.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Voice.Language == "" {
		cfg.Voice.Language = DefaultLanguage
	}
	if cfg.Voice.DisfavoredVoice == "" {
		cfg.Voice.DisfavoredVoice = DefaultDisfavoredVoice
	}
	if cfg.Voice.StopGrace == 0 {
		cfg.Voice.StopGrace = DefaultStopGrace
	}
	if cfg.Voice.SampleRate == 0 {
		cfg.Voice.SampleRate = DefaultSampleRate
	}
	if cfg.Reminders.CheckInterval == 0 {
		cfg.Reminders.CheckInterval = DefaultCheckInterval
	}
	if cfg.Reminders.ChimeVolume == 0 {
		cfg.Reminders.ChimeVolume = DefaultChimeVolume
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendFile
	}
	if cfg.Storage.Path == "" {
		switch cfg.Storage.Backend {
		case BackendFile:
			cfg.Storage.Path = DefaultDataDir
		case BackendSQLite:
			cfg.Storage.Path = DefaultDataDir + "/studybuddy.db"
		}
	}
	if cfg.Storage.RemindersKey == "" {
		cfg.Storage.RemindersKey = DefaultRemindersKey
	}
	if cfg.Storage.ProgressKey == "" {
		cfg.Storage.ProgressKey = DefaultProgressKey
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Observe.Metrics && cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("observe.metrics requires server.listen_addr"))
	}

	// Voice
	if cfg.Voice.StopGrace < 0 {
		errs = append(errs, fmt.Errorf("voice.stop_grace %s must not be negative", cfg.Voice.StopGrace))
	}
	if cfg.Voice.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("voice.sample_rate %d must be positive", cfg.Voice.SampleRate))
	}

	// Reminders
	if cfg.Reminders.CheckInterval < 0 {
		errs = append(errs, fmt.Errorf("reminders.check_interval %s must be positive", cfg.Reminders.CheckInterval))
	} else if cfg.Reminders.CheckInterval > time.Minute {
		slog.Warn("reminders.check_interval is longer than a minute; reminders may fire late",
			"check_interval", cfg.Reminders.CheckInterval)
	}
	if v := cfg.Reminders.ChimeVolume; v < 0 || v > 1 {
		errs = append(errs, fmt.Errorf("reminders.chime_volume %.2f is out of range [0, 1]", v))
	}

	// Storage
	st := cfg.Storage
	if st.Backend != "" && !st.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: memory, file, sqlite, postgres, redis", st.Backend))
	}
	if (st.Backend == BackendFile || st.Backend == BackendSQLite) && st.Path == "" {
		errs = append(errs, fmt.Errorf("storage.path is required for backend %q", st.Backend))
	}
	if st.Backend == BackendPostgres && st.DSN == "" {
		errs = append(errs, errors.New("storage.dsn is required for backend \"postgres\""))
	}
	if st.Backend == BackendRedis && st.Redis.Addr == "" {
		errs = append(errs, errors.New("storage.redis.addr is required for backend \"redis\""))
	}
	if st.RemindersKey != "" && st.RemindersKey == st.ProgressKey {
		errs = append(errs, fmt.Errorf("storage.reminders_key and storage.progress_key must differ (both %q)", st.RemindersKey))
	}

	// Providers
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	fb := cfg.Providers.Fallbacks
	for kind, entries := range map[string][]ProviderEntry{"stt": fb.STT, "tts": fb.TTS, "llm": fb.LLM} {
		for i, e := range entries {
			if e.Name == "" {
				errs = append(errs, fmt.Errorf("providers.fallbacks.%s[%d].name is required", kind, i))
				continue
			}
			validateProviderName(kind, e.Name)
		}
	}
	if b := cfg.Providers.Breaker; b.Threshold < 0 || b.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("providers.breaker: threshold %d and cooldown %s must not be negative", b.Threshold, b.Cooldown))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; lessons, quizzes and the tutor will be unavailable")
	}
	if cfg.Reminders.Speak && (cfg.Providers.TTS.Name == "" || cfg.Voice.Disabled) {
		slog.Warn("reminders.speak is set but read-aloud is unavailable")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
