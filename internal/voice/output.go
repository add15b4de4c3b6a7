package voice

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/fisimaster/studybuddy/internal/observe"
	"github.com/fisimaster/studybuddy/pkg/audio"
	"github.com/fisimaster/studybuddy/pkg/provider/tts"
	"github.com/fisimaster/studybuddy/pkg/types"
)

// OutputOption configures an [OutputController].
type OutputOption func(*OutputController)

// WithVoiceLanguage sets the language voices are selected for. Default "de-DE".
func WithVoiceLanguage(lang string) OutputOption {
	return func(o *OutputController) { o.language = lang }
}

// WithDisfavoredVoice names a voice or provider that is only used when no
// other voice speaks the language. Default "Google".
func WithDisfavoredVoice(name string) OutputOption {
	return func(o *OutputController) { o.disfavored = name }
}

// WithAudioRate sets the sample rate of the synthesized PCM. Default 16000.
func WithAudioRate(rate int) OutputOption {
	return func(o *OutputController) { o.sampleRate = rate }
}

// WithOutputMetrics sets the metrics sink. Default [observe.DefaultMetrics].
func WithOutputMetrics(m *observe.Metrics) OutputOption {
	return func(o *OutputController) { o.metrics = m }
}

// OutputController plays at most one utterance at a time. A new utterance
// cancels the current one outright; nothing is queued. Synthesis failures are
// logged at debug level and otherwise ignored.
//
// All methods are safe for concurrent use.
type OutputController struct {
	provider   tts.Provider
	player     audio.Player
	language   string
	disfavored string
	sampleRate int
	metrics    *observe.Metrics

	voiceMu     sync.Mutex
	voiceLoaded bool
	voice       types.VoiceProfile

	mu       sync.Mutex
	gen      uint64
	cancel   context.CancelFunc
	speaking bool
}

// NewOutputController creates an OutputController. A nil provider or player
// makes it unsupported.
func NewOutputController(provider tts.Provider, player audio.Player, opts ...OutputOption) *OutputController {
	o := &OutputController{
		provider:   provider,
		player:     player,
		language:   defaultLanguage,
		disfavored: "Google",
		sampleRate: defaultSampleRate,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Supported reports whether speech output is available.
func (o *OutputController) Supported() bool {
	return o.provider != nil && o.player != nil
}

// Speaking reports whether an utterance is in progress.
func (o *OutputController) Speaking() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.speaking
}

// Speak cancels the current utterance and starts reading text, with markup
// removed. It returns immediately; the returned channel is closed when the
// utterance has finished, failed or been cancelled.
func (o *OutputController) Speak(ctx context.Context, text string) <-chan struct{} {
	done := make(chan struct{})
	clean := strings.TrimSpace(CleanMarkdown(text))
	if !o.Supported() || clean == "" {
		o.Stop()
		close(done)
		return done
	}

	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.stopLocked()
	o.gen++
	gen := o.gen
	o.cancel = cancel
	o.speaking = true
	o.mu.Unlock()

	go func() {
		defer close(done)
		defer o.finish(gen)
		o.run(ctx, gen, clean)
	}()
	return done
}

// Stop cancels the current utterance. No-op when nothing is playing.
func (o *OutputController) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
}

func (o *OutputController) stopLocked() {
	if !o.speaking {
		return
	}
	o.gen++
	o.cancel()
	o.cancel = nil
	o.speaking = false
	o.player.Stop()
	o.metrics.RecordUtterance(context.Background(), "cancelled")
}

func (o *OutputController) run(ctx context.Context, gen uint64, text string) {
	voice := o.selectVoice(ctx)
	audioCh, err := o.provider.SynthesizeStream(ctx, tts.Sentences(text), voice)
	if err != nil {
		slog.Debug("voice: synthesis failed", "err", err)
		o.fail(gen)
		return
	}

	// Play only if this utterance is still current; holding mu makes the
	// check and the start atomic with respect to Stop.
	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		// A superseded utterance has its ctx cancelled already. Providers
		// close audioCh on cancellation, which ends the drain.
		go audio.Drain(audioCh)
		return
	}
	played := o.player.Play(&audio.Segment{Label: "utterance", Audio: audioCh, SampleRate: o.sampleRate})
	o.mu.Unlock()

	select {
	case <-played:
	case <-ctx.Done():
		o.mu.Lock()
		if o.gen == gen {
			o.player.Stop()
		}
		o.mu.Unlock()
	}
}

// fail records a failed utterance that is still current.
func (o *OutputController) fail(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen {
		return
	}
	o.gen++
	o.cancel()
	o.cancel = nil
	o.speaking = false
	o.metrics.RecordUtterance(context.Background(), "failed")
}

// finish clears the speaking state after an utterance ended on its own.
func (o *OutputController) finish(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen {
		return
	}
	o.cancel()
	o.cancel = nil
	o.speaking = false
	o.metrics.RecordUtterance(context.Background(), "completed")
}

// selectVoice lists the provider's voices once and caches the choice. A
// listing failure falls back to the provider default; only a cancelled
// listing is retried on the next utterance.
func (o *OutputController) selectVoice(ctx context.Context) types.VoiceProfile {
	o.voiceMu.Lock()
	defer o.voiceMu.Unlock()
	if o.voiceLoaded {
		return o.voice
	}
	voices, err := o.provider.ListVoices(ctx)
	if err != nil {
		slog.Debug("voice: list voices failed", "err", err)
		o.voiceLoaded = ctx.Err() == nil
		return types.VoiceProfile{}
	}
	o.voice = SelectVoice(voices, o.language, o.disfavored)
	o.voiceLoaded = true
	slog.Debug("voice: selected voice", "id", o.voice.ID, "name", o.voice.Name)
	return o.voice
}

// SelectVoice picks the first voice speaking language whose name and provider
// do not contain disfavored, then any voice speaking language, then the zero
// profile, which selects the provider default. Languages match on their
// primary subtag, so "de" matches "de-DE".
func SelectVoice(voices []types.VoiceProfile, language, disfavored string) types.VoiceProfile {
	var fallback *types.VoiceProfile
	for i, v := range voices {
		if !sameLanguage(v.Language, language) {
			continue
		}
		if !isDisfavored(v, disfavored) {
			return v
		}
		if fallback == nil {
			fallback = &voices[i]
		}
	}
	if fallback != nil {
		return *fallback
	}
	return types.VoiceProfile{}
}

func sameLanguage(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(primaryTag(a), primaryTag(b))
}

func primaryTag(lang string) string {
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		return lang[:i]
	}
	return lang
}

func isDisfavored(v types.VoiceProfile, name string) bool {
	if name == "" {
		return false
	}
	name = strings.ToLower(name)
	return strings.Contains(strings.ToLower(v.Name), name) ||
		strings.Contains(strings.ToLower(v.Provider), name)
}
