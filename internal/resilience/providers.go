package resilience

import (
	"context"

	"github.com/fisimaster/studybuddy/pkg/provider/llm"
	"github.com/fisimaster/studybuddy/pkg/provider/stt"
	"github.com/fisimaster/studybuddy/pkg/provider/tts"
	"github.com/fisimaster/studybuddy/pkg/types"
)

// LLM is an [llm.Provider] backed by a [Chain] of language models.
type LLM struct{ *Chain[llm.Provider] }

var _ llm.Provider = LLM{}

// NewLLM returns an LLM whose preferred model is primary.
func NewLLM(name string, primary llm.Provider, cfg BreakerConfig) LLM {
	return LLM{NewChain(name, primary, cfg)}
}

// Complete asks the first model that answers.
func (p LLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(p.Chain, func(b llm.Provider) (*llm.CompletionResponse, error) {
		return b.Complete(ctx, req)
	})
}

// STT is an [stt.Provider] backed by a [Chain] of recognizers. Only opening
// a session fails over; a session that breaks later ends the turn.
type STT struct{ *Chain[stt.Provider] }

var _ stt.Provider = STT{}

// NewSTT returns an STT whose preferred recognizer is primary.
func NewSTT(name string, primary stt.Provider, cfg BreakerConfig) STT {
	return STT{NewChain(name, primary, cfg)}
}

// StartStream opens a session on the first recognizer that accepts one.
func (p STT) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return Call(p.Chain, func(b stt.Provider) (stt.SessionHandle, error) {
		return b.StartStream(ctx, cfg)
	})
}

// TTS is a [tts.Provider] backed by a [Chain] of synthesizers.
//
// Text fragments are consumed by whichever synthesizer accepts the stream,
// so only the setup fails over. Voices are listed from the first
// synthesizer that answers.
type TTS struct{ *Chain[tts.Provider] }

var _ tts.Provider = TTS{}

// NewTTS returns a TTS whose preferred synthesizer is primary.
func NewTTS(name string, primary tts.Provider, cfg BreakerConfig) TTS {
	return TTS{NewChain(name, primary, cfg)}
}

// SynthesizeStream starts synthesis on the first synthesizer that accepts it.
func (p TTS) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	return Call(p.Chain, func(b tts.Provider) (<-chan []byte, error) {
		return b.SynthesizeStream(ctx, text, voice)
	})
}

// ListVoices lists the voices of the first synthesizer that answers.
func (p TTS) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return Call(p.Chain, func(b tts.Provider) ([]types.VoiceProfile, error) {
		return b.ListVoices(ctx)
	})
}
