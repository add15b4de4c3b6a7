// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs) and
// presents a uniform streaming interface. SynthesizeStream accepts a channel
// of text fragments and returns a channel of raw PCM audio bytes as they become
// available, so playback can start before synthesis finishes.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/fisimaster/studybuddy/pkg/types"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and returns
	// a channel that emits raw 16-bit PCM audio as it is synthesised.
	//
	// The returned audio channel is closed by the implementation when all text
	// has been synthesised, when synthesis fails mid-stream, or when ctx is
	// cancelled. The caller must drain it.
	//
	// voice selects the voice; a zero ID selects the provider default.
	// Returns a non-nil error only if the stream cannot be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}

// Sentences returns a closed channel holding the given text fragments, for
// callers that have the whole text up front.
func Sentences(fragments ...string) <-chan string {
	ch := make(chan string, len(fragments))
	for _, f := range fragments {
		ch <- f
	}
	close(ch)
	return ch
}
