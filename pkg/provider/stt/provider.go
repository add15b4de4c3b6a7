// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a streaming recognition service (e.g., Deepgram) and
// exposes one recognition turn per session. A session accepts raw PCM audio
// and emits [types.ResultBatch] values; each batch may carry interim segments,
// final segments, or both. When the turn ends the Results channel is closed
// and [SessionHandle.Err] reports why.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/fisimaster/studybuddy/pkg/types"
)

var (
	// ErrNoSpeech is the terminal error of a session that ended without
	// recognising any speech. Consumers treat it as benign.
	ErrNoSpeech = errors.New("stt: no speech detected")

	// ErrUnsupported reports that speech capture is not available in the
	// current environment.
	ErrUnsupported = errors.New("stt: speech recognition not supported")
)

// StreamConfig describes the audio format and recognition mode of a session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. 16000 for the default capture.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition, e.g. "de-DE".
	Language string

	// InterimResults enables non-final segments while the user is speaking.
	InterimResults bool

	// Continuous keeps the session open across utterances. When false the
	// provider ends the session after the first final result.
	Continuous bool
}

// SessionHandle represents an open recognition session. It is an interface so
// that test code can provide mock implementations without a live provider.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw 16-bit little-endian PCM to the
	// provider. Calling SendAudio after the session ended returns an error.
	SendAudio(chunk []byte) error

	// Results returns the channel of result batches in recognizer order. The
	// channel is closed when the recognition turn ends for any reason.
	Results() <-chan types.ResultBatch

	// Err returns the reason the session ended: nil for a normal end,
	// ErrNoSpeech when nothing was recognised, or a provider error. Only
	// meaningful after Results is closed.
	Err() error

	// Stop asks the provider to finish the current utterance and end the
	// session gracefully. Results still pending are delivered before Results
	// closes. Calling Stop more than once is safe.
	Stop() error

	// Close aborts the session and releases all resources. After Close
	// returns, Results is closed. Calling Close more than once is safe.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new recognition session. The returned SessionHandle
	// is ready to accept audio immediately. The caller owns the handle and
	// must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
