// Package audio defines the PCM plumbing shared by speech capture, speech
// output and notification cues.
//
// All audio in studybuddy is 16-bit little-endian PCM. A [Segment] is one
// utterance streamed from a synthesis provider; a [Player] plays at most one
// segment at a time on an [Output]; a [Source] produces captured audio for a
// recognizer.
package audio

import "context"

// Segment is a streamed utterance. Audio arrives incrementally so playback can
// begin before synthesis is complete.
type Segment struct {
	// Label identifies the segment in logs.
	Label string

	// Audio is a read-only channel of raw PCM chunks. The producer closes it
	// when the segment ends or synthesis fails.
	Audio <-chan []byte

	// SampleRate is the sample rate in Hz of the PCM on Audio.
	SampleRate int
}

// Output is an audio sink.
type Output interface {
	// Write queues pcm for playback. It may block while the sink is full.
	Write(pcm []byte) error
}

// Flusher is implemented by outputs that can discard audio that was written
// but not yet played. A [Player] flushes on interruption so that cancelled
// speech stops immediately.
type Flusher interface {
	Flush()
}

// Drainer is implemented by buffering outputs. WaitDrained blocks until
// everything written so far has been played or stop is closed.
type Drainer interface {
	WaitDrained(stop <-chan struct{})
}

// Player plays one segment at a time.
type Player interface {
	// Play starts seg, interrupting whatever is playing. The returned channel
	// is closed when seg finishes, is interrupted, or the player is closed.
	Play(seg *Segment) <-chan struct{}

	// Stop interrupts the current segment. No-op when idle.
	Stop()

	// Playing reports whether a segment is currently playing.
	Playing() bool
}

// Source produces captured audio.
type Source interface {
	// Open starts capture at sampleRate Hz mono. The returned channel is
	// closed when ctx is cancelled or the device fails.
	Open(ctx context.Context, sampleRate int) (<-chan []byte, error)
}
