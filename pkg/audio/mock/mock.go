// Package mock provides test doubles for the audio package interfaces.
//
// Output records every chunk written to it and every flush, so tests can check
// which utterance actually reached the speaker. Source hands out a channel the
// test feeds directly.
package mock

import (
	"context"
	"sync"

	"github.com/fisimaster/studybuddy/pkg/audio"
)

// Output is a mock implementation of audio.Output and audio.Flusher.
type Output struct {
	mu sync.Mutex

	// WriteErr, if non-nil, is returned by every Write call.
	WriteErr error

	// Chunks holds a copy of every chunk written, in order.
	Chunks [][]byte

	// FlushCount is the number of Flush calls.
	FlushCount int
}

// Write records pcm and returns WriteErr.
func (o *Output) Write(pcm []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	o.Chunks = append(o.Chunks, cp)
	return o.WriteErr
}

// Flush records the call.
func (o *Output) Flush() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.FlushCount++
}

// Written returns the written chunks as strings, which is convenient with
// the echoing tts mock. Thread-safe.
func (o *Output) Written() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.Chunks))
	for i, c := range o.Chunks {
		out[i] = string(c)
	}
	return out
}

// Flushes returns FlushCount. Thread-safe.
func (o *Output) Flushes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.FlushCount
}

var (
	_ audio.Output  = (*Output)(nil)
	_ audio.Flusher = (*Output)(nil)
)

// OpenCall records a single invocation of Source.Open.
type OpenCall struct {
	SampleRate int
}

// Source is a mock implementation of audio.Source. Each Open returns a fresh
// channel that is closed when the caller's context is cancelled.
type Source struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCalls records every call to Open.
	OpenCalls []OpenCall

	frames chan []byte
}

// Open records the call and returns a capture channel.
func (s *Source) Open(ctx context.Context, sampleRate int) (<-chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls = append(s.OpenCalls, OpenCall{SampleRate: sampleRate})
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	in := make(chan []byte, 16)
	out := make(chan []byte, 16)
	s.frames = in
	go func() {
		defer close(out)
		for {
			select {
			case f := <-in:
				select {
				case out <- f:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Feed sends one captured frame to the most recently opened capture. It is
// a no-op before the first Open.
func (s *Source) Feed(frame []byte) {
	s.mu.Lock()
	ch := s.frames
	s.mu.Unlock()
	if ch != nil {
		ch <- frame
	}
}

// Opens returns the number of Open calls. Thread-safe.
func (s *Source) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.OpenCalls)
}

var _ audio.Source = (*Source)(nil)
