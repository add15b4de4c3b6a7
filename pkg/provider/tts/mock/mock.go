// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify that
// the correct VoiceProfile and text fragments are passed to the TTS backend.
// Without configured chunks the mock echoes every text fragment back as one
// audio chunk, which lets tests tell utterances apart at the audio sink.
//
// Example:
//
//	p := &mock.Provider{
//	    ListVoicesResult: []types.VoiceProfile{{ID: "v1", Name: "Anna", Language: "de"}},
//	}
//	ch, _ := p.SynthesizeStream(ctx, tts.Sentences("Hallo"), voice)
package mock

import (
	"context"
	"sync"

	"github.com/fisimaster/studybuddy/pkg/provider/tts"
	"github.com/fisimaster/studybuddy/pkg/types"
)

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	// Voice is the VoiceProfile passed to SynthesizeStream.
	Voice types.VoiceProfile
	// Texts holds the fragments read from the text channel so far.
	Texts []string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeChunks, if non-nil, is emitted instead of echoing the text.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned as the error from SynthesizeStream
	// instead of starting a channel.
	SynthesizeErr error

	// Hold, if non-nil, keeps the audio channel open after the last chunk until
	// Hold is closed or ctx is cancelled. Use it to simulate a long utterance.
	Hold chan struct{}

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []types.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeCalls records every invocation of SynthesizeStream in order.
	SynthesizeCalls []SynthesizeStreamCall

	// ListVoicesCallCount is the number of ListVoices calls.
	ListVoicesCallCount int
}

// SynthesizeStream records the call and returns a channel of audio chunks.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	if p.SynthesizeErr != nil {
		p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeStreamCall{Voice: voice})
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	idx := len(p.SynthesizeCalls)
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeStreamCall{Voice: voice})
	chunks := p.SynthesizeChunks
	hold := p.Hold
	p.mu.Unlock()

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		for t := range text {
			p.mu.Lock()
			p.SynthesizeCalls[idx].Texts = append(p.SynthesizeCalls[idx].Texts, t)
			p.mu.Unlock()
			if chunks != nil {
				continue
			}
			select {
			case out <- []byte(t):
			case <-ctx.Done():
				return
			}
		}
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		if hold != nil {
			select {
			case <-hold:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCallCount++
	if p.ListVoicesErr != nil {
		return nil, p.ListVoicesErr
	}
	out := make([]types.VoiceProfile, len(p.ListVoicesResult))
	copy(out, p.ListVoicesResult)
	return out, nil
}

// Calls returns a copy of the recorded SynthesizeStream calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeStreamCall, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		out[i] = SynthesizeStreamCall{Voice: c.Voice, Texts: append([]string(nil), c.Texts...)}
	}
	return out
}

// VoiceListings returns ListVoicesCallCount. Thread-safe.
func (p *Provider) VoiceListings() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ListVoicesCallCount
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
