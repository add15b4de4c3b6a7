// Package player provides a single-slot [audio.Player]: a new segment always
// replaces the one currently playing, nothing is ever queued.
package player

import (
	"log/slog"
	"sync"

	"github.com/fisimaster/studybuddy/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Player = (*Player)(nil)

// Option configures a [Player] during construction.
type Option func(*Player)

// WithOutputRate sets the sample rate of the output. Segments at a different
// rate are resampled before they are written. Zero disables resampling.
func WithOutputRate(rate int) Option {
	return func(p *Player) {
		p.rate = rate
	}
}

// playback is one segment in flight.
type playback struct {
	seg    *audio.Segment
	cancel chan struct{}
	done   chan struct{}
}

// Player streams segments to an [audio.Output], one at a time. Starting a
// segment or calling Stop cuts the current one off immediately: its remaining
// audio is drained and discarded, and a [audio.Flusher] output is flushed.
//
// All exported methods are safe for concurrent use.
type Player struct {
	out  audio.Output
	rate int

	mu      sync.Mutex
	current *playback
	closed  bool

	// writeMu serialises writes against flushes so that no chunk of an
	// interrupted segment reaches the output after the flush.
	writeMu sync.Mutex

	wg sync.WaitGroup
}

// New creates a Player writing to out.
func New(out audio.Output, opts ...Option) *Player {
	p := &Player{out: out}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Play interrupts the current segment and starts seg.
func (p *Player) Play(seg *audio.Segment) <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	done := make(chan struct{})
	if p.closed {
		go audio.Drain(seg.Audio)
		close(done)
		return done
	}

	p.interruptLocked()
	pb := &playback{seg: seg, cancel: make(chan struct{}), done: done}
	p.current = pb

	p.wg.Add(1)
	go p.play(pb)
	return done
}

// Stop interrupts the current segment. No-op when idle.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interruptLocked()
}

// Playing reports whether a segment is in flight.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

// Close interrupts playback and waits for the playback goroutine to exit.
// Close is idempotent.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.interruptLocked()
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// interruptLocked cancels the current segment and flushes the output.
// Must be called with p.mu held.
func (p *Player) interruptLocked() {
	if p.current == nil {
		return
	}
	close(p.current.cancel)
	p.current = nil

	if f, ok := p.out.(audio.Flusher); ok {
		// The first flush releases a writer blocked on a full output; the
		// second one, under writeMu, discards whatever it wrote.
		f.Flush()
		p.writeMu.Lock()
		f.Flush()
		p.writeMu.Unlock()
	}
}

// play streams pb's chunks until the segment ends or is cancelled.
func (p *Player) play(pb *playback) {
	defer p.wg.Done()
	defer close(pb.done)

	for {
		select {
		case <-pb.cancel:
			go audio.Drain(pb.seg.Audio)
			return
		case chunk, ok := <-pb.seg.Audio:
			if !ok {
				if d, ok := p.out.(audio.Drainer); ok {
					d.WaitDrained(pb.cancel)
				}
				p.finish(pb)
				return
			}
			if !p.write(pb, chunk) {
				go audio.Drain(pb.seg.Audio)
				return
			}
		}
	}
}

// write hands chunk to the output unless pb was cancelled in the meantime.
func (p *Player) write(pb *playback, chunk []byte) bool {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	select {
	case <-pb.cancel:
		return false
	default:
	}
	if p.rate > 0 && pb.seg.SampleRate > 0 && pb.seg.SampleRate != p.rate {
		chunk = audio.ResampleMono16(chunk, pb.seg.SampleRate, p.rate)
	}
	if err := p.out.Write(chunk); err != nil {
		slog.Debug("audio output write failed", "segment", pb.seg.Label, "err", err)
	}
	return true
}

// finish clears the slot after a segment ended naturally.
func (p *Player) finish(pb *playback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == pb {
		p.current = nil
	}
}
