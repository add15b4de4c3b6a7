// Package chime renders and plays the short notification cue used when a
// reminder fires.
package chime

import (
	"log/slog"
	"math"
	"sync"
)

const (
	// SampleRate of the rendered cue.
	SampleRate = 16000

	freq     = 880.0
	duration = 0.25
	decay    = 12.0
)

// Render produces a decaying sine tick at the given volume (0..1).
func Render(volume float64) []int16 {
	volume = max(0, min(1, volume))
	n := int(SampleRate * duration)
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / SampleRate
		env := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * env)
	}
	return samples
}

// PlayFunc plays mono samples at a sample rate and blocks until done.
type PlayFunc func(samples []int16, sampleRate int) error

// Chime plays the cue without blocking the caller. Failures are logged and
// otherwise ignored.
type Chime struct {
	play    PlayFunc
	samples []int16

	wg sync.WaitGroup
}

// New creates a Chime playing through play at volume.
func New(play PlayFunc, volume float64) *Chime {
	return &Chime{play: play, samples: Render(volume)}
}

// Play starts the cue in the background. A nil Chime is a no-op.
func (c *Chime) Play() {
	if c == nil || c.play == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.play(c.samples, SampleRate); err != nil {
			slog.Debug("chime: playback failed", "err", err)
		}
	}()
}

// Wait blocks until every started cue has finished.
func (c *Chime) Wait() {
	if c == nil {
		return
	}
	c.wg.Wait()
}
