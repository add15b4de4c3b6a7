package chime

import (
	"errors"
	"sync"
	"testing"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name    string
		volume  float64
		wantMax int16
	}{
		{name: "silent", volume: 0, wantMax: 0},
		{name: "quiet", volume: 0.2, wantMax: 6554},
		{name: "clamped", volume: 3, wantMax: 32767},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Render(tt.volume)
			if len(s) != SampleRate/4 {
				t.Fatalf("len = %d, want %d", len(s), SampleRate/4)
			}
			var peak int16
			for _, v := range s {
				peak = max(peak, v, -v)
			}
			if peak > tt.wantMax {
				t.Errorf("peak = %d, want <= %d", peak, tt.wantMax)
			}
			if tt.volume > 0 && peak == 0 {
				t.Error("expected audible samples")
			}
		})
	}
}

func TestChime_Play(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
		rate  int
	)
	c := New(func(samples []int16, sampleRate int) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		rate = sampleRate
		return errors.New("no device")
	}, 0.2)

	c.Play()
	c.Play()
	c.Wait()

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if rate != SampleRate {
		t.Errorf("rate = %d, want %d", rate, SampleRate)
	}
}

func TestChime_NilIsNoop(t *testing.T) {
	var c *Chime
	c.Play()
	c.Wait()
}
