// Package pulse connects the audio plumbing to a PulseAudio (or PipeWire
// pulse) server: a continuous playback [Sink] for synthesized speech, a
// capture [Source] for the recognizer, and [PlayOnce] for short cues.
package pulse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"

	"github.com/fisimaster/studybuddy/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Output  = (*Sink)(nil)
	_ audio.Flusher = (*Sink)(nil)
	_ audio.Drainer = (*Sink)(nil)
	_ audio.Source  = (*Source)(nil)
)

// Sink is a mono playback stream fed through an in-memory buffer. Write blocks
// while the buffer holds more than the configured amount of audio, which
// paces a synthesis stream to real time. Flush discards everything buffered.
type Sink struct {
	client *pulse.Client
	stream *pulse.PlaybackStream
	limit  int

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []int16
	gen    uint64
	closed bool
}

// NewSink opens a playback stream at sampleRate Hz mono. buffered bounds how
// much audio Write may queue ahead of the speaker.
func NewSink(sampleRate int, buffered time.Duration) (*Sink, error) {
	c, err := pulse.NewClient()
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}
	s := &Sink{
		client: c,
		limit:  int(float64(sampleRate) * buffered.Seconds()),
	}
	if s.limit <= 0 {
		s.limit = sampleRate / 5
	}
	s.cond = sync.NewCond(&s.mu)

	stream, err := c.NewPlayback(pulse.Int16Reader(s.read),
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.1),
	)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("pulse playback: %w", err)
	}
	s.stream = stream
	stream.Start()
	return s, nil
}

// read is the playback callback. It never blocks: an empty buffer plays
// silence.
func (s *Sink) read(out []int16) (int, error) {
	s.mu.Lock()
	n := copy(out, s.buf)
	s.buf = s.buf[n:]
	s.mu.Unlock()
	clear(out[n:])
	s.cond.Broadcast()
	return len(out), nil
}

// Write queues pcm, blocking while the buffer is full. A Flush or Close
// during the wait discards pcm.
func (s *Sink) Write(pcm []byte) error {
	samples := audio.Int16s(pcm)

	s.mu.Lock()
	defer s.mu.Unlock()
	gen := s.gen
	for !s.closed && s.gen == gen && len(s.buf) >= s.limit {
		s.cond.Wait()
	}
	if s.closed {
		return fmt.Errorf("pulse: sink closed")
	}
	if s.gen != gen {
		return nil
	}
	s.buf = append(s.buf, samples...)
	return nil
}

// Flush drops queued audio and releases blocked writers.
func (s *Sink) Flush() {
	s.mu.Lock()
	s.buf = nil
	s.gen++
	s.mu.Unlock()
	s.cond.Broadcast()
}

// WaitDrained polls until the buffer is empty or stop is closed.
func (s *Sink) WaitDrained(stop <-chan struct{}) {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		s.mu.Lock()
		empty := len(s.buf) == 0 || s.closed
		s.mu.Unlock()
		if empty {
			return
		}
		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}

// Close stops the stream and disconnects from the server.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.buf = nil
	s.mu.Unlock()
	s.cond.Broadcast()

	s.stream.Stop()
	s.stream.Close()
	s.client.Close()
	return nil
}

// Source captures from a pulse source. An empty device name selects the
// server default.
type Source struct {
	Device string
	Gain   int
}

// Open connects to the server and starts recording at sampleRate Hz mono.
// Frames are dropped when the consumer falls behind.
func (s *Source) Open(ctx context.Context, sampleRate int) (<-chan []byte, error) {
	c, err := pulse.NewClient()
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}

	gain := int32(s.Gain)
	if gain <= 0 {
		gain = 1
	}
	frames := make(chan []byte, 64)
	var (
		mu     sync.Mutex
		closed bool
	)
	writer := pulse.Int16Writer(func(buf []int16) (int, error) {
		if len(buf) == 0 {
			return 0, nil
		}
		scaled := make([]int16, len(buf))
		for i, v := range buf {
			a := int32(v) * gain
			scaled[i] = int16(max(-32768, min(32767, a)))
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return len(buf), nil
		}
		select {
		case frames <- audio.PCMBytes(scaled):
		default:
			slog.Debug("pulse: capture frame dropped")
		}
		return len(buf), nil
	})

	opts := []pulse.RecordOption{
		pulse.RecordMono,
		pulse.RecordSampleRate(sampleRate),
		pulse.RecordLatency(0.05),
	}
	if s.Device != "" {
		src, err := c.SourceByID(s.Device)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("pulse: source %q: %w", s.Device, err)
		}
		opts = append(opts, pulse.RecordSource(src))
	}

	stream, err := c.NewRecord(writer, opts...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("pulse record: %w", err)
	}
	stream.Start()

	go func() {
		<-ctx.Done()
		stream.Stop()
		stream.Close()
		c.Close()
		mu.Lock()
		closed = true
		close(frames)
		mu.Unlock()
	}()
	return frames, nil
}

// Sources lists the capture devices known to the server as id/name pairs.
func Sources() (map[string]string, error) {
	c, err := pulse.NewClient()
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}
	defer c.Close()
	list, err := c.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse list sources: %w", err)
	}
	out := make(map[string]string, len(list))
	for _, src := range list {
		out[src.ID()] = src.Name()
	}
	return out, nil
}

// PlayOnce plays mono samples on a fresh stream and blocks until they have
// been played. volume scales the stream relative to the server's norm.
func PlayOnce(samples []int16, sampleRate int, volume float64) error {
	if len(samples) == 0 {
		return nil
	}
	c, err := pulse.NewClient()
	if err != nil {
		return fmt.Errorf("pulse: %w", err)
	}
	defer c.Close()

	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if pos >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[pos:])
		pos += n
		return n, nil
	})
	vol := uint32(float64(proto.VolumeNorm) * volume)
	stream, err := c.NewPlayback(reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(p *proto.CreatePlaybackStream) {
			p.ChannelVolumes = proto.ChannelVolumes{vol}
		}),
	)
	if err != nil {
		return fmt.Errorf("pulse playback: %w", err)
	}
	stream.Start()
	stream.Drain()
	stream.Stop()
	stream.Close()
	return nil
}
