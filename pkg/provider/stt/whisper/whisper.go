// Package whisper provides an STT provider backed by a local whisper.cpp
// server.
//
// whisper-server transcribes whole recordings (POST /inference), so a session
// buffers the incoming PCM, cuts it into utterances with an energy based
// silence detector and posts each utterance as a WAV file. Every transcribed
// utterance is delivered as one final segment; there are no interim results.
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("de"))
//	handle, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000})
//	handle.SendAudio(pcm)
//	for batch := range handle.Results() { ... }
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fisimaster/studybuddy/pkg/provider/stt"
	"github.com/fisimaster/studybuddy/pkg/types"
)

const (
	bitsPerSample = 16

	// silenceRMS is the energy, in 16-bit sample units, below which a chunk
	// counts as silence.
	silenceRMS = 300.0

	defaultLanguage     = "de"
	defaultSampleRate   = 16000
	defaultSilence      = 700 * time.Millisecond
	defaultMaxUtterance = 15 * time.Second
	defaultNoSpeech     = 8 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel names the model the server should use. Empty uses the model the
// server was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default recognition language. BCP-47 tags are
// reduced to their primary subtag ("de-DE" becomes "de").
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSilence sets how long the speaker must pause before the buffered
// utterance is transcribed.
func WithSilence(d time.Duration) Option {
	return func(p *Provider) { p.silence = d }
}

// WithMaxUtterance caps the length of one utterance; longer speech is
// transcribed in pieces.
func WithMaxUtterance(d time.Duration) Option {
	return func(p *Provider) { p.maxUtterance = d }
}

// WithNoSpeechTimeout ends a session with [stt.ErrNoSpeech] when no speech
// energy was detected within d. Zero disables the timeout.
func WithNoSpeechTimeout(d time.Duration) Option {
	return func(p *Provider) { p.noSpeech = d }
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider on a whisper.cpp HTTP server.
type Provider struct {
	serverURL    string
	model        string
	language     string
	sampleRate   int
	silence      time.Duration
	maxUtterance time.Duration
	noSpeech     time.Duration
	httpClient   *http.Client
}

// New returns a Provider for the whisper-server at serverURL
// (e.g. "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:    strings.TrimRight(serverURL, "/"),
		language:     defaultLanguage,
		sampleRate:   defaultSampleRate,
		silence:      defaultSilence,
		maxUtterance: defaultMaxUtterance,
		noSpeech:     defaultNoSpeech,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a session. No request is made until the first
// utterance is complete.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	if i := strings.IndexByte(lang, '-'); i > 0 {
		lang = lang[:i]
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = p.sampleRate
	}
	channels := max(cfg.Channels, 1)

	loopCtx, cancel := context.WithCancel(ctx)
	s := &session{
		provider:   p,
		language:   lang,
		sampleRate: rate,
		channels:   channels,
		continuous: cfg.Continuous,
		seg:        newSegmenter(rate, channels, p.silence, p.maxUtterance),
		audio:      make(chan []byte, 256),
		results:    make(chan types.ResultBatch, 16),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		cancel:     cancel,
	}
	s.wg.Add(1)
	go s.loop(loopCtx)
	return s, nil
}

// session is one whisper recognition turn. Buffer state is owned by loop.
type session struct {
	provider   *Provider
	language   string
	sampleRate int
	channels   int
	continuous bool
	seg        *segmenter

	audio   chan []byte
	results chan types.ResultBatch
	stop    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc

	stopOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu    sync.Mutex
	ended bool
	heard bool
	err   error
}

// SendAudio queues a PCM chunk for segmentation.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("whisper: session is closed")
	case <-s.stop:
		return errors.New("whisper: session is stopping")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.stop:
		return errors.New("whisper: session is stopping")
	case <-s.done:
		return errors.New("whisper: session is closed")
	}
}

// Results returns the channel of result batches.
func (s *session) Results() <-chan types.ResultBatch { return s.results }

// Err returns the terminal error once Results is closed.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop transcribes whatever speech is still buffered and ends the session.
func (s *session) Stop() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

// Close aborts the session without transcribing buffered audio.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		s.wg.Wait()
	})
	return nil
}

func (s *session) loop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.results)

	var noSpeech <-chan time.Time
	if d := s.provider.noSpeech; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		noSpeech = t.C
	}

	for {
		select {
		case <-ctx.Done():
			s.finish(nil)
			return

		case <-noSpeech:
			s.finish(stt.ErrNoSpeech)
			return

		case <-s.stop:
			// Take what was queued before Stop, then the unfinished utterance.
			for drained := false; !drained; {
				select {
				case chunk := <-s.audio:
					if utt := s.seg.add(chunk); utt != nil {
						if end := s.transcribe(ctx, utt); end {
							return
						}
					}
				default:
					drained = true
				}
			}
			if utt := s.seg.take(); utt != nil {
				if end := s.transcribe(ctx, utt); end {
					return
				}
			}
			s.finish(nil)
			return

		case chunk := <-s.audio:
			utt := s.seg.add(chunk)
			if s.seg.speech {
				noSpeech = nil
			}
			if utt != nil {
				if end := s.transcribe(ctx, utt); end {
					return
				}
			}
		}
	}
}

// transcribe posts one utterance and delivers its text. It reports whether
// the session has ended.
func (s *session) transcribe(ctx context.Context, pcm []byte) (end bool) {
	text, err := s.provider.infer(ctx, pcm, s.sampleRate, s.channels, s.language)
	if err != nil {
		if ctx.Err() != nil {
			s.finish(nil)
		} else {
			s.finish(err)
		}
		return true
	}
	if text == "" {
		return false
	}

	s.mu.Lock()
	s.heard = true
	s.mu.Unlock()

	batch := types.ResultBatch{Segments: []types.Transcript{{Text: text, IsFinal: true}}}
	select {
	case s.results <- batch:
	case <-ctx.Done():
		s.finish(nil)
		return true
	}
	if !s.continuous {
		s.finish(nil)
		return true
	}
	return false
}

// finish records the terminal error once. A session that ends cleanly
// without any text reports stt.ErrNoSpeech.
func (s *session) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	if err == nil && !s.heard {
		err = stt.ErrNoSpeech
	}
	s.err = err
}

// infer posts pcm as a WAV file to /inference and returns the trimmed text.
func (p *Provider) infer(ctx context.Context, pcm []byte, sampleRate, channels int, language string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(encodeWAV(pcm, sampleRate, channels)); err != nil {
		return "", fmt.Errorf("whisper: write wav: %w", err)
	}
	fields := map[string]string{"language": language, "model": p.model, "response_format": "json"}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: inference: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

// segmenter cuts a PCM stream into utterances at pauses.
type segmenter struct {
	bytesPerMs int
	silenceMs  int
	maxBytes   int

	buf    []byte
	speech bool
	quiet  int
}

func newSegmenter(sampleRate, channels int, silence, maxUtterance time.Duration) *segmenter {
	bytesPerMs := max(sampleRate*channels*(bitsPerSample/8)/1000, 1)
	return &segmenter{
		bytesPerMs: bytesPerMs,
		silenceMs:  int(silence.Milliseconds()),
		maxBytes:   int(maxUtterance.Milliseconds()) * bytesPerMs,
	}
}

// add buffers chunk and returns a complete utterance when one ended.
// Silence before the first speech is dropped.
func (g *segmenter) add(chunk []byte) []byte {
	if rms(chunk) < silenceRMS {
		if !g.speech {
			return nil
		}
		g.buf = append(g.buf, chunk...)
		g.quiet += len(chunk) / g.bytesPerMs
		if g.quiet >= g.silenceMs {
			return g.take()
		}
		return nil
	}
	g.speech = true
	g.quiet = 0
	g.buf = append(g.buf, chunk...)
	if g.maxBytes > 0 && len(g.buf) >= g.maxBytes {
		return g.take()
	}
	return nil
}

// take returns the buffered utterance, or nil when it holds no speech.
func (g *segmenter) take() []byte {
	out := g.buf
	speech := g.speech
	g.buf, g.speech, g.quiet = nil, false, 0
	if !speech {
		return nil
	}
	return out
}

// encodeWAV wraps 16-bit little-endian PCM in a RIFF/WAVE container.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	blockAlign := channels * bitsPerSample / 8
	buf := make([]byte, 44+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

// rms returns the root-mean-square level of 16-bit little-endian PCM.
func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
