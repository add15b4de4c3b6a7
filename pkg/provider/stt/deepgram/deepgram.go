// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// A session is one recognition turn. With StreamConfig.Continuous unset the
// session ends on its own after the first endpointed final result; a session
// that hears nothing within the no-speech timeout ends with stt.ErrNoSpeech.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/fisimaster/studybuddy/pkg/provider/stt"
	"github.com/fisimaster/studybuddy/pkg/types"
)

const (
	deepgramEndpoint      = "wss://api.deepgram.com/v1/listen"
	defaultModel          = "nova-3"
	defaultLanguage       = "de-DE"
	defaultSampleRate     = 16000
	defaultEndpointingMs  = 300
	defaultNoSpeechWindow = 8 * time.Second
)

var closeStreamMsg = []byte(`{"type":"CloseStream"}`)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the provider-level default language, used when
// StreamConfig.Language is empty.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the audio sample rate in Hz for the provider-level default.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithEndpoint overrides the streaming endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithNoSpeechTimeout sets how long a session may go without recognising any
// text before it ends with stt.ErrNoSpeech. Zero disables the timeout.
func WithNoSpeechTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.noSpeech = d
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
	endpoint   string
	noSpeech   time.Duration
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		endpoint:   deepgramEndpoint,
		noSpeech:   defaultNoSpeechWindow,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming recognition session with Deepgram.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	sess := &session{
		conn:       conn,
		continuous: cfg.Continuous,
		results:    make(chan types.ResultBatch, 64),
		audio:      make(chan []byte, 256),
		done:       make(chan struct{}),
		cancel:     cancel,
	}
	if p.noSpeech > 0 {
		sess.timer = time.AfterFunc(p.noSpeech, sess.noSpeechExpired)
	}

	sess.wg.Add(2)
	go sess.readLoop(loopCtx)
	go sess.writeLoop(loopCtx)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("endpointing", strconv.Itoa(defaultEndpointingMs))
	if cfg.InterimResults {
		// UtteranceEnd requires interim results.
		q.Set("utterance_end_ms", "1000")
	}
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results
// or UtteranceEnd event.
type deepgramResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// event is a parsed Deepgram message.
type event struct {
	batch types.ResultBatch
	// endpoint is set when Deepgram reports the end of an utterance.
	endpoint bool
}

// session is a live Deepgram streaming session. It implements stt.SessionHandle.
type session struct {
	conn       *websocket.Conn
	continuous bool
	results    chan types.ResultBatch
	audio      chan []byte
	timer      *time.Timer
	cancel     context.CancelFunc

	done      chan struct{}
	closeOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu         sync.Mutex
	ended      bool
	err        error
	heard      bool
	heardFinal bool
	timedOut   bool
}

// SendAudio queues a PCM audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("deepgram: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("deepgram: session is closed")
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

// Stop asks Deepgram to flush pending audio and close the stream. Remaining
// results arrive before the Results channel closes.
func (s *session) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		if s.timer != nil {
			s.timer.Stop()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err = s.conn.Write(ctx, websocket.MessageText, closeStreamMsg)
	})
	if err != nil {
		return fmt.Errorf("deepgram: stop: %w", err)
	}
	return nil
}

// Close aborts the session and waits for the loops to exit.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		if s.timer != nil {
			s.timer.Stop()
		}
		close(s.done)
		s.cancel()
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// noSpeechExpired ends a session that has not recognised anything yet.
func (s *session) noSpeechExpired() {
	s.mu.Lock()
	if s.heard || s.ended {
		s.mu.Unlock()
		return
	}
	s.timedOut = true
	s.mu.Unlock()
	s.cancel()
}

// finish records the terminal error exactly once. A session that ends
// cleanly without any recognised text reports stt.ErrNoSpeech.
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

// writeLoop reads from the audio channel and sends binary messages to Deepgram.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

// readLoop receives JSON messages from Deepgram and forwards them as result
// batches. It owns the results channel and closes it when the turn ends.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.results)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			s.finish(s.readErr(err))
			return
		}

		ev, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}

		if len(ev.batch.Segments) > 0 {
			s.mu.Lock()
			s.heard = true
			for _, seg := range ev.batch.Segments {
				if seg.IsFinal {
					s.heardFinal = true
				}
			}
			s.mu.Unlock()
			if s.timer != nil {
				s.timer.Stop()
			}

			select {
			case s.results <- ev.batch:
			case <-ctx.Done():
				s.finish(nil)
				return
			}
		}

		if ev.endpoint && !s.continuous && s.hasFinal() {
			s.finish(nil)
			// Let Deepgram wind down; the owner closes the connection.
			_ = s.conn.Write(ctx, websocket.MessageText, closeStreamMsg)
			return
		}
	}
}

func (s *session) hasFinal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heardFinal
}

// readErr maps a read failure to the session's terminal error. Closing by
// either side and local cancellation count as a normal end.
func (s *session) readErr(err error) error {
	s.mu.Lock()
	timedOut := s.timedOut
	s.mu.Unlock()
	if timedOut {
		return stt.ErrNoSpeech
	}
	select {
	case <-s.done:
		return nil
	default:
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return nil
	}
	return fmt.Errorf("deepgram: read: %w", err)
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message. Returns
// (event, true) on success, or (zero, false) if the message should be ignored.
// Empty transcripts produce an event without segments so that endpoint
// markers are still observed.
func parseDeepgramResponse(data []byte) (event, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return event{}, false
	}
	switch resp.Type {
	case "UtteranceEnd":
		return event{endpoint: true}, true
	case "Results":
	default:
		return event{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return event{}, false
	}

	alt := resp.Channel.Alternatives[0]
	ev := event{endpoint: resp.SpeechFinal}
	if alt.Transcript != "" {
		ev.batch.Segments = []types.Transcript{{
			Text:       alt.Transcript,
			IsFinal:    resp.IsFinal,
			Confidence: alt.Confidence,
		}}
	}
	return ev, true
}
