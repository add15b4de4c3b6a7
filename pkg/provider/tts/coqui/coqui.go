// Package coqui provides a TTS provider backed by a local Coqui TTS server,
// used as an offline alternative to the cloud synthesizer.
//
// Two server APIs are supported:
//
//   - [ModeStandard] (default) targets the stock Coqui TTS server:
//     GET /api/tts synthesizes, GET /details describes the model.
//   - [ModeXTTS] targets the XTTS v2 API server: POST /tts_to_audio/
//     synthesizes, GET /studio_speakers lists voices.
//
// Both servers answer one request per text, so SynthesizeStream splits the
// incoming text into sentences and keeps a few requests in flight while the
// earlier sentences play.
package coqui

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/fisimaster/studybuddy/pkg/audio"
	"github.com/fisimaster/studybuddy/pkg/provider/tts"
	"github.com/fisimaster/studybuddy/pkg/types"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "de"
	defaultTimeout  = 30 * time.Second

	// lookahead is the number of sentences synthesized ahead of playback.
	lookahead = 3

	pcmChunkSize = 4096
)

// Mode selects the server API.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModeXTTS     Mode = "xtts"
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language sent to the server. BCP-47 tags are reduced
// to their primary subtag.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		if i := strings.IndexByte(lang, '-'); i > 0 {
			lang = lang[:i]
		}
		p.language = lang
	}
}

// WithMode selects the server API. Default: [ModeStandard].
func WithMode(m Mode) Option {
	return func(p *Provider) { p.mode = m }
}

// WithTimeout sets the per-request timeout. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithOutputSampleRate resamples synthesized audio to rate Hz. Zero keeps
// the model's native rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) { p.outputRate = rate }
}

// Provider implements tts.Provider on a Coqui TTS server.
type Provider struct {
	serverURL  string
	language   string
	mode       Mode
	outputRate int
	httpClient *http.Client
}

// New returns a Provider for the server at serverURL
// (e.g. "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		mode:       ModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if p.mode != ModeStandard && p.mode != ModeXTTS {
		return nil, fmt.Errorf("coqui: unknown mode %q", p.mode)
	}
	return p, nil
}

type result struct {
	pcm []byte
	err error
}

// SynthesizeStream splits text into sentences and emits their audio in
// order. The stream ends early on the first failed sentence.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" && p.mode == ModeXTTS {
		return nil, errors.New("coqui: XTTS needs a voice")
	}

	out := make(chan []byte, 64)
	pending := make(chan chan result, lookahead)

	go func() {
		defer close(pending)
		for sentence := range splitSentences(ctx, text) {
			future := make(chan result, 1)
			select {
			case pending <- future:
			case <-ctx.Done():
				return
			}
			go func() {
				pcm, err := p.synthesize(ctx, sentence, voice)
				future <- result{pcm: pcm, err: err}
			}()
		}
	}()

	go func() {
		defer close(out)
		for future := range pending {
			var r result
			select {
			case r = <-future:
			case <-ctx.Done():
				return
			}
			if r.err != nil {
				if ctx.Err() == nil {
					slog.Warn("coqui: synthesis failed", "err", r.err)
				}
				return
			}
			for chunk := range slices.Chunk(r.pcm, pcmChunkSize) {
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// synthesize fetches one sentence and returns its PCM.
func (p *Provider) synthesize(ctx context.Context, sentence string, voice types.VoiceProfile) ([]byte, error) {
	var req *http.Request
	var err error
	if p.mode == ModeXTTS {
		body, _ := json.Marshal(struct {
			Text       string `json:"text"`
			SpeakerWav string `json:"speaker_wav"`
			Language   string `json:"language"`
		}{sentence, voice.ID, p.language})
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/tts_to_audio/", bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		q := url.Values{"text": {sentence}}
		if voice.ID != "" {
			q.Set("speaker_id", voice.ID)
		}
		if p.language != "" {
			q.Set("language_id", p.language)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+"/api/tts?"+q.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("coqui: create request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	wav, err := p.do(req)
	if err != nil {
		return nil, err
	}
	info, err := parseWAV(wav)
	if err != nil {
		return nil, err
	}
	pcm := wav[info.dataOffset:]
	if p.outputRate > 0 && info.channels == 1 {
		pcm = audio.ResampleMono16(pcm, info.sampleRate, p.outputRate)
	}
	return pcm, nil
}

func (p *Provider) do(req *http.Request) ([]byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read %s: %w", req.URL.Path, err)
	}
	return data, nil
}

// ListVoices returns the server's voices, all tagged with the configured
// language.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	path := "/details"
	if p.mode == ModeXTTS {
		path = "/studio_speakers"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	data, err := p.do(req)
	if err != nil {
		return nil, err
	}

	var names []string
	kind := "speaker"
	if p.mode == ModeXTTS {
		var speakers map[string]json.RawMessage
		if err := json.Unmarshal(data, &speakers); err != nil {
			return nil, fmt.Errorf("coqui: decode speakers: %w", err)
		}
		for name := range speakers {
			names = append(names, name)
		}
		kind = "studio"
	} else {
		var details struct {
			ModelName string   `json:"model_name"`
			Speakers  []string `json:"speakers"`
		}
		if err := json.Unmarshal(data, &details); err != nil {
			return nil, fmt.Errorf("coqui: decode details: %w", err)
		}
		names = details.Speakers
		if len(names) == 0 {
			// Single-speaker model: the model is the voice.
			name := details.ModelName
			if name == "" {
				name = "default"
			}
			names = []string{name}
			kind = "model"
		}
	}
	slices.Sort(names)

	voices := make([]types.VoiceProfile, 0, len(names))
	for _, name := range names {
		id := name
		if kind == "model" {
			id = ""
		}
		voices = append(voices, types.VoiceProfile{
			ID:       id,
			Name:     name,
			Provider: "coqui",
			Language: p.language,
			Metadata: map[string]string{"type": kind},
		})
	}
	return voices, nil
}

// abbreviations end with a period but do not end a sentence.
var abbreviations = []string{"z.B.", "d.h.", "u.a.", "bzw.", "ca.", "Nr.", "vgl.", "evtl.", "ggf.", "inkl.", "Dr."}

// splitSentences groups text fragments into sentences. The last unfinished
// sentence is emitted when text closes.
func splitSentences(ctx context.Context, text <-chan string) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		send := func(s string) bool {
			if s = strings.TrimSpace(s); s == "" {
				return true
			}
			select {
			case out <- s:
				return true
			case <-ctx.Done():
				return false
			}
		}
		var buf string
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					send(buf)
					return
				}
				buf += fragment
				for {
					i := sentenceEnd(buf)
					if i < 0 {
						break
					}
					if !send(buf[:i+1]) {
						return
					}
					buf = buf[i+1:]
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// sentenceEnd returns the index of the first '.', '!' or '?' that ends a
// sentence, or -1. Terminators must be followed by whitespace; ordinals
// ("5. Lernfeld") and known abbreviations do not count.
func sentenceEnd(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i+1 < len(s) {
			r, _ := utf8.DecodeRuneInString(s[i+1:])
			if !unicode.IsSpace(r) {
				continue
			}
		} else {
			// Text may continue in the next fragment.
			continue
		}
		if c == '.' && (i > 0 && unicode.IsDigit(rune(s[i-1])) || endsWithAbbreviation(s[:i+1])) {
			continue
		}
		return i
	}
	return -1
}

func endsWithAbbreviation(s string) bool {
	for _, a := range abbreviations {
		if strings.HasSuffix(s, a) {
			before := len(s) - len(a)
			if before == 0 || s[before-1] == ' ' || s[before-1] == '(' {
				return true
			}
		}
	}
	return false
}

type wavInfo struct {
	dataOffset int
	sampleRate int
	channels   int
}

// parseWAV walks the RIFF chunks of wav to find its format and audio data.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("coqui: response is not a WAV file")
	}
	info := wavInfo{sampleRate: 22050, channels: 1}
	for off := 12; off+8 <= len(wav); {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		switch id {
		case "fmt ":
			if size >= 16 && off+24 <= len(wav) {
				info.channels = int(binary.LittleEndian.Uint16(wav[off+10:]))
				info.sampleRate = int(binary.LittleEndian.Uint32(wav[off+12:]))
			}
		case "data":
			info.dataOffset = off + 8
			return info, nil
		}
		off += 8 + size + size%2
	}
	return wavInfo{}, errors.New("coqui: WAV without data chunk")
}
