package coqui

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/fisimaster/studybuddy/pkg/provider/tts"
	"github.com/fisimaster/studybuddy/pkg/types"
)

// buildWAV wraps pcm in a mono 16-bit WAV header at rate Hz. A LIST chunk
// precedes the data so parsing cannot rely on a fixed offset.
func buildWAV(pcm []byte, rate int) []byte {
	le := binary.LittleEndian
	var b []byte
	b = append(b, "RIFF"...)
	b = le.AppendUint32(b, uint32(4+24+12+8+len(pcm)))
	b = append(b, "WAVE"...)
	b = append(b, "fmt "...)
	b = le.AppendUint32(b, 16)
	b = le.AppendUint16(b, 1)
	b = le.AppendUint16(b, 1)
	b = le.AppendUint32(b, uint32(rate))
	b = le.AppendUint32(b, uint32(rate*2))
	b = le.AppendUint16(b, 2)
	b = le.AppendUint16(b, 16)
	b = append(b, "LIST"...)
	b = le.AppendUint32(b, 4)
	b = append(b, "INFO"...)
	b = append(b, "data"...)
	b = le.AppendUint32(b, uint32(len(pcm)))
	return append(b, pcm...)
}

// ttsServer answers every synthesis request with the bytes of the sentence
// as PCM, so the output order is observable.
type ttsServer struct {
	*httptest.Server
	mu    sync.Mutex
	texts []string
	query []map[string]string
}

func newTTSServer(t *testing.T, fail string) *ttsServer {
	t.Helper()
	s := &ttsServer{}
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, text string, params map[string]string) {
		s.mu.Lock()
		s.texts = append(s.texts, text)
		s.query = append(s.query, params)
		n := len(s.texts)
		s.mu.Unlock()
		if text == fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		// Later sentences answer faster; order must still hold.
		time.Sleep(time.Duration(20-n%20) * time.Millisecond)
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(buildWAV([]byte(text), 16000))
	}
	mux.HandleFunc("GET /api/tts", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		reply(w, q.Get("text"), map[string]string{"speaker_id": q.Get("speaker_id"), "language_id": q.Get("language_id")})
	})
	mux.HandleFunc("POST /tts_to_audio/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reply(w, body["text"], body)
	})
	mux.HandleFunc("GET /details", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model_name":"tts_models/de/thorsten/vits","speakers":null}`))
	})
	mux.HandleFunc("GET /studio_speakers", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Sofia Hellen":{},"Andrew Chipper":{}}`))
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func drain(ch <-chan []byte) string {
	var out []byte
	for c := range ch {
		out = append(out, c...)
	}
	return string(out)
}

func TestNew(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("New without URL succeeded")
	}
	if _, err := New("http://x", WithMode("grpc")); err == nil {
		t.Error("New with unknown mode succeeded")
	}
	p, err := New("http://x/", WithLanguage("de-AT"))
	if err != nil {
		t.Fatal(err)
	}
	if p.serverURL != "http://x" || p.language != "de" || p.mode != ModeStandard {
		t.Errorf("provider = %+v", p)
	}
}

func TestSynthesizeStream_Standard(t *testing.T) {
	srv := newTTSServer(t, "")
	p, _ := New(srv.URL)

	text := make(chan string, 4)
	text <- "Ein Subnetz teilt "
	text <- "ein Netz. Das 5. Lernfeld "
	text <- "behandelt z.B. Datenbanken! Noch"
	text <- " Fragen?"
	close(text)

	ch, err := p.SynthesizeStream(context.Background(), text, types.VoiceProfile{ID: "thorsten"})
	if err != nil {
		t.Fatal(err)
	}
	got := drain(ch)
	want := "Ein Subnetz teilt ein Netz." + "Das 5. Lernfeld behandelt z.B. Datenbanken!" + "Noch Fragen?"
	if got != want {
		t.Errorf("audio = %q, want %q", got, want)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.texts) != 3 {
		t.Errorf("requests = %q, want 3 sentences", srv.texts)
	}
	if q := srv.query[0]; q["speaker_id"] != "thorsten" || q["language_id"] != "de" {
		t.Errorf("query = %v", q)
	}
}

func TestSynthesizeStream_XTTS(t *testing.T) {
	srv := newTTSServer(t, "")
	p, _ := New(srv.URL, WithMode(ModeXTTS), WithOutputSampleRate(8000))

	if _, err := p.SynthesizeStream(context.Background(), tts.Sentences("Hallo."), types.VoiceProfile{}); err == nil {
		t.Error("XTTS without voice succeeded")
	}

	ch, err := p.SynthesizeStream(context.Background(), tts.Sentences("Hallo Welt."), types.VoiceProfile{ID: "Sofia Hellen"})
	if err != nil {
		t.Fatal(err)
	}
	// 11 bytes of "PCM" at 16 kHz are 5 samples; halved to 2 at 8 kHz.
	if got := len(drain(ch)); got != 4 {
		t.Errorf("resampled length = %d, want 4", got)
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if q := srv.query[0]; q["speaker_wav"] != "Sofia Hellen" || q["language"] != "de" {
		t.Errorf("body = %v", q)
	}
}

func TestSynthesizeStream_StopsAtFailedSentence(t *testing.T) {
	srv := newTTSServer(t, "Zwei.")
	p, _ := New(srv.URL)

	ch, err := p.SynthesizeStream(context.Background(), tts.Sentences("Eins. ", "Zwei. ", "Drei."), types.VoiceProfile{})
	if err != nil {
		t.Fatal(err)
	}
	if got := drain(ch); got != "Eins." {
		t.Errorf("audio = %q, want only the first sentence", got)
	}
}

func TestSynthesizeStream_Cancel(t *testing.T) {
	srv := newTTSServer(t, "")
	p, _ := New(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	text := make(chan string) // never closed
	ch, err := p.SynthesizeStream(ctx, text, types.VoiceProfile{})
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		drain(ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("audio channel not closed after cancel")
	}
}

func TestListVoices(t *testing.T) {
	srv := newTTSServer(t, "")
	tests := []struct {
		mode      Mode
		wantNames []string
		wantIDs   []string
	}{
		{ModeStandard, []string{"tts_models/de/thorsten/vits"}, []string{""}},
		{ModeXTTS, []string{"Andrew Chipper", "Sofia Hellen"}, []string{"Andrew Chipper", "Sofia Hellen"}},
	}
	for _, tc := range tests {
		t.Run(string(tc.mode), func(t *testing.T) {
			p, _ := New(srv.URL, WithMode(tc.mode))
			voices, err := p.ListVoices(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			var names, ids []string
			for _, v := range voices {
				names = append(names, v.Name)
				ids = append(ids, v.ID)
				if v.Language != "de" || v.Provider != "coqui" {
					t.Errorf("voice %+v", v)
				}
			}
			if !slices.Equal(names, tc.wantNames) || !slices.Equal(ids, tc.wantIDs) {
				t.Errorf("voices = %v / %v", names, ids)
			}
		})
	}
}

func TestListVoices_ServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	p, _ := New(srv.URL)
	if _, err := p.ListVoices(context.Background()); err == nil {
		t.Error("ListVoices succeeded against a 404")
	}
}

func TestSentenceEnd(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"Hallo. Welt", 5},
		{"Wirklich? Ja", 8},
		{"Hallo.", -1},
		{"Version 3.14 ist neu", -1},
		{"Am 5. Mai beginnt es. Gut", 20},
		{"Das ist z.B. wichtig. Ok", 20},
		{"Siehe (vgl. Kapitel 2) dazu! Ende", 27},
		{"Kein Satzende", -1},
	}
	for _, tc := range tests {
		if got := sentenceEnd(tc.in); got != tc.want {
			t.Errorf("sentenceEnd(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseWAV(t *testing.T) {
	info, err := parseWAV(buildWAV([]byte{1, 2, 3, 4}, 24000))
	if err != nil {
		t.Fatal(err)
	}
	if info.sampleRate != 24000 || info.channels != 1 || info.dataOffset != 56 {
		t.Errorf("info = %+v", info)
	}
	for _, bad := range [][]byte{nil, []byte("RIFF0000WAVX"), []byte("RIFF\x04\x00\x00\x00WAVE")} {
		if _, err := parseWAV(bad); err == nil {
			t.Errorf("parseWAV(%q) succeeded", bad)
		}
	}
}
