package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/fisimaster/studybuddy/pkg/provider/llm"
	llmmock "github.com/fisimaster/studybuddy/pkg/provider/llm/mock"
	"github.com/fisimaster/studybuddy/pkg/provider/stt"
	sttmock "github.com/fisimaster/studybuddy/pkg/provider/stt/mock"
	"github.com/fisimaster/studybuddy/pkg/provider/tts"
	ttsmock "github.com/fisimaster/studybuddy/pkg/provider/tts/mock"
	"github.com/fisimaster/studybuddy/pkg/types"
)

func TestLLM_Complete(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("quota exceeded")}
	spare := &llmmock.Provider{Responses: []string{"Hallo aus dem Ersatzmodell"}}

	p := NewLLM("openai", primary, BreakerConfig{})
	p.Add("ollama", spare)

	req := llm.CompletionRequest{Messages: []types.Message{{Role: types.RoleUser, Content: "Hallo"}}}
	resp, err := p.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Hallo aus dem Ersatzmodell" {
		t.Errorf("Content = %q", resp.Content)
	}
	if primary.CallCount() != 1 || spare.CallCount() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.CallCount(), spare.CallCount())
	}
	if got := spare.LastRequest().Messages[0].Content; got != "Hallo" {
		t.Errorf("spare got %q", got)
	}
}

func TestLLM_CancelledRequestDoesNotFailOver(t *testing.T) {
	primary := &llmmock.Provider{}
	spare := &llmmock.Provider{}
	p := NewLLM("primary", primary, BreakerConfig{})
	p.Add("spare", spare)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Complete(ctx, llm.CompletionRequest{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if spare.CallCount() != 0 {
		t.Error("cancelled request was retried on the spare")
	}
}

func TestSTT_StartStream(t *testing.T) {
	primary := &sttmock.Provider{StartStreamErr: errors.New("dial tcp: refused")}
	spare := &sttmock.Provider{}
	p := NewSTT("deepgram", primary, BreakerConfig{})
	p.Add("spare", spare)

	h, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Language: "de-DE"})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if h != spare.LastSession() {
		t.Error("handle is not the spare's session")
	}
	if spare.CallCount() != 1 {
		t.Errorf("spare StartStream calls = %d, want 1", spare.CallCount())
	}
}

func TestTTS(t *testing.T) {
	primary := &ttsmock.Provider{
		SynthesizeErr: errors.New("401"),
		ListVoicesErr: errors.New("401"),
	}
	spare := &ttsmock.Provider{
		SynthesizeChunks: [][]byte{{1, 2}, {3, 4}},
		ListVoicesResult: []types.VoiceProfile{{ID: "v1", Name: "Anna", Language: "de-DE"}},
	}
	p := NewTTS("elevenlabs", primary, BreakerConfig{})
	p.Add("spare", spare)
	ctx := context.Background()

	audio, err := p.SynthesizeStream(ctx, tts.Sentences("Guten Morgen."), types.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var n int
	for chunk := range audio {
		n += len(chunk)
	}
	if n != 4 {
		t.Errorf("received %d bytes, want 4", n)
	}

	voices, err := p.ListVoices(ctx)
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 || voices[0].Name != "Anna" {
		t.Errorf("voices = %+v", voices)
	}
}
