package anyllm

import (
	"slices"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/fisimaster/studybuddy/pkg/provider/llm"
	"github.com/fisimaster/studybuddy/pkg/types"
)

func TestConvertMessage(t *testing.T) {
	tests := []struct {
		name     string
		in       types.Message
		wantRole string
	}{
		{"system", types.Message{Role: types.RoleSystem, Content: "Du bist Tutor."}, "system"},
		{"user", types.Message{Role: types.RoleUser, Content: "Was ist DNS?"}, "user"},
		{"assistant", types.Message{Role: types.RoleAssistant, Content: "DNS löst Namen auf."}, "assistant"},
		{"unknown role becomes user", types.Message{Role: "model", Content: "x"}, "user"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convertMessage(tt.in)
			if got.Role != tt.wantRole {
				t.Errorf("role = %q, want %q", got.Role, tt.wantRole)
			}
			if got.ContentString() != tt.in.Content {
				t.Errorf("content = %q, want %q", got.ContentString(), tt.in.Content)
			}
		})
	}
}

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams(t *testing.T) {
	p := &Provider{model: "gemini-2.5-flash"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Du bist ein Tutor.",
		Messages:     []types.Message{{Role: types.RoleUser, Content: "Hallo"}},
		Temperature:  0.7,
		MaxTokens:    512,
	})

	if params.Model != "gemini-2.5-flash" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2 (system + user)", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first message role = %q, want system", params.Messages[0].Role)
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("temperature = %v, want 0.7", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 512 {
		t.Errorf("max tokens = %v, want 512", params.MaxTokens)
	}
}

func TestBuildParams_ZeroValuesOmitted(t *testing.T) {
	p := &Provider{model: "llama3"}
	params := p.buildParams(llm.CompletionRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "Hallo"}},
	})
	if len(params.Messages) != 1 {
		t.Errorf("messages = %d, want 1 without system prompt", len(params.Messages))
	}
	if params.Temperature != nil {
		t.Error("temperature should be nil when zero")
	}
	if params.MaxTokens != nil {
		t.Error("max tokens should be nil when zero")
	}
}

// ── New ───────────────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gemini-2.5-flash"); err == nil {
		t.Error("expected error for empty backend name")
	}
	if _, err := New("gemini", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Error("expected error for unsupported backend")
	}
}

func TestNew_WithAPIKey(t *testing.T) {
	p, err := New("OpenAI", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.Name(); got != "openai/gpt-4o-mini" {
		t.Errorf("Name() = %q", got)
	}
}

func TestNew_Ollama_NoAPIKey(t *testing.T) {
	p, err := New("ollama", "llama3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
}

func TestSupportedBackendsSorted(t *testing.T) {
	if !slices.IsSorted(SupportedBackends) {
		t.Errorf("SupportedBackends not sorted: %v", SupportedBackends)
	}
	if !slices.Contains(SupportedBackends, "ollama") || len(SupportedBackends) != 9 {
		t.Errorf("SupportedBackends = %v", SupportedBackends)
	}
}
