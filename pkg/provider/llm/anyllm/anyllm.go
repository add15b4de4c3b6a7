// Package anyllm adapts github.com/mozilla-ai/any-llm-go to [llm.Provider].
// One adapter covers hosted models (openai, anthropic, gemini, mistral, groq,
// deepseek) and local servers (ollama, llamacpp, llamafile).
//
//	p, err := anyllm.New("ollama", "llama3")
//	p, err := anyllm.New("gemini", "gemini-2.5-flash", anyllmlib.WithAPIKey(key))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/fisimaster/studybuddy/pkg/provider/llm"
	"github.com/fisimaster/studybuddy/pkg/types"
)

// ErrNoChoices is returned when the backend answers without any choice.
var ErrNoChoices = errors.New("anyllm: response has no choices")

type constructor func(...anyllmlib.Option) (anyllmlib.Provider, error)

// lift turns a concrete any-llm constructor into a [constructor].
func lift[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) constructor {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return fn(opts...)
	}
}

var constructors = map[string]constructor{
	"anthropic": lift(anthropic.New),
	"deepseek":  lift(deepseek.New),
	"gemini":    lift(gemini.New),
	"groq":      lift(groq.New),
	"llamacpp":  lift(llamacpp.New),
	"llamafile": lift(llamafile.New),
	"mistral":   lift(mistral.New),
	"ollama":    lift(ollama.New),
	"openai":    lift(anyllmoai.New),
}

// SupportedBackends lists the names New accepts, sorted.
var SupportedBackends = slices.Sorted(maps.Keys(constructors))

// Provider is an [llm.Provider] over one any-llm backend and model.
type Provider struct {
	client anyllmlib.Provider
	name   string
	model  string
}

var _ llm.Provider = (*Provider)(nil)

// New opens backend (case-insensitive, one of [SupportedBackends]) for model.
// Without anyllmlib.WithAPIKey the backend reads its usual environment
// variable such as GEMINI_API_KEY.
func New(backend, model string, opts ...anyllmlib.Option) (*Provider, error) {
	name := strings.ToLower(strings.TrimSpace(backend))
	switch {
	case name == "":
		return nil, errors.New("anyllm: backend name is empty")
	case model == "":
		return nil, errors.New("anyllm: model is empty")
	}
	open, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: backend %q not in [%s]", backend, strings.Join(SupportedBackends, " "))
	}
	client, err := open(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: open %s: %w", name, err)
	}
	return &Provider{client: client, name: name, model: model}, nil
}

// Name reports "backend/model".
func (p *Provider) Name() string { return p.name + "/" + p.model }

// Complete sends one non-streaming completion and returns the first choice.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anyllm: request has no messages")
	}
	resp, err := p.client.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", p.Name(), err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w (%s)", ErrNoChoices, p.Name())
	}
	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: make([]anyllmlib.Message, 0, len(req.Messages)+1),
	}
	if req.SystemPrompt != "" {
		params.Messages = append(params.Messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		params.Messages = append(params.Messages, convertMessage(m))
	}
	if req.Temperature != 0 {
		params.Temperature = ptr(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = ptr(req.MaxTokens)
	}
	return params
}

// convertMessage maps a conversation turn. Unknown roles are sent as user.
func convertMessage(m types.Message) anyllmlib.Message {
	role := types.RoleUser
	switch m.Role {
	case types.RoleSystem, types.RoleAssistant:
		role = m.Role
	}
	return anyllmlib.Message{Role: role, Content: m.Content}
}

func ptr[T any](v T) *T { return &v }
