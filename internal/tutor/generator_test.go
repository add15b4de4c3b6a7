package tutor

import (
	"context"
	"errors"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/fisimaster/studybuddy/internal/observe"
	"github.com/fisimaster/studybuddy/pkg/provider/llm"
	"github.com/fisimaster/studybuddy/pkg/provider/llm/mock"
	"github.com/fisimaster/studybuddy/pkg/types"
)

func newGen(t *testing.T, p llm.Provider) *Generator {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	return NewGenerator(p, m)
}

func lf5(t *testing.T) Lernfeld {
	t.Helper()
	lf, ok := Find(5)
	if !ok {
		t.Fatal("Lernfeld 5 missing")
	}
	return lf
}

func TestCatalog(t *testing.T) {
	t.Parallel()
	if len(Lernfelder) != 12 {
		t.Fatalf("catalog has %d entries, want 12", len(Lernfelder))
	}
	for i, lf := range Lernfelder {
		if lf.ID != i+1 || lf.Title == "" || lf.Year < 1 || lf.Year > 3 {
			t.Errorf("entry %d = %+v", i, lf)
		}
	}
	if _, ok := Find(13); ok {
		t.Error("Find(13) succeeded")
	}
	if got := lf5(t).Label(); got != "LF5 Software zur Verwaltung von Daten anpassen" {
		t.Errorf("Label = %q", got)
	}
}

func TestGenerator_Lesson(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		reply   string
		err     error
		wantErr bool
	}{
		{
			name:  "plain json",
			reply: `{"summary":"**SQL** ist ...","keyConcepts":["SQL","ERM","Normalisierung","Primärschlüssel","DSGVO"],"practiceTask":"Entwirf ein ER-Modell."}`,
		},
		{
			name:  "fenced json",
			reply: "```json\n{\"summary\":\"s\",\"keyConcepts\":[\"a\"],\"practiceTask\":\"p\"}\n```",
		},
		{name: "not json", reply: "Gerne! Hier ist dein Lerninhalt.", wantErr: true},
		{name: "missing task", reply: `{"summary":"s","keyConcepts":["a"]}`, wantErr: true},
		{name: "no concepts", reply: `{"summary":"s","keyConcepts":[],"practiceTask":"p"}`, wantErr: true},
		{name: "provider error", err: errors.New("quota exceeded"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &mock.Provider{CompleteErr: tt.err, Responses: []string{tt.reply}}
			l, err := newGen(t, p).Lesson(context.Background(), lf5(t))
			if tt.wantErr {
				if !errors.Is(err, ErrGeneration) {
					t.Errorf("err = %v, want ErrGeneration", err)
				}
				if l != nil {
					t.Errorf("partial lesson returned: %+v", l)
				}
				return
			}
			if err != nil {
				t.Fatalf("Lesson: %v", err)
			}
			if l.Summary == "" || len(l.KeyConcepts) == 0 || l.PracticeTask == "" {
				t.Errorf("lesson = %+v", l)
			}
			prompt := p.LastRequest().Messages[0].Content
			if !strings.Contains(prompt, "Lernfeld 5") || !strings.Contains(prompt, "SQL, ER-Modelle") {
				t.Errorf("prompt does not describe the Lernfeld:\n%s", prompt)
			}
		})
	}
}

func quizJSON(n int, mutate func(i int) string) string {
	var b strings.Builder
	b.WriteString("[")
	for i := range n {
		if i > 0 {
			b.WriteString(",")
		}
		if mutate != nil {
			if s := mutate(i); s != "" {
				b.WriteString(s)
				continue
			}
		}
		b.WriteString(`{"question":"Was ist DNS?","options":["a","b","c","d"],"correctIndex":1,"explanation":"weil"}`)
	}
	b.WriteString("]")
	return b.String()
}

func TestGenerator_Quiz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		reply   string
		wantN   int
		wantErr bool
	}{
		{name: "five", reply: quizJSON(5, nil), wantN: 5},
		{name: "extra questions dropped", reply: quizJSON(7, nil), wantN: 5},
		{name: "empty", reply: "[]", wantErr: true},
		{
			name: "three options",
			reply: quizJSON(5, func(i int) string {
				if i == 3 {
					return `{"question":"q","options":["a","b","c"],"correctIndex":0,"explanation":""}`
				}
				return ""
			}),
			wantErr: true,
		},
		{
			name: "index out of range",
			reply: quizJSON(5, func(i int) string {
				if i == 0 {
					return `{"question":"q","options":["a","b","c","d"],"correctIndex":4,"explanation":""}`
				}
				return ""
			}),
			wantErr: true,
		},
		{name: "object instead of array", reply: `{"question":"q"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &mock.Provider{Responses: []string{tt.reply}}
			qs, err := newGen(t, p).Quiz(context.Background(), lf5(t))
			if tt.wantErr {
				if !errors.Is(err, ErrGeneration) || qs != nil {
					t.Errorf("Quiz = %d questions, %v; want nil, ErrGeneration", len(qs), err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Quiz: %v", err)
			}
			if len(qs) != tt.wantN {
				t.Errorf("len = %d, want %d", len(qs), tt.wantN)
			}
		})
	}
}

func TestGenerator_Chat(t *testing.T) {
	t.Parallel()
	lf := lf5(t)
	history := []types.Message{
		{Role: types.RoleUser, Content: "Was ist ein Primärschlüssel?"},
		{Role: types.RoleAssistant, Content: "Ein eindeutiger Bezeichner."},
	}

	t.Run("tutor", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{Responses: []string{"Ein Fremdschlüssel verweist ..."}}
		got, err := newGen(t, p).Chat(context.Background(), history, "Und ein Fremdschlüssel?", &lf)
		if err != nil || got != "Ein Fremdschlüssel verweist ..." {
			t.Fatalf("Chat = %q, %v", got, err)
		}
		req := p.LastRequest()
		if !strings.Contains(req.SystemPrompt, `Lernfeld 5: "Software zur Verwaltung von Daten anpassen"`) {
			t.Errorf("system prompt = %q", req.SystemPrompt)
		}
		if req.Temperature != 0.7 {
			t.Errorf("temperature = %v", req.Temperature)
		}
		if len(req.Messages) != 3 || req.Messages[2].Content != "Und ein Fremdschlüssel?" || req.Messages[2].Role != types.RoleUser {
			t.Errorf("messages = %+v", req.Messages)
		}
	})

	t.Run("assistant", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{Responses: []string{"Klar."}}
		if _, err := newGen(t, p).Chat(context.Background(), nil, "Hi", nil); err != nil {
			t.Fatal(err)
		}
		req := p.LastRequest()
		if req.SystemPrompt != assistantInstruction || req.Temperature != 0.8 {
			t.Errorf("request = %+v", req)
		}
	})

	t.Run("empty reply", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{Responses: []string{"  "}}
		got, err := newGen(t, p).Chat(context.Background(), nil, "Hi", &lf)
		if err != nil || got != NoReply {
			t.Errorf("Chat = %q, %v; want NoReply", got, err)
		}
	})

	t.Run("nil response", func(t *testing.T) {
		t.Parallel()
		_, err := newGen(t, &mock.Provider{}).Chat(context.Background(), nil, "Hi", &lf)
		if !errors.Is(err, ErrGeneration) {
			t.Errorf("err = %v, want ErrGeneration", err)
		}
	})
}

func TestExtractJSON(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		`{"a":1}`:                 `{"a":1}`,
		"  [1]\n":                 "[1]",
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n[1,2]\n```\n":       "[1,2]",
	}
	for in, want := range tests {
		if got := extractJSON(in); got != want {
			t.Errorf("extractJSON(%q) = %q, want %q", in, got, want)
		}
	}
}
