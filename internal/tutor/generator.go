package tutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fisimaster/studybuddy/internal/observe"
	"github.com/fisimaster/studybuddy/pkg/provider/llm"
	"github.com/fisimaster/studybuddy/pkg/types"
)

// ErrGeneration is returned when the model fails or answers with something
// that is not the requested structure. Callers never see partial results.
var ErrGeneration = errors.New("tutor: generation failed")

const (
	quizSize    = 5
	quizOptions = 4

	tutorTemperature     = 0.7
	assistantTemperature = 0.8

	// NoReply stands in for an empty model answer.
	NoReply = "Ich konnte keine Antwort generieren."
)

// Lesson is the generated study material for one Lernfeld.
type Lesson struct {
	Summary      string   `json:"summary"`
	KeyConcepts  []string `json:"keyConcepts"`
	PracticeTask string   `json:"practiceTask"`
}

// Question is one multiple-choice quiz question.
type Question struct {
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
	Explanation  string   `json:"explanation"`
}

// Generator produces tutor content through an [llm.Provider].
type Generator struct {
	llm     llm.Provider
	metrics *observe.Metrics
}

// NewGenerator creates a Generator. A nil m uses [observe.DefaultMetrics].
func NewGenerator(p llm.Provider, m *observe.Metrics) *Generator {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Generator{llm: p, metrics: m}
}

// Lesson generates the study material for lf.
func (g *Generator) Lesson(ctx context.Context, lf Lernfeld) (*Lesson, error) {
	var l Lesson
	err := g.structured(ctx, "lesson", lf.ID, lessonPrompt(lf), &l)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(l.Summary) == "" || strings.TrimSpace(l.PracticeTask) == "" || len(l.KeyConcepts) == 0 {
		return nil, fmt.Errorf("%w: incomplete lesson", ErrGeneration)
	}
	return &l, nil
}

// Quiz generates up to five questions for lf. Every question has exactly
// four options and a valid CorrectIndex.
func (g *Generator) Quiz(ctx context.Context, lf Lernfeld) ([]Question, error) {
	var qs []Question
	if err := g.structured(ctx, "quiz", lf.ID, quizPrompt(lf), &qs); err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return nil, fmt.Errorf("%w: empty quiz", ErrGeneration)
	}
	for i, q := range qs {
		if err := q.validate(); err != nil {
			return nil, fmt.Errorf("%w: question %d: %v", ErrGeneration, i+1, err)
		}
	}
	if len(qs) > quizSize {
		qs = qs[:quizSize]
	}
	return qs, nil
}

func (q Question) validate() error {
	var errs []error
	if strings.TrimSpace(q.Question) == "" {
		errs = append(errs, errors.New("question is empty"))
	}
	if len(q.Options) != quizOptions {
		errs = append(errs, fmt.Errorf("has %d options, want %d", len(q.Options), quizOptions))
	}
	if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
		errs = append(errs, fmt.Errorf("correctIndex %d out of range", q.CorrectIndex))
	}
	return errors.Join(errs...)
}

// Chat answers message given the earlier turns. With lf nil the general
// assistant answers instead of the Lernfeld tutor. An empty answer becomes
// [NoReply].
func (g *Generator) Chat(ctx context.Context, history []types.Message, message string, lf *Lernfeld) (string, error) {
	req := llm.CompletionRequest{
		SystemPrompt: assistantInstruction,
		Temperature:  assistantTemperature,
	}
	kind, lfID := "assistant", 0
	if lf != nil {
		req.SystemPrompt = tutorInstruction(*lf)
		req.Temperature = tutorTemperature
		kind, lfID = "chat", lf.ID
	}
	req.Messages = append(append(req.Messages, history...), types.Message{Role: types.RoleUser, Content: message})

	content, err := g.complete(ctx, kind, lfID, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return NoReply, nil
	}
	return content, nil
}

// structured requests JSON and decodes it into out.
func (g *Generator) structured(ctx context.Context, kind string, lfID int, prompt string, out any) error {
	content, err := g.complete(ctx, kind, lfID, llm.CompletionRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: prompt}},
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), out); err != nil {
		observe.Logger(ctx).Debug("tutor: malformed model output", "kind", kind, "err", err)
		return fmt.Errorf("%w: decode %s: %v", ErrGeneration, kind, err)
	}
	return nil
}

func (g *Generator) complete(ctx context.Context, kind string, lfID int, req llm.CompletionRequest) (string, error) {
	ctx, span := observe.StartSpan(ctx, "tutor."+kind,
		attribute.String("tutor.kind", kind),
		attribute.Int("tutor.lernfeld", lfID),
	)
	defer span.End()

	start := time.Now()
	resp, err := g.llm.Complete(ctx, req)
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if err != nil {
		g.metrics.RecordTutorRequest(ctx, kind, "error", time.Since(start))
		observe.Fail(span, err)
		observe.Logger(ctx).Warn("tutor: request failed", "kind", kind, "lernfeld", lfID, "err", err)
		return "", fmt.Errorf("%w: %s: %v", ErrGeneration, kind, err)
	}
	g.metrics.RecordTutorRequest(ctx, kind, "ok", time.Since(start))
	return resp.Content, nil
}

// extractJSON strips a Markdown code fence around a JSON answer.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
