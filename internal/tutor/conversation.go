package tutor

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fisimaster/studybuddy/internal/voice"
	"github.com/fisimaster/studybuddy/pkg/provider/stt"
	"github.com/fisimaster/studybuddy/pkg/types"
)

var (
	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("tutor: message is empty")

	// ErrBusy is returned by Send while an earlier reply is pending.
	ErrBusy = errors.New("tutor: reply pending")
)

// Chat roles as shown to the learner.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

const greetingID = "init"

// Message is one turn of a [Conversation].
type Message struct {
	ID   string
	Role string
	Text string
	At   time.Time
}

// Voice is what a conversation needs from its view's voice coordinator.
// [voice.Coordinator] implements it.
type Voice interface {
	CanListen() bool
	StartListening(ctx context.Context, seed string, cb voice.ListenCallbacks) error
	StopListening()
	Speak(ctx context.Context, text string) <-chan struct{}
	StopSpeaking()
}

var _ Voice = (*voice.Coordinator)(nil)

// ChatMarker records that the learner talked to the tutor.
type ChatMarker interface {
	MarkChatStarted(ctx context.Context, lf int)
}

// ConversationConfig configures a [Conversation].
type ConversationConfig struct {
	// Generator answers messages. Required.
	Generator *Generator

	// Lernfeld scopes the tutor. Nil selects the general assistant.
	Lernfeld *Lernfeld

	// Voice reads replies aloud and takes dictation. Optional.
	Voice Voice

	// Progress is told about the first message. Optional.
	Progress ChatMarker

	// Now defaults to [time.Now].
	Now func() time.Time
}

// Conversation is one chat view: the message list, the input draft, the
// sound toggle and the view's voice coordinator.
//
// All methods are safe for concurrent use.
type Conversation struct {
	gen      *Generator
	lf       *Lernfeld
	voice    Voice
	progress ChatMarker
	now      func() time.Time

	mu       sync.Mutex
	messages []Message
	draft    string
	pending  bool
	soundOn  bool
	seq      int
}

// NewConversation starts a conversation with the tutor's greeting.
func NewConversation(cfg ConversationConfig) *Conversation {
	c := &Conversation{
		gen:      cfg.Generator,
		lf:       cfg.Lernfeld,
		voice:    cfg.Voice,
		progress: cfg.Progress,
		now:      cfg.Now,
	}
	if c.now == nil {
		c.now = time.Now
	}
	greeting := AssistantGreeting
	if c.lf != nil {
		greeting = Greeting(*c.lf)
	}
	c.messages = []Message{{ID: greetingID, Role: RoleModel, Text: greeting, At: c.now()}}
	return c
}

// Messages returns a copy of the turns so far.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

// Draft returns the unsent input.
func (c *Conversation) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// SetDraft replaces the unsent input.
func (c *Conversation) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
}

// SoundOn reports whether replies are read aloud.
func (c *Conversation) SoundOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.soundOn
}

// SetSound toggles reading replies aloud. Turning it off stops any speech.
func (c *Conversation) SetSound(on bool) {
	c.mu.Lock()
	c.soundOn = on
	c.mu.Unlock()
	if !on && c.voice != nil {
		c.voice.StopSpeaking()
	}
}

// Send sends text, or the draft when text is empty, and waits for the
// reply. A failed request still appends a reply, a fixed apology, and also
// returns the error. The reply is read aloud when sound is on.
func (c *Conversation) Send(ctx context.Context, text string) (Message, error) {
	c.mu.Lock()
	if strings.TrimSpace(text) == "" {
		text = c.draft
	}
	if strings.TrimSpace(text) == "" {
		c.mu.Unlock()
		return Message{}, ErrEmptyMessage
	}
	if c.pending {
		c.mu.Unlock()
		return Message{}, ErrBusy
	}
	c.pending = true
	history := c.historyLocked()
	c.messages = append(c.messages, c.newMessageLocked(RoleUser, text))
	c.draft = ""
	c.mu.Unlock()

	if c.lf != nil && c.progress != nil {
		c.progress.MarkChatStarted(ctx, c.lf.ID)
	}
	if c.voice != nil {
		c.voice.StopSpeaking()
	}

	reply, err := c.gen.Chat(ctx, history, text, c.lf)
	if err != nil {
		slog.Debug("tutor: chat failed", "err", err)
		reply = assistantApology
		if c.lf != nil {
			reply = tutorApology
		}
	}

	c.mu.Lock()
	msg := c.newMessageLocked(RoleModel, reply)
	c.messages = append(c.messages, msg)
	c.pending = false
	speak := c.soundOn
	c.mu.Unlock()

	if speak && c.voice != nil {
		c.voice.Speak(ctx, reply)
	}
	return msg, err
}

// Dictate starts dictation into the draft. onDisplay receives the draft
// plus the words still being recognised; when dictation ends the recognised
// text is kept in the draft.
func (c *Conversation) Dictate(ctx context.Context, onDisplay func(string)) error {
	if c.voice == nil || !c.voice.CanListen() {
		return stt.ErrUnsupported
	}
	return c.voice.StartListening(ctx, c.Draft(), voice.ListenCallbacks{
		OnTranscript: onDisplay,
		OnError: func(err error) {
			slog.Debug("tutor: dictation failed", "err", err)
		},
		OnEnd: func(committed string) {
			c.SetDraft(committed)
		},
	})
}

// StopDictation ends dictation. The draft keeps what was recognised.
func (c *Conversation) StopDictation() {
	if c.voice != nil {
		c.voice.StopListening()
	}
}

// Close stops speech and dictation of this view.
func (c *Conversation) Close() {
	if c.voice == nil {
		return
	}
	c.voice.StopListening()
	c.voice.StopSpeaking()
}

// historyLocked converts the turns for the model. The greeting is local and
// not sent.
func (c *Conversation) historyLocked() []types.Message {
	var out []types.Message
	for _, m := range c.messages {
		if m.ID == greetingID {
			continue
		}
		role := types.RoleUser
		if m.Role == RoleModel {
			role = types.RoleAssistant
		}
		out = append(out, types.Message{Role: role, Content: m.Text})
	}
	return out
}

func (c *Conversation) newMessageLocked(role, text string) Message {
	c.seq++
	return Message{ID: strconv.Itoa(c.seq), Role: role, Text: text, At: c.now()}
}
