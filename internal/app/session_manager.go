package app

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fisimaster/studybuddy/internal/tutor"
	"github.com/fisimaster/studybuddy/internal/voice"
)

// ErrNoTutor is returned when a chat is started without an LLM provider.
var ErrNoTutor = errors.New("app: no llm provider configured")

// SessionInfo holds metadata about the active chat session.
type SessionInfo struct {
	// Lernfeld is the topic of a tutor chat; nil for the general assistant.
	Lernfeld *tutor.Lernfeld

	// StartedAt is when the session was started.
	StartedAt time.Time
}

// Topic returns a short label for the session.
func (i SessionInfo) Topic() string {
	if i.Lernfeld == nil {
		return "Assistent"
	}
	return i.Lernfeld.Label()
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// Generator answers the chat. Nil makes Start fail with [ErrNoTutor].
	Generator *tutor.Generator

	// Progress is marked when a tutor chat is used.
	Progress tutor.ChatMarker

	// NewVoice creates the voice coordinator of a new session. Nil sessions
	// have no voice.
	NewVoice func() *voice.Coordinator

	Now func() time.Time
}

// SessionManager owns the chat view. Only one chat session is active at a
// time; starting another one closes the previous one together with its
// voice coordinator. All exported methods are safe for concurrent use.
type SessionManager struct {
	cfg SessionManagerConfig

	mu     sync.Mutex
	active bool
	info   SessionInfo
	conv   *tutor.Conversation
	voice  *voice.Coordinator
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SessionManager{cfg: cfg}
}

// Start replaces the active session with a new chat about lf, or with the
// general assistant when lf is nil.
func (sm *SessionManager) Start(lf *tutor.Lernfeld) (*tutor.Conversation, error) {
	if sm.cfg.Generator == nil {
		return nil, ErrNoTutor
	}
	if lf != nil {
		cp := *lf
		lf = &cp
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.stopLocked()

	var v *voice.Coordinator
	cc := tutor.ConversationConfig{
		Generator: sm.cfg.Generator,
		Lernfeld:  lf,
		Progress:  sm.cfg.Progress,
		Now:       sm.cfg.Now,
	}
	if sm.cfg.NewVoice != nil {
		v = sm.cfg.NewVoice()
		cc.Voice = v
	}

	sm.active = true
	sm.conv = tutor.NewConversation(cc)
	sm.voice = v
	sm.info = SessionInfo{Lernfeld: lf, StartedAt: sm.cfg.Now()}

	slog.Info("chat session started", "topic", sm.info.Topic())
	return sm.conv, nil
}

// Current returns the active conversation, starting the general assistant
// when none is active.
func (sm *SessionManager) Current() (*tutor.Conversation, error) {
	sm.mu.Lock()
	conv := sm.conv
	sm.mu.Unlock()
	if conv != nil {
		return conv, nil
	}
	return sm.Start(nil)
}

// Stop ends the active session. It reports whether one was active.
func (sm *SessionManager) Stop() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.stopLocked()
}

func (sm *SessionManager) stopLocked() bool {
	if !sm.active {
		return false
	}
	topic := sm.info.Topic()
	sm.conv.Close()
	if sm.voice != nil {
		if err := sm.voice.Close(); err != nil {
			slog.Warn("chat session: voice close error", "err", err)
		}
	}
	sm.active = false
	sm.conv = nil
	sm.voice = nil
	sm.info = SessionInfo{}

	slog.Info("chat session stopped", "topic", topic)
	return true
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Info returns metadata about the active session. Returns the zero value if
// no session is active.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info
}

// Conversation returns the active conversation, or nil.
func (sm *SessionManager) Conversation() *tutor.Conversation {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.conv
}

// Voice returns the voice coordinator of the active session, or nil.
func (sm *SessionManager) Voice() *voice.Coordinator {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.voice
}
