// Package types defines the shared types used across studybuddy packages.
//
// These types form the lingua franca between the speech providers, the voice
// subsystem and the tutor. Each package keeps its own domain types; only data
// that crosses package boundaries lives here to avoid circular imports.
package types

// Transcript is a single recognition segment reported by a speech-to-text
// provider. Interim and final segments share this type.
type Transcript struct {
	// Text is the recognised speech for this segment.
	Text string

	// IsFinal marks a segment the recognizer will not revise any further.
	IsFinal bool

	// Confidence is the recognizer's score in [0, 1]. Zero when unreported.
	Confidence float64
}

// ResultBatch is one recognizer callback worth of segments, in the order the
// recognizer emitted them. A batch may mix interim and final segments.
type ResultBatch struct {
	Segments []Transcript
}

// Split concatenates the interim and the final segment texts of the batch
// separately, preserving segment order within each group.
func (b ResultBatch) Split() (interim, final string) {
	for _, s := range b.Segments {
		if s.IsFinal {
			final += s.Text
		} else {
			interim += s.Text
		}
	}
	return interim, final
}

// Message is a single turn in a tutor conversation.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text of the turn.
	Content string
}

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// VoiceProfile describes a synthesis voice offered by a TTS provider.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier. Empty selects the
	// provider's default voice.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Language is a BCP 47 tag or bare language code ("de-DE", "de").
	// Empty when the provider does not report one.
	Language string

	// Metadata holds provider-specific voice attributes (gender, accent, ...).
	Metadata map[string]string
}
