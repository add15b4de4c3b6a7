// Package transcript merges streaming recognition results into dictated text.
//
// A recognizer reports each utterance as a run of interim guesses followed by
// a final result. [Accumulator] keeps the finalized text separate from the
// latest guess so that revisions never leave stale words behind.
package transcript

import (
	"strings"
	"sync"
	"unicode"
)

// Accumulator holds the committed text of one dictation session and the
// current interim preview. The zero value is ready to use.
//
// Accumulator is safe for concurrent use.
type Accumulator struct {
	mu        sync.Mutex
	committed string
	preview   string
}

// Seed replaces the committed text with text and clears the preview. Use it
// to continue dictating into an existing draft.
func (a *Accumulator) Seed(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.committed = text
	a.preview = ""
}

// Apply feeds one recognizer fragment. An interim fragment replaces the
// preview; a final one is appended to the committed text and clears the
// preview. Empty or whitespace-only fragments are ignored. Apply reports
// whether the state changed.
func (a *Accumulator) Apply(fragment string, isFinal bool) bool {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !isFinal {
		if a.preview == fragment {
			return false
		}
		a.preview = fragment
		return true
	}
	a.committed = join(a.committed, fragment)
	a.preview = ""
	return true
}

// Committed returns the finalized text.
func (a *Accumulator) Committed() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.committed
}

// Preview returns the current interim guess, or "" when none is pending.
func (a *Accumulator) Preview() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.preview
}

// Display returns the committed text followed by the preview, separated by a
// single space. It is meant for rendering only.
func (a *Accumulator) Display() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.preview == "" {
		return a.committed
	}
	return join(a.committed, a.preview)
}

// Reset discards all state.
func (a *Accumulator) Reset() {
	a.Seed("")
}

// join appends frag to base with exactly one separating space.
func join(base, frag string) string {
	if base == "" {
		return frag
	}
	if r := base[len(base)-1]; r < 0x80 && unicode.IsSpace(rune(r)) {
		return base + frag
	}
	return base + " " + frag
}
