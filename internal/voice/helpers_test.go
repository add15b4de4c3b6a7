package voice_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fisimaster/studybuddy/internal/voice"
)

// recorder collects input callbacks in arrival order.
type recorder struct {
	mu     sync.Mutex
	events []string
	ends   int
	errs   []error
}

func (r *recorder) callbacks() voice.InputCallbacks {
	return voice.InputCallbacks{
		OnFragment: func(text string, isFinal bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, fmt.Sprintf("%s/%v", text, isFinal))
		},
		OnEnd: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, "end")
			r.ends++
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, "error")
			r.errs = append(r.errs, err)
		},
	}
}

func (r *recorder) snapshot() (events []string, ends int, errs []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...), r.ends, append([]error(nil), r.errs...)
}

func (r *recorder) endCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ends
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
}
