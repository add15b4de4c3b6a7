package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrExhausted is returned when no backend of a [Chain] answered.
var ErrExhausted = errors.New("resilience: no backend available")

// Chain tries interchangeable backends in order, each behind its own
// [Breaker]. The first backend is the preferred one.
type Chain[T any] struct {
	cfg   BreakerConfig
	links []link[T]
}

type link[T any] struct {
	name    string
	backend T
	breaker *Breaker
}

// NewChain returns a chain whose preferred backend is primary. cfg is the
// template for every breaker; its Name is replaced by the backend name.
func NewChain[T any](name string, primary T, cfg BreakerConfig) *Chain[T] {
	c := &Chain[T]{cfg: cfg}
	c.Add(name, primary)
	return c
}

// Add appends a backend tried after all earlier ones. Add is not safe to
// call concurrently with [Call].
func (c *Chain[T]) Add(name string, backend T) {
	cfg := c.cfg
	cfg.Name = name
	c.links = append(c.links, link[T]{name: name, backend: backend, breaker: NewBreaker(cfg)})
}

// Len returns the number of backends.
func (c *Chain[T]) Len() int { return len(c.links) }

// Primary returns the preferred backend.
func (c *Chain[T]) Primary() T { return c.links[0].backend }

// States returns the breaker state of every backend by name.
func (c *Chain[T]) States() map[string]State {
	out := make(map[string]State, len(c.links))
	for _, l := range c.links {
		out[l.name] = l.breaker.State()
	}
	return out
}

// Available returns nil while at least one backend would be tried, and an
// error naming the open breakers otherwise.
func (c *Chain[T]) Available() error {
	var open []string
	for _, l := range c.links {
		if l.breaker.State() != Open {
			return nil
		}
		open = append(open, l.name)
	}
	return fmt.Errorf("%w: open %v", ErrExhausted, open)
}

// Call runs fn against the backends in order and returns the first success.
// A cancellation stops the walk at once and is returned unwrapped. With a
// single backend its error is returned as is.
func Call[T, R any](c *Chain[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for _, l := range c.links {
		var result R
		err := l.breaker.Do(func() error {
			var err error
			result, err = fn(l.backend)
			return err
		})
		if err == nil {
			return result, nil
		}
		if isCancellation(err) {
			return zero, err
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("resilience: skipping disabled backend", "name", l.name)
			continue
		}
		if len(c.links) > 1 {
			slog.Warn("resilience: backend failed, trying next", "name", l.name, "err", err)
		}
	}
	if len(c.links) == 1 {
		return zero, lastErr
	}
	return zero, fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}
