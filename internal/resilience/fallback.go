package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend of a [Chain] failed or was
// skipped by its breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

type link[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Chain is an ordered list of interchangeable backends, each behind its own
// [CircuitBreaker]. Backends are tried in registration order. Register every
// backend before first use.
type Chain[T any] struct {
	links []link[T]
	cfg   BreakerConfig
}

// NewChain returns a chain with primary as the first backend. cfg is the
// template for every backend's breaker; its Name is replaced per backend.
func NewChain[T any](primaryName string, primary T, cfg BreakerConfig) *Chain[T] {
	c := &Chain[T]{cfg: cfg}
	c.Add(primaryName, primary)
	return c
}

// Add appends a fallback backend.
func (c *Chain[T]) Add(name string, value T) {
	cfg := c.cfg
	cfg.Name = name
	c.links = append(c.links, link[T]{name: name, value: value, breaker: NewCircuitBreaker(cfg)})
}

// Names returns the backend names in order.
func (c *Chain[T]) Names() []string {
	out := make([]string, len(c.links))
	for i, l := range c.links {
		out[i] = l.name
	}
	return out
}

// Call runs fn against each backend until one succeeds. It stops early when
// ctx is done.
func Call[T, R any](ctx context.Context, c *Chain[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i := range c.links {
		l := &c.links[i]
		var out R
		err := l.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, l.value)
			return err
		})
		if err == nil {
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping backend with open circuit", "backend", l.name)
		} else {
			slog.Warn("backend failed, trying next", "backend", l.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", l.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
