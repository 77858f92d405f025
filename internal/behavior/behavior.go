// Package behavior supplies the human-cadence policy injected into the
// detector and booking engine. Orchestration logic never sleeps on its own;
// every pause, pointer move and backoff decision goes through a Policy so
// tests can run with a deterministic one.
package behavior

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"slotwatch/internal/models"
	"slotwatch/internal/page"
)

// PauseKind selects the length class of a human-cadence pause.
type PauseKind int

const (
	// PauseKeystroke sits between typed characters.
	PauseKeystroke PauseKind = iota
	// PauseAction sits around clicks and hovers.
	PauseAction
	// PauseProbe separates per-date probes during detection.
	PauseProbe
	// PauseThink models a longer reading pause between workflow steps.
	PauseThink
)

// Policy is the behavior collaborator. Production uses Randomized; tests use
// Instant.
type Policy interface {
	Initialize() error
	Pause(ctx context.Context, kind PauseKind) error
	Move(ctx context.Context, sess page.Session, selector string) error
	Execute(ctx context.Context, name string, fn func(context.Context) error) error
	AdaptiveInterval(successRate float64, base time.Duration) time.Duration
}

// Randomized draws pause lengths uniformly from per-kind ranges. Safe for
// concurrent use; one policy is shared across the agent's listeners.
type Randomized struct {
	mu          sync.Mutex // guards rng
	rng         *rand.Rand
	initialized bool
}

func NewRandomized() *Randomized {
	return &Randomized{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (r *Randomized) Initialize() error {
	r.initialized = true
	return nil
}

// pauseRange returns the [min,max) bounds for a kind.
func pauseRange(kind PauseKind) (time.Duration, time.Duration) {
	switch kind {
	case PauseKeystroke:
		return 80 * time.Millisecond, 220 * time.Millisecond
	case PauseAction:
		return 300 * time.Millisecond, 900 * time.Millisecond
	case PauseProbe:
		return 800 * time.Millisecond, 2 * time.Second
	default:
		return 1 * time.Second, 3 * time.Second
	}
}

func (r *Randomized) Pause(ctx context.Context, kind PauseKind) error {
	lo, hi := pauseRange(kind)
	r.mu.Lock()
	d := lo + time.Duration(r.rng.Int63n(int64(hi-lo)))
	r.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Move scrolls to the element, pauses and hovers, the way a person would
// approach a control before clicking it.
func (r *Randomized) Move(ctx context.Context, sess page.Session, selector string) error {
	if err := sess.ScrollTo(ctx, selector); err != nil {
		return err
	}
	if err := r.Pause(ctx, PauseAction); err != nil {
		return err
	}
	return sess.Hover(ctx, selector)
}

// Execute wraps one named stealth operation: a thinking pause before, the
// operation itself, and a settle pause after.
func (r *Randomized) Execute(ctx context.Context, name string, fn func(context.Context) error) error {
	if !r.initialized {
		return models.ErrNotInitialized
	}
	if err := r.Pause(ctx, PauseThink); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		return err
	}
	return r.Pause(ctx, PauseAction)
}

// AdaptiveInterval stretches the base check interval when recent checks are
// failing; a struggling session probing at full speed is the clearest bot
// signature there is.
func (r *Randomized) AdaptiveInterval(successRate float64, base time.Duration) time.Duration {
	switch {
	case successRate >= 0.9:
		return base
	case successRate >= 0.5:
		return base + base/2
	default:
		return base * 5 / 2
	}
}

// Instant is the deterministic test policy: no pauses, no randomness.
type Instant struct{}

func (Instant) Initialize() error                                { return nil }
func (Instant) Pause(context.Context, PauseKind) error           { return nil }
func (Instant) Move(context.Context, page.Session, string) error { return nil }
func (Instant) Execute(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}
func (Instant) AdaptiveInterval(_ float64, base time.Duration) time.Duration { return base }
