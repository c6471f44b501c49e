// Package circuitbreaker fails calls fast once an upstream keeps
// erroring, instead of stacking timeouts behind a dead dependency.
// After a cooldown a limited number of probe requests test recovery.
package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned without invoking the wrapped call while the
// breaker is open or out of half-open probe slots.
var ErrOpen = errors.New("circuit open")

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Counts accumulates outcomes within the current generation. A
// generation ends on every state change and, while closed, every
// Interval.
type Counts struct {
	Requests             uint32
	Failures             uint32
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
}

// Config tunes a Breaker. The zero value of any field falls back to
// the defaults documented on New.
type Config struct {
	Name      string
	MaxProbes uint32        // concurrent requests allowed while half-open
	Interval  time.Duration // closed-state window after which counts reset
	Cooldown  time.Duration // open-state duration before probing

	// TripAfter decides, on each counted failure while closed, whether
	// the breaker opens.
	TripAfter func(Counts) bool

	// Failure classifies errors. Only errors it reports true for count
	// against the breaker; everything else passes through untouched.
	// Nil counts every non-nil error.
	Failure func(error) bool
}

// Breaker guards one upstream. Safe for concurrent use.
type Breaker struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
	now        func() time.Time
}

// New builds a breaker. Defaults: 3 probes, 60s interval, 30s
// cooldown, trip after 5 consecutive failures.
func New(cfg Config) *Breaker {
	if cfg.MaxProbes == 0 {
		cfg.MaxProbes = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.TripAfter == nil {
		cfg.TripAfter = func(c Counts) bool { return c.ConsecutiveFailures >= 5 }
	}
	if cfg.Failure == nil {
		cfg.Failure = func(err error) bool { return err != nil }
	}
	b := &Breaker{
		cfg:    cfg,
		logger: slog.With("component", "circuitbreaker", "breaker", cfg.Name),
		now:    time.Now,
	}
	b.toNewGeneration(b.now())
	return b
}

// State reports the current state, advancing open->half-open when the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.currentState(b.now())
	return state
}

// Do runs fn through the breaker b. While open it returns ErrOpen
// without calling fn. Errors that b's Failure classifier rejects pass
// through without counting against the breaker.
func Do[T any](b *Breaker, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	generation, err := b.before()
	if err != nil {
		return zero, err
	}

	result, err := fn(ctx)
	b.after(generation, err)
	return result, err
}

func (b *Breaker) before() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	state, generation := b.currentState(now)

	if state == StateOpen {
		return generation, ErrOpen
	}
	if state == StateHalfOpen && b.counts.Requests >= b.cfg.MaxProbes {
		return generation, ErrOpen
	}
	b.counts.Requests++
	return generation, nil
}

func (b *Breaker) after(generation uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	state, current := b.currentState(now)
	if generation != current {
		// The generation rolled over mid-flight; this outcome belongs
		// to a window that no longer exists.
		return
	}

	if err != nil && b.cfg.Failure(err) {
		b.onFailure(state, now)
		return
	}
	b.onSuccess(state, now)
}

func (b *Breaker) onSuccess(state State, now time.Time) {
	b.counts.ConsecutiveSuccesses++
	b.counts.ConsecutiveFailures = 0
	if state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.cfg.MaxProbes {
		b.setState(StateClosed, now)
	}
}

func (b *Breaker) onFailure(state State, now time.Time) {
	b.counts.Failures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
	switch state {
	case StateClosed:
		if b.cfg.TripAfter(b.counts) {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) currentState(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.toNewGeneration(now)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	from := b.state
	b.state = state
	b.toNewGeneration(now)
	b.logger.Warn("state change", "from", from.String(), "to", state.String())
}

func (b *Breaker) toNewGeneration(now time.Time) {
	b.generation++
	b.counts = Counts{}
	switch b.state {
	case StateClosed:
		b.expiry = now.Add(b.cfg.Interval)
	case StateOpen:
		b.expiry = now.Add(b.cfg.Cooldown)
	default:
		b.expiry = time.Time{}
	}
}
