package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the circuit breaker behavior
type Settings struct {
	// MaxProbes is the number of calls let through while half-open; that
	// many consecutive successes close the circuit again.
	MaxProbes uint32
	// Window is how long the closed state accumulates counts before reset.
	Window time.Duration
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// ShouldTrip decides, after a failure in the closed state, whether to open.
	ShouldTrip func(counts Counts) bool
	// IsFailure classifies a call's error. Errors it rejects count as
	// successes, e.g. a remote 404 means the remote is healthy.
	IsFailure func(err error) bool
	// OnStateChange is called whenever the state changes
	OnStateChange func(name string, from State, to State)
	// Now overrides the clock.
	Now func() time.Time
}

// Counts holds the statistics for the current window
type Counts struct {
	Calls                uint32
	Successes            uint32
	Failures             uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	name     string
	settings Settings

	mu         sync.Mutex
	state      State
	counts     Counts
	deadline   time.Time
	generation uint64
}

// New creates a circuit breaker. Zero settings fall back to one probe, a
// one minute window and cooldown, and tripping after five straight failures.
func New(name string, settings Settings) *Breaker {
	if settings.MaxProbes == 0 {
		settings.MaxProbes = 1
	}
	if settings.Window == 0 {
		settings.Window = time.Minute
	}
	if settings.Cooldown == 0 {
		settings.Cooldown = time.Minute
	}
	if settings.ShouldTrip == nil {
		settings.ShouldTrip = func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 5
		}
	}
	if settings.IsFailure == nil {
		settings.IsFailure = func(err error) bool { return err != nil }
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}

	return &Breaker{
		name:     name,
		settings: settings,
		state:    StateClosed,
		deadline: settings.Now().Add(settings.Window),
	}
}

func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, applying any due transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refresh(b.settings.Now())
}

// Counts returns a copy of the current window's counts.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Allow reserves a call slot. The returned done func must be invoked exactly
// once with the call's error.
func (b *Breaker) Allow() (done func(err error), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.refresh(b.settings.Now()) {
	case StateOpen:
		return nil, ErrCircuitOpen
	case StateHalfOpen:
		if b.counts.Calls >= b.settings.MaxProbes {
			return nil, ErrTooManyRequests
		}
	}

	b.counts.Calls++
	gen := b.generation
	return func(err error) { b.record(gen, err) }, nil
}

// Call runs fn through the breaker.
func Call[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	done, err := b.Allow()
	if err != nil {
		return zero, err
	}

	finished := false
	defer func() {
		if !finished {
			done(errPanicked)
		}
	}()

	v, err := fn()
	finished = true
	done(err)
	return v, err
}

var errPanicked = errors.New("call panicked")

func (b *Breaker) record(gen uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.settings.Now()
	state := b.refresh(now)
	if gen != b.generation {
		// the call straddled a transition; its outcome belongs to a stale window
		return
	}

	if !b.settings.IsFailure(err) {
		b.counts.Successes++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.MaxProbes {
			b.transition(StateClosed, now)
		}
		return
	}

	b.counts.Failures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
	switch state {
	case StateClosed:
		if b.settings.ShouldTrip(b.counts) {
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		b.transition(StateOpen, now)
	}
}

// refresh applies time-based transitions. Caller holds mu.
func (b *Breaker) refresh(now time.Time) State {
	switch b.state {
	case StateClosed:
		if b.deadline.Before(now) {
			b.counts = Counts{}
			b.generation++
			b.deadline = now.Add(b.settings.Window)
		}
	case StateOpen:
		if b.deadline.Before(now) {
			b.transition(StateHalfOpen, now)
		}
	}
	return b.state
}

func (b *Breaker) transition(to State, now time.Time) {
	if b.state == to {
		return
	}

	from := b.state
	b.state = to
	b.counts = Counts{}
	b.generation++

	switch to {
	case StateClosed:
		b.deadline = now.Add(b.settings.Window)
	case StateOpen:
		b.deadline = now.Add(b.settings.Cooldown)
	case StateHalfOpen:
		b.deadline = time.Time{}
	}

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}
