package circuit

import (
	"sync"
	"time"

	"marlin/internal/logger"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker guards a remote dependency. After threshold consecutive
// failures it opens and rejects calls for the cooldown period; it then
// admits exactly one trial call, whose outcome decides whether the
// breaker closes again or reopens for another cooldown.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
	opens    int
}

func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Allow reports whether a call may proceed. While half-open, only the
// first caller after the cooldown gets through; the rest are rejected
// until that call reports back.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) < b.cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		logger.Warnf("breaker %s half-open, admitting one call", b.name)
		return true
	default: // StateHalfOpen
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		logger.Infof("breaker %s closed after successful trial call", b.name)
	}
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.openLocked()
		}
	case StateHalfOpen:
		// The trial call failed; back to a full cooldown.
		b.openLocked()
	}
}

func (b *Breaker) openLocked() {
	b.state = StateOpen
	b.openedAt = time.Now()
	b.probing = false
	b.opens++
	logger.Warnf("breaker %s opened (failures=%d/%d, cooldown=%s)",
		b.name, b.failures, b.threshold, b.cooldown)
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Opens counts how many times the breaker has tripped since creation.
func (b *Breaker) Opens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}
