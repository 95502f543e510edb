package datasource

import (
	"sync"
	"time"
)

// breaker opens after threshold consecutive failures and rejects calls until
// the recovery window passes.
type breaker struct {
	mu           sync.Mutex
	threshold    int
	recovery     time.Duration
	failureCount int
	openUntil    time.Time
	tripCount    int
	now          func() time.Time
}

func newBreaker(threshold int, recovery time.Duration) *breaker {
	if threshold < 1 {
		threshold = 1
	}
	if recovery <= 0 {
		recovery = time.Second
	}
	return &breaker{threshold: threshold, recovery: recovery, now: time.Now}
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openUntil.IsZero() || !b.now().Before(b.openUntil)
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	b.failureCount = 0
	b.openUntil = time.Time{}
	b.mu.Unlock()
}

// recordFailure returns true when this failure tripped the circuit.
func (b *breaker) recordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	if b.failureCount >= b.threshold {
		b.tripCount++
		b.failureCount = 0
		b.openUntil = b.now().Add(b.recovery)
		return true
	}
	return false
}

func (b *breaker) trips() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripCount
}
