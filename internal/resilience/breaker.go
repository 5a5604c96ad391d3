package resilience

import (
	"time"

	"github.com/sony/gobreaker"
)

// StorageBreaker wraps the storage adapter's write path so repeated
// failures trip the breaker and fail fast instead of piling up retries
// against a stuck embedded store. Every error returned through Execute
// counts as a failure, not only StorageUnavailable/Busy.
type StorageBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewStorageBreaker creates a breaker that opens after consecutiveFailures
// in a row and stays open for cooldown before trying a half-open probe.
func NewStorageBreaker(name string, consecutiveFailures uint32, cooldown time.Duration) *StorageBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
	}
	return &StorageBreaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker. When the breaker is open it returns
// gobreaker.ErrOpenState without calling fn.
func (b *StorageBreaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return b.cb.Execute(fn)
}

// State reports the breaker's current state, mostly for health checks.
func (b *StorageBreaker) State() gobreaker.State {
	return b.cb.State()
}
