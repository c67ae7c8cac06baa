// Package breaker wraps outbound provider HTTP calls with a circuit
// breaker, per spec §4.3: CLOSED/OPEN/HALF_OPEN state machine, opening after
// a run of consecutive failures and probing recovery after a cooldown.
package breaker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
)

// Breaker wraps one named circuit around a single outbound dependency (one
// provider platform's HTTP client).
type Breaker struct {
	cb *gobreaker.CircuitBreaker[[]byte]
}

// New builds a Breaker named for logging/metrics. failureThreshold is the
// number of consecutive failures that trips the circuit open;
// recoveryTimeout is how long the circuit stays open before allowing a
// single half-open probe request through.
func New(name string, failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     recoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failureThreshold)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("breaker_state_change")
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker[[]byte](settings)}
}

// ErrOpen is returned when a call is rejected because the circuit is open.
var ErrOpen = gobreaker.ErrOpenState

// Call executes fn through the breaker. When the circuit is open, fn is
// never invoked and ErrOpen is returned immediately.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	out, err := b.cb.Execute(func() ([]byte, error) {
		return fn(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("breaker: %w", err)
	}
	return out, nil
}

// State reports the breaker's current state, used by readiness checks.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
