package circuitbreaker

import (
	"go.uber.org/zap"

	"github.com/seweryn-pilarska/email-reply/pkg/metrics"
)

// Observed wires state changes into the circuit_breaker_state gauge and the
// given logger.
func Observed(name string, config Config, logger *zap.Logger) *CircuitBreaker {
	cb := NewCircuitBreaker(name, config)
	metrics.SetCircuitBreakerState(name, int(StateClosed))
	cb.OnStateChange = func(name string, from, to State) {
		metrics.SetCircuitBreakerState(name, int(to))
		if logger != nil {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
	}
	return cb
}
