package client

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// NewBreaker builds a circuit breaker for upstream calls. It trips after
// failureThreshold consecutive failures and probes again after timeout.
// Not-found and credential errors are terminal per request but say nothing
// about upstream health, so they do not count as failures.
func NewBreaker(failureThreshold uint32, timeout time.Duration, onStateChange func(from, to gobreaker.State)) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "weather_upstream",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return errors.Is(err, ErrCityNotFound) || errors.Is(err, ErrInvalidAPIKey)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if onStateChange != nil {
				onStateChange(from, to)
			}
		},
	})
}
