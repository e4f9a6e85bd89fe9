// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

// Package breaker guards each catalogue source with a circuit breaker so
// a failing remote API stops consuming rate limit, quota, and wall-clock
// time. One breaker per source; the blacklist in internal/cache gates
// individual identifiers and is independent of the breaker.
//
// DETERMINISM NOTE: the breaker uses real time (via sony/gobreaker) for
// its recovery timeout. The timing only decides when to probe a failing
// dependency again, never data integrity; tests use short timeouts.
package breaker

import (
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/redundarr/redundarr/internal/logging"
	"github.com/redundarr/redundarr/internal/metrics"
)

// ErrOpen is returned when the breaker rejects a call without running it.
// Callers skip the source for this attempt; the guard state persists
// across lookups within the process.
var ErrOpen = errors.New("circuit breaker open")

// State is the breaker's position in the closed/half-open/open cycle.
type State int

// State values, ordered by metric encoding.
const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String implements fmt.Stringer for log and diagnostics output.
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

// Defaults match the reconciliation engine's tuning: three consecutive
// failures open the circuit, one probe is allowed after a minute.
const (
	DefaultFailureThreshold = 3
	DefaultRecoveryTimeout  = 60 * time.Second
)

// Breaker wraps sony/gobreaker with consecutive-failure tripping and a
// single half-open probe, which mirrors the engine's contract: after
// failureThreshold consecutive failures no call reaches the source until
// recoveryTimeout has elapsed, then exactly one attempt decides between
// closing and re-opening.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[any]
}

// New creates a breaker for the named source. threshold <= 0 and
// timeout <= 0 fall back to the defaults.
func New(name string, threshold int, timeout time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if timeout <= 0 {
		timeout = DefaultRecoveryTimeout
	}

	metrics.BreakerState.WithLabelValues(name).Set(0)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // a single probe decides the half-open outcome
		Interval:    0, // counts reset only on state change
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromState := fromGobreaker(from)
			toState := fromGobreaker(to)
			logging.Info().
				Str("source", name).
				Str("from", fromState.String()).
				Str("to", toState.String()).
				Msg("circuit breaker state transition")
			metrics.BreakerState.WithLabelValues(name).Set(float64(toState))
			metrics.BreakerTransitions.WithLabelValues(name, fromState.String(), toState.String()).Inc()
		},
	}

	return &Breaker{
		name: name,
		cb:   gobreaker.NewCircuitBreaker[any](settings),
	}
}

// Execute runs fn under the breaker. When the circuit is open (or the
// half-open probe slot is taken) fn is not invoked and ErrOpen is
// returned; otherwise fn's error is recorded and propagated unchanged.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.BreakerRejections.WithLabelValues(b.name).Inc()
			return nil, fmt.Errorf("%s: %w", b.name, ErrOpen)
		}
		return nil, err
	}
	return result, nil
}

// Do runs fn under breaker b and casts the result. It keeps call sites
// typed without each source client repeating the assertion.
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	result, err := b.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker %s: unexpected result type %T", b.name, result)
	}
	return typed, nil
}

// State reports the breaker's current state.
func (b *Breaker) State() State {
	return fromGobreaker(b.cb.State())
}

// ConsecutiveFailures reports the current consecutive failure count, for
// diagnostics output.
func (b *Breaker) ConsecutiveFailures() int {
	return int(b.cb.Counts().ConsecutiveFailures)
}

// Name returns the source name the breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}
