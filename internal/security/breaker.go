// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/corvexa/watchtower/internal/logging"
	"github.com/corvexa/watchtower/internal/metrics"
)

// CircuitBreaker drives the per-(contract, function) Closed/Open/HalfOpen
// state machine. Check and record are a single atomic call: the caller
// invokes CheckAndRecord after the guarded operation with that operation's
// outcome, and the return value says whether this invocation was permitted
// to run. The state read-modify-write for one key is serialized; different
// keys proceed in parallel.
type CircuitBreaker struct {
	store Store
	bus   Bus
	clock Clock

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCircuitBreaker creates a circuit breaker over the given store and bus.
// A nil bus suppresses event publication; a nil clock uses the system clock.
func NewCircuitBreaker(store Store, bus Bus, clock Clock) *CircuitBreaker {
	if bus == nil {
		bus = NoopBus{}
	}
	if clock == nil {
		clock = SystemClock
	}
	return &CircuitBreaker{
		store: store,
		bus:   bus,
		clock: clock,
		locks: make(map[string]*sync.Mutex),
	}
}

// keyLock returns the mutex serializing operations on one breaker record.
func (b *CircuitBreaker) keyLock(contract, function string) *sync.Mutex {
	key := contract + "\x00" + function
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[key]
	if !ok {
		l = &sync.Mutex{}
		b.locks[key] = l
	}
	return l
}

// CheckAndRecord gates a guarded call and records its outcome. It returns
// true when the call was allowed to run, false when it was denied. A breaker
// never errors for normal operation; errors indicate a missing config
// (ErrNotInitialized) or a failing store.
func (b *CircuitBreaker) CheckAndRecord(ctx context.Context, contract, function string, success bool) (bool, error) {
	cfg, ok, err := b.store.Config(ctx)
	if err != nil {
		return false, fmt.Errorf("load config: %w", err)
	}
	if !ok {
		return false, ErrNotInitialized
	}

	lock := b.keyLock(contract, function)
	lock.Lock()
	defer lock.Unlock()

	state, ok, err := b.store.Breaker(ctx, contract, function)
	if err != nil {
		return false, fmt.Errorf("load breaker state: %w", err)
	}
	if !ok {
		// A never-seen breaker is an implicit fresh Closed state seeded
		// from current config thresholds.
		state = NewBreakerState(contract, function, cfg.CircuitBreakerThreshold, cfg.CircuitBreakerTimeout)
	}

	now := b.clock.Now()
	state.LastChecked = now

	switch state.State {
	case CircuitOpen:
		if state.OpenedAt == nil {
			// Structurally inconsistent record. Fail safe: deny.
			logging.Warn().
				Str("contract", contract).
				Str("function", function).
				Msg("open breaker without opened_at, denying")
			return b.denied(contract, function)
		}
		if now.Sub(*state.OpenedAt) <= state.Timeout {
			return b.denied(contract, function)
		}
		// Timeout elapsed: let this call through as the recovery probe. The
		// probe's own outcome is assessed by the next invocation in HalfOpen.
		state.State = CircuitHalfOpen
		if err := b.store.SetBreaker(ctx, state); err != nil {
			return false, fmt.Errorf("save breaker state: %w", err)
		}
		b.emitStateChanged(ctx, state, now)
		return true, nil

	case CircuitHalfOpen:
		if success {
			state.State = CircuitClosed
			state.FailureCount = 0
			state.OpenedAt = nil
			if err := b.store.SetBreaker(ctx, state); err != nil {
				return false, fmt.Errorf("save breaker state: %w", err)
			}
			b.emitClosed(ctx, state, now)
			b.emitStateChanged(ctx, state, now)
			return true, nil
		}
		state.State = CircuitOpen
		openedAt := now
		state.OpenedAt = &openedAt
		state.FailureCount++
		state.LastFailure = now
		if err := b.store.SetBreaker(ctx, state); err != nil {
			return false, fmt.Errorf("save breaker state: %w", err)
		}
		b.emitOpened(ctx, state, now)
		b.emitStateChanged(ctx, state, now)
		return b.denied(contract, function)

	default: // CircuitClosed
		if !success {
			state.FailureCount++
			state.LastFailure = now
			if state.FailureCount >= state.FailureThreshold {
				state.State = CircuitOpen
				openedAt := now
				state.OpenedAt = &openedAt
				if err := b.store.SetBreaker(ctx, state); err != nil {
					return false, fmt.Errorf("save breaker state: %w", err)
				}
				b.emitOpened(ctx, state, now)
				b.emitStateChanged(ctx, state, now)
				return b.denied(contract, function)
			}
			if err := b.store.SetBreaker(ctx, state); err != nil {
				return false, fmt.Errorf("save breaker state: %w", err)
			}
			return true, nil
		}
		if state.FailureCount > 0 {
			state.FailureCount = 0
			if err := b.store.SetBreaker(ctx, state); err != nil {
				return false, fmt.Errorf("save breaker state: %w", err)
			}
		}
		return true, nil
	}
}

// Reset forces a breaker back to Closed from any prior state. It is the only
// externally triggered transition and is reserved for admin use; callers
// gate it through Service.ResetCircuitBreaker.
func (b *CircuitBreaker) Reset(ctx context.Context, contract, function string) error {
	_, ok, err := b.store.Config(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !ok {
		return ErrNotInitialized
	}

	lock := b.keyLock(contract, function)
	lock.Lock()
	defer lock.Unlock()

	state, ok, err := b.store.Breaker(ctx, contract, function)
	if err != nil {
		return fmt.Errorf("load breaker state: %w", err)
	}
	if !ok {
		return ErrCircuitBreakerNotFound
	}

	now := b.clock.Now()
	state.State = CircuitClosed
	state.FailureCount = 0
	state.OpenedAt = nil
	state.LastChecked = now
	if err := b.store.SetBreaker(ctx, state); err != nil {
		return fmt.Errorf("save breaker state: %w", err)
	}

	b.emitClosed(ctx, state, now)
	logging.Info().
		Str("contract", contract).
		Str("function", function).
		Msg("circuit breaker manually reset")
	return nil
}

// State returns the current breaker record, seeding a fresh Closed record
// from config when none is stored yet.
func (b *CircuitBreaker) State(ctx context.Context, contract, function string) (*BreakerState, error) {
	cfg, ok, err := b.store.Config(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if !ok {
		return nil, ErrNotInitialized
	}

	state, ok, err := b.store.Breaker(ctx, contract, function)
	if err != nil {
		return nil, fmt.Errorf("load breaker state: %w", err)
	}
	if !ok {
		return NewBreakerState(contract, function, cfg.CircuitBreakerThreshold, cfg.CircuitBreakerTimeout), nil
	}
	return state, nil
}

func (b *CircuitBreaker) denied(contract, function string) (bool, error) {
	metrics.BreakerDenials.WithLabelValues(contract, function).Inc()
	return false, nil
}

func (b *CircuitBreaker) emitOpened(ctx context.Context, s *BreakerState, now time.Time) {
	b.bus.Publish(ctx, topic(EventCircuitOpened, s.Contract), CircuitEvent{
		Function:     s.Function,
		FailureCount: s.FailureCount,
		At:           now,
	})
	logging.Warn().
		Str("contract", s.Contract).
		Str("function", s.Function).
		Uint32("failures", s.FailureCount).
		Msg("circuit breaker opened")
}

func (b *CircuitBreaker) emitClosed(ctx context.Context, s *BreakerState, now time.Time) {
	b.bus.Publish(ctx, topic(EventCircuitClosed, s.Contract), CircuitEvent{
		Function: s.Function,
		At:       now,
	})
}

func (b *CircuitBreaker) emitStateChanged(ctx context.Context, s *BreakerState, now time.Time) {
	metrics.BreakerTransitions.WithLabelValues(s.Contract, string(s.State)).Inc()
	b.bus.Publish(ctx, topic(EventCircuitStateChanged, s.Contract), CircuitEvent{
		Function: s.Function,
		State:    string(s.State),
		At:       now,
	})
}
