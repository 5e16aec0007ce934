// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

package security_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/corvexa/watchtower/internal/security"
	"github.com/corvexa/watchtower/internal/store"
)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingBus captures published events for assertions.
type recordingBus struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	Topic   security.Topic
	Payload any
}

func (b *recordingBus) Publish(_ context.Context, topic security.Topic, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, publishedEvent{Topic: topic, Payload: payload})
}

func (b *recordingBus) byEvent(event string) []publishedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []publishedEvent
	for _, e := range b.events {
		if e.Topic.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// fixedCounter returns constant event counts.
type fixedCounter struct {
	total, errs, actors, violations uint32
}

func (c fixedCounter) Counts(context.Context, string, time.Time, time.Time) (uint32, uint32, uint32, uint32, error) {
	return c.total, c.errs, c.actors, c.violations, nil
}

// denyAll rejects every authorization request.
type denyAll struct{}

func (denyAll) Require(context.Context, string, string, string) error {
	return errors.New("denied")
}

// allowAll grants every authorization request.
type allowAll struct{}

func (allowAll) Require(context.Context, string, string, string) error { return nil }

// initializedStore returns a memory store seeded with an admin and config.
func initializedStore(cfg *security.Config) *store.MemoryStore {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	if cfg == nil {
		cfg = security.DefaultConfig()
	}
	_ = ms.SetAdmin(ctx, "admin-1")
	_ = ms.SetConfig(ctx, cfg)
	return ms
}
