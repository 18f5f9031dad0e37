package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sahelpay/sahelpay/internal/fees"
	"github.com/sahelpay/sahelpay/internal/gateway"
	"github.com/sahelpay/sahelpay/internal/ledger"
	"github.com/sahelpay/sahelpay/internal/reference"
)

// testClock is an injectable clock the expiry tests can advance.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingNotifier captures notification events per user.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, _ uuid.UUID, event, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) has(event string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == event {
			return true
		}
	}
	return false
}

// newTestDeps builds services over the in-memory store with a fee-free
// schedule and an always-succeeding gateway. Tests that exercise fees or
// delivery failures swap those fields.
func newTestDeps() (*Deps, *ledger.Memory, *testClock, *recordingNotifier) {
	store := ledger.NewMemory()
	clock := newTestClock()
	notifier := &recordingNotifier{}
	deps := &Deps{
		Store:    store,
		Refs:     reference.NewSeeded(1),
		Fees:     fees.NewSchedule(nil),
		Gateway:  gateway.NewMock(),
		Notifier: notifier,
		Policy:   DefaultPolicy(),
		Now:      clock.Now,
	}
	return deps, store, clock, notifier
}
