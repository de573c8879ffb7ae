// Package clock is the process time source. Code that stamps journal rows,
// events or rate-limit windows reads the time here so tests can pin it.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// MockClock is a manually driven clock for tests.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock returns a clock frozen at t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

type holder struct{ c Clock }

var active atomic.Pointer[holder]

func init() {
	active.Store(&holder{systemClock{}})
}

// Use installs c as the process clock until the returned func is called.
func Use(c Clock) (restore func()) {
	prev := active.Swap(&holder{c})
	return func() { active.Store(prev) }
}

// Now returns the current time.
func Now() time.Time {
	return active.Load().c.Now()
}

// Since returns the time elapsed since t.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}
