// Package agenginetest contains test doubles for the agreement engine.
package agenginetest

import (
	"context"
	"sync"
)

// MockRoundTimer is an [agengine.RoundTimer] whose timers
// only elapse when the test says so.
type MockRoundTimer struct {
	mu sync.Mutex

	active map[timerKey]*mockTimer
}

type timerKind uint8

const (
	proposeTimer timerKind = iota
	prepareTimer
	commitTimer
)

type timerKey struct {
	kind  timerKind
	round uint64
}

type mockTimer struct {
	ch chan struct{}
}

func NewMockRoundTimer() *MockRoundTimer {
	return &MockRoundTimer{
		active: make(map[timerKey]*mockTimer),
	}
}

func (t *MockRoundTimer) ProposeTimer(_ context.Context, round uint64) (<-chan struct{}, func()) {
	return t.start(timerKey{kind: proposeTimer, round: round})
}

func (t *MockRoundTimer) PrepareTimer(_ context.Context, round uint64) (<-chan struct{}, func()) {
	return t.start(timerKey{kind: prepareTimer, round: round})
}

func (t *MockRoundTimer) CommitTimer(_ context.Context, round uint64) (<-chan struct{}, func()) {
	return t.start(timerKey{kind: commitTimer, round: round})
}

func (t *MockRoundTimer) start(k timerKey) (<-chan struct{}, func()) {
	mt := &mockTimer{ch: make(chan struct{})}

	t.mu.Lock()
	t.active[k] = mt
	t.mu.Unlock()

	return mt.ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.active[k] == mt {
			delete(t.active, k)
		}
	}
}

// ElapseProposeTimer fires the active propose timer for round.
// It reports false if no such timer is running,
// because it was never started, was cancelled, or already elapsed.
func (t *MockRoundTimer) ElapseProposeTimer(round uint64) bool {
	return t.elapse(timerKey{kind: proposeTimer, round: round})
}

// ElapsePrepareTimer is like [*MockRoundTimer.ElapseProposeTimer] for the prepare timer.
func (t *MockRoundTimer) ElapsePrepareTimer(round uint64) bool {
	return t.elapse(timerKey{kind: prepareTimer, round: round})
}

// ElapseCommitTimer is like [*MockRoundTimer.ElapseProposeTimer] for the commit timer.
func (t *MockRoundTimer) ElapseCommitTimer(round uint64) bool {
	return t.elapse(timerKey{kind: commitTimer, round: round})
}

func (t *MockRoundTimer) elapse(k timerKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	mt, ok := t.active[k]
	if !ok {
		return false
	}
	delete(t.active, k)
	close(mt.ch)
	return true
}
