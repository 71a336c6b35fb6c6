package agengine

import (
	"context"
	"time"
)

// RoundTimer starts the per-phase timers of a round.
//
// Each method returns a channel that is closed when the timer elapses,
// and a cancel function that prevents a not-yet-elapsed timer from firing.
// The engine always cancels a timer before starting another.
type RoundTimer interface {
	ProposeTimer(ctx context.Context, round uint64) (<-chan struct{}, func())
	PrepareTimer(ctx context.Context, round uint64) (<-chan struct{}, func())
	CommitTimer(ctx context.Context, round uint64) (<-chan struct{}, func())
}

// TimeoutStrategy determines the duration of each phase timer for a round.
type TimeoutStrategy interface {
	ProposeTimeout(round uint64) time.Duration
	PrepareTimeout(round uint64) time.Duration
	CommitTimeout(round uint64) time.Duration
}

// LinearTimeoutStrategy grows each timeout by a fixed increment per round.
// Zero fields are replaced with the defaults documented on each field.
type LinearTimeoutStrategy struct {
	// T0. Default 3s.
	ProposeBase time.Duration
	// Default 500ms.
	ProposeIncrement time.Duration

	// T1. Default 1s.
	PrepareBase time.Duration
	// Default 500ms.
	PrepareIncrement time.Duration

	// T2. Default 1s.
	CommitBase time.Duration
	// Default 500ms.
	CommitIncrement time.Duration
}

func (s LinearTimeoutStrategy) ProposeTimeout(round uint64) time.Duration {
	return linear(s.ProposeBase, 3*time.Second, s.ProposeIncrement, 500*time.Millisecond, round)
}

func (s LinearTimeoutStrategy) PrepareTimeout(round uint64) time.Duration {
	return linear(s.PrepareBase, time.Second, s.PrepareIncrement, 500*time.Millisecond, round)
}

func (s LinearTimeoutStrategy) CommitTimeout(round uint64) time.Duration {
	return linear(s.CommitBase, time.Second, s.CommitIncrement, 500*time.Millisecond, round)
}

func linear(base, defBase, inc, defInc time.Duration, round uint64) time.Duration {
	if base == 0 {
		base = defBase
	}
	if inc == 0 {
		inc = defInc
	}
	return base + time.Duration(round)*inc
}

// StandardRoundTimer is the wall-clock [RoundTimer].
type StandardRoundTimer struct {
	s TimeoutStrategy
}

// NewStandardRoundTimer returns a StandardRoundTimer using s for durations.
func NewStandardRoundTimer(s TimeoutStrategy) StandardRoundTimer {
	return StandardRoundTimer{s: s}
}

func (t StandardRoundTimer) ProposeTimer(ctx context.Context, round uint64) (<-chan struct{}, func()) {
	return t.start(ctx, t.s.ProposeTimeout(round))
}

func (t StandardRoundTimer) PrepareTimer(ctx context.Context, round uint64) (<-chan struct{}, func()) {
	return t.start(ctx, t.s.PrepareTimeout(round))
}

func (t StandardRoundTimer) CommitTimer(ctx context.Context, round uint64) (<-chan struct{}, func()) {
	return t.start(ctx, t.s.CommitTimeout(round))
}

func (StandardRoundTimer) start(ctx context.Context, d time.Duration) (<-chan struct{}, func()) {
	ch := make(chan struct{})
	tm := time.AfterFunc(d, func() {
		close(ch)
	})

	// Release the timer on teardown even if the kernel never cancels it.
	stop := context.AfterFunc(ctx, func() {
		tm.Stop()
	})

	return ch, func() {
		tm.Stop()
		stop()
	}
}
