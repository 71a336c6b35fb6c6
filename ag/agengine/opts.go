package agengine

import (
	"errors"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agstore"
)

// Opt is an option for [New].
type Opt func(*options) error

type options struct {
	rt RoundTimer
	ts TimeoutStrategy

	selector agconsensus.ProposerSelector

	verifyWorkers int
	cacheSize     int

	metrics   MetricsCollector
	eqHandler agconsensus.EquivocationHandler
	absentObs AbsentProposerObserver

	finStore agstore.FinalizationStore

	resume bool
}

// WithRoundTimer overrides the wall-clock timer.
// Tests use this with a manually controlled timer.
func WithRoundTimer(rt RoundTimer) Opt {
	return func(o *options) error {
		if rt == nil {
			return errors.New("WithRoundTimer: timer must not be nil")
		}
		o.rt = rt
		return nil
	}
}

// WithTimeoutStrategy sets the strategy used for the default round timer
// and for the deadlines recorded in the round state.
// The default is a zero [LinearTimeoutStrategy].
func WithTimeoutStrategy(ts TimeoutStrategy) Opt {
	return func(o *options) error {
		if ts == nil {
			return errors.New("WithTimeoutStrategy: strategy must not be nil")
		}
		o.ts = ts
		return nil
	}
}

// WithProposerSelector sets the proposer policy; the default is [agconsensus.RoundRobin].
// Every node in the session must use an equivalent selector.
func WithProposerSelector(s agconsensus.ProposerSelector) Opt {
	return func(o *options) error {
		if s == nil {
			return errors.New("WithProposerSelector: selector must not be nil")
		}
		o.selector = s
		return nil
	}
}

// WithVerifyWorkers sets the number of signature verification workers.
// The default is GOMAXPROCS.
func WithVerifyWorkers(n int) Opt {
	return func(o *options) error {
		if n <= 0 {
			return errors.New("WithVerifyWorkers: worker count must be positive")
		}
		o.verifyWorkers = n
		return nil
	}
}

// WithVerifiedCacheSize sets how many verified statements are remembered
// to skip re-verifying relayed duplicates. The default is 4096.
func WithVerifiedCacheSize(n int) Opt {
	return func(o *options) error {
		if n <= 0 {
			return errors.New("WithVerifiedCacheSize: size must be positive")
		}
		o.cacheSize = n
		return nil
	}
}

func WithMetricsCollector(m MetricsCollector) Opt {
	return func(o *options) error {
		o.metrics = m
		return nil
	}
}

// WithEquivocationHandler forwards every newly flagged equivocation to h.
func WithEquivocationHandler(h agconsensus.EquivocationHandler) Opt {
	return func(o *options) error {
		o.eqHandler = h
		return nil
	}
}

func WithAbsentProposerObserver(obs AbsentProposerObserver) Opt {
	return func(o *options) error {
		o.absentObs = obs
		return nil
	}
}

// WithFinalizationStore records the session's finalization durably,
// before the finalization handler is called.
func WithFinalizationStore(s agstore.FinalizationStore) Opt {
	return func(o *options) error {
		o.finStore = s
		return nil
	}
}

// WithResume declares that the session previously ran on this node.
// If resume is true and no round state is persisted,
// [New] fails with [agstore.ErrStateLost] instead of starting fresh.
func WithResume(resume bool) Opt {
	return func(o *options) error {
		o.resume = resume
		return nil
	}
}
