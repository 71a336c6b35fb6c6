// Package agimport maintains the chain of finalized candidates.
//
// Candidates enter through [*Importer.Import] once their justification has been checked,
// or through [*Importer.CheckAndImport] which checks it first
// against the validator set of the candidate's session.
// Subscribers learn about new candidates as they are imported.
package agimport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agjustify"
	"github.com/gordian-engine/gagree/ag/agstore"
)

// Importer imports justified candidates into a [agstore.CandidateStore].
// Imports are serialized.
type Importer struct {
	log *slog.Logger

	store agstore.CandidateStore
	reg   agconsensus.ValidatorSetRegistry

	mu sync.Mutex

	bestHeight uint64
	hasBest    bool

	subs map[*subscriber]struct{}
}

type subscriber struct {
	ch   chan ImportNotification
	stop func() bool
}

// New returns an Importer backed by store.
// The registry is only consulted by CheckAndImport.
func New(
	ctx context.Context,
	log *slog.Logger,
	store agstore.CandidateStore,
	reg agconsensus.ValidatorSetRegistry,
) (*Importer, error) {
	i := &Importer{
		log:   log,
		store: store,
		reg:   reg,
		subs:  make(map[*subscriber]struct{}),
	}

	best, err := store.LoadBest(ctx)
	switch {
	case err == nil:
		i.bestHeight = best.Candidate.Height
		i.hasBest = true
	case errors.Is(err, agstore.ErrNotFound):
		// Empty chain.
	default:
		return nil, fmt.Errorf("failed to load best candidate: %w", err)
	}

	return i, nil
}

// Import stores jc as part of session sid's chain.
// The justification must already have been checked;
// see [agjustify.CheckCandidate].
//
// A candidate whose parent is known bad is itself marked bad.
// Only genesis imports may have an unknown parent.
func (i *Importer) Import(
	ctx context.Context, origin Origin, sid agconsensus.SessionID, jc agconsensus.JustifiedCandidate,
) (ImportResult, error) {
	c := jc.Candidate
	d := c.Digest()

	i.mu.Lock()
	defer i.mu.Unlock()

	bad, err := i.store.IsKnownBad(ctx, d)
	if err != nil {
		return 0, fmt.Errorf("failed to check known bad status: %w", err)
	}
	if bad {
		return ImportResultKnownBad, nil
	}

	_, _, err = i.store.LoadCandidate(ctx, d)
	if err == nil {
		return ImportResultAlreadyInChain, nil
	}
	if !errors.Is(err, agstore.ErrNotFound) {
		return 0, fmt.Errorf("failed to load candidate: %w", err)
	}

	if origin != OriginGenesis {
		parentBad, err := i.store.IsKnownBad(ctx, c.Parent)
		if err != nil {
			return 0, fmt.Errorf("failed to check parent known bad status: %w", err)
		}
		if parentBad {
			if err := i.store.SetKnownBad(ctx, d); err != nil {
				return 0, fmt.Errorf("failed to mark candidate bad: %w", err)
			}
			i.log.Info("Rejected candidate with bad parent", "sid", sid, "digest", d, "parent", c.Parent)
			return ImportResultKnownBad, nil
		}

		_, _, err = i.store.LoadCandidate(ctx, c.Parent)
		if errors.Is(err, agstore.ErrNotFound) {
			return ImportResultUnknownParent, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to load parent: %w", err)
		}
	}

	if err := i.store.SaveCandidate(ctx, sid, jc); err != nil {
		return 0, fmt.Errorf("failed to save candidate: %w", err)
	}

	isNewBest := !i.hasBest || c.Height > i.bestHeight
	if isNewBest {
		i.bestHeight = c.Height
		i.hasBest = true
	}

	i.log.Info(
		"Imported candidate",
		"sid", sid, "digest", d, "height", c.Height, "origin", origin, "new_best", isNewBest,
	)

	if origin.notifies() {
		i.notify(ImportNotification{
			Digest:    d,
			Origin:    origin,
			Candidate: jc,
			IsNewBest: isNewBest,
		})
	}

	return ImportResultImported, nil
}

// CheckAndImport verifies j against the validator set
// that the registry holds for sid, and then imports the candidate.
//
// A failed verification returns an error wrapping [agjustify.ErrBadJustification]
// and leaves the candidate unmarked; it may still arrive later with a valid justification.
func (i *Importer) CheckAndImport(
	ctx context.Context,
	origin Origin,
	sid agconsensus.SessionID,
	c agconsensus.Candidate,
	j agconsensus.Justification,
) (ImportResult, error) {
	vs, err := i.reg.CurrentSnapshot(ctx, sid)
	if err != nil {
		return 0, fmt.Errorf("failed to get validator set for session %q: %w", sid, err)
	}

	jc, err := agjustify.CheckCandidate(sid, vs, c, j)
	if err != nil {
		i.log.Debug("Rejected candidate justification", "sid", sid, "digest", c.Digest(), "err", err)
		return 0, err
	}

	return i.Import(ctx, origin, sid, jc)
}

// MarkBad records d as known bad, along with every descendant imported afterward.
// It is for candidates that are invalid in their own right,
// as decided by the surrounding system.
func (i *Importer) MarkBad(ctx context.Context, d agconsensus.Digest) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.store.SetKnownBad(ctx, d); err != nil {
		return fmt.Errorf("failed to mark candidate bad: %w", err)
	}
	i.log.Info("Marked candidate bad", "digest", d)
	return nil
}

// Status reports what the importer knows about d.
func (i *Importer) Status(ctx context.Context, d agconsensus.Digest) (CandidateStatus, error) {
	bad, err := i.store.IsKnownBad(ctx, d)
	if err != nil {
		return 0, err
	}
	if bad {
		return StatusKnownBad, nil
	}

	_, _, err = i.store.LoadCandidate(ctx, d)
	switch {
	case err == nil:
		return StatusInChain, nil
	case errors.Is(err, agstore.ErrNotFound):
		return StatusUnknown, nil
	default:
		return 0, err
	}
}

// BestHeight returns the greatest imported height,
// and false if nothing has been imported.
func (i *Importer) BestHeight() (uint64, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.bestHeight, i.hasBest
}

// Subscribe returns a channel of notifications for subsequent imports.
//
// The channel is closed when ctx is cancelled,
// or when the subscriber falls more than bufSize notifications behind;
// a dropped subscriber must subscribe again.
func (i *Importer) Subscribe(ctx context.Context, bufSize int) <-chan ImportNotification {
	s := &subscriber{ch: make(chan ImportNotification, bufSize)}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.subs[s] = struct{}{}
	s.stop = context.AfterFunc(ctx, func() {
		i.mu.Lock()
		defer i.mu.Unlock()
		i.drop(s)
	})

	return s.ch
}

// notify must be called with i.mu held.
func (i *Importer) notify(n ImportNotification) {
	for s := range i.subs {
		select {
		case s.ch <- n:
		default:
			i.log.Warn("Dropping slow import subscriber", "digest", n.Digest)
			s.stop()
			i.drop(s)
		}
	}
}

// drop must be called with i.mu held.
func (i *Importer) drop(s *subscriber) {
	if _, ok := i.subs[s]; !ok {
		return
	}
	delete(i.subs, s)
	close(s.ch)
}

// FinalizationHandler returns a handler that imports each finalization
// of session sid with [OriginConsensusBroadcast].
// The justification was built or verified by the engine,
// so it is not checked again.
//
// A finalization whose candidate body the engine never learned
// cannot be imported, and is only logged.
func (i *Importer) FinalizationHandler(sid agconsensus.SessionID) agconsensus.FinalizationHandler {
	return agconsensus.FinalizationHandlerFunc(func(
		ctx context.Context, c agconsensus.Candidate, j agconsensus.Justification,
	) {
		if c.Digest() != j.Digest {
			i.log.Warn(
				"Finalized candidate body unknown; not importing",
				"sid", sid, "digest", j.Digest,
			)
			return
		}

		res, err := i.Import(ctx, OriginConsensusBroadcast, sid, agconsensus.JustifiedCandidate{
			Candidate:     c,
			Justification: j,
		})
		if err != nil {
			i.log.Warn("Failed to import finalized candidate", "sid", sid, "digest", j.Digest, "err", err)
			return
		}
		if res != ImportResultImported {
			i.log.Info("Finalized candidate not imported", "sid", sid, "digest", j.Digest, "result", res)
		}
	})
}
