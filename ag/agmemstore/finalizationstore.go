package agmemstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agstore"
)

type FinalizationStore struct {
	mu   sync.RWMutex
	fins map[agconsensus.SessionID]agconsensus.JustifiedCandidate
}

func NewFinalizationStore() *FinalizationStore {
	return &FinalizationStore{
		fins: make(map[agconsensus.SessionID]agconsensus.JustifiedCandidate),
	}
}

func (s *FinalizationStore) SaveFinalization(
	_ context.Context,
	sid agconsensus.SessionID,
	c agconsensus.Candidate,
	j agconsensus.Justification,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if have, ok := s.fins[sid]; ok {
		if have.Justification.Digest == j.Digest {
			return nil
		}
		return fmt.Errorf(
			"session %q already finalized %s: %w",
			sid, have.Justification.Digest.Short(), agstore.ErrConflict,
		)
	}

	s.fins[sid] = agconsensus.JustifiedCandidate{Candidate: c, Justification: j.Clone()}
	return nil
}

func (s *FinalizationStore) LoadFinalization(
	_ context.Context, sid agconsensus.SessionID,
) (agconsensus.Candidate, agconsensus.Justification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jc, ok := s.fins[sid]
	if !ok {
		return agconsensus.Candidate{}, agconsensus.Justification{}, agstore.ErrNotFound
	}
	return jc.Candidate, jc.Justification, nil
}
