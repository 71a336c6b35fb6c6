package agmemstore

import (
	"context"
	"sync"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agstore"
)

type RoundStateStore struct {
	mu     sync.RWMutex
	states map[agconsensus.SessionID]agconsensus.RoundState
}

func NewRoundStateStore() *RoundStateStore {
	return &RoundStateStore{
		states: make(map[agconsensus.SessionID]agconsensus.RoundState),
	}
}

func (s *RoundStateStore) SaveRoundState(
	_ context.Context, sid agconsensus.SessionID, rs agconsensus.RoundState,
) error {
	if rs.LockProof != nil {
		p := rs.LockProof.Clone()
		rs.LockProof = &p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[sid] = rs
	return nil
}

func (s *RoundStateStore) LoadRoundState(
	_ context.Context, sid agconsensus.SessionID,
) (agconsensus.RoundState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rs, ok := s.states[sid]
	if !ok {
		return agconsensus.RoundState{}, agstore.ErrNotFound
	}
	return rs, nil
}
