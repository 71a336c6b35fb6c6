package agmemstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agstore"
)

type StatementStore struct {
	mu   sync.RWMutex
	logs map[agconsensus.SessionID]map[uint64]agconsensus.SignedStatement
}

func NewStatementStore() *StatementStore {
	return &StatementStore{
		logs: make(map[agconsensus.SessionID]map[uint64]agconsensus.SignedStatement),
	}
}

func (s *StatementStore) AppendStatement(
	_ context.Context, sid agconsensus.SessionID, seq uint64, st agconsensus.SignedStatement,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[sid]
	if log == nil {
		log = make(map[uint64]agconsensus.SignedStatement)
		s.logs[sid] = log
	}

	if have, ok := log[seq]; ok {
		if have.Fingerprint(sid) == st.Fingerprint(sid) {
			return nil
		}
		return fmt.Errorf("statement at position %d: %w", seq, agstore.ErrConflict)
	}

	log[seq] = st
	return nil
}

func (s *StatementStore) LoadStatements(
	_ context.Context, sid agconsensus.SessionID,
) ([]agconsensus.SignedStatement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[sid]
	seqs := make([]uint64, 0, len(log))
	for seq := range log {
		seqs = append(seqs, seq)
	}
	slices.Sort(seqs)

	out := make([]agconsensus.SignedStatement, len(seqs))
	for i, seq := range seqs {
		out[i] = log[seq]
	}
	return out, nil
}
