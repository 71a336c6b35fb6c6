package agmemstore

import (
	"context"
	"sync"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agstore"
)

type CandidateStore struct {
	mu sync.RWMutex

	byDigest map[agconsensus.Digest]storedCandidate
	best     agconsensus.Digest
	hasBest  bool

	bad map[agconsensus.Digest]struct{}
}

type storedCandidate struct {
	sid agconsensus.SessionID
	jc  agconsensus.JustifiedCandidate
}

func NewCandidateStore() *CandidateStore {
	return &CandidateStore{
		byDigest: make(map[agconsensus.Digest]storedCandidate),
		bad:      make(map[agconsensus.Digest]struct{}),
	}
}

func (s *CandidateStore) SaveCandidate(
	_ context.Context, sid agconsensus.SessionID, jc agconsensus.JustifiedCandidate,
) error {
	d := jc.Candidate.Digest()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byDigest[d]; ok {
		return nil
	}
	s.byDigest[d] = storedCandidate{sid: sid, jc: jc}

	if !s.hasBest || jc.Candidate.Height > s.byDigest[s.best].jc.Candidate.Height {
		s.best = d
		s.hasBest = true
	}
	return nil
}

func (s *CandidateStore) LoadCandidate(
	_ context.Context, d agconsensus.Digest,
) (agconsensus.SessionID, agconsensus.JustifiedCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.byDigest[d]
	if !ok {
		return "", agconsensus.JustifiedCandidate{}, agstore.ErrNotFound
	}
	return sc.sid, sc.jc, nil
}

func (s *CandidateStore) LoadBest(context.Context) (agconsensus.JustifiedCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasBest {
		return agconsensus.JustifiedCandidate{}, agstore.ErrNotFound
	}
	return s.byDigest[s.best].jc, nil
}

func (s *CandidateStore) SetKnownBad(_ context.Context, d agconsensus.Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bad[d] = struct{}{}
	return nil
}

func (s *CandidateStore) IsKnownBad(_ context.Context, d agconsensus.Digest) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bad[d]
	return ok, nil
}
