package agpebble

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/gordian-engine/gagree/ag/agcodec"
	"github.com/gordian-engine/gagree/ag/agcodec/agcbor"
	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agstore"
)

// Store serves every agstore interface from one Pebble database.
type Store struct {
	db    *pebble.DB
	codec agcodec.Codec

	// Serializes the read-check-write sequences.
	writeMu sync.Mutex
}

var (
	_ agstore.RoundStateStore   = (*Store)(nil)
	_ agstore.StatementStore    = (*Store)(nil)
	_ agstore.FinalizationStore = (*Store)(nil)
	_ agstore.CandidateStore    = (*Store)(nil)
)

// Open opens the database in dir.
// If opts is nil, Pebble's defaults are used.
func Open(dir string, opts *pebble.Options) (*Store, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}
	return NewStore(db), nil
}

// NewStore wraps an already open database.
// Closing the Store closes db.
func NewStore(db *pebble.DB) *Store {
	return &Store{db: db, codec: agcbor.NewCodec()}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// get copies the value at key, translating pebble.ErrNotFound.
func (s *Store) get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, agstore.ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	return bytes.Clone(val), nil
}

func (s *Store) SaveRoundState(_ context.Context, sid agconsensus.SessionID, rs agconsensus.RoundState) error {
	b, err := s.codec.MarshalRoundState(rs)
	if err != nil {
		return fmt.Errorf("encoding round state: %w", err)
	}
	if err := s.db.Set(sessionKey(prefixRoundState, sid), b, pebble.Sync); err != nil {
		return fmt.Errorf("saving round state: %w", err)
	}
	return nil
}

func (s *Store) LoadRoundState(_ context.Context, sid agconsensus.SessionID) (agconsensus.RoundState, error) {
	b, err := s.get(sessionKey(prefixRoundState, sid))
	if err != nil {
		return agconsensus.RoundState{}, fmt.Errorf("loading round state: %w", err)
	}

	var rs agconsensus.RoundState
	if err := s.codec.UnmarshalRoundState(b, &rs); err != nil {
		return agconsensus.RoundState{}, fmt.Errorf("decoding round state: %w", err)
	}
	return rs, nil
}

// Statement values are the 32-byte fingerprint followed by the encoded statement.
func (s *Store) AppendStatement(
	_ context.Context, sid agconsensus.SessionID, seq uint64, st agconsensus.SignedStatement,
) error {
	b, err := s.codec.MarshalStatement(st)
	if err != nil {
		return fmt.Errorf("encoding statement: %w", err)
	}
	fp := st.Fingerprint(sid)
	key := statementKey(sid, seq)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	have, err := s.get(key)
	switch {
	case errors.Is(err, agstore.ErrNotFound):
		// Fall through to write.
	case err != nil:
		return fmt.Errorf("reading existing statement: %w", err)
	case len(have) >= len(fp) && bytes.Equal(have[:len(fp)], fp[:]):
		return nil
	default:
		return fmt.Errorf("statement at position %d: %w", seq, agstore.ErrConflict)
	}

	val := make([]byte, 0, len(fp)+len(b))
	val = append(val, fp[:]...)
	val = append(val, b...)
	if err := s.db.Set(key, val, pebble.Sync); err != nil {
		return fmt.Errorf("appending statement: %w", err)
	}
	return nil
}

func (s *Store) LoadStatements(_ context.Context, sid agconsensus.SessionID) ([]agconsensus.SignedStatement, error) {
	prefix := sessionKey(prefixStatement, sid)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("creating statement iterator: %w", err)
	}
	defer iter.Close()

	out := []agconsensus.SignedStatement{}
	for iter.First(); iter.Valid(); iter.Next() {
		val := iter.Value()
		if len(val) < 32 {
			return nil, fmt.Errorf("statement record %x too short", iter.Key())
		}
		var st agconsensus.SignedStatement
		if err := s.codec.UnmarshalStatement(val[32:], &st); err != nil {
			return nil, fmt.Errorf("decoding statement %d: %w", len(out), err)
		}
		out = append(out, st)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterating statements: %w", err)
	}
	return out, nil
}

func (s *Store) SaveFinalization(
	_ context.Context,
	sid agconsensus.SessionID,
	c agconsensus.Candidate,
	j agconsensus.Justification,
) error {
	cb, err := s.codec.MarshalCandidate(c)
	if err != nil {
		return fmt.Errorf("encoding candidate: %w", err)
	}
	jb, err := s.codec.MarshalJustification(j)
	if err != nil {
		return fmt.Errorf("encoding justification: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	have, err := s.get(finalizationKey(sid, partJustification))
	switch {
	case errors.Is(err, agstore.ErrNotFound):
	case err != nil:
		return fmt.Errorf("reading existing finalization: %w", err)
	default:
		var hj agconsensus.Justification
		if err := s.codec.UnmarshalJustification(have, &hj); err != nil {
			return fmt.Errorf("decoding existing finalization: %w", err)
		}
		if hj.Digest == j.Digest {
			return nil
		}
		return fmt.Errorf("session %q already finalized %s: %w", sid, hj.Digest.Short(), agstore.ErrConflict)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(finalizationKey(sid, partCandidate), cb, nil); err != nil {
		return fmt.Errorf("unable to add candidate to batch: %w", err)
	}
	if err := batch.Set(finalizationKey(sid, partJustification), jb, nil); err != nil {
		return fmt.Errorf("unable to add justification to batch: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("committing finalization: %w", err)
	}
	return nil
}

func (s *Store) LoadFinalization(
	_ context.Context, sid agconsensus.SessionID,
) (agconsensus.Candidate, agconsensus.Justification, error) {
	var c agconsensus.Candidate
	var j agconsensus.Justification

	jb, err := s.get(finalizationKey(sid, partJustification))
	if err != nil {
		return c, j, fmt.Errorf("loading finalization: %w", err)
	}
	cb, err := s.get(finalizationKey(sid, partCandidate))
	if err != nil {
		return c, j, fmt.Errorf("loading finalized candidate: %w", err)
	}

	if err := s.codec.UnmarshalCandidate(cb, &c); err != nil {
		return c, j, fmt.Errorf("decoding candidate: %w", err)
	}
	if err := s.codec.UnmarshalJustification(jb, &j); err != nil {
		return c, j, fmt.Errorf("decoding justification: %w", err)
	}
	return c, j, nil
}

// The best record is the 8-byte big-endian height followed by the digest.
func (s *Store) SaveCandidate(_ context.Context, sid agconsensus.SessionID, jc agconsensus.JustifiedCandidate) error {
	cb, err := s.codec.MarshalCandidate(jc.Candidate)
	if err != nil {
		return fmt.Errorf("encoding candidate: %w", err)
	}
	jb, err := s.codec.MarshalJustification(jc.Justification)
	if err != nil {
		return fmt.Errorf("encoding justification: %w", err)
	}
	d := jc.Candidate.Digest()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.get(candidateKey(d, partCandidate)); err == nil {
		return nil
	} else if !errors.Is(err, agstore.ErrNotFound) {
		return fmt.Errorf("checking existing candidate: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(candidateKey(d, partCandidate), cb, nil); err != nil {
		return fmt.Errorf("unable to add candidate to batch: %w", err)
	}
	if err := batch.Set(candidateKey(d, partJustification), jb, nil); err != nil {
		return fmt.Errorf("unable to add justification to batch: %w", err)
	}
	if err := batch.Set(candidateKey(d, partSession), []byte(sid), nil); err != nil {
		return fmt.Errorf("unable to add session to batch: %w", err)
	}

	best, err := s.get([]byte{prefixBest})
	if err != nil && !errors.Is(err, agstore.ErrNotFound) {
		return fmt.Errorf("reading best candidate: %w", err)
	}
	if best == nil || jc.Candidate.Height > binary.BigEndian.Uint64(best[:8]) {
		rec := binary.BigEndian.AppendUint64(nil, jc.Candidate.Height)
		rec = append(rec, d[:]...)
		if err := batch.Set([]byte{prefixBest}, rec, nil); err != nil {
			return fmt.Errorf("unable to add best to batch: %w", err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("committing candidate: %w", err)
	}
	return nil
}

func (s *Store) LoadCandidate(
	_ context.Context, d agconsensus.Digest,
) (agconsensus.SessionID, agconsensus.JustifiedCandidate, error) {
	jc, err := s.loadJustifiedCandidate(d)
	if err != nil {
		return "", jc, err
	}
	sid, err := s.get(candidateKey(d, partSession))
	if err != nil {
		return "", jc, fmt.Errorf("loading candidate session: %w", err)
	}
	return agconsensus.SessionID(sid), jc, nil
}

func (s *Store) loadJustifiedCandidate(d agconsensus.Digest) (agconsensus.JustifiedCandidate, error) {
	var jc agconsensus.JustifiedCandidate

	cb, err := s.get(candidateKey(d, partCandidate))
	if err != nil {
		return jc, fmt.Errorf("loading candidate: %w", err)
	}
	jb, err := s.get(candidateKey(d, partJustification))
	if err != nil {
		return jc, fmt.Errorf("loading candidate justification: %w", err)
	}

	if err := s.codec.UnmarshalCandidate(cb, &jc.Candidate); err != nil {
		return jc, fmt.Errorf("decoding candidate: %w", err)
	}
	if err := s.codec.UnmarshalJustification(jb, &jc.Justification); err != nil {
		return jc, fmt.Errorf("decoding justification: %w", err)
	}
	return jc, nil
}

func (s *Store) LoadBest(context.Context) (agconsensus.JustifiedCandidate, error) {
	best, err := s.get([]byte{prefixBest})
	if err != nil {
		return agconsensus.JustifiedCandidate{}, fmt.Errorf("loading best candidate: %w", err)
	}
	d, err := agconsensus.DigestFromBytes(best[8:])
	if err != nil {
		return agconsensus.JustifiedCandidate{}, fmt.Errorf("decoding best record: %w", err)
	}
	return s.loadJustifiedCandidate(d)
}

func (s *Store) SetKnownBad(_ context.Context, d agconsensus.Digest) error {
	if err := s.db.Set(knownBadKey(d), nil, pebble.Sync); err != nil {
		return fmt.Errorf("marking candidate known bad: %w", err)
	}
	return nil
}

func (s *Store) IsKnownBad(_ context.Context, d agconsensus.Digest) (bool, error) {
	_, err := s.get(knownBadKey(d))
	if errors.Is(err, agstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking known bad: %w", err)
	}
	return true, nil
}
