package agsqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gordian-engine/gagree/ag/agcodec"
	"github.com/gordian-engine/gagree/ag/agcodec/agcbor"
	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agstore"
)

// Store is a single SQLite database serving every agstore interface.
type Store struct {
	db    *sql.DB
	codec agcodec.Codec
}

var (
	_ agstore.RoundStateStore   = (*Store)(nil)
	_ agstore.StatementStore    = (*Store)(nil)
	_ agstore.FinalizationStore = (*Store)(nil)
	_ agstore.CandidateStore    = (*Store)(nil)
)

// Open opens or creates the database at path and ensures the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %q: %w", path, err)
	}

	// SQLite serializes writers anyway, and a single connection
	// keeps in-memory databases coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, codec: agcbor.NewCodec()}, nil
}

// OpenMemory returns a Store backed by a private in-memory database.
func OpenMemory(ctx context.Context) (*Store, error) {
	return Open(ctx, ":memory:")
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveRoundState(ctx context.Context, sid agconsensus.SessionID, rs agconsensus.RoundState) error {
	b, err := s.codec.MarshalRoundState(rs)
	if err != nil {
		return fmt.Errorf("encoding round state: %w", err)
	}

	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO round_states(session_id, state) VALUES(?, ?)
ON CONFLICT(session_id) DO UPDATE SET state = excluded.state`,
		string(sid), b,
	); err != nil {
		return fmt.Errorf("saving round state: %w", err)
	}
	return nil
}

func (s *Store) LoadRoundState(ctx context.Context, sid agconsensus.SessionID) (agconsensus.RoundState, error) {
	var b []byte
	err := s.db.QueryRowContext(
		ctx, `SELECT state FROM round_states WHERE session_id = ?`, string(sid),
	).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return agconsensus.RoundState{}, agstore.ErrNotFound
	}
	if err != nil {
		return agconsensus.RoundState{}, fmt.Errorf("loading round state: %w", err)
	}

	var rs agconsensus.RoundState
	if err := s.codec.UnmarshalRoundState(b, &rs); err != nil {
		return agconsensus.RoundState{}, fmt.Errorf("decoding round state: %w", err)
	}
	return rs, nil
}

func (s *Store) AppendStatement(
	ctx context.Context, sid agconsensus.SessionID, seq uint64, st agconsensus.SignedStatement,
) (finalErr error) {
	b, err := s.codec.MarshalStatement(st)
	if err != nil {
		return fmt.Errorf("encoding statement: %w", err)
	}
	fp := st.Fingerprint(sid)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if finalErr != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO statements(session_id, seq, fingerprint, statement) VALUES(?, ?, ?, ?)
ON CONFLICT(session_id, seq) DO NOTHING`,
		string(sid), int64(seq), fp[:], b,
	)
	if err != nil {
		return fmt.Errorf("inserting statement: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking inserted rows: %w", err)
	}
	if n == 0 {
		var have []byte
		if err := tx.QueryRowContext(
			ctx,
			`SELECT fingerprint FROM statements WHERE session_id = ? AND seq = ?`,
			string(sid), int64(seq),
		).Scan(&have); err != nil {
			return fmt.Errorf("reading existing statement: %w", err)
		}
		if !bytes.Equal(have, fp[:]) {
			return fmt.Errorf("statement at position %d: %w", seq, agstore.ErrConflict)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing statement: %w", err)
	}
	return nil
}

func (s *Store) LoadStatements(ctx context.Context, sid agconsensus.SessionID) ([]agconsensus.SignedStatement, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT statement FROM statements WHERE session_id = ? ORDER BY seq ASC`,
		string(sid),
	)
	if err != nil {
		return nil, fmt.Errorf("querying statements: %w", err)
	}
	defer rows.Close()

	out := []agconsensus.SignedStatement{}
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scanning statement: %w", err)
		}
		var st agconsensus.SignedStatement
		if err := s.codec.UnmarshalStatement(b, &st); err != nil {
			return nil, fmt.Errorf("decoding statement %d: %w", len(out), err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating statements: %w", err)
	}
	return out, nil
}

func (s *Store) SaveFinalization(
	ctx context.Context,
	sid agconsensus.SessionID,
	c agconsensus.Candidate,
	j agconsensus.Justification,
) (finalErr error) {
	cb, err := s.codec.MarshalCandidate(c)
	if err != nil {
		return fmt.Errorf("encoding candidate: %w", err)
	}
	jb, err := s.codec.MarshalJustification(j)
	if err != nil {
		return fmt.Errorf("encoding justification: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if finalErr != nil {
			_ = tx.Rollback()
		}
	}()

	var have []byte
	err = tx.QueryRowContext(
		ctx, `SELECT digest FROM finalizations WHERE session_id = ?`, string(sid),
	).Scan(&have)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO finalizations(session_id, digest, candidate, justification) VALUES(?, ?, ?, ?)`,
			string(sid), j.Digest[:], cb, jb,
		); err != nil {
			return fmt.Errorf("inserting finalization: %w", err)
		}
	case err != nil:
		return fmt.Errorf("reading existing finalization: %w", err)
	case !bytes.Equal(have, j.Digest[:]):
		return fmt.Errorf("session %q already finalized: %w", sid, agstore.ErrConflict)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing finalization: %w", err)
	}
	return nil
}

func (s *Store) LoadFinalization(
	ctx context.Context, sid agconsensus.SessionID,
) (agconsensus.Candidate, agconsensus.Justification, error) {
	var cb, jb []byte
	err := s.db.QueryRowContext(
		ctx,
		`SELECT candidate, justification FROM finalizations WHERE session_id = ?`,
		string(sid),
	).Scan(&cb, &jb)
	if errors.Is(err, sql.ErrNoRows) {
		return agconsensus.Candidate{}, agconsensus.Justification{}, agstore.ErrNotFound
	}
	if err != nil {
		return agconsensus.Candidate{}, agconsensus.Justification{}, fmt.Errorf("loading finalization: %w", err)
	}

	var c agconsensus.Candidate
	if err := s.codec.UnmarshalCandidate(cb, &c); err != nil {
		return c, agconsensus.Justification{}, fmt.Errorf("decoding candidate: %w", err)
	}
	var j agconsensus.Justification
	if err := s.codec.UnmarshalJustification(jb, &j); err != nil {
		return c, j, fmt.Errorf("decoding justification: %w", err)
	}
	return c, j, nil
}

func (s *Store) SaveCandidate(ctx context.Context, sid agconsensus.SessionID, jc agconsensus.JustifiedCandidate) error {
	cb, err := s.codec.MarshalCandidate(jc.Candidate)
	if err != nil {
		return fmt.Errorf("encoding candidate: %w", err)
	}
	jb, err := s.codec.MarshalJustification(jc.Justification)
	if err != nil {
		return fmt.Errorf("encoding justification: %w", err)
	}
	d := jc.Candidate.Digest()

	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO candidates(digest, session_id, height, candidate, justification) VALUES(?, ?, ?, ?, ?)
ON CONFLICT(digest) DO NOTHING`,
		d[:], string(sid), int64(jc.Candidate.Height), cb, jb,
	); err != nil {
		return fmt.Errorf("saving candidate: %w", err)
	}
	return nil
}

func (s *Store) LoadCandidate(
	ctx context.Context, d agconsensus.Digest,
) (agconsensus.SessionID, agconsensus.JustifiedCandidate, error) {
	var sid string
	var cb, jb []byte
	err := s.db.QueryRowContext(
		ctx,
		`SELECT session_id, candidate, justification FROM candidates WHERE digest = ?`,
		d[:],
	).Scan(&sid, &cb, &jb)
	if errors.Is(err, sql.ErrNoRows) {
		return "", agconsensus.JustifiedCandidate{}, agstore.ErrNotFound
	}
	if err != nil {
		return "", agconsensus.JustifiedCandidate{}, fmt.Errorf("loading candidate: %w", err)
	}

	jc, err := s.decodeJustifiedCandidate(cb, jb)
	return agconsensus.SessionID(sid), jc, err
}

func (s *Store) LoadBest(ctx context.Context) (agconsensus.JustifiedCandidate, error) {
	var cb, jb []byte
	err := s.db.QueryRowContext(
		ctx,
		`SELECT candidate, justification FROM candidates ORDER BY height DESC LIMIT 1`,
	).Scan(&cb, &jb)
	if errors.Is(err, sql.ErrNoRows) {
		return agconsensus.JustifiedCandidate{}, agstore.ErrNotFound
	}
	if err != nil {
		return agconsensus.JustifiedCandidate{}, fmt.Errorf("loading best candidate: %w", err)
	}
	return s.decodeJustifiedCandidate(cb, jb)
}

func (s *Store) decodeJustifiedCandidate(cb, jb []byte) (agconsensus.JustifiedCandidate, error) {
	var jc agconsensus.JustifiedCandidate
	if err := s.codec.UnmarshalCandidate(cb, &jc.Candidate); err != nil {
		return jc, fmt.Errorf("decoding candidate: %w", err)
	}
	if err := s.codec.UnmarshalJustification(jb, &jc.Justification); err != nil {
		return jc, fmt.Errorf("decoding justification: %w", err)
	}
	return jc, nil
}

func (s *Store) SetKnownBad(ctx context.Context, d agconsensus.Digest) error {
	if _, err := s.db.ExecContext(
		ctx, `INSERT INTO known_bad(digest) VALUES(?) ON CONFLICT(digest) DO NOTHING`, d[:],
	); err != nil {
		return fmt.Errorf("marking candidate known bad: %w", err)
	}
	return nil
}

func (s *Store) IsKnownBad(ctx context.Context, d agconsensus.Digest) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(
		ctx, `SELECT COUNT(*) FROM known_bad WHERE digest = ?`, d[:],
	).Scan(&n); err != nil {
		return false, fmt.Errorf("checking known bad: %w", err)
	}
	return n > 0, nil
}
