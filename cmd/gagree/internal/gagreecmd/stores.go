package gagreecmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gordian-engine/gagree/ag/agmemstore"
	"github.com/gordian-engine/gagree/ag/agpebble"
	"github.com/gordian-engine/gagree/ag/agsqlite"
	"github.com/gordian-engine/gagree/ag/agstore"
)

type stores struct {
	RoundStates   agstore.RoundStateStore
	Statements    agstore.StatementStore
	Finalizations agstore.FinalizationStore
	Candidates    agstore.CandidateStore

	Close func() error
}

// sqlite and pebble stores implement every store interface.
type fullStore interface {
	agstore.RoundStateStore
	agstore.StatementStore
	agstore.FinalizationStore
	agstore.CandidateStore

	Close() error
}

func openStores(ctx context.Context, kind, dataDir string) (stores, error) {
	var s fullStore
	switch kind {
	case "mem":
		return stores{
			RoundStates:   agmemstore.NewRoundStateStore(),
			Statements:    agmemstore.NewStatementStore(),
			Finalizations: agmemstore.NewFinalizationStore(),
			Candidates:    agmemstore.NewCandidateStore(),

			Close: func() error { return nil },
		}, nil

	case "sqlite":
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return stores{}, fmt.Errorf("failed to create data directory: %w", err)
		}
		db, err := agsqlite.Open(ctx, filepath.Join(dataDir, "gagree.sqlite"))
		if err != nil {
			return stores{}, err
		}
		s = db

	case "pebble":
		db, err := agpebble.Open(filepath.Join(dataDir, "pebble"), nil)
		if err != nil {
			return stores{}, err
		}
		s = db

	default:
		return stores{}, fmt.Errorf("unknown store %q", kind)
	}

	return stores{
		RoundStates:   s,
		Statements:    s,
		Finalizations: s,
		Candidates:    s,

		Close: s.Close,
	}, nil
}
