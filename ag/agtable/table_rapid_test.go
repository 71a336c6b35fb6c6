package agtable_test

import (
	"context"
	"testing"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agconsensus/agconsensustest"
	"github.com/gordian-engine/gagree/ag/agtable"
	"github.com/gordian-engine/gagree/internal/gtest"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Arbitrary interleavings of honest and equivocating statements,
// with arbitrary duplication, must preserve first-seen counting,
// single flagging per slot, and duplicate idempotence.
func TestTable_Properties(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := agconsensustest.NewEd25519Fixture(4)
	log := gtest.NewLogger(t)

	digests := []agconsensus.Digest{
		agconsensus.NilDigest,
		fx.Candidate(1, 0, "a").Digest(),
		fx.Candidate(1, 0, "b").Digest(),
	}
	kinds := []agconsensus.StatementKind{
		agconsensus.StatementPrepare,
		agconsensus.StatementCommit,
	}

	// Pre-sign every combination once; signing inside rapid draws is slow.
	type combo struct {
		val, round, kind, digest int
	}
	signed := make(map[combo]agconsensus.SignedStatement)
	for val := range 4 {
		for round := range 2 {
			for k := range kinds {
				for d := range digests {
					signed[combo{val, round, k, d}] = fx.SignStatement(ctx, val, kinds[k], uint64(round), digests[d])
				}
			}
		}
	}

	rapid.Check(t, func(rt *rapid.T) {
		tbl := agtable.New(log, fx.SessionID, fx.ValidatorSet)

		type slot struct{ val, round, kind int }
		firstSeen := make(map[slot]int)
		digestsSeen := make(map[slot]map[int]bool)
		flags := 0

		n := rapid.IntRange(1, 60).Draw(rt, "n")
		for i := 0; i < n; i++ {
			c := combo{
				val:    rapid.IntRange(0, 3).Draw(rt, "val"),
				round:  rapid.IntRange(0, 1).Draw(rt, "round"),
				kind:   rapid.IntRange(0, len(kinds)-1).Draw(rt, "kind"),
				digest: rapid.IntRange(0, len(digests)-1).Draw(rt, "digest"),
			}
			sl := slot{c.val, c.round, c.kind}

			before := tbl.Tally(uint64(c.round), kinds[c.kind], digests[c.digest])
			res := tbl.AddStatement(signed[c])

			first, seen := firstSeen[sl]
			switch {
			case !seen:
				require.Equal(rt, agtable.OutcomeAccepted, res.Outcome)
				firstSeen[sl] = c.digest
				digestsSeen[sl] = map[int]bool{c.digest: true}
			case digestsSeen[sl][c.digest]:
				require.Equal(rt, agtable.OutcomeDuplicate, res.Outcome)
				require.Equal(rt, before, tbl.Tally(uint64(c.round), kinds[c.kind], digests[c.digest]))
			default:
				require.Equal(rt, agtable.OutcomeEquivocation, res.Outcome)
				if len(digestsSeen[sl]) == 1 {
					require.NotNil(rt, res.Equivocation)
					require.Equal(rt, digests[first], res.Equivocation.First.Digest)
					flags++
				} else {
					require.Nil(rt, res.Equivocation)
				}
				digestsSeen[sl][c.digest] = true
			}
		}

		require.Len(rt, tbl.Equivocations(), flags)

		// Tallies equal the count of first-seen statements per key.
		for round := range 2 {
			for k := range kinds {
				for d := range digests {
					want := uint64(0)
					for val := range 4 {
						if f, ok := firstSeen[slot{val, round, k}]; ok && f == d {
							want++
						}
					}
					require.Equal(rt, want, tbl.Tally(uint64(round), kinds[k], digests[d]))
				}
			}
		}
	})
}
