package agconsensus

import (
	"encoding/binary"
	"slices"

	"golang.org/x/crypto/blake2b"
)

// ProposerSelector deterministically chooses the proposer for a round.
// Every honest node must compute the same result from the same inputs.
type ProposerSelector interface {
	Proposer(sid SessionID, vs *ValidatorSet, round uint64) uint32
}

// RoundRobin rotates through validators in index order, ignoring weight.
type RoundRobin struct{}

func (RoundRobin) Proposer(_ SessionID, vs *ValidatorSet, round uint64) uint32 {
	return uint32(round % uint64(vs.Len()))
}

// WeightedRandom picks a proposer with probability proportional to weight,
// using a pseudo-random value derived from the session ID and round.
type WeightedRandom struct{}

func (WeightedRandom) Proposer(sid SessionID, vs *ValidatorSet, round uint64) uint32 {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}
	_, _ = h.Write([]byte("gagree/proposer/v1"))
	_, _ = h.Write([]byte(sid))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], round)
	_, _ = h.Write(buf[:])
	sum := h.Sum(nil)

	// Modulo bias is negligible for any realistic total weight.
	target := binary.BigEndian.Uint64(sum[:8]) % vs.TotalWeight()

	var acc uint64
	for _, v := range vs.vals {
		acc += v.Weight
		if target < acc {
			return v.Index
		}
	}

	// Unreachable since target < total.
	return uint32(vs.Len() - 1)
}

// Deprioritizing wraps a base selector and passes over validators
// the surrounding system has marked as persistently absent.
//
// When the base choice is absent, the next non-absent index (wrapping) is chosen.
// If every validator is absent, the base choice stands.
// The absent set must be identical on every honest node,
// so it should be derived from agreed data such as the previous session's record.
type Deprioritizing struct {
	Base   ProposerSelector
	absent []uint32
}

// NewDeprioritizing returns a Deprioritizing selector skipping the given indices.
func NewDeprioritizing(base ProposerSelector, absent []uint32) Deprioritizing {
	a := slices.Clone(absent)
	slices.Sort(a)
	return Deprioritizing{Base: base, absent: slices.Compact(a)}
}

func (d Deprioritizing) Proposer(sid SessionID, vs *ValidatorSet, round uint64) uint32 {
	p := d.Base.Proposer(sid, vs, round)
	n := uint32(vs.Len())
	for i := uint32(0); i < n; i++ {
		cand := (p + i) % n
		if _, found := slices.BinarySearch(d.absent, cand); !found {
			return cand
		}
	}
	return p
}
