package agconsensustest

import (
	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/gcrypto"
	"github.com/gordian-engine/gagree/gcrypto/gcryptotest"
)

// PrivVal is the "private" view of a validator,
// so that tests have access to the Signer backing the validator too.
type PrivVal struct {
	Val agconsensus.Validator

	Signer gcrypto.Signer
}

type PrivVals []PrivVal

func (vs PrivVals) Vals() []agconsensus.Validator {
	out := make([]agconsensus.Validator, len(vs))
	for i, v := range vs {
		out[i] = v.Val
	}
	return out
}

func (vs PrivVals) PubKeys() []gcrypto.PubKey {
	out := make([]gcrypto.PubKey, len(vs))
	for i, v := range vs {
		out[i] = v.Signer.PubKey()
	}
	return out
}

// DeterministicValidatorsEd25519 returns n validators with deterministic ed25519 keys
// and the given weights; a nil weights slice gives every validator weight 1.
//
// Deterministic keys keep logs stable across runs,
// and are cached so additional calls cost effectively nothing.
func DeterministicValidatorsEd25519(n int, weights []uint64) PrivVals {
	res := make(PrivVals, n)
	signers := gcryptotest.DeterministicEd25519Signers(n)

	for i := range res {
		w := uint64(1)
		if weights != nil {
			w = weights[i]
		}
		res[i] = PrivVal{
			Val: agconsensus.Validator{
				Index:  uint32(i),
				PubKey: signers[i].PubKey(),
				Weight: w,
			},
			Signer: signers[i],
		}
	}

	return res
}
