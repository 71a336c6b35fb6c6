package agconsensus

import "github.com/gordian-engine/gagree/gcrypto"

// ValidatorSignature is one signer's contribution to a [Justification].
type ValidatorSignature struct {
	ValidatorIndex uint32 `json:"validator_index" cbor:"1,keyasint"`
	Signature      []byte `json:"signature" cbor:"2,keyasint"`
}

// Justification is a portable proof that a quorum of validators
// signed the same (Kind, Round, Digest) statement.
//
// Signatures are ordered by ascending validator index.
// A justification for finality has Kind [StatementCommit];
// lock proofs carried on round changes have Kind [StatementPrepare].
type Justification struct {
	Kind   StatementKind `json:"kind" cbor:"1,keyasint"`
	Round  uint64        `json:"round" cbor:"2,keyasint"`
	Digest Digest        `json:"digest" cbor:"3,keyasint"`

	Signatures []ValidatorSignature `json:"signatures" cbor:"4,keyasint"`
}

// Statement returns the unsigned statement every signer of j signed.
// ValidatorIndex is left zero.
func (j Justification) Statement() Statement {
	return Statement{
		Kind:   j.Kind,
		Round:  j.Round,
		Digest: j.Digest,
	}
}

// SignerWeight sums the weight of j's signers in vs,
// without verifying signatures.
// Duplicate or out-of-range indices are ignored.
func (j Justification) SignerWeight(vs *ValidatorSet) uint64 {
	var total uint64
	seen := make(map[uint32]struct{}, len(j.Signatures))
	for _, s := range j.Signatures {
		if _, ok := seen[s.ValidatorIndex]; ok {
			continue
		}
		seen[s.ValidatorIndex] = struct{}{}
		total += vs.Weight(s.ValidatorIndex)
	}
	return total
}

// AsSparse converts j's signatures into a sparse signature proof
// keyed against vs's public keys.
func (j Justification) AsSparse(vs *ValidatorSet) gcrypto.SparseSignatureProof {
	out := gcrypto.SparseSignatureProof{
		PubKeyHash: vs.PubKeyHash(),
		Signatures: make([]gcrypto.SparseSignature, len(j.Signatures)),
	}
	for i, s := range j.Signatures {
		out.Signatures[i] = gcrypto.SparseSignature{
			KeyID: gcrypto.KeyIDFromIndex(int(s.ValidatorIndex)),
			Sig:   s.Signature,
		}
	}
	return out
}

// Clone returns a deep copy of j.
func (j Justification) Clone() Justification {
	out := j
	out.Signatures = make([]ValidatorSignature, len(j.Signatures))
	for i, s := range j.Signatures {
		out.Signatures[i] = ValidatorSignature{
			ValidatorIndex: s.ValidatorIndex,
			Signature:      append([]byte(nil), s.Signature...),
		}
	}
	return out
}

// JustifiedCandidate pairs a candidate with a justification that has already been verified.
// Values are produced by the justification checker; the zero value is not meaningful.
type JustifiedCandidate struct {
	Candidate     Candidate
	Justification Justification
}
