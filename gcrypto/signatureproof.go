package gcrypto

import (
	"bytes"
	"encoding/binary"
	"slices"

	"github.com/bits-and-blooms/bitset"
)

// SignatureProof collects signatures from a fixed, ordered set of candidate keys
// over a single common message.
//
// Every signature is verified on entry,
// so the bit set returned by [SignatureProof.SignatureBitSet]
// only ever reflects valid signatures.
//
// A SignatureProof is not safe for concurrent use.
type SignatureProof struct {
	msg []byte

	keys []PubKey

	// Indication of the set of candidate keys,
	// so that different proofs can agree that they are comparing
	// against the same public key set.
	keyHash string

	// Candidate key index -> signature.
	sigs map[int][]byte

	bitset *bitset.BitSet
}

// SparseSignatureProof is the minimal transmissible form of a [SignatureProof].
type SparseSignatureProof struct {
	// The PubKeyHash of the original proof.
	PubKeyHash string

	// Signatures sorted by KeyID.
	Signatures []SparseSignature
}

// SparseSignature is a single signature within a [SparseSignatureProof].
type SparseSignature struct {
	// KeyID is the big endian uint16 index of the signing key
	// within the proof's candidate keys.
	KeyID []byte

	Sig []byte
}

// SignatureProofMergeResult describes the effect of merging signatures into a proof.
type SignatureProofMergeResult struct {
	// Every signature in the merged input was valid.
	AllValidSignatures bool

	// At least one new key was added.
	IncreasedSignatures bool

	// The merged input covered every key already present, plus more.
	WasStrictSuperset bool
}

// Combine returns the result of applying r and then other.
func (r SignatureProofMergeResult) Combine(other SignatureProofMergeResult) SignatureProofMergeResult {
	return SignatureProofMergeResult{
		AllValidSignatures:  r.AllValidSignatures && other.AllValidSignatures,
		IncreasedSignatures: r.IncreasedSignatures || other.IncreasedSignatures,
		WasStrictSuperset:   r.WasStrictSuperset || other.WasStrictSuperset,
	}
}

// NewSignatureProof returns an empty proof for msg over candidateKeys.
// The keys slice is retained and must not be modified afterwards.
func NewSignatureProof(msg []byte, candidateKeys []PubKey, pubKeyHash string) *SignatureProof {
	return &SignatureProof{
		msg:     msg,
		keys:    candidateKeys,
		keyHash: pubKeyHash,

		sigs: make(map[int][]byte),

		bitset: bitset.New(uint(len(candidateKeys))),
	}
}

func (p *SignatureProof) Message() []byte {
	return p.msg
}

func (p *SignatureProof) PubKeyHash() string {
	return p.keyHash
}

// AddSignature adds sig for key, which must be one of the candidate keys.
func (p *SignatureProof) AddSignature(sig []byte, key PubKey) error {
	idx := slices.IndexFunc(p.keys, func(k PubKey) bool {
		return k.Equal(key)
	})
	if idx < 0 {
		return ErrUnknownKey
	}

	return p.AddSignatureAt(idx, sig)
}

// AddSignatureAt adds sig for the candidate key at index idx.
// A second valid signature for an index already present is ignored.
func (p *SignatureProof) AddSignatureAt(idx int, sig []byte) error {
	if idx < 0 || idx >= len(p.keys) {
		return ErrUnknownKey
	}

	if !p.keys[idx].Verify(p.msg, sig) {
		return ErrInvalidSignature
	}

	if p.bitset.Test(uint(idx)) {
		return nil
	}

	p.sigs[idx] = bytes.Clone(sig)
	p.bitset.Set(uint(idx))
	return nil
}

// MergeSparse verifies and adds every signature in s.
// A PubKeyHash mismatch yields the zero result without inspecting signatures.
func (p *SignatureProof) MergeSparse(s SparseSignatureProof) SignatureProofMergeResult {
	if p.keyHash != s.PubKeyHash {
		return SignatureProofMergeResult{}
	}

	res := SignatureProofMergeResult{
		// Assume all signatures are valid until we encounter an invalid one.
		AllValidSignatures: true,
	}

	addedBS := bitset.New(uint(len(p.keys)))
	countBefore := p.bitset.Count()
	bsBefore := p.bitset.Clone()

	for _, ss := range s.Signatures {
		idx, ok := KeyIndex(ss.KeyID)
		if !ok {
			res.AllValidSignatures = false
			continue
		}

		if err := p.AddSignatureAt(idx, ss.Sig); err != nil {
			res.AllValidSignatures = false
			continue
		}

		addedBS.Set(uint(idx))
	}

	res.IncreasedSignatures = p.bitset.Count() > countBefore
	res.WasStrictSuperset = addedBS.IsStrictSuperSet(bsBefore)

	return res
}

// HasSparseKeyID reports whether the proof has a signature for keyID.
// If keyID does not map into the candidate keys, valid is false.
func (p *SignatureProof) HasSparseKeyID(keyID []byte) (has, valid bool) {
	idx, ok := KeyIndex(keyID)
	if !ok || idx >= len(p.keys) {
		return false, false
	}

	return p.bitset.Test(uint(idx)), true
}

// SignatureBitSet copies the set of signing key indices into dst.
func (p *SignatureProof) SignatureBitSet(dst *bitset.BitSet) {
	p.bitset.CopyFull(dst)
}

// AsSparse returns the proof's signatures ordered by key index.
func (p *SignatureProof) AsSparse() SparseSignatureProof {
	out := SparseSignatureProof{
		PubKeyHash: p.keyHash,
		Signatures: make([]SparseSignature, 0, len(p.sigs)),
	}

	for i, ok := p.bitset.NextSet(0); ok; i, ok = p.bitset.NextSet(i + 1) {
		out.Signatures = append(out.Signatures, SparseSignature{
			KeyID: KeyIDFromIndex(int(i)),
			Sig:   p.sigs[int(i)],
		})
	}

	return out
}

// Clone returns an independent copy of p.
func (p *SignatureProof) Clone() *SignatureProof {
	sigs := make(map[int][]byte, len(p.sigs))
	for k, v := range p.sigs {
		sigs[k] = v
	}

	return &SignatureProof{
		msg:     bytes.Clone(p.msg),
		keys:    p.keys,
		keyHash: p.keyHash,

		sigs: sigs,

		bitset: p.bitset.Clone(),
	}
}

// KeyIDFromIndex encodes a candidate key index as a sparse key ID.
func KeyIDFromIndex(idx int) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(idx))
	return b[:]
}

// KeyIndex decodes a sparse key ID.
// It reports false if keyID is not exactly two bytes.
func KeyIndex(keyID []byte) (int, bool) {
	if len(keyID) != 2 {
		return 0, false
	}
	return int(binary.BigEndian.Uint16(keyID)), true
}
