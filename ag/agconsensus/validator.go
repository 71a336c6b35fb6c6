package agconsensus

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/gordian-engine/gagree/gcrypto"
	"golang.org/x/crypto/blake2b"
)

// MaxValidators is the largest supported validator set.
// Justifications address validators by 16-bit index.
const MaxValidators = math.MaxUint16

// Validator is one member of a [ValidatorSet].
type Validator struct {
	// Index is the validator's position within its set.
	// It is assigned by [NewValidatorSet].
	Index uint32

	PubKey gcrypto.PubKey

	// Weight is the voting weight; 1 for one-validator-one-vote.
	Weight uint64
}

// ValidatorSet is the immutable validator set snapshot for one session.
// It is replaced wholesale when the session changes, never modified.
type ValidatorSet struct {
	vals []Validator
	keys []gcrypto.PubKey

	total  uint64
	fault  uint64
	quorum uint64

	pubKeyHash string
}

// ValidatorSetOpt customizes [NewValidatorSet].
type ValidatorSetOpt func(*validatorSetConfig)

type validatorSetConfig struct {
	faultTolerance    uint64
	hasFaultTolerance bool
}

// WithFaultTolerance fixes f, the tolerated Byzantine weight.
// The total weight must be at least 3f+1.
// The quorum is total-f, which is 2f+1 when the total is exactly 3f+1,
// so that any two quorums overlap in more than f weight.
//
// Without this option f is the largest value satisfying 3f+1 <= total weight.
func WithFaultTolerance(f uint64) ValidatorSetOpt {
	return func(c *validatorSetConfig) {
		c.faultTolerance = f
		c.hasFaultTolerance = true
	}
}

// NewValidatorSet returns a snapshot of vals.
// The input slice is copied, and each validator's Index is set to its position.
func NewValidatorSet(vals []Validator, opts ...ValidatorSetOpt) (*ValidatorSet, error) {
	if len(vals) == 0 {
		return nil, errors.New("validator set must not be empty")
	}
	if len(vals) > MaxValidators {
		return nil, fmt.Errorf("validator set size %d exceeds maximum %d", len(vals), MaxValidators)
	}

	var cfg validatorSetConfig
	for _, o := range opts {
		o(&cfg)
	}

	vs := &ValidatorSet{
		vals: make([]Validator, len(vals)),
		keys: make([]gcrypto.PubKey, len(vals)),
	}

	seen := make(map[string]int, len(vals))
	for i, v := range vals {
		if v.PubKey == nil {
			return nil, fmt.Errorf("validator %d has no public key", i)
		}
		if v.Weight == 0 {
			return nil, fmt.Errorf("validator %d has zero weight", i)
		}

		k := v.PubKey.TypeName() + "/" + string(v.PubKey.PubKeyBytes())
		if prev, ok := seen[k]; ok {
			return nil, fmt.Errorf("validators %d and %d share a public key", prev, i)
		}
		seen[k] = i

		sum, carry := bits.Add64(vs.total, v.Weight, 0)
		if carry != 0 {
			return nil, errors.New("total validator weight overflows uint64")
		}
		vs.total = sum

		v.Index = uint32(i)
		vs.vals[i] = v
		vs.keys[i] = v.PubKey
	}

	if cfg.hasFaultTolerance {
		f := cfg.faultTolerance
		if f > (vs.total-1)/3 {
			return nil, fmt.Errorf(
				"fault tolerance %d requires total weight of at least %d, have %d",
				f, 3*f+1, vs.total,
			)
		}
		vs.fault = f
	} else {
		vs.fault = (vs.total - 1) / 3
	}
	vs.quorum = vs.total - vs.fault

	vs.pubKeyHash = hashValidators(vs.vals)

	return vs, nil
}

func hashValidators(vals []Validator) string {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}

	var buf [8]byte
	for _, v := range vals {
		_, _ = h.Write([]byte(v.PubKey.TypeName()))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(v.PubKey.PubKeyBytes())
		binary.BigEndian.PutUint64(buf[:], v.Weight)
		_, _ = h.Write(buf[:])
	}

	return hex.EncodeToString(h.Sum(nil))
}

// Len returns the number of validators.
func (vs *ValidatorSet) Len() int {
	return len(vs.vals)
}

// Validator returns the validator at index i, reporting false if i is out of range.
func (vs *ValidatorSet) Validator(i uint32) (Validator, bool) {
	if uint64(i) >= uint64(len(vs.vals)) {
		return Validator{}, false
	}
	return vs.vals[i], true
}

// Weight returns the weight of validator i, or zero if i is out of range.
func (vs *ValidatorSet) Weight(i uint32) uint64 {
	if uint64(i) >= uint64(len(vs.vals)) {
		return 0
	}
	return vs.vals[i].Weight
}

// Validators returns a copy of the validators in index order.
func (vs *ValidatorSet) Validators() []Validator {
	out := make([]Validator, len(vs.vals))
	copy(out, vs.vals)
	return out
}

// PubKeys returns the validators' keys in index order.
// The returned slice must not be modified.
func (vs *ValidatorSet) PubKeys() []gcrypto.PubKey {
	return vs.keys
}

// IndexOf returns the index of the validator holding key.
func (vs *ValidatorSet) IndexOf(key gcrypto.PubKey) (uint32, bool) {
	for i, k := range vs.keys {
		if k.Equal(key) {
			return uint32(i), true
		}
	}
	return 0, false
}

// TotalWeight is the sum of all weights.
func (vs *ValidatorSet) TotalWeight() uint64 { return vs.total }

// FaultWeight is f, the Byzantine weight the set tolerates.
func (vs *ValidatorSet) FaultWeight() uint64 { return vs.fault }

// Quorum is the weight threshold total-f, equal to 2f+1 when the total is 3f+1.
func (vs *ValidatorSet) Quorum() uint64 { return vs.quorum }

// PubKeyHash identifies the exact ordered keys and weights in the set.
func (vs *ValidatorSet) PubKeyHash() string { return vs.pubKeyHash }
