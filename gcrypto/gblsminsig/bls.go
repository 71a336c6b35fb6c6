package gblsminsig

import (
	"context"
	"errors"
	"fmt"

	"github.com/gordian-engine/gagree/gcrypto"
	blst "github.com/supranational/blst/bindings/go"
)

const keyTypeName = "bls-msig"

// DomainSeparationTag follows draft-irtf-cfrg-bls-signature-05 section 4.1:
//
//	"BLS_SIG_" || H2C_SUITE_ID || SC_TAG || "_"
//
// with the RFC9380 suite BLS12381G1_XMD:SHA-256_SSWU_RO_ and the basic scheme tag NUL.
var DomainSeparationTag = []byte("BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_NUL_")

// DefaultKeyGenSalt is the salt used by [NewSigner].
var DefaultKeyGenSalt = []byte("gagree-bls-keygen")

// Register registers the BLS key type with the given Registry.
func Register(reg *gcrypto.Registry) {
	reg.Register(keyTypeName, PubKey{}, NewPubKey)
}

// PubKey is a compressed-decodable G2 point.
type PubKey blst.P2Affine

// NewPubKey decodes a compressed G2 point and validates it as a public key.
func NewPubKey(b []byte) (gcrypto.PubKey, error) {
	if len(b) != blst.BLST_P2_COMPRESS_BYTES {
		return nil, fmt.Errorf("expected %d compressed bytes, got %d", blst.BLST_P2_COMPRESS_BYTES, len(b))
	}

	p2a := new(blst.P2Affine).Uncompress(b)
	if p2a == nil {
		return nil, errors.New("failed to decompress input")
	}

	if !p2a.KeyValidate() {
		return nil, errors.New("input key failed validation")
	}

	return PubKey(*p2a), nil
}

func (k PubKey) Equal(other gcrypto.PubKey) bool {
	o, ok := other.(PubKey)
	if !ok {
		return false
	}

	p2a := blst.P2Affine(k)
	p2o := blst.P2Affine(o)
	return p2a.Equals(&p2o)
}

func (k PubKey) PubKeyBytes() []byte {
	p2a := blst.P2Affine(k)
	return p2a.Compress()
}

// Verify reports whether sig, a compressed G1 point, signs msg under k.
func (k PubKey) Verify(msg, sig []byte) bool {
	if len(sig) != blst.BLST_P1_COMPRESS_BYTES {
		return false
	}

	p1a := new(blst.P1Affine).Uncompress(sig)
	if p1a == nil {
		return false
	}

	if !p1a.SigValidate(false) {
		return false
	}

	p2a := blst.P2Affine(k)
	return p1a.Verify(false, &p2a, false, blst.Message(msg), DomainSeparationTag)
}

func (PubKey) TypeName() string {
	return keyTypeName
}

// Signer satisfies [gcrypto.Signer] for BLS validator keys.
type Signer struct {
	secret blst.SecretKey
	point  blst.P2Affine
}

// NewSigner derives a key from ikm, which must be at least 32 bytes
// of cryptographically random input, salted with [DefaultKeyGenSalt].
func NewSigner(ikm []byte) (Signer, error) {
	return NewSignerWithSalt(ikm, DefaultKeyGenSalt)
}

// NewSignerWithSalt is like [NewSigner] with an explicit key generation salt.
func NewSignerWithSalt(ikm, salt []byte) (Signer, error) {
	if len(ikm) < blst.BLST_SCALAR_BYTES {
		return Signer{}, fmt.Errorf(
			"ikm data too short: got %d, need at least %d",
			len(ikm), blst.BLST_SCALAR_BYTES,
		)
	}

	secretKey := blst.KeyGenV5(ikm, salt)
	if secretKey == nil {
		return Signer{}, errors.New("key generation failed")
	}

	point := new(blst.P2Affine).From(secretKey)

	return Signer{
		secret: *secretKey,
		point:  *point,
	}, nil
}

func (s Signer) PubKey() gcrypto.PubKey {
	return PubKey(s.point)
}

func (s Signer) Sign(_ context.Context, input []byte) ([]byte, error) {
	sig := new(blst.P1Affine).Sign(&s.secret, input, DomainSeparationTag, true)
	if sig == nil {
		return nil, errors.New("failed to sign")
	}

	return sig.Compress(), nil
}
