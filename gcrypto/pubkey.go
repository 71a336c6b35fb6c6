package gcrypto

import "context"

// PubKey is the public half of a validator's signing key.
type PubKey interface {
	// PubKeyBytes returns the encoded public key,
	// suitable for passing back to the constructor registered for the key type.
	PubKeyBytes() []byte

	// Equal reports whether other is the same key.
	// Keys of different underlying types are never equal.
	Equal(other PubKey) bool

	// Verify reports whether sig is a valid signature of msg by this key.
	Verify(msg, sig []byte) bool

	// TypeName is the name the key type was registered under in a [Registry].
	TypeName() string
}

// Signer produces signatures for a single private key.
type Signer interface {
	PubKey() PubKey

	// Sign returns the signature of input.
	// The context allows remote or hardware-backed signers to be cancelled.
	Sign(ctx context.Context, input []byte) ([]byte, error)
}
