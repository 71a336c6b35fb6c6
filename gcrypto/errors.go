package gcrypto

import "errors"

var (
	// ErrUnknownKey is returned when a signature is attributed
	// to a key outside the proof's candidate keys.
	ErrUnknownKey = errors.New("unknown public key")

	// ErrInvalidSignature is returned when a signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")
)
