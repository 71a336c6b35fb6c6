package agconsensus

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

const candidateDomain = "gagree/candidate/v1"

// Candidate is a proposed block or parachain candidate.
// Only its digest takes part in agreement;
// the remaining fields are carried for the collaborators that consume finalizations.
type Candidate struct {
	Height        uint64
	Parent        Digest
	ProposerIndex uint32

	// Opaque header or body bytes supplied by the authoring collaborator.
	Payload []byte
}

// Digest returns the blake2b-256 hash of c's fields.
func (c Candidate) Digest() Digest {
	h, err := blake2b.New256(nil)
	if err != nil {
		// Only possible with an oversized key.
		panic(err)
	}

	var buf [8]byte
	_, _ = h.Write([]byte(candidateDomain))

	binary.BigEndian.PutUint64(buf[:], c.Height)
	_, _ = h.Write(buf[:])

	_, _ = h.Write(c.Parent[:])

	binary.BigEndian.PutUint32(buf[:4], c.ProposerIndex)
	_, _ = h.Write(buf[:4])

	binary.BigEndian.PutUint64(buf[:], uint64(len(c.Payload)))
	_, _ = h.Write(buf[:])
	_, _ = h.Write(c.Payload)

	var d Digest
	h.Sum(d[:0])
	return d
}
