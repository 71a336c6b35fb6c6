// Package agcbor contains a [agcodec.Codec] backed by CBOR.
//
// Encoding is deterministic (core deterministic encoding with RFC 3339 nanosecond times),
// so equal values always produce equal bytes.
// That property is relied on by the stores, which compare encoded bytes
// to detect conflicting writes.
package agcbor

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/gordian-engine/gagree/ag/agcodec"
	"github.com/gordian-engine/gagree/ag/agconsensus"
)

// Codec is the CBOR [agcodec.Codec].
// The zero value is not usable; call [NewCodec].
type Codec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ agcodec.Codec = Codec{}

func NewCodec() Codec {
	eo := cbor.CoreDetEncOptions()
	eo.Time = cbor.TimeRFC3339Nano
	enc, err := eo.EncMode()
	if err != nil {
		panic(fmt.Errorf("building CBOR encode mode: %w", err))
	}

	dec, err := cbor.DecOptions{
		// Statements and justifications are small; reject deep nesting outright.
		MaxNestedLevels: 16,
	}.DecMode()
	if err != nil {
		panic(fmt.Errorf("building CBOR decode mode: %w", err))
	}

	return Codec{enc: enc, dec: dec}
}

func (c Codec) MarshalStatement(s agconsensus.SignedStatement) ([]byte, error) {
	return c.enc.Marshal(s)
}

func (c Codec) UnmarshalStatement(b []byte, s *agconsensus.SignedStatement) error {
	return c.dec.Unmarshal(b, s)
}

func (c Codec) MarshalJustification(j agconsensus.Justification) ([]byte, error) {
	return c.enc.Marshal(j)
}

func (c Codec) UnmarshalJustification(b []byte, j *agconsensus.Justification) error {
	return c.dec.Unmarshal(b, j)
}

func (c Codec) MarshalRoundState(rs agconsensus.RoundState) ([]byte, error) {
	return c.enc.Marshal(rs)
}

func (c Codec) UnmarshalRoundState(b []byte, rs *agconsensus.RoundState) error {
	return c.dec.Unmarshal(b, rs)
}

func (c Codec) MarshalCandidate(cand agconsensus.Candidate) ([]byte, error) {
	return c.enc.Marshal(cborCandidate(cand))
}

func (c Codec) UnmarshalCandidate(b []byte, cand *agconsensus.Candidate) error {
	return c.dec.Unmarshal(b, (*cborCandidate)(cand))
}

type cborCandidate struct {
	Height        uint64             `cbor:"1,keyasint"`
	Parent        agconsensus.Digest `cbor:"2,keyasint"`
	ProposerIndex uint32             `cbor:"3,keyasint"`
	Payload       []byte             `cbor:"4,keyasint"`
}
