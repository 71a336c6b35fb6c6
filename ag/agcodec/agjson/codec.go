// Package agjson contains a [agcodec.Codec] that serializes to and from JSON.
//
// JSON is simple to work with and easy to read,
// so it backs the debug HTTP API and the files the CLI reads and writes.
// The CBOR codec is preferable on the wire and on disk.
package agjson

import (
	"encoding/json"

	"github.com/gordian-engine/gagree/ag/agcodec"
	"github.com/gordian-engine/gagree/ag/agconsensus"
)

// Codec is the JSON [agcodec.Codec].
type Codec struct{}

var _ agcodec.Codec = Codec{}

func (Codec) MarshalStatement(s agconsensus.SignedStatement) ([]byte, error) {
	return json.Marshal(s)
}

func (Codec) UnmarshalStatement(b []byte, s *agconsensus.SignedStatement) error {
	return json.Unmarshal(b, s)
}

func (Codec) MarshalJustification(j agconsensus.Justification) ([]byte, error) {
	return json.Marshal(j)
}

func (Codec) UnmarshalJustification(b []byte, j *agconsensus.Justification) error {
	return json.Unmarshal(b, j)
}

func (Codec) MarshalRoundState(rs agconsensus.RoundState) ([]byte, error) {
	return json.Marshal(rs)
}

func (Codec) UnmarshalRoundState(b []byte, rs *agconsensus.RoundState) error {
	return json.Unmarshal(b, rs)
}

func (Codec) MarshalCandidate(c agconsensus.Candidate) ([]byte, error) {
	return json.Marshal(jsonCandidate(c))
}

func (Codec) UnmarshalCandidate(b []byte, c *agconsensus.Candidate) error {
	return json.Unmarshal(b, (*jsonCandidate)(c))
}

// jsonCandidate adds snake_case field names without tagging the core type twice.
type jsonCandidate struct {
	Height        uint64             `json:"height"`
	Parent        agconsensus.Digest `json:"parent"`
	ProposerIndex uint32             `json:"proposer_index"`
	Payload       []byte             `json:"payload"`
}
