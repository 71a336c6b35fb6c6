package agp2p

import (
	"context"
	"errors"
	"fmt"

	"github.com/gordian-engine/gagree/ag/agcodec"
	"github.com/gordian-engine/gagree/ag/agconsensus"
)

// MessageType is the first byte of every encoded session message.
type MessageType byte

const (
	_ MessageType = iota // Invalid.

	MessageStatement
	MessageCandidate
)

// Message is the decoded form of one session message.
// Exactly one of Statement and Candidate is set, according to Type.
type Message struct {
	Type MessageType

	Statement *agconsensus.SignedStatement
	Candidate *agconsensus.Candidate
}

var errEmptyMessage = errors.New("empty message")

// EncodeStatement returns the wire form of s.
func EncodeStatement(c agcodec.Codec, s agconsensus.SignedStatement) ([]byte, error) {
	b, err := c.MarshalStatement(s)
	if err != nil {
		return nil, fmt.Errorf("encoding statement: %w", err)
	}
	return append([]byte{byte(MessageStatement)}, b...), nil
}

// EncodeCandidate returns the wire form of cand.
func EncodeCandidate(c agcodec.Codec, cand agconsensus.Candidate) ([]byte, error) {
	b, err := c.MarshalCandidate(cand)
	if err != nil {
		return nil, fmt.Errorf("encoding candidate: %w", err)
	}
	return append([]byte{byte(MessageCandidate)}, b...), nil
}

// Decode parses a message produced by EncodeStatement or EncodeCandidate.
func Decode(c agcodec.Codec, b []byte) (Message, error) {
	if len(b) == 0 {
		return Message{}, errEmptyMessage
	}

	m := Message{Type: MessageType(b[0])}
	switch m.Type {
	case MessageStatement:
		m.Statement = new(agconsensus.SignedStatement)
		if err := c.UnmarshalStatement(b[1:], m.Statement); err != nil {
			return Message{}, fmt.Errorf("decoding statement: %w", err)
		}
	case MessageCandidate:
		m.Candidate = new(agconsensus.Candidate)
		if err := c.UnmarshalCandidate(b[1:], m.Candidate); err != nil {
			return Message{}, fmt.Errorf("decoding candidate: %w", err)
		}
	default:
		return Message{}, fmt.Errorf("unknown message type %d", b[0])
	}
	return m, nil
}

// Dispatch passes m to the matching method of h.
func Dispatch(ctx context.Context, h InboundHandler, m Message) {
	switch m.Type {
	case MessageStatement:
		h.HandleStatement(ctx, *m.Statement)
	case MessageCandidate:
		h.HandleCandidate(ctx, *m.Candidate)
	}
}
