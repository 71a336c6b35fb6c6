package agpebble

import (
	"encoding/binary"

	"github.com/gordian-engine/gagree/ag/agconsensus"
)

const (
	prefixRoundState   byte = 'r'
	prefixStatement    byte = 's'
	prefixFinalization byte = 'f'
	prefixCandidate    byte = 'c'
	prefixKnownBad     byte = 'x'
	prefixBest         byte = 'b'
)

// Suffixes distinguishing the parts of a multi-key record.
const (
	partCandidate     byte = 'c'
	partJustification byte = 'j'
	partSession       byte = 's'
)

func sessionKey(prefix byte, sid agconsensus.SessionID) []byte {
	k := make([]byte, 0, 1+2+len(sid)+8)
	k = append(k, prefix)
	k = binary.BigEndian.AppendUint16(k, uint16(len(sid)))
	return append(k, sid...)
}

func statementKey(sid agconsensus.SessionID, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(sessionKey(prefixStatement, sid), seq)
}

func finalizationKey(sid agconsensus.SessionID, part byte) []byte {
	return append(sessionKey(prefixFinalization, sid), part)
}

func candidateKey(d agconsensus.Digest, part byte) []byte {
	k := make([]byte, 0, 1+agconsensus.DigestSize+1)
	k = append(k, prefixCandidate)
	k = append(k, d[:]...)
	return append(k, part)
}

func knownBadKey(d agconsensus.Digest) []byte {
	return append([]byte{prefixKnownBad}, d[:]...)
}

// upperBound returns the smallest key greater than every key beginning with prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
