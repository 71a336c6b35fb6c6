package gcrypto_test

import (
	"testing"

	"github.com/gordian-engine/gagree/gcrypto"
	"github.com/gordian-engine/gagree/gcrypto/gcryptotest"
)

func TestEd25519_Compliance(t *testing.T) {
	t.Parallel()

	var reg gcrypto.Registry
	gcrypto.RegisterEd25519(&reg)

	edSigners := gcryptotest.DeterministicEd25519Signers(3)
	signers := make([]gcrypto.Signer, len(edSigners))
	for i, s := range edSigners {
		signers[i] = s
	}

	gcryptotest.TestSignerCompliance(t, &reg, signers)
}

func TestSecp256k1_Compliance(t *testing.T) {
	t.Parallel()

	var reg gcrypto.Registry
	gcrypto.RegisterSecp256k1(&reg)

	secpSigners := gcryptotest.DeterministicSecp256k1Signers(3)
	signers := make([]gcrypto.Signer, len(secpSigners))
	for i, s := range secpSigners {
		signers[i] = s
	}

	gcryptotest.TestSignerCompliance(t, &reg, signers)
}
