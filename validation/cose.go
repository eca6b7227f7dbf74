package validation

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/sealedbid/enclaveapi/parsing"
)

// SigStructure returns the bytes a COSE_Sign1 signature covers, with empty
// external AAD.
func SigStructure(protected, payload []byte) ([]byte, error) {
	b, err := cbor.Marshal([]any{"Signature1", protected, []byte{}, payload})
	if err != nil {
		return nil, fmt.Errorf("marshal Sig_structure: %w", err)
	}
	return b, nil
}

// VerifyCOSESignature checks the ES384 signature of an untagged Nitro
// COSE_Sign1 document against the public key of the base64 DER signing
// certificate.
func VerifyCOSESignature(coseBytes []byte, certB64 string) error {
	cert, err := parseCertB64(certB64)
	if err != nil {
		return err
	}
	key, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate public key is not ECDSA")
	}

	msg, err := parsing.DecodeSign1(coseBytes)
	if err != nil {
		return err
	}

	toBeSigned, err := SigStructure(msg.Protected, msg.Payload)
	if err != nil {
		return err
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES384, key)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}
	if err := verifier.Verify(toBeSigned, msg.Signature); err != nil {
		return fmt.Errorf("COSE signature verification failed: %w", err)
	}
	return nil
}
