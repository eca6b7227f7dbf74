package enclaveapi

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

// ContentTypeDecryptionResult labels the COSE payload of an oracle result.
const ContentTypeDecryptionResult = "application/vnd.sealedbid.decryption-result+cbor"

// SignDecryptionResult wraps result in a COSE_Sign1 message signed by signer.
func SignDecryptionResult(signer cose.Signer, result DecryptionResult) (AttestationCOSE, error) {
	payload, err := cbor.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal decryption result: %w", err)
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(signer.Algorithm())
	msg.Headers.Protected[cose.HeaderLabelContentType] = ContentTypeDecryptionResult
	msg.Payload = payload

	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, fmt.Errorf("sign decryption result: %w", err)
	}

	encoded, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("marshal COSE_Sign1: %w", err)
	}
	return encoded, nil
}

// VerifyDecryptionResult checks the ES256 signature on att against the
// oracle key and returns the signed result.
func VerifyDecryptionResult(oracleKey *ecdsa.PublicKey, att []byte) (*DecryptionResult, error) {
	if oracleKey == nil {
		return nil, fmt.Errorf("oracle key is nil")
	}

	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(att); err != nil {
		return nil, fmt.Errorf("parse COSE_Sign1: %w", err)
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES256, oracleKey)
	if err != nil {
		return nil, fmt.Errorf("create verifier: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return nil, fmt.Errorf("COSE signature verification failed: %w", err)
	}

	var result DecryptionResult
	if err := cbor.Unmarshal(msg.Payload, &result); err != nil {
		return nil, fmt.Errorf("parse decryption result: %w", err)
	}
	return &result, nil
}
