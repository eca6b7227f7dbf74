package enclave

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	nitro "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedbid/enclaveapi"
	"github.com/cloudx-io/sealedbid/zkinput"
)

// EnclaveAttester interface for dependency injection and testing
type EnclaveAttester interface {
	Attest(options nitro.AttestationOptions) ([]byte, error)
}

// NSMAttester returns the Nitro Security Module handle, or an error outside
// a Nitro enclave.
func NSMAttester() (EnclaveAttester, error) {
	handle, err := nitro.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return handle, nil
}

func generateNonce() (string, error) {
	randomBytes := make([]byte, 32) // 256 bits of entropy
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate secure nonce - %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}

// GenerateKeyAttestation binds the enclave's public keys to its PCR
// measurements through an NSM attestation.
func GenerateKeyAttestation(attester EnclaveAttester, keys *KeyManager) (enclaveapi.AttestationCOSE, error) {
	if attester == nil {
		return nil, fmt.Errorf("enclave attester is nil")
	}

	inputPEM, err := keys.InputPublicKeyPEM()
	if err != nil {
		return nil, fmt.Errorf("failed to convert input key to PEM: %w", err)
	}
	oraclePEM, err := keys.OraclePublicKeyPEM()
	if err != nil {
		return nil, fmt.Errorf("failed to convert oracle key to PEM: %w", err)
	}

	userData, err := json.Marshal(&enclaveapi.KeyAttestationUserData{
		InputKeyAlgorithm:  "RSA-2048",
		InputPublicKey:     inputPEM,
		OracleKeyAlgorithm: "ECDSA-P256",
		OraclePublicKey:    oraclePEM,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key user data: %w", err)
	}

	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	attestationCBOR, err := attester.Attest(nitro.AttestationOptions{
		UserData: userData,
		Nonce:    []byte(nonce),
	})
	if err != nil {
		return nil, fmt.Errorf("NSM key attestation failed: %w", err)
	}

	logrus.WithField("bytes", len(attestationCBOR)).Info("key attestation generated")
	return enclaveapi.AttestationCOSE(attestationCBOR), nil
}

// HandleKeyRequest returns the enclave's public keys, the bid proof verifying
// key, and, when an attester is available, the key attestation.
func HandleKeyRequest(attester EnclaveAttester, keys *KeyManager, verifier *zkinput.Verifier) (*enclaveapi.KeyResponse, error) {
	inputPEM, err := keys.InputPublicKeyPEM()
	if err != nil {
		return nil, fmt.Errorf("failed to export input key: %w", err)
	}
	oraclePEM, err := keys.OraclePublicKeyPEM()
	if err != nil {
		return nil, fmt.Errorf("failed to export oracle key: %w", err)
	}
	vk, err := verifier.MarshalBinary()
	if err != nil {
		return nil, err
	}

	resp := &enclaveapi.KeyResponse{
		InputPublicKey:  inputPEM,
		OraclePublicKey: oraclePEM,
		ZKVerifyingKey:  vk,
	}
	if attester != nil {
		if resp.Attestation, err = GenerateKeyAttestation(attester, keys); err != nil {
			return nil, err
		}
	}
	return resp, nil
}
