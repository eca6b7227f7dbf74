// Package enclave is the confidential side of the settlement engine. It holds
// every bid plaintext behind opaque handles, evaluates comparisons and
// selections on them, and acts as the decryption oracle that reveals and
// signs the final result.
package enclave

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/veraison/go-cose"

	"github.com/cloudx-io/sealedbid/enclaveapi"
)

// KeyManager holds the enclave's two key pairs: RSA for bid input envelopes
// and ECDSA P-256 for signing decryption results.
type KeyManager struct {
	inputKey  *rsa.PrivateKey   // Keep private - sensitive!
	oracleKey *ecdsa.PrivateKey // Keep private - sensitive!

	InputPublicKey  *rsa.PublicKey
	OraclePublicKey *ecdsa.PublicKey
}

// NewKeyManager generates fresh key pairs
func NewKeyManager() (*KeyManager, error) {
	inputKey, err := GenerateRSAKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate input key pair: %w", err)
	}

	oracleKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate oracle key pair: %w", err)
	}

	return &KeyManager{
		inputKey:        inputKey,
		oracleKey:       oracleKey,
		InputPublicKey:  &inputKey.PublicKey,
		OraclePublicKey: &oracleKey.PublicKey,
	}, nil
}

// InputPublicKeyPEM returns the bid envelope key in PEM format
func (km *KeyManager) InputPublicKeyPEM() (string, error) {
	return enclaveapi.PublicKeyPEM(km.InputPublicKey)
}

// OraclePublicKeyPEM returns the result verification key in PEM format
func (km *KeyManager) OraclePublicKeyPEM() (string, error) {
	return enclaveapi.PublicKeyPEM(km.OraclePublicKey)
}

// OracleSigner returns an ES256 COSE signer over the oracle key
func (km *KeyManager) OracleSigner() (cose.Signer, error) {
	signer, err := cose.NewSigner(cose.AlgorithmES256, km.oracleKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle signer: %w", err)
	}
	return signer, nil
}
