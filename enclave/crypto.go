package enclave

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/cloudx-io/sealedbid/enclaveapi"
)

// GenerateRSAKeyPair generates a new RSA-2048 key pair using crypto/rand
// In a TEE environment, crypto/rand uses NSM-enhanced entropy
func GenerateRSAKeyPair() (*rsa.PrivateKey, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key pair: %w", err)
	}
	return privateKey, nil
}

// DecryptHybrid opens an envelope produced by enclaveapi.EncryptHybrid.
// aad must equal the additional data used at encryption time.
func DecryptHybrid(env enclaveapi.InputEnvelope, aad []byte, privateKey *rsa.PrivateKey) ([]byte, error) {
	hasher, err := enclaveapi.NewOAEPHash(env.HashAlgorithm)
	if err != nil {
		return nil, err
	}

	aesKey, err := rsa.DecryptOAEP(hasher, rand.Reader, privateKey, env.AESKeyEncrypted, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt AES key: %w", err)
	}

	// AES-256 only
	if len(aesKey) != 32 {
		return nil, fmt.Errorf("invalid AES key length: expected 32 bytes, got %d", len(aesKey))
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(env.Nonce) != aesgcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce length: expected %d bytes, got %d", aesgcm.NonceSize(), len(env.Nonce))
	}

	plaintext, err := aesgcm.Open(nil, env.Nonce, env.EncryptedPayload, aad)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt payload: %w", err)
	}

	return plaintext, nil
}
