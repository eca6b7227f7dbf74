package enclaveapi

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"hash"

	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/sealedbid/zkinput"
)

// NewOAEPHash returns the hash for alg. An empty alg selects SHA-256.
func NewOAEPHash(alg HashAlgorithm) (hash.Hash, error) {
	switch alg {
	case HashAlgorithmSHA256, "":
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", alg)
	}
}

// EncryptHybrid encrypts plaintext with a fresh AES-256-GCM key and wraps the
// key with RSA-OAEP. aad is authenticated but not encrypted.
func EncryptHybrid(plaintext, aad []byte, publicKey *rsa.PublicKey, hashAlg HashAlgorithm) (InputEnvelope, error) {
	hasher, err := NewOAEPHash(hashAlg)
	if err != nil {
		return InputEnvelope{}, err
	}

	aesKey := make([]byte, 32)
	if _, err := rand.Read(aesKey); err != nil {
		return InputEnvelope{}, fmt.Errorf("failed to generate AES key: %w", err)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return InputEnvelope{}, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return InputEnvelope{}, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return InputEnvelope{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	encryptedKey, err := rsa.EncryptOAEP(hasher, rand.Reader, publicKey, aesKey, nil)
	if err != nil {
		return InputEnvelope{}, fmt.Errorf("failed to encrypt AES key: %w", err)
	}

	return InputEnvelope{
		AESKeyEncrypted:  encryptedKey,
		EncryptedPayload: aesgcm.Seal(nil, nonce, plaintext, aad),
		Nonce:            nonce,
		HashAlgorithm:    hashAlg,
	}, nil
}

// EncryptBid builds an encrypted bid input for amount: a hiding commitment,
// a Groth16 proof that the amount clears the floor in binding, and the
// opening sealed to the enclave's input key.
func EncryptBid(publicKey *rsa.PublicKey, prover *zkinput.Prover, binding InputBinding, amount uint64) (EncryptedInput, error) {
	salt, err := zkinput.NewSalt()
	if err != nil {
		return EncryptedInput{}, err
	}

	digest := binding.Digest()
	commitment, err := zkinput.Commit(amount, salt, digest)
	if err != nil {
		return EncryptedInput{}, err
	}

	opening := zkinput.Opening{Amount: amount, Salt: salt}
	statement := zkinput.Statement{Commitment: commitment, Binding: digest, Floor: binding.Floor}
	proof, err := prover.Prove(statement, opening)
	if err != nil {
		return EncryptedInput{}, fmt.Errorf("failed to prove bid input: %w", err)
	}

	payload, err := cbor.Marshal(opening)
	if err != nil {
		return EncryptedInput{}, fmt.Errorf("failed to encode bid opening: %w", err)
	}
	envelope, err := EncryptHybrid(payload, digest[:], publicKey, HashAlgorithmSHA256)
	if err != nil {
		return EncryptedInput{}, err
	}

	return EncryptedInput{
		Envelope: envelope,
		Proof:    InputProof{Commitment: commitment, Groth16: proof},
	}, nil
}

// PublicKeyPEM encodes an RSA or ECDSA public key as a PKIX PEM block.
func PublicKeyPEM(publicKey any) (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: derBytes})), nil
}

func parsePublicKeyPEM(pemData string) (any, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}

// ParseRSAPublicKeyPEM parses the enclave's input encryption key.
func ParseRSAPublicKeyPEM(pemData string) (*rsa.PublicKey, error) {
	key, err := parsePublicKeyPEM(pemData)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not RSA", key)
	}
	return rsaKey, nil
}

// ParseECDSAPublicKeyPEM parses the oracle's result signing key.
func ParseECDSAPublicKeyPEM(pemData string) (*ecdsa.PublicKey, error) {
	key, err := parsePublicKeyPEM(pemData)
	if err != nil {
		return nil, err
	}
	ecKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not ECDSA", key)
	}
	return ecKey, nil
}
