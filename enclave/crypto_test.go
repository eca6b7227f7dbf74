package enclave

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedbid/enclaveapi"
)

func TestGenerateRSAKeyPair(t *testing.T) {
	privateKey, err := GenerateRSAKeyPair()
	assert.NoError(t, err)
	assert.NotNil(t, privateKey)
	assert.Equal(t, 2048, privateKey.N.BitLen())

	_, err = rsa.EncryptPKCS1v15(rand.Reader, &privateKey.PublicKey, []byte("test data"))
	assert.NoError(t, err)
}

func TestHybridEncryptionDecryption(t *testing.T) {
	privateKey, err := GenerateRSAKeyPair()
	assert.NoError(t, err)

	hashAlgorithms := []enclaveapi.HashAlgorithm{
		enclaveapi.HashAlgorithmSHA256,
		"",
	}

	testCases := []struct {
		name      string
		plaintext []byte
		aad       []byte
	}{
		{name: "simple text", plaintext: []byte("Hello, World!")},
		{name: "with binding", plaintext: []byte{0x01, 0x02}, aad: []byte("binding")},
		{name: "empty", plaintext: []byte("")},
		{name: "large data", plaintext: make([]byte, 10000)},
	}

	for _, hashAlg := range hashAlgorithms {
		t.Run("hash="+string(hashAlg), func(t *testing.T) {
			for _, tt := range testCases {
				t.Run(tt.name, func(t *testing.T) {
					env, err := enclaveapi.EncryptHybrid(tt.plaintext, tt.aad, &privateKey.PublicKey, hashAlg)
					assert.NoError(t, err)
					check.Equal(t, 12, len(env.Nonce))

					decrypted, err := DecryptHybrid(env, tt.aad, privateKey)
					assert.NoError(t, err)
					check.Equal(t, string(tt.plaintext), string(decrypted))
				})
			}
		})
	}
}

func TestDecryptHybrid_Rejects(t *testing.T) {
	privateKey, err := GenerateRSAKeyPair()
	assert.NoError(t, err)
	otherKey, err := GenerateRSAKeyPair()
	assert.NoError(t, err)

	env, err := enclaveapi.EncryptHybrid([]byte("secret"), []byte("binding-a"), &privateKey.PublicKey, enclaveapi.HashAlgorithmSHA256)
	assert.NoError(t, err)

	tests := []struct {
		name string
		env  func() enclaveapi.InputEnvelope
		aad  []byte
		key  *rsa.PrivateKey
	}{
		{"wrong additional data", func() enclaveapi.InputEnvelope { return env }, []byte("binding-b"), privateKey},
		{"wrong private key", func() enclaveapi.InputEnvelope { return env }, []byte("binding-a"), otherKey},
		{"sha-1 oaep", func() enclaveapi.InputEnvelope {
			e := env
			e.HashAlgorithm = "SHA-1"
			return e
		}, []byte("binding-a"), privateKey},
		{"unsupported hash", func() enclaveapi.InputEnvelope {
			e := env
			e.HashAlgorithm = "MD5"
			return e
		}, []byte("binding-a"), privateKey},
		{"short nonce", func() enclaveapi.InputEnvelope {
			e := env
			e.Nonce = e.Nonce[:4]
			return e
		}, []byte("binding-a"), privateKey},
		{"tampered payload", func() enclaveapi.InputEnvelope {
			e := env
			e.EncryptedPayload = append([]byte(nil), env.EncryptedPayload...)
			e.EncryptedPayload[0] ^= 0xff
			return e
		}, []byte("binding-a"), privateKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecryptHybrid(tt.env(), tt.aad, tt.key)
			check.Error(t, err)
		})
	}
}
