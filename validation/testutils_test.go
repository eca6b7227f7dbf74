package validation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/sealedbid/enclaveapi"
)

var attestedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

var knownPCRs = []PCRSet{
	{PCR0: "aa00", PCR1: "bb11", PCR2: "cc22", Release: "v1.0.0"},
}

// nitroCA stands in for the Nitro PKI: a P-384 root and a leaf signing key.
type nitroCA struct {
	roots   *x509.CertPool
	rootDER []byte
	leafDER []byte
	leafKey *ecdsa.PrivateKey
}

func newNitroCA(t *testing.T) *nitroCA {
	t.Helper()
	rootKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	assert.NoError(t, err)
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test.nitro-enclaves"},
		NotBefore:             attestedAt.Add(-24 * time.Hour),
		NotAfter:              attestedAt.Add(365 * 24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	assert.NoError(t, err)
	root, err := x509.ParseCertificate(rootDER)
	assert.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	assert.NoError(t, err)
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "i-0abc-enc0123"},
		NotBefore:    attestedAt.Add(-time.Hour),
		NotAfter:     attestedAt.Add(3 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, root, &leafKey.PublicKey, rootKey)
	assert.NoError(t, err)

	roots := x509.NewCertPool()
	roots.AddCert(root)
	return &nitroCA{roots: roots, rootDER: rootDER, leafDER: leafDER, leafKey: leafKey}
}

func (ca *nitroCA) trust() Trust {
	return Trust{PCRSets: knownPCRs, Roots: ca.roots}
}

// attest builds an untagged COSE_Sign1 Nitro document carrying userData.
func (ca *nitroCA) attest(t *testing.T, pcr0 string, userData []byte) []byte {
	t.Helper()
	doc := map[string]any{
		"module_id": "i-0abc-enc0123",
		"digest":    "SHA384",
		"timestamp": uint64(attestedAt.UnixMilli()),
		"pcrs": map[uint64][]byte{
			0: mustHex(pcr0),
			1: {0xbb, 0x11},
			2: {0xcc, 0x22},
		},
		"certificate": ca.leafDER,
		"cabundle":    [][]byte{ca.rootDER},
		"public_key":  []byte{},
		"user_data":   userData,
		"nonce":       []byte("nonce-1"),
	}
	payload, err := cbor.Marshal(doc)
	assert.NoError(t, err)

	protected, err := cbor.Marshal(map[int]int{1: int(cose.AlgorithmES384)})
	assert.NoError(t, err)
	toBeSigned, err := SigStructure(protected, payload)
	assert.NoError(t, err)

	signer, err := cose.NewSigner(cose.AlgorithmES384, ca.leafKey)
	assert.NoError(t, err)
	sig, err := signer.Sign(rand.Reader, toBeSigned)
	assert.NoError(t, err)

	out, err := cbor.Marshal([]any{protected, map[any]any{}, payload, sig})
	assert.NoError(t, err)
	return out
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func keyUserData(t *testing.T, inputPEM, oraclePEM string) []byte {
	t.Helper()
	data, err := json.Marshal(&enclaveapi.KeyAttestationUserData{
		InputKeyAlgorithm:  "RSA-2048",
		InputPublicKey:     inputPEM,
		OracleKeyAlgorithm: "ECDSA-P256",
		OraclePublicKey:    oraclePEM,
	})
	assert.NoError(t, err)
	return data
}

func b64(der []byte) string {
	return base64.StdEncoding.EncodeToString(der)
}

func cborMarshal(v any) ([]byte, error) { return cbor.Marshal(v) }
