package parsing

import (
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func mockNitroCOSE(t *testing.T, userData []byte) []byte {
	t.Helper()
	doc := map[string]any{
		"module_id": "i-0abc-enc0123",
		"digest":    "SHA384",
		"timestamp": uint64(1_700_000_000_123),
		"pcrs": map[uint64][]byte{
			0: {0x01, 0x02},
			1: {0x03},
			2: {0x04},
		},
		"certificate": []byte("cert"),
		"cabundle":    [][]byte{[]byte("root"), []byte("intermediate")},
		"public_key":  []byte("pk"),
		"user_data":   userData,
		"nonce":       []byte("nonce-1"),
	}
	payload, err := cbor.Marshal(doc)
	assert.NoError(t, err)

	coseBytes, err := cbor.Marshal([]any{[]byte{0xa1}, map[string]any{}, payload, []byte{0x05}})
	assert.NoError(t, err)
	return coseBytes
}

func TestParseAttestationDoc(t *testing.T) {
	coseBytes := mockNitroCOSE(t, []byte(`{"input_key_algorithm":"RSA-2048"}`))

	doc, userData, err := ParseAttestationDoc(coseBytes)
	assert.NoError(t, err)

	check.Equal(t, "i-0abc-enc0123", doc.ModuleID)
	check.Equal(t, "SHA384", doc.DigestAlgorithm)
	check.Equal(t, time.UnixMilli(1_700_000_000_123).UTC(), doc.Timestamp)
	check.Equal(t, "0102", doc.PCRs.ImageFileHash)
	check.Equal(t, "03", doc.PCRs.KernelHash)
	check.Equal(t, "04", doc.PCRs.ApplicationHash)
	check.Equal(t, "", doc.PCRs.SigningCertHash)
	check.Equal(t, 2, len(doc.CABundle))
	check.Equal(t, "nonce-1", doc.Nonce)
	check.Equal(t, `{"input_key_algorithm":"RSA-2048"}`, string(userData))
}

func TestDecodeSign1RejectsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input any
	}{
		{"three elements", []any{[]byte{1}, map[string]any{}, []byte{2}}},
		{"payload not bytes", []any{[]byte{1}, map[string]any{}, "text", []byte{2}}},
		{"empty payload", []any{[]byte{1}, map[string]any{}, []byte{}, []byte{2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := cbor.Marshal(tt.input)
			assert.NoError(t, err)
			_, err = DecodeSign1(data)
			check.Error(t, err)
		})
	}

	_, err := DecodeSign1([]byte{0xff})
	check.Error(t, err)
}

func TestDecodeSign1AcceptsTaggedMessage(t *testing.T) {
	inner, err := cbor.Marshal([]any{[]byte{0xa1}, map[string]any{}, []byte("payload"), []byte{0x05}})
	assert.NoError(t, err)
	tagged, err := cbor.Marshal(cbor.RawTag{Number: 18, Content: inner})
	assert.NoError(t, err)

	msg, err := DecodeSign1(tagged)
	assert.NoError(t, err)
	check.Equal(t, "payload", string(msg.Payload))
	check.Equal(t, []byte{0x05}, msg.Signature)
}
