package enclave

import (
	"encoding/hex"
	"fmt"
	"sync"
	"testing"

	nitro "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"

	"github.com/cloudx-io/sealedbid/enclaveapi"
	"github.com/cloudx-io/sealedbid/zkinput"
)

var (
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000e1e1e")
	aliceAddr  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bobAddr    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

var (
	zkOnce     sync.Once
	zkProver   *zkinput.Prover
	zkVerifier *zkinput.Verifier
	zkErr      error
)

// zkKeys runs the Groth16 setup once per test binary.
func zkKeys(t *testing.T) (*zkinput.Prover, *zkinput.Verifier) {
	t.Helper()
	zkOnce.Do(func() {
		zkProver, zkVerifier, zkErr = zkinput.Setup()
	})
	assert.NoError(t, zkErr)
	return zkProver, zkVerifier
}

func newTestCoprocessor(t *testing.T) (*Coprocessor, *KeyManager, *zkinput.Prover) {
	t.Helper()
	prover, verifier := zkKeys(t)
	keys, err := NewKeyManager()
	assert.NoError(t, err)
	return NewCoprocessor(keys, verifier, nil), keys, prover
}

func bindingFor(auctionID uint64, bidder common.Address, floor uint64) enclaveapi.InputBinding {
	return enclaveapi.InputBinding{Contract: engineAddr, AuctionID: auctionID, Bidder: bidder, Floor: floor}
}

func encryptBid(t *testing.T, keys *KeyManager, prover *zkinput.Prover, binding enclaveapi.InputBinding, amount uint64) enclaveapi.EncryptedInput {
	t.Helper()
	in, err := enclaveapi.EncryptBid(keys.InputPublicKey, prover, binding, amount)
	assert.NoError(t, err)
	return in
}

// MockEnclaveHandle implements the Attest method for testing
type MockEnclaveHandle struct {
	AttestFunc func(options nitro.AttestationOptions) ([]byte, error)
}

func (m *MockEnclaveHandle) Attest(options nitro.AttestationOptions) ([]byte, error) {
	if m.AttestFunc != nil {
		return m.AttestFunc(options)
	}
	return nil, fmt.Errorf("mock not configured")
}

func mustDecodeHex(t *testing.T, hexStr string) []byte {
	t.Helper()
	bytes, err := hex.DecodeString(hexStr)
	if err != nil {
		panic(fmt.Sprintf("invalid hex string: %s", hexStr))
	}
	return bytes
}

// CreateMockEnclave creates a mock enclave handle for testing with realistic attestation data
func CreateMockEnclave(t *testing.T) *MockEnclaveHandle {
	t.Helper()
	return &MockEnclaveHandle{
		AttestFunc: func(options nitro.AttestationOptions) ([]byte, error) {
			nestedDoc := map[string]any{
				"module_id": "test-enclave-12345",
				"digest":    "SHA384",
				"timestamp": uint64(1234567890),
				"pcrs": map[uint64][]byte{
					0: mustDecodeHex(t, "3b4cef27e672fdbcc808960a88ddfe7329dd2e367b6850c9a8d910315f0b47e4224d6db361b75e010c87691d86ca9c57"),
					1: mustDecodeHex(t, "4b4d5b3661b3efc12920900c80e126e4ce783c522de6c02a2a5bf7af3a2b9327b86776f188e4be1c1c404a129dbda493"),
					2: mustDecodeHex(t, "2bdd28c1d85bb3872da3617a29a6bfeb50c65750c995f92e7dac6b5f2c4c72e0f9976bdee62a0b25864d10dffb535e11"),
				},
				"certificate": []byte("test-certificate-data"),
				"cabundle":    [][]byte{[]byte("test-ca-cert")},
				"public_key":  []byte("test-public-key-data"),
				"user_data":   options.UserData,
				"nonce":       options.Nonce,
			}

			nestedBytes, _ := cbor.Marshal(nestedDoc)

			// AWS Nitro 4-element array format: [header, metadata, nested_doc, signature]
			result := []any{
				[]byte{0x01, 0x02, 0x03},
				map[string]any{},
				nestedBytes,
				[]byte{0x04, 0x05, 0x06},
			}

			return cbor.Marshal(result)
		},
	}
}

func addrFor(name string) common.Address {
	return common.BytesToAddress([]byte(name))
}
