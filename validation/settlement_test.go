package validation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/sealedbid/enclaveapi"
)

var winner = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

func signedSettlement(t *testing.T) (string, enclaveapi.AttestationCOSE) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	assert.NoError(t, err)
	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	assert.NoError(t, err)

	att, err := enclaveapi.SignDecryptionResult(signer, enclaveapi.DecryptionResult{
		AuctionID: 3,
		RequestID: 5,
		Amount:    20,
		Bidder:    winner,
		Timestamp: attestedAt.Unix(),
	})
	assert.NoError(t, err)

	pem, err := enclaveapi.PublicKeyPEM(&key.PublicKey)
	assert.NoError(t, err)
	return pem, att
}

func TestValidateSettlementAttestation(t *testing.T) {
	pem, att := signedSettlement(t)

	result, err := ValidateSettlementAttestation(&SettlementValidationInput{
		OraclePublicKey: pem,
		Attestation:     att,
		AuctionID:       3,
		RequestID:       5,
		Winner:          winner,
		WinningAmount:   20,
	})
	assert.NoError(t, err)
	check.True(t, result.IsValid())
}

func TestValidateSettlementAttestationMismatches(t *testing.T) {
	pem, att := signedSettlement(t)
	otherPEM, _ := signedSettlement(t)

	tests := []struct {
		name  string
		input SettlementValidationInput
		check func(t *testing.T, r *SettlementValidationResult)
	}{
		{
			name:  "published amount differs",
			input: SettlementValidationInput{OraclePublicKey: pem, Attestation: att, AuctionID: 3, RequestID: 5, Winner: winner, WinningAmount: 21},
			check: func(t *testing.T, r *SettlementValidationResult) {
				check.True(t, r.SignatureValid)
				check.False(t, r.AmountMatch)
			},
		},
		{
			name:  "published winner differs",
			input: SettlementValidationInput{OraclePublicKey: pem, Attestation: att, AuctionID: 3, RequestID: 5, Winner: common.HexToAddress("0xb0b"), WinningAmount: 20},
			check: func(t *testing.T, r *SettlementValidationResult) {
				check.False(t, r.WinnerMatch)
			},
		},
		{
			name:  "attestation for another auction",
			input: SettlementValidationInput{OraclePublicKey: pem, Attestation: att, AuctionID: 4, RequestID: 5, Winner: winner, WinningAmount: 20},
			check: func(t *testing.T, r *SettlementValidationResult) {
				check.False(t, r.AuctionMatch)
			},
		},
		{
			name:  "stale request",
			input: SettlementValidationInput{OraclePublicKey: pem, Attestation: att, AuctionID: 3, RequestID: 6, Winner: winner, WinningAmount: 20},
			check: func(t *testing.T, r *SettlementValidationResult) {
				check.False(t, r.RequestMatch)
			},
		},
		{
			name:  "signed by another key",
			input: SettlementValidationInput{OraclePublicKey: otherPEM, Attestation: att, AuctionID: 3, RequestID: 5, Winner: winner, WinningAmount: 20},
			check: func(t *testing.T, r *SettlementValidationResult) {
				check.False(t, r.SignatureValid)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ValidateSettlementAttestation(&tt.input)
			assert.NoError(t, err)
			check.False(t, result.IsValid())
			tt.check(t, result)
		})
	}

	_, err := ValidateSettlementAttestation(&SettlementValidationInput{OraclePublicKey: "nope", Attestation: att})
	check.Error(t, err)
	_, err = ValidateSettlementAttestation(&SettlementValidationInput{OraclePublicKey: pem})
	check.Error(t, err)
}
