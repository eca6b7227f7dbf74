package validation

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cloudx-io/sealedbid/enclaveapi"
)

// SettlementValidationInput is a published settlement and the oracle
// attestation it claims to rest on.
type SettlementValidationInput struct {
	OraclePublicKey string // PEM
	Attestation     enclaveapi.AttestationCOSE
	AuctionID       uint64
	RequestID       uint64
	Winner          common.Address
	WinningAmount   uint64
}

// ValidateSettlementAttestation re-verifies a settled auction's winner and
// amount against the oracle's signed decryption result.
func ValidateSettlementAttestation(input *SettlementValidationInput) (*SettlementValidationResult, error) {
	if input == nil || len(input.Attestation) == 0 {
		return nil, fmt.Errorf("no attestation to validate")
	}
	key, err := enclaveapi.ParseECDSAPublicKeyPEM(input.OraclePublicKey)
	if err != nil {
		return nil, fmt.Errorf("oracle public key: %w", err)
	}

	result := &SettlementValidationResult{ValidationDetails: []string{}}

	signed, err := enclaveapi.VerifyDecryptionResult(key, input.Attestation)
	if err != nil {
		result.detail("Oracle signature verification failed: %v", err)
		return result, nil
	}
	result.SignatureValid = true
	result.detail("Oracle signature verified")

	result.AuctionMatch = signed.AuctionID == input.AuctionID
	if result.AuctionMatch {
		result.detail("Auction %d matches", input.AuctionID)
	} else {
		result.detail("Auction mismatch: attested %d, published %d", signed.AuctionID, input.AuctionID)
	}

	result.RequestMatch = signed.RequestID == input.RequestID
	if result.RequestMatch {
		result.detail("Decryption request %d matches", input.RequestID)
	} else {
		result.detail("Request mismatch: attested %d, published %d", signed.RequestID, input.RequestID)
	}

	result.WinnerMatch = signed.Bidder == input.Winner
	if result.WinnerMatch {
		result.detail("Winner %s matches", input.Winner.Hex())
	} else {
		result.detail("Winner mismatch: attested %s, published %s", signed.Bidder.Hex(), input.Winner.Hex())
	}

	result.AmountMatch = signed.Amount == input.WinningAmount
	if result.AmountMatch {
		result.detail("Winning amount %d matches", input.WinningAmount)
	} else {
		result.detail("Winning amount mismatch: attested %d, published %d", signed.Amount, input.WinningAmount)
	}
	return result, nil
}
