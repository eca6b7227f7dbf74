package validation

import (
	"crypto/x509"
	"fmt"
)

// BaseValidationResult contains common validation results for all Nitro
// attestations
type BaseValidationResult struct {
	PCRsValid         bool
	CertificateValid  bool
	SignatureValid    bool
	ValidationDetails []string
}

func (r *BaseValidationResult) detail(format string, args ...any) {
	r.ValidationDetails = append(r.ValidationDetails, fmt.Sprintf(format, args...))
}

// KeyValidationResult contains validation results specific to key attestations
type KeyValidationResult struct {
	BaseValidationResult
	ModuleID       string
	InputKeyMatch  bool
	OracleKeyMatch bool
}

// IsValid returns true if all key validation checks passed
func (r *KeyValidationResult) IsValid() bool {
	return r.PCRsValid && r.CertificateValid && r.SignatureValid && r.InputKeyMatch && r.OracleKeyMatch
}

// SettlementValidationResult reports whether a published settlement is
// backed by the oracle's signed decryption result.
type SettlementValidationResult struct {
	SignatureValid    bool
	AuctionMatch      bool
	RequestMatch      bool
	WinnerMatch       bool
	AmountMatch       bool
	ValidationDetails []string
}

func (r *SettlementValidationResult) detail(format string, args ...any) {
	r.ValidationDetails = append(r.ValidationDetails, fmt.Sprintf(format, args...))
}

// IsValid returns true if all settlement checks passed
func (r *SettlementValidationResult) IsValid() bool {
	return r.SignatureValid && r.AuctionMatch && r.RequestMatch && r.WinnerMatch && r.AmountMatch
}

// PCRSet represents a known-good set of PCR measurements
type PCRSet struct {
	PCR0    string `json:"pcr0"`
	PCR1    string `json:"pcr1"`
	PCR2    string `json:"pcr2"`
	Release string `json:"release"` // enclave release the image was built from
}

// PCRConfig represents the PCR configuration file structure
type PCRConfig struct {
	PCRSets []PCRSet `json:"pcr_sets"`
}

// Trust is what a Nitro attestation is checked against.
type Trust struct {
	PCRSets []PCRSet
	// Roots overrides the AWS Nitro root certificate.
	Roots *x509.CertPool
}
