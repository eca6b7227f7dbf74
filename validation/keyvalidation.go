package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudx-io/sealedbid/enclaveapi"
)

// ValidateKeyAttestation checks that the keys an enclave published are the
// ones bound into its Nitro attestation, and that the attestation itself is
// genuine under trust.
//
// The returned error is reserved for inputs that cannot be validated at all;
// failed checks are reported in the result (see IsValid).
func ValidateKeyAttestation(keys *enclaveapi.KeyResponse, trust Trust) (*KeyValidationResult, error) {
	if keys == nil || len(keys.Attestation) == 0 {
		return nil, fmt.Errorf("key response carries no attestation")
	}

	base, doc, userDataBytes, err := validateCommonAttestation(keys.Attestation, trust)
	if err != nil {
		return nil, err
	}

	result := &KeyValidationResult{BaseValidationResult: *base, ModuleID: doc.ModuleID}

	var userData enclaveapi.KeyAttestationUserData
	if len(userDataBytes) > 0 {
		if err := json.Unmarshal(userDataBytes, &userData); err != nil {
			return nil, fmt.Errorf("parse user data: %w", err)
		}
	}

	result.InputKeyMatch = matchKey(&result.BaseValidationResult, "Input", keys.InputPublicKey, userData.InputPublicKey)
	result.OracleKeyMatch = matchKey(&result.BaseValidationResult, "Oracle", keys.OraclePublicKey, userData.OraclePublicKey)
	return result, nil
}

// matchKey compares PEM keys ignoring surrounding whitespace.
func matchKey(r *BaseValidationResult, name, provided, attested string) bool {
	attested = strings.TrimSpace(attested)
	switch {
	case attested == "":
		r.detail("%s public key missing from attestation", name)
		return false
	case strings.TrimSpace(provided) != attested:
		r.detail("%s public key mismatch: provided key does not match attested key", name)
		return false
	default:
		r.detail("%s public key matches attestation", name)
		return true
	}
}
