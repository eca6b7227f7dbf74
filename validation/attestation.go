package validation

import (
	"fmt"

	"github.com/cloudx-io/sealedbid/enclaveapi"
	"github.com/cloudx-io/sealedbid/enclaveapi/parsing"
)

// validateCommonAttestation checks PCRs, certificate chain and signature of
// a Nitro attestation and returns the parsed document with its user data.
func validateCommonAttestation(coseBytes []byte, trust Trust) (*BaseValidationResult, enclaveapi.AttestationDoc, []byte, error) {
	doc, userData, err := parsing.ParseAttestationDoc(coseBytes)
	if err != nil {
		return nil, doc, nil, fmt.Errorf("parse attestation document: %w", err)
	}

	result := &BaseValidationResult{ValidationDetails: []string{}}

	if len(trust.PCRSets) == 0 {
		result.detail("No known PCR sets configured")
	} else if ok, i := ValidatePCRs(doc.PCRs, trust.PCRSets); ok {
		result.PCRsValid = true
		result.detail("PCR measurements valid (set #%d, release %s)", i, trust.PCRSets[i].Release)
	} else {
		result.detail("PCR0: %s (no match)", doc.PCRs.ImageFileHash)
		result.detail("PCR1: %s (no match)", doc.PCRs.KernelHash)
		result.detail("PCR2: %s (no match)", doc.PCRs.ApplicationHash)
	}

	switch {
	case doc.Certificate == "":
		result.detail("Missing certificate")
	case len(doc.CABundle) == 0:
		result.detail("Missing CA bundle")
	default:
		if err := ValidateCertificateChain(doc.Certificate, doc.CABundle, doc.Timestamp, trust.Roots); err != nil {
			result.detail("Certificate chain validation failed: %v", err)
		} else {
			result.CertificateValid = true
			result.detail("Certificate chain verified")
		}
	}

	if err := VerifyCOSESignature(coseBytes, doc.Certificate); err != nil {
		result.detail("COSE signature verification failed: %v", err)
	} else {
		result.SignatureValid = true
		result.detail("COSE signature verified")
	}

	return result, doc, userData, nil
}
