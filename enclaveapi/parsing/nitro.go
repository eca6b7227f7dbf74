// Package parsing decodes AWS Nitro attestation documents.
package parsing

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/sealedbid/enclaveapi"
)

// Sign1 is a COSE_Sign1 array: [protected, unprotected, payload, signature].
// The NSM emits it without the CBOR tag; a tagged message decodes the same.
type Sign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected cbor.RawMessage
	Payload     []byte
	Signature   []byte
}

// DecodeSign1 decodes a COSE_Sign1 message.
func DecodeSign1(data []byte) (*Sign1, error) {
	var msg Sign1
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse COSE_Sign1: %w", err)
	}
	if len(msg.Payload) == 0 {
		return nil, fmt.Errorf("COSE_Sign1 has no payload")
	}
	return &msg, nil
}

// nitroDocument is the CBOR payload the NSM signs.
type nitroDocument struct {
	ModuleID    string            `cbor:"module_id"`
	Digest      string            `cbor:"digest"`
	Timestamp   uint64            `cbor:"timestamp"` // ms since epoch
	PCRs        map[uint64][]byte `cbor:"pcrs"`
	Certificate []byte            `cbor:"certificate"`
	CABundle    [][]byte          `cbor:"cabundle"`
	PublicKey   []byte            `cbor:"public_key"`
	UserData    []byte            `cbor:"user_data"`
	Nonce       []byte            `cbor:"nonce"`
}

func (d *nitroDocument) pcrs() enclaveapi.PCRs {
	return enclaveapi.PCRs{
		ImageFileHash:   hex.EncodeToString(d.PCRs[0]),
		KernelHash:      hex.EncodeToString(d.PCRs[1]),
		ApplicationHash: hex.EncodeToString(d.PCRs[2]),
		IAMRoleHash:     hex.EncodeToString(d.PCRs[3]),
		InstanceIDHash:  hex.EncodeToString(d.PCRs[4]),
		SigningCertHash: hex.EncodeToString(d.PCRs[8]),
	}
}

// ParseAttestationDoc decodes a Nitro attestation into the structured
// document and returns its raw user data alongside. Certificates are base64
// DER, root first in the bundle.
func ParseAttestationDoc(data []byte) (enclaveapi.AttestationDoc, []byte, error) {
	msg, err := DecodeSign1(data)
	if err != nil {
		return enclaveapi.AttestationDoc{}, nil, err
	}

	var raw nitroDocument
	if err := cbor.Unmarshal(msg.Payload, &raw); err != nil {
		return enclaveapi.AttestationDoc{}, nil, fmt.Errorf("parse attestation document: %w", err)
	}

	bundle := make([]string, len(raw.CABundle))
	for i, der := range raw.CABundle {
		bundle[i] = base64.StdEncoding.EncodeToString(der)
	}

	return enclaveapi.AttestationDoc{
		ModuleID:        raw.ModuleID,
		Timestamp:       time.UnixMilli(int64(raw.Timestamp)).UTC(),
		DigestAlgorithm: raw.Digest,
		PCRs:            raw.pcrs(),
		Certificate:     base64.StdEncoding.EncodeToString(raw.Certificate),
		CABundle:        bundle,
		PublicKey:       base64.StdEncoding.EncodeToString(raw.PublicKey),
		Nonce:           string(raw.Nonce),
	}, raw.UserData, nil
}
