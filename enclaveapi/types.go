package enclaveapi

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/zkinput"
)

// HashAlgorithm names the hash RSA-OAEP uses. Only SHA-256 is accepted.
type HashAlgorithm string

const HashAlgorithmSHA256 HashAlgorithm = "SHA-256"

// InputBinding is what an encrypted bid is bound to. Floor is the auction's
// public minimum and enters the proof as a public input.
type InputBinding struct {
	Contract  common.Address `json:"contract" cbor:"contract"`
	AuctionID uint64         `json:"auction_id" cbor:"auction_id"`
	Bidder    common.Address `json:"bidder" cbor:"bidder"`
	Floor     uint64         `json:"floor" cbor:"floor"`
}

// Digest returns the binding hash committed to inside the proof.
func (b InputBinding) Digest() [32]byte {
	return core.ComputeInputBinding(b.Contract, b.AuctionID, b.Bidder)
}

// InputEnvelope is a bid opening encrypted with hybrid RSA-OAEP + AES-256-GCM.
// The GCM additional data is the binding digest, so the envelope cannot be
// moved to another auction or bidder.
type InputEnvelope struct {
	AESKeyEncrypted  []byte        `json:"aes_key_encrypted" cbor:"aes_key_encrypted"`               // RSA-OAEP encrypted AES key
	EncryptedPayload []byte        `json:"encrypted_payload" cbor:"encrypted_payload"`               // AES-GCM encrypted CBOR zkinput.Opening
	Nonce            []byte        `json:"nonce" cbor:"nonce"`                                       // GCM nonce (12 bytes)
	HashAlgorithm    HashAlgorithm `json:"hash_algorithm,omitempty" cbor:"hash_algorithm,omitempty"` // Optional: "SHA-256" (default)
}

// InputProof is the public half of a bid input: the amount commitment and a
// Groth16 proof over (commitment, binding, floor).
type InputProof struct {
	Commitment [32]byte `json:"commitment" cbor:"commitment"`
	Groth16    []byte   `json:"groth16" cbor:"groth16"`
}

// Statement returns the zkinput statement this proof claims for binding b.
func (p InputProof) Statement(b InputBinding) zkinput.Statement {
	return zkinput.Statement{
		Commitment: p.Commitment,
		Binding:    b.Digest(),
		Floor:      b.Floor,
	}
}

// EncryptedInput is the (ciphertext, proof) pair a bidder submits.
type EncryptedInput struct {
	Envelope InputEnvelope `json:"envelope" cbor:"envelope"`
	Proof    InputProof    `json:"proof" cbor:"proof"`
}

// ValueKind is the plaintext type behind a handle.
type ValueKind uint8

const (
	KindUint64 ValueKind = iota + 1
	KindBool
	KindAddress
)

func (k ValueKind) String() string {
	switch k {
	case KindUint64:
		return "uint64"
	case KindBool:
		return "bool"
	case KindAddress:
		return "address"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Plaintext is a decrypted handle value.
type Plaintext struct {
	Handle  core.Handle    `cbor:"handle"`
	Kind    ValueKind      `cbor:"kind"`
	Uint64  uint64         `cbor:"uint64,omitempty"`
	Bool    bool           `cbor:"bool,omitempty"`
	Address common.Address `cbor:"address,omitempty"`
}

// DecryptionJob asks the oracle to decrypt the final maximum of an auction.
type DecryptionJob struct {
	AuctionID uint64      `cbor:"auction_id"`
	RequestID uint64      `cbor:"request_id"`
	Nonce     [16]byte    `cbor:"nonce"`
	Amount    core.Handle `cbor:"amount"`
	Bidder    core.Handle `cbor:"bidder"`
}

// DecryptionResult is the payload the oracle signs. Every field of the job is
// echoed so the engine can match the response to its outstanding request.
type DecryptionResult struct {
	AuctionID    uint64         `cbor:"auction_id"`
	RequestID    uint64         `cbor:"request_id"`
	Nonce        [16]byte       `cbor:"nonce"`
	AmountHandle core.Handle    `cbor:"amount_handle"`
	BidderHandle core.Handle    `cbor:"bidder_handle"`
	Amount       uint64         `cbor:"amount"`
	Bidder       common.Address `cbor:"bidder"`
	Timestamp    int64          `cbor:"timestamp"`
}

// Matches reports whether the result answers job.
func (r *DecryptionResult) Matches(job DecryptionJob) bool {
	return r.AuctionID == job.AuctionID &&
		r.RequestID == job.RequestID &&
		r.Nonce == job.Nonce &&
		r.AmountHandle == job.Amount &&
		r.BidderHandle == job.Bidder
}

// DecryptionResponse is what the oracle returns for a job.
type DecryptionResponse struct {
	Amount      uint64          `cbor:"amount"`
	Bidder      common.Address  `cbor:"bidder"`
	Attestation AttestationCOSE `cbor:"attestation"`
}

// AttestationCOSE is a raw COSE_Sign1 message.
type AttestationCOSE []byte

// AttestationCOSEBase64 is AttestationCOSE encoded for JSON transport.
type AttestationCOSEBase64 string

// EncodeBase64 encodes the COSE bytes with standard base64.
func (a AttestationCOSE) EncodeBase64() AttestationCOSEBase64 {
	return AttestationCOSEBase64(base64.StdEncoding.EncodeToString(a))
}

func (s AttestationCOSEBase64) String() string {
	return string(s)
}

// Decode accepts either standard or unpadded URL-safe base64.
func (s AttestationCOSEBase64) Decode() (AttestationCOSE, error) {
	if data, err := base64.StdEncoding.DecodeString(string(s)); err == nil {
		return data, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(string(s))
	if err != nil {
		return nil, fmt.Errorf("decode attestation base64: %w", err)
	}
	return data, nil
}

// PCRs represents the Platform Configuration Registers from AWS Nitro Enclaves
type PCRs struct {
	// PCR0: Hash of the Enclave Image File (EIF)
	ImageFileHash string `json:"0"`

	// PCR1: Hash of the Linux kernel and initial RAM data (initramfs)
	KernelHash string `json:"1"`

	// PCR2: Hash of user applications, excluding the boot ramfs
	ApplicationHash string `json:"2"`

	// PCR3: Hash of the IAM role assigned to the parent instance
	IAMRoleHash string `json:"3"`

	// PCR4: Hash of the parent instance's ID
	InstanceIDHash string `json:"4"`

	// PCR8: Hash of the enclave image file's signing certificate
	SigningCertHash string `json:"8,omitempty"`
}

// AttestationDoc is the structured form of an AWS Nitro attestation document
type AttestationDoc struct {
	ModuleID        string    `json:"module_id"`
	Timestamp       time.Time `json:"timestamp"`
	DigestAlgorithm string    `json:"digest"`
	PCRs            PCRs      `json:"pcrs"`
	Certificate     string    `json:"certificate"` // base64 DER
	CABundle        []string  `json:"cabundle"`    // base64 DER, root first
	PublicKey       string    `json:"public_key"`
	Nonce           string    `json:"nonce"`
}

// KeyAttestationUserData is embedded in the key attestation as JSON user data
type KeyAttestationUserData struct {
	InputKeyAlgorithm  string `json:"input_key_algorithm"`  // "RSA-2048"
	InputPublicKey     string `json:"input_public_key"`     // PEM, encrypts bid envelopes
	OracleKeyAlgorithm string `json:"oracle_key_algorithm"` // "ECDSA-P256"
	OraclePublicKey    string `json:"oracle_public_key"`    // PEM, verifies decryption results
}

// KeyResponse is the enclave's answer to a key request
type KeyResponse struct {
	InputPublicKey  string          `json:"input_public_key" cbor:"input_public_key"`
	OraclePublicKey string          `json:"oracle_public_key" cbor:"oracle_public_key"`
	ZKVerifyingKey  []byte          `json:"zk_verifying_key" cbor:"zk_verifying_key"`
	Attestation     AttestationCOSE `json:"attestation,omitempty" cbor:"attestation,omitempty"` // empty outside a Nitro enclave
}
