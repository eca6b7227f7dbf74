package enclaveapi

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/sealedbid/core"
)

// Request types understood by the enclave server.
const (
	TypePing           = "ping"
	TypeKeyRequest     = "key_request"
	TypeVerifyInput    = "verify_input"
	TypeTrivialEncrypt = "trivial_encrypt"
	TypeCompute        = "compute"
	TypeAllowDecrypt   = "allow_decrypt"
	TypeRelease        = "release"
	TypeDecrypt        = "decrypt"
	TypeOracleDecrypt  = "oracle_decrypt"
)

// Operations accepted by TypeCompute.
const (
	OpGt     = "gt"
	OpSelect = "select"
)

// Errors shared by the coprocessor and its remote client.
var (
	ErrUnknownHandle  = errors.New("unknown handle")
	ErrAccessDenied   = errors.New("handle access denied")
	ErrNotDecryptable = errors.New("handle not marked decryptable")
	ErrTypeMismatch   = errors.New("operand type mismatch")
)

// Error codes carried in Response.Error.
const (
	CodeInvalidProof   = "invalid_proof"
	CodeUnknownHandle  = "unknown_handle"
	CodeAccessDenied   = "access_denied"
	CodeNotDecryptable = "not_decryptable"
	CodeTypeMismatch   = "type_mismatch"
	CodeInternal       = "internal"
)

var codeErrors = map[string]error{
	CodeInvalidProof:   core.ErrInvalidProof,
	CodeUnknownHandle:  ErrUnknownHandle,
	CodeAccessDenied:   ErrAccessDenied,
	CodeNotDecryptable: ErrNotDecryptable,
	CodeTypeMismatch:   ErrTypeMismatch,
}

// Request is one RPC call. Body holds the CBOR encoding of the typed request.
type Request struct {
	Type string          `cbor:"type"`
	Body cbor.RawMessage `cbor:"body,omitempty"`
}

// Response answers a Request. Exactly one of Error and Body is set.
type Response struct {
	Type  string          `cbor:"type"`
	Error *Error          `cbor:"error,omitempty"`
	Body  cbor.RawMessage `cbor:"body,omitempty"`
}

// Error is a typed RPC failure. It unwraps to the matching sentinel so callers
// on both sides of the wire can use errors.Is.
type Error struct {
	Code    string `cbor:"code"`
	Message string `cbor:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return codeErrors[e.Code]
}

// NewError classifies err for the wire.
func NewError(err error) *Error {
	code := CodeInternal
	for c, sentinel := range codeErrors {
		if errors.Is(err, sentinel) {
			code = c
			break
		}
	}
	return &Error{Code: code, Message: err.Error()}
}

type PingResponse struct {
	Message   string `cbor:"message"`
	Timestamp int64  `cbor:"timestamp"`
}

type VerifyInputRequest struct {
	Owner   common.Address `cbor:"owner"`
	Input   EncryptedInput `cbor:"input"`
	Binding InputBinding   `cbor:"binding"`
}

type TrivialEncryptRequest struct {
	Owner   common.Address `cbor:"owner"`
	Kind    ValueKind      `cbor:"kind"`
	Uint64  uint64         `cbor:"uint64,omitempty"`
	Address common.Address `cbor:"address,omitempty"`
}

type ComputeRequest struct {
	Caller   common.Address `cbor:"caller"`
	Op       string         `cbor:"op"`
	Operands []core.Handle  `cbor:"operands"`
}

type HandleResponse struct {
	Handle core.Handle `cbor:"handle"`
}

type AllowDecryptRequest struct {
	Caller  common.Address `cbor:"caller"`
	Handles []core.Handle  `cbor:"handles"`
}

type ReleaseRequest struct {
	Caller  common.Address `cbor:"caller"`
	Handles []core.Handle  `cbor:"handles"`
}

type DecryptRequest struct {
	Handles []core.Handle `cbor:"handles"`
}

type DecryptResponse struct {
	Values []Plaintext `cbor:"values"`
}
