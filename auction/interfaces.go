package auction

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/enclaveapi"
)

// Coprocessor evaluates encrypted operations on handles owned by the engine.
// enclave.Coprocessor and enclaveapi.Client both satisfy it.
type Coprocessor interface {
	VerifyInput(ctx context.Context, owner common.Address, in enclaveapi.EncryptedInput, binding enclaveapi.InputBinding) (core.Handle, error)
	TrivialEncryptAddress(ctx context.Context, owner, addr common.Address) (core.Handle, error)
	Gt(ctx context.Context, caller common.Address, a, b core.Handle) (core.Handle, error)
	Select(ctx context.Context, caller common.Address, cond, a, b core.Handle) (core.Handle, error)
	AllowPublicDecrypt(ctx context.Context, caller common.Address, handles ...core.Handle) error
	Release(ctx context.Context, caller common.Address, handles ...core.Handle) error
}

// PlainDecrypter reveals decryptable handles without an oracle attestation.
// Only the degraded close path uses it.
type PlainDecrypter interface {
	Decrypt(ctx context.Context, handles ...core.Handle) ([]enclaveapi.Plaintext, error)
}

// AssetRegistry holds asset ownership. Errors for missing approval or
// ownership must wrap core.ErrUnauthorized.
type AssetRegistry interface {
	OwnerOf(asset core.Asset) (common.Address, error)
	TransferFrom(caller, from, to common.Address, asset core.Asset) error
}

// Dispatcher hands a decryption job to the oracle. It must not block on the
// oracle; the answer arrives later through Engine.OnDecryptionCallback.
type Dispatcher interface {
	Dispatch(job enclaveapi.DecryptionJob) error
}

// EventSink receives engine events after each committed transition.
type EventSink interface {
	Emit(ev Event)
}
