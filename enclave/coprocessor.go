package enclave

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/enclaveapi"
	"github.com/cloudx-io/sealedbid/zkinput"
)

// sealedValue is a plaintext that never leaves the enclave except through
// Decrypt, and only after its owner marked it decryptable.
type sealedValue struct {
	kind        enclaveapi.ValueKind
	u           uint64
	b           bool
	addr        common.Address
	owner       common.Address
	decryptable bool
}

// Coprocessor evaluates encrypted comparisons and selections over handles.
// Each handle has one owner; only the owner may compute on it or allow its
// decryption.
type Coprocessor struct {
	mu       sync.RWMutex
	values   map[core.Handle]*sealedValue
	keys     *KeyManager
	verifier *zkinput.Verifier
	log      logrus.FieldLogger
}

// NewCoprocessor returns an empty coprocessor that opens bid envelopes with
// keys and checks their proofs with verifier.
func NewCoprocessor(keys *KeyManager, verifier *zkinput.Verifier, log logrus.FieldLogger) *Coprocessor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Coprocessor{
		values:   make(map[core.Handle]*sealedValue),
		keys:     keys,
		verifier: verifier,
		log:      log.WithField("component", "coprocessor"),
	}
}

// VerifyInput checks an encrypted bid against its binding and stores the
// amount under a new handle owned by owner. Every failure wraps
// core.ErrInvalidProof and stores nothing.
func (c *Coprocessor) VerifyInput(ctx context.Context, owner common.Address, in enclaveapi.EncryptedInput, binding enclaveapi.InputBinding) (core.Handle, error) {
	if err := ctx.Err(); err != nil {
		return core.Handle{}, err
	}

	if err := c.verifier.Verify(in.Proof.Statement(binding), in.Proof.Groth16); err != nil {
		return core.Handle{}, fmt.Errorf("%w: %v", core.ErrInvalidProof, err)
	}

	digest := binding.Digest()
	plaintext, err := DecryptHybrid(in.Envelope, digest[:], c.keys.inputKey)
	if err != nil {
		return core.Handle{}, fmt.Errorf("%w: envelope does not open under binding: %v", core.ErrInvalidProof, err)
	}

	var opening zkinput.Opening
	if err := cbor.Unmarshal(plaintext, &opening); err != nil {
		return core.Handle{}, fmt.Errorf("%w: malformed opening: %v", core.ErrInvalidProof, err)
	}

	commitment, err := zkinput.Commit(opening.Amount, opening.Salt, digest)
	if err != nil {
		return core.Handle{}, fmt.Errorf("%w: %v", core.ErrInvalidProof, err)
	}
	if commitment != in.Proof.Commitment {
		return core.Handle{}, fmt.Errorf("%w: ciphertext does not match proof commitment", core.ErrInvalidProof)
	}
	if !core.MeetsFloor(opening.Amount, binding.Floor) {
		return core.Handle{}, fmt.Errorf("%w: amount below floor", core.ErrInvalidProof)
	}

	return c.store("input", &sealedValue{kind: enclaveapi.KindUint64, u: opening.Amount, owner: owner})
}

// TrivialEncrypt64 seals a public uint64.
func (c *Coprocessor) TrivialEncrypt64(ctx context.Context, owner common.Address, v uint64) (core.Handle, error) {
	if err := ctx.Err(); err != nil {
		return core.Handle{}, err
	}
	return c.store("trivial_uint64", &sealedValue{kind: enclaveapi.KindUint64, u: v, owner: owner})
}

// TrivialEncryptAddress seals a public address.
func (c *Coprocessor) TrivialEncryptAddress(ctx context.Context, owner, addr common.Address) (core.Handle, error) {
	if err := ctx.Err(); err != nil {
		return core.Handle{}, err
	}
	return c.store("trivial_address", &sealedValue{kind: enclaveapi.KindAddress, addr: addr, owner: owner})
}

// Gt returns a handle to the encrypted boolean a > b.
func (c *Coprocessor) Gt(ctx context.Context, caller common.Address, a, b core.Handle) (core.Handle, error) {
	if err := ctx.Err(); err != nil {
		return core.Handle{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	va, err := c.operand(caller, a, enclaveapi.KindUint64)
	if err != nil {
		return core.Handle{}, err
	}
	vb, err := c.operand(caller, b, enclaveapi.KindUint64)
	if err != nil {
		return core.Handle{}, err
	}

	return c.storeLocked("gt", &sealedValue{kind: enclaveapi.KindBool, b: va.u > vb.u, owner: caller}, a, b)
}

// Select returns a handle to cond ? a : b. a and b must hold the same kind.
// The result is a fresh handle, unlinkable to either operand.
func (c *Coprocessor) Select(ctx context.Context, caller common.Address, cond, a, b core.Handle) (core.Handle, error) {
	if err := ctx.Err(); err != nil {
		return core.Handle{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	vc, err := c.operand(caller, cond, enclaveapi.KindBool)
	if err != nil {
		return core.Handle{}, err
	}
	va, err := c.operand(caller, a, 0)
	if err != nil {
		return core.Handle{}, err
	}
	vb, err := c.operand(caller, b, va.kind)
	if err != nil {
		return core.Handle{}, err
	}

	chosen := *vb
	if vc.b {
		chosen = *va
	}
	chosen.owner = caller
	chosen.decryptable = false

	return c.storeLocked("select", &chosen, cond, a, b)
}

// AllowPublicDecrypt marks handles as decryptable by the oracle.
func (c *Coprocessor) AllowPublicDecrypt(ctx context.Context, caller common.Address, handles ...core.Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, h := range handles {
		if _, err := c.operand(caller, h, 0); err != nil {
			return err
		}
	}
	for _, h := range handles {
		c.values[h].decryptable = true
	}
	return nil
}

// Decrypt reveals handles previously marked decryptable.
func (c *Coprocessor) Decrypt(ctx context.Context, handles ...core.Handle) ([]enclaveapi.Plaintext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]enclaveapi.Plaintext, 0, len(handles))
	for _, h := range handles {
		v, ok := c.values[h]
		if !ok {
			return nil, fmt.Errorf("%w: %s", enclaveapi.ErrUnknownHandle, h.Hex())
		}
		if !v.decryptable {
			return nil, fmt.Errorf("%w: %s", enclaveapi.ErrNotDecryptable, h.Hex())
		}
		out = append(out, enclaveapi.Plaintext{
			Handle:  h,
			Kind:    v.kind,
			Uint64:  v.u,
			Bool:    v.b,
			Address: v.addr,
		})
	}
	return out, nil
}

// Release frees handles owned by caller. Handles already gone are skipped,
// so releasing twice is harmless. Nothing is freed if any handle belongs to
// someone else.
func (c *Coprocessor) Release(ctx context.Context, caller common.Address, handles ...core.Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, h := range handles {
		v, ok := c.values[h]
		if ok && v.owner != caller {
			return fmt.Errorf("%w: %s is not owned by %s", enclaveapi.ErrAccessDenied, h.Hex(), caller.Hex())
		}
	}
	for _, h := range handles {
		delete(c.values, h)
	}
	return nil
}

// Len returns the number of live handles.
func (c *Coprocessor) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}

// operand looks up h for caller. kind 0 accepts any kind. Must hold c.mu.
func (c *Coprocessor) operand(caller common.Address, h core.Handle, kind enclaveapi.ValueKind) (*sealedValue, error) {
	v, ok := c.values[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", enclaveapi.ErrUnknownHandle, h.Hex())
	}
	if v.owner != caller {
		return nil, fmt.Errorf("%w: %s is not owned by %s", enclaveapi.ErrAccessDenied, h.Hex(), caller.Hex())
	}
	if kind != 0 && v.kind != kind {
		return nil, fmt.Errorf("%w: %s holds %s, want %s", enclaveapi.ErrTypeMismatch, h.Hex(), v.kind, kind)
	}
	return v, nil
}

func (c *Coprocessor) store(op string, v *sealedValue, operands ...core.Handle) (core.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storeLocked(op, v, operands...)
}

func (c *Coprocessor) storeLocked(op string, v *sealedValue, operands ...core.Handle) (core.Handle, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return core.Handle{}, fmt.Errorf("entropy generation failed: %w", err)
	}
	h := core.ComputeHandle(op, nonce, operands...)
	c.values[h] = v
	return h, nil
}
