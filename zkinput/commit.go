package zkinput

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// Statement is the public part of a bid input proof.
type Statement struct {
	Commitment [32]byte
	Binding    [32]byte
	Floor      uint64
}

// Opening is the private part of a bid input proof. It travels to the
// coprocessor only inside the encrypted envelope.
type Opening struct {
	Amount uint64
	Salt   [32]byte
}

// NewSalt returns a random canonical field element for hiding the amount.
func NewSalt() ([32]byte, error) {
	var e fr.Element
	if _, err := e.SetRandom(); err != nil {
		return [32]byte{}, fmt.Errorf("failed to sample salt: %w", err)
	}
	return e.Bytes(), nil
}

// Commit computes MiMC(amount, salt, binding) over the BN254 scalar field,
// matching the in-circuit hash. Salt and binding are reduced modulo the field
// order first.
func Commit(amount uint64, salt, binding [32]byte) ([32]byte, error) {
	var a, s, b fr.Element
	a.SetUint64(amount)
	s.SetBytes(salt[:])
	b.SetBytes(binding[:])

	h := mimc.NewMiMC()
	for _, e := range []fr.Element{a, s, b} {
		block := e.Bytes()
		if _, err := h.Write(block[:]); err != nil {
			return [32]byte{}, fmt.Errorf("failed to hash commitment input: %w", err)
		}
	}

	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out.Bytes(), nil
}

// fieldValue converts a 32-byte big-endian value to the reduced big.Int the
// witness expects.
func fieldValue(b [32]byte) *big.Int {
	var e fr.Element
	e.SetBytes(b[:])
	return e.BigInt(new(big.Int))
}
