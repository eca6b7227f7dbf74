// Package zkinput proves that an encrypted bid is well formed without
// revealing it: the committed amount fits in 64 bits, is at least the public
// floor, and is bound to one engine, auction and bidder.
package zkinput

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// AmountBits is the width of the encrypted amount domain.
const AmountBits = 64

// Circuit is the bid input statement.
//
// Public:  Commitment, Binding, Floor
// Private: Amount, Salt
//
// Constraints:
//   - Amount fits in AmountBits bits
//   - Floor <= Amount
//   - Commitment == MiMC(Amount, Salt, Binding)
type Circuit struct {
	Commitment frontend.Variable `gnark:",public"`
	Binding    frontend.Variable `gnark:",public"`
	Floor      frontend.Variable `gnark:",public"`

	Amount frontend.Variable
	Salt   frontend.Variable
}

func (c *Circuit) Define(api frontend.API) error {
	api.ToBinary(c.Amount, AmountBits)
	api.ToBinary(c.Floor, AmountBits)
	api.AssertIsLessOrEqual(c.Floor, c.Amount)

	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	hasher.Write(c.Amount, c.Salt, c.Binding)
	api.AssertIsEqual(c.Commitment, hasher.Sum())

	return nil
}
