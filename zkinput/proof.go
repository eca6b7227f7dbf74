package zkinput

import (
	"bytes"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
)

// Prove produces a Groth16 proof for st with the private opening op. It fails
// when the opening does not satisfy the statement, e.g. an amount below the
// floor.
func (p *Prover) Prove(st Statement, op Opening) ([]byte, error) {
	assignment := Circuit{
		Commitment: fieldValue(st.Commitment),
		Binding:    fieldValue(st.Binding),
		Floor:      st.Floor,
		Amount:     op.Amount,
		Salt:       fieldValue(op.Salt),
	}

	w, err := frontend.NewWitness(&assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("witness creation failed: %w", err)
	}

	proof, err := groth16.Prove(p.ccs, p.pk, w)
	if err != nil {
		return nil, fmt.Errorf("proof generation failed: %w", err)
	}

	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("proof marshaling failed: %w", err)
	}
	return buf.Bytes(), nil
}

// Verify checks proofBytes against the public statement.
func (v *Verifier) Verify(st Statement, proofBytes []byte) error {
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return fmt.Errorf("%w: malformed proof: %v", ErrProofRejected, err)
	}

	assignment := Circuit{
		Commitment: fieldValue(st.Commitment),
		Binding:    fieldValue(st.Binding),
		Floor:      st.Floor,
	}
	publicWitness, err := frontend.NewWitness(&assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("public witness creation failed: %w", err)
	}

	if err := groth16.Verify(proof, v.vk, publicWitness); err != nil {
		return fmt.Errorf("%w: %v", ErrProofRejected, err)
	}
	return nil
}
