package zkinput

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

const (
	provingKeyFile   = "bid_input.pk"
	verifyingKeyFile = "bid_input.vk"
)

// ErrProofRejected is returned when a proof does not verify against its
// statement.
var ErrProofRejected = errors.New("bid input proof rejected")

// Prover produces bid input proofs. It is used by the bid producer.
type Prover struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
}

// Verifier checks bid input proofs. It is used by the coprocessor.
type Verifier struct {
	vk groth16.VerifyingKey
}

// Compile compiles the bid input circuit over BN254.
func Compile() (constraint.ConstraintSystem, error) {
	var circuit Circuit
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, fmt.Errorf("circuit compilation failed: %w", err)
	}
	return ccs, nil
}

// Setup runs a fresh Groth16 setup for the bid input circuit.
func Setup() (*Prover, *Verifier, error) {
	ccs, err := Compile()
	if err != nil {
		return nil, nil, err
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, fmt.Errorf("groth16 setup failed: %w", err)
	}
	return &Prover{ccs: ccs, pk: pk}, &Verifier{vk: vk}, nil
}

// SetupOrLoad loads the key pair from dir, or runs a setup and saves it there
// when either key is missing.
func SetupOrLoad(dir string) (*Prover, *Verifier, error) {
	pkPath := filepath.Join(dir, provingKeyFile)
	vkPath := filepath.Join(dir, verifyingKeyFile)

	pk, pkErr := loadProvingKey(pkPath)
	vk, vkErr := loadVerifyingKey(vkPath)
	if pkErr == nil && vkErr == nil {
		ccs, err := Compile()
		if err != nil {
			return nil, nil, err
		}
		return &Prover{ccs: ccs, pk: pk}, &Verifier{vk: vk}, nil
	}

	prover, verifier, err := Setup()
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := writeKey(pkPath, prover.pk); err != nil {
		return nil, nil, err
	}
	if err := writeKey(vkPath, verifier.vk); err != nil {
		return nil, nil, err
	}
	return prover, verifier, nil
}

// LoadVerifier reads a verifying key written by SetupOrLoad.
func LoadVerifier(dir string) (*Verifier, error) {
	vk, err := loadVerifyingKey(filepath.Join(dir, verifyingKeyFile))
	if err != nil {
		return nil, err
	}
	return &Verifier{vk: vk}, nil
}

// MarshalBinary encodes the verifying key.
func (v *Verifier) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := v.vk.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode verifying key: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalVerifier decodes a verifying key produced by MarshalBinary.
func UnmarshalVerifier(data []byte) (*Verifier, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to decode verifying key: %w", err)
	}
	return &Verifier{vk: vk}, nil
}

type keyWriter interface {
	WriteTo(w io.Writer) (int64, error)
}

func writeKey(path string, key keyWriter) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := key.WriteTo(f); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func loadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := groth16.NewProvingKey(ecc.BN254)
	if _, err := pk.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("failed to read proving key: %w", err)
	}
	return pk, nil
}

func loadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("failed to read verifying key: %w", err)
	}
	return vk, nil
}
