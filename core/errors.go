package core

import (
	"errors"
	"fmt"
)

// Error kinds returned by the settlement engine. Callers match them with
// errors.Is; returned errors wrap one of these with context.
var (
	ErrNotFound                = errors.New("auction not found")
	ErrInvalidState            = errors.New("invalid auction state")
	ErrUnauthorized            = errors.New("unauthorized caller")
	ErrInvalidProof            = errors.New("invalid input proof")
	ErrUntrustedOracleResponse = errors.New("untrusted oracle response")
	ErrAlreadyClaimed          = errors.New("asset already released")
	ErrDeadlineNotReached      = errors.New("auction deadline not reached")
	ErrDeadlinePassed          = errors.New("auction deadline passed")

	ErrAssetEscrowed = fmt.Errorf("%w: asset already escrowed", ErrInvalidState)
	ErrStaleRequest  = fmt.Errorf("%w: decryption request is not outstanding", ErrInvalidState)
)
