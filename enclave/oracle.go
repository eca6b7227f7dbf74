package enclave

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/sealedbid/enclaveapi"
)

// Oracle decrypts the final maximum of an auction and signs the result with
// the enclave's oracle key. Only handles the engine marked decryptable can be
// revealed.
type Oracle struct {
	cop    *Coprocessor
	signer cose.Signer
	now    func() time.Time
	log    logrus.FieldLogger
}

// NewOracle returns an oracle over cop signing with the oracle key in keys.
func NewOracle(cop *Coprocessor, keys *KeyManager, log logrus.FieldLogger) (*Oracle, error) {
	signer, err := keys.OracleSigner()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Oracle{
		cop:    cop,
		signer: signer,
		now:    time.Now,
		log:    log.WithField("component", "oracle"),
	}, nil
}

// OracleDecrypt reveals the job's amount and bidder and returns them with a
// COSE_Sign1 attestation over the full result.
func (o *Oracle) OracleDecrypt(ctx context.Context, job enclaveapi.DecryptionJob) (*enclaveapi.DecryptionResponse, error) {
	values, err := o.cop.Decrypt(ctx, job.Amount, job.Bidder)
	if err != nil {
		return nil, fmt.Errorf("decrypt request %d: %w", job.RequestID, err)
	}

	amount, bidder := values[0], values[1]
	if amount.Kind != enclaveapi.KindUint64 || bidder.Kind != enclaveapi.KindAddress {
		return nil, fmt.Errorf("%w: request %d has %s amount and %s bidder",
			enclaveapi.ErrTypeMismatch, job.RequestID, amount.Kind, bidder.Kind)
	}

	result := enclaveapi.DecryptionResult{
		AuctionID:    job.AuctionID,
		RequestID:    job.RequestID,
		Nonce:        job.Nonce,
		AmountHandle: job.Amount,
		BidderHandle: job.Bidder,
		Amount:       amount.Uint64,
		Bidder:       bidder.Address,
		Timestamp:    o.now().Unix(),
	}

	attestation, err := enclaveapi.SignDecryptionResult(o.signer, result)
	if err != nil {
		return nil, err
	}

	o.log.WithFields(logrus.Fields{
		"auction_id": job.AuctionID,
		"request_id": job.RequestID,
	}).Info("decryption result signed")

	return &enclaveapi.DecryptionResponse{
		Amount:      result.Amount,
		Bidder:      result.Bidder,
		Attestation: attestation,
	}, nil
}
