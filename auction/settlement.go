package auction

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/enclaveapi"
)

// CloseAuction ends an expired auction and starts settlement. Anyone may
// call it. An auction without bids settles at once with no winner; otherwise
// the final maximum is sent to the oracle and the auction waits in
// SettlementPending. Closing a pending or settled auction is a no-op. If the
// decryption request cannot be issued the auction stays Ended and a later
// close retries.
func (e *Engine) CloseAuction(ctx context.Context, caller common.Address, id uint64) error {
	s, err := e.slot(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.auction
	switch a.State {
	case core.StateSettlementPending, core.StateSettled:
		return nil
	case core.StateActive:
		if e.clock.Now().Before(a.EndTime) {
			return fmt.Errorf("auction %d ends at %s: %w", a.ID, a.EndTime, core.ErrDeadlineNotReached)
		}
	}

	if a.BidCount == 0 {
		return e.settleWithoutBids(ctx, s, caller)
	}

	if a.State == core.StateActive {
		next := a.Clone()
		next.State = core.StateEnded
		if err := e.store.Apply(ctx, Mutation{Auction: next}); err != nil {
			return fmt.Errorf("persist close: %w", err)
		}
		s.auction = next
		e.auctionLog(next).WithField("bid_count", next.BidCount).Info("auction closed")
		e.emit(Event{Kind: EventAuctionClosed, AuctionID: id, Actor: caller})
	}

	_, err = e.requestDecryption(ctx, s, caller)
	return err
}

func (e *Engine) settleWithoutBids(ctx context.Context, s *slot, caller common.Address) error {
	now := e.clock.Now()
	next := s.auction.Clone()
	next.State = core.StateSettled
	next.SettledAt = now
	if err := e.store.Apply(ctx, Mutation{Auction: next}); err != nil {
		return fmt.Errorf("persist settlement: %w", err)
	}
	s.auction = next

	recordSettlement("no_bids")
	e.auctionLog(next).Info("auction settled without bids")
	e.emit(Event{Kind: EventAuctionClosed, AuctionID: next.ID, Actor: caller, At: now})
	e.emit(Event{Kind: EventAuctionSettled, AuctionID: next.ID, Actor: caller, At: now})
	return nil
}

// requestDecryption issues a fresh decryption request for the auction's
// final maximum, superseding any outstanding one. The auction must be Ended
// or SettlementPending and s.mu held.
func (e *Engine) requestDecryption(ctx context.Context, s *slot, caller common.Address) (uint64, error) {
	a := s.auction
	if err := e.cop.AllowPublicDecrypt(ctx, e.address, a.Max.Amount, a.Max.Bidder); err != nil {
		return 0, fmt.Errorf("allow decryption of auction %d: %w", a.ID, err)
	}

	now := e.clock.Now()
	req := &core.DecryptionRequest{
		ID:        e.nextRequestID(),
		AuctionID: a.ID,
		Nonce:     uuid.New(),
		Amount:    a.Max.Amount,
		Bidder:    a.Max.Bidder,
		Status:    core.RequestPending,
		IssuedAt:  now,
	}
	changed := []*core.DecryptionRequest{req}
	if old, ok := e.request(a.PendingRequest); ok && old.Status == core.RequestPending {
		old.Status = core.RequestSuperseded
		old.ClosedAt = now
		changed = append(changed, &old)
	}

	log := e.auctionLog(a).WithField("request_id", req.ID)

	abandon := func(cause error) error {
		req.Status = core.RequestAbandoned
		req.ClosedAt = now
		e.putRequests(req)
		recordDecryptionRequest("abandoned")
		log.WithError(cause).Error("decryption request abandoned")
		return cause
	}

	// The callback needs s.mu, so it cannot observe the request before the
	// transition below is committed.
	if err := e.dispatcher.Dispatch(jobFor(req)); err != nil {
		return 0, abandon(fmt.Errorf("dispatch decryption request %d: %w", req.ID, err))
	}

	next := a.Clone()
	next.State = core.StateSettlementPending
	next.PendingRequest = req.ID
	if err := e.store.Apply(ctx, Mutation{Auction: next, Requests: changed}); err != nil {
		return 0, abandon(fmt.Errorf("persist decryption request %d: %w", req.ID, err))
	}

	s.auction = next
	e.putRequests(changed...)

	recordDecryptionRequest("dispatched")
	if len(changed) > 1 {
		recordDecryptionRequest("superseded")
		log = log.WithField("superseded", changed[1].ID)
	}
	log.Info("decryption requested")
	e.emit(Event{Kind: EventDecryptionRequested, AuctionID: a.ID, Actor: caller, RequestID: req.ID, At: now})
	return req.ID, nil
}

func jobFor(req *core.DecryptionRequest) enclaveapi.DecryptionJob {
	return enclaveapi.DecryptionJob{
		AuctionID: req.AuctionID,
		RequestID: req.ID,
		Nonce:     [16]byte(req.Nonce),
		Amount:    req.Amount,
		Bidder:    req.Bidder,
	}
}

// RequeueDecryption supersedes the outstanding decryption request of an
// auction and dispatches a fresh one. Only operators may call it.
func (e *Engine) RequeueDecryption(ctx context.Context, caller common.Address, id uint64) (uint64, error) {
	if !e.operators[caller] {
		return 0, fmt.Errorf("%s is not an operator: %w", caller.Hex(), core.ErrUnauthorized)
	}
	s, err := e.slot(id)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.auction
	if a.State != core.StateEnded && a.State != core.StateSettlementPending {
		return 0, fmt.Errorf("auction %d is %s: %w", a.ID, a.State, core.ErrInvalidState)
	}
	return e.requestDecryption(ctx, s, caller)
}

// OnDecryptionCallback applies the oracle's answer to the outstanding
// request of an auction. The attestation must verify against the oracle key
// and match the request and the given plaintext exactly. A zero bidder means
// no winner.
func (e *Engine) OnDecryptionCallback(ctx context.Context, caller common.Address, id, requestID uint64, amount uint64, bidder common.Address, attestation []byte) error {
	if caller != e.oracle {
		recordCallback("unauthorized")
		return fmt.Errorf("%s is not the oracle: %w", caller.Hex(), core.ErrUnauthorized)
	}
	s, err := e.slot(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.auction
	if a.State != core.StateSettlementPending || requestID == 0 || requestID != a.PendingRequest {
		recordCallback("stale")
		return fmt.Errorf("auction %d request %d: %w", a.ID, requestID, core.ErrStaleRequest)
	}
	req, ok := e.request(requestID)
	if !ok {
		return fmt.Errorf("decryption request %d missing from table: %w", requestID, core.ErrStaleRequest)
	}

	log := e.auctionLog(a).WithField("request_id", requestID)

	result, err := enclaveapi.VerifyDecryptionResult(e.oracleKey, attestation)
	if err != nil {
		recordCallback("untrusted")
		log.WithError(err).Warn("rejected oracle response")
		return fmt.Errorf("%w: %v", core.ErrUntrustedOracleResponse, err)
	}
	if !result.Matches(jobFor(&req)) || result.Amount != amount || result.Bidder != bidder {
		recordCallback("untrusted")
		log.Warn("oracle response does not match request")
		return fmt.Errorf("%w: attestation does not match request %d", core.ErrUntrustedOracleResponse, requestID)
	}

	now := e.clock.Now()
	next := a.Clone()
	next.State = core.StateSettled
	next.Winner = bidder
	next.WinningAmount = amount
	next.PendingRequest = 0
	next.SettledRequest = requestID
	next.SettledAt = now
	req.Status = core.RequestFulfilled
	req.ClosedAt = now
	req.Attestation = append([]byte(nil), attestation...)

	if err := e.store.Apply(ctx, Mutation{Auction: next, Requests: []*core.DecryptionRequest{&req}}); err != nil {
		recordCallback("error")
		return fmt.Errorf("persist settlement: %w", err)
	}
	s.auction = next
	e.putRequests(&req)
	e.releaseSettled(ctx, s)

	recordCallback("applied")
	recordSettlement(outcome(next))
	log.WithFields(logrus.Fields{
		"winner": bidder.Hex(),
		"amount": amount,
	}).Info("auction settled")
	e.emit(Event{Kind: EventAuctionSettled, AuctionID: a.ID, Actor: caller, RequestID: requestID, Winner: bidder, Amount: amount, At: now})
	return nil
}

// CloseAuctionPlain settles an expired auction by decrypting the maximum
// directly through the coprocessor, without an oracle attestation. It is the
// degraded path: disabled unless configured, keeper-only, and the result is
// marked Degraded.
func (e *Engine) CloseAuctionPlain(ctx context.Context, caller common.Address, id uint64) error {
	if !e.allowPlain {
		return fmt.Errorf("plain close is disabled: %w", core.ErrUnauthorized)
	}
	if !e.keepers[caller] {
		return fmt.Errorf("%s is not a keeper: %w", caller.Hex(), core.ErrUnauthorized)
	}
	s, err := e.slot(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.auction
	switch a.State {
	case core.StateSettled:
		return nil
	case core.StateActive:
		if e.clock.Now().Before(a.EndTime) {
			return fmt.Errorf("auction %d ends at %s: %w", a.ID, a.EndTime, core.ErrDeadlineNotReached)
		}
	}
	if a.BidCount == 0 {
		return e.settleWithoutBids(ctx, s, caller)
	}

	if err := e.cop.AllowPublicDecrypt(ctx, e.address, a.Max.Amount, a.Max.Bidder); err != nil {
		return fmt.Errorf("allow decryption of auction %d: %w", a.ID, err)
	}
	values, err := e.decrypter.Decrypt(ctx, a.Max.Amount, a.Max.Bidder)
	if err != nil {
		return fmt.Errorf("plain decrypt auction %d: %w", a.ID, err)
	}
	if len(values) != 2 || values[0].Kind != enclaveapi.KindUint64 || values[1].Kind != enclaveapi.KindAddress {
		return fmt.Errorf("plain decrypt auction %d: unexpected plaintext shape", a.ID)
	}

	now := e.clock.Now()
	next := a.Clone()
	next.State = core.StateSettled
	next.Winner = values[1].Address
	next.WinningAmount = values[0].Uint64
	next.PendingRequest = 0
	next.SettledAt = now
	next.Degraded = true

	var changed []*core.DecryptionRequest
	if old, ok := e.request(a.PendingRequest); ok && old.Status == core.RequestPending {
		old.Status = core.RequestSuperseded
		old.ClosedAt = now
		changed = append(changed, &old)
	}

	if err := e.store.Apply(ctx, Mutation{Auction: next, Requests: changed}); err != nil {
		return fmt.Errorf("persist settlement: %w", err)
	}
	s.auction = next
	e.putRequests(changed...)
	e.releaseSettled(ctx, s)

	recordSettlement("degraded")
	e.auctionLog(next).WithFields(logrus.Fields{
		"winner": next.Winner.Hex(),
		"amount": next.WinningAmount,
	}).Warn("auction settled without oracle attestation")
	if a.State == core.StateActive {
		e.emit(Event{Kind: EventAuctionClosed, AuctionID: a.ID, Actor: caller, At: now})
	}
	e.emit(Event{Kind: EventAuctionSettled, AuctionID: a.ID, Actor: caller, Winner: next.Winner, Amount: next.WinningAmount, Degraded: true, At: now})
	return nil
}

func outcome(a *core.Auction) string {
	if a.Winner == (common.Address{}) {
		return "no_winner"
	}
	return "winner"
}
