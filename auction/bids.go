package auction

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/enclaveapi"
)

// Binding returns what a bid from bidder on auction id must be bound to.
// Bid producers fetch it before encrypting.
func (e *Engine) Binding(id uint64, bidder common.Address) (enclaveapi.InputBinding, error) {
	s, err := e.slot(id)
	if err != nil {
		return enclaveapi.InputBinding{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.binding(s.auction, bidder), nil
}

func (e *Engine) binding(a *core.Auction, bidder common.Address) enclaveapi.InputBinding {
	return enclaveapi.InputBinding{
		Contract:  e.address,
		AuctionID: a.ID,
		Bidder:    bidder,
		Floor:     a.MinBid,
	}
}

// PlaceBid accepts an encrypted bid from caller. A bidder's later bid
// replaces the earlier one without changing the bid count.
func (e *Engine) PlaceBid(ctx context.Context, caller common.Address, id uint64, in enclaveapi.EncryptedInput) error {
	s, err := e.slot(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := e.placeBid(ctx, s, caller, in); err != nil {
		recordBid(rejectReason(err))
		return err
	}
	return nil
}

func (e *Engine) placeBid(ctx context.Context, s *slot, caller common.Address, in enclaveapi.EncryptedInput) error {
	a := s.auction
	now := e.clock.Now()

	if a.State != core.StateActive {
		return fmt.Errorf("auction %d is %s: %w", a.ID, a.State, core.ErrInvalidState)
	}
	if !now.Before(a.EndTime) {
		return fmt.Errorf("auction %d ended at %s: %w", a.ID, a.EndTime, core.ErrDeadlinePassed)
	}
	if caller == a.Seller {
		return fmt.Errorf("seller cannot bid on own auction %d: %w", a.ID, core.ErrUnauthorized)
	}

	amount, err := e.cop.VerifyInput(ctx, e.address, in, e.binding(a, caller))
	if err != nil {
		if errors.Is(err, core.ErrInvalidProof) {
			return fmt.Errorf("bid on auction %d: %w", a.ID, err)
		}
		return fmt.Errorf("verify input: %w", err)
	}
	ref, err := e.cop.TrivialEncryptAddress(ctx, e.address, caller)
	if err != nil {
		e.releaseUnused(ctx, s, amount)
		return fmt.Errorf("encrypt bidder reference: %w", err)
	}

	bid := &core.SealedBid{
		AuctionID:   a.ID,
		Bidder:      caller,
		Amount:      amount,
		BidderRef:   ref,
		Seq:         s.nextSeq + 1,
		SubmittedAt: now,
	}

	next := a.Clone()
	previous, resubmission := s.bids[caller]
	if resubmission {
		current := make([]*core.SealedBid, 0, len(s.bids))
		for bidder, b := range s.bids {
			if bidder != caller {
				current = append(current, b)
			}
		}
		next.Max, err = e.tracker.Refold(ctx, append(current, bid))
	} else {
		next.BidCount++
		next.Max, err = e.tracker.Absorb(ctx, a.Max, amount, ref)
	}
	if err != nil {
		e.releaseUnused(ctx, s, amount, ref)
		return fmt.Errorf("update running max: %w", err)
	}

	if err := e.store.Apply(ctx, Mutation{Auction: next, Bid: bid}); err != nil {
		e.releaseUnused(ctx, s, amount, ref, next.Max.Amount, next.Max.Bidder)
		return fmt.Errorf("persist bid: %w", err)
	}

	s.auction = next
	s.bids[caller] = bid
	s.nextSeq = bid.Seq

	dropped := []core.Handle{a.Max.Amount, a.Max.Bidder}
	if resubmission {
		dropped = append(dropped, previous.Amount, previous.BidderRef)
	}
	e.releaseUnused(ctx, s, dropped...)

	status := "accepted"
	if resubmission {
		status = "replaced"
	}
	recordBid(status)
	e.auctionLog(next).WithField("bidder", caller.Hex()).WithField("bid_count", next.BidCount).Info("bid " + status)
	e.emit(Event{Kind: EventBidPlaced, AuctionID: a.ID, Actor: caller, At: now})
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, core.ErrInvalidProof):
		return "invalid_proof"
	case errors.Is(err, core.ErrDeadlinePassed):
		return "deadline_passed"
	case errors.Is(err, core.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, core.ErrInvalidState):
		return "invalid_state"
	default:
		return "error"
	}
}
