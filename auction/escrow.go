package auction

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedbid/core"
)

// CreateAuction escrows asset from caller and opens an auction for it. The
// engine must be approved to move the asset.
func (e *Engine) CreateAuction(ctx context.Context, caller common.Address, asset core.Asset, endTime time.Time, minBid uint64) (uint64, error) {
	now := e.clock.Now()
	if !endTime.After(now) {
		return 0, fmt.Errorf("end time %s is not after %s: %w", endTime.Format(time.RFC3339), now.Format(time.RFC3339), core.ErrDeadlinePassed)
	}

	owner, err := e.registry.OwnerOf(asset)
	if err != nil {
		return 0, fmt.Errorf("look up owner of %s: %w", asset, err)
	}
	if owner != caller {
		return 0, fmt.Errorf("%s does not own %s: %w", caller.Hex(), asset, core.ErrUnauthorized)
	}

	// Creates are serialized so ids stay dense, but the arena lock is only
	// held to reserve the asset and to publish the slot.
	e.createMu.Lock()
	defer e.createMu.Unlock()

	e.mu.Lock()
	if id, ok := e.escrowed[asset]; ok {
		e.mu.Unlock()
		return 0, fmt.Errorf("%s held by auction %d: %w", asset, id, core.ErrAssetEscrowed)
	}
	id := uint64(len(e.slots))
	e.escrowed[asset] = id
	e.mu.Unlock()

	unreserve := func() {
		e.mu.Lock()
		delete(e.escrowed, asset)
		e.mu.Unlock()
	}

	if err := e.registry.TransferFrom(e.address, caller, e.address, asset); err != nil {
		unreserve()
		return 0, fmt.Errorf("escrow %s: %w", asset, err)
	}

	a := &core.Auction{
		ID:        id,
		Seller:    caller,
		Asset:     asset,
		EndTime:   endTime,
		MinBid:    minBid,
		State:     core.StateActive,
		CreatedAt: now,
	}
	if err := e.store.Apply(ctx, Mutation{Auction: a}); err != nil {
		if rerr := e.registry.TransferFrom(e.address, e.address, caller, asset); rerr != nil {
			e.log.WithError(rerr).WithField("asset", asset.String()).Error("failed to return asset after aborted create")
		}
		unreserve()
		return 0, fmt.Errorf("persist auction: %w", err)
	}

	e.mu.Lock()
	e.slots = append(e.slots, &slot{auction: a, bids: make(map[common.Address]*core.SealedBid)})
	e.mu.Unlock()

	auctionsCreatedTotal.Inc()
	e.auctionLog(a).WithFields(logrus.Fields{
		"seller":   caller.Hex(),
		"asset":    asset.String(),
		"end_time": endTime,
		"min_bid":  minBid,
	}).Info("auction created")
	e.emit(Event{Kind: EventAuctionCreated, AuctionID: a.ID, Actor: caller, At: now})

	return a.ID, nil
}

// release marks the asset released to `to` and moves it out of escrow. The
// release is persisted first; a failed transfer rolls the record back.
func (e *Engine) release(ctx context.Context, s *slot, to common.Address) error {
	a := s.auction
	next := a.Clone()
	next.Released = true
	next.ReleasedTo = to

	if err := e.store.Apply(ctx, Mutation{Auction: next}); err != nil {
		return fmt.Errorf("persist release: %w", err)
	}

	if err := e.registry.TransferFrom(e.address, e.address, to, a.Asset); err != nil {
		if rerr := e.store.Apply(context.WithoutCancel(ctx), Mutation{Auction: a}); rerr != nil {
			e.auctionLog(a).WithError(rerr).Error("failed to roll back release record after transfer failure")
		}
		return fmt.Errorf("transfer %s to %s: %w", a.Asset, to.Hex(), err)
	}

	s.auction = next

	e.mu.Lock()
	delete(e.escrowed, a.Asset)
	e.mu.Unlock()

	return nil
}
