package auction

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cloudx-io/sealedbid/core"
)

// Tracker maintains the encrypted running maximum of an auction. It only
// combines handles through the coprocessor and never decrypts.
type Tracker struct {
	cop   Coprocessor
	owner common.Address
}

func NewTracker(cop Coprocessor, owner common.Address) *Tracker {
	return &Tracker{cop: cop, owner: owner}
}

// Absorb folds one bid into state. A bid replaces the leader only when it is
// strictly greater, so the earliest bid wins a tie.
func (t *Tracker) Absorb(ctx context.Context, state core.MaxState, amount, bidderRef core.Handle) (core.MaxState, error) {
	if state.IsZero() {
		return core.MaxState{Amount: amount, Bidder: bidderRef}, nil
	}

	start := time.Now()
	defer func() { trackerUpdateDuration.Observe(time.Since(start).Seconds()) }()

	isGreater, err := t.cop.Gt(ctx, t.owner, amount, state.Amount)
	if err != nil {
		return core.MaxState{}, fmt.Errorf("compare with running max: %w", err)
	}
	maxAmount, err := t.cop.Select(ctx, t.owner, isGreater, amount, state.Amount)
	if err != nil {
		t.release(ctx, isGreater)
		return core.MaxState{}, fmt.Errorf("select max amount: %w", err)
	}
	maxBidder, err := t.cop.Select(ctx, t.owner, isGreater, bidderRef, state.Bidder)
	if err != nil {
		t.release(ctx, isGreater, maxAmount)
		return core.MaxState{}, fmt.Errorf("select max bidder: %w", err)
	}
	t.release(ctx, isGreater)
	return core.MaxState{Amount: maxAmount, Bidder: maxBidder}, nil
}

// Refold recomputes the maximum from scratch over bids in submission order.
func (t *Tracker) Refold(ctx context.Context, bids []*core.SealedBid) (core.MaxState, error) {
	ordered := make([]*core.SealedBid, len(bids))
	copy(ordered, bids)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	// The first state aliases the first bid's handles; every later one was
	// produced by Select and is freed once superseded.
	var state core.MaxState
	for i, b := range ordered {
		next, err := t.Absorb(ctx, state, b.Amount, b.BidderRef)
		if err != nil {
			if i > 1 {
				t.release(ctx, state.Amount, state.Bidder)
			}
			return core.MaxState{}, err
		}
		if i > 1 {
			t.release(ctx, state.Amount, state.Bidder)
		}
		state = next
	}
	return state, nil
}

// release frees intermediate handles. A failure only leaks them, so it is
// counted rather than returned.
func (t *Tracker) release(ctx context.Context, handles ...core.Handle) {
	if err := t.cop.Release(ctx, t.owner, handles...); err != nil {
		recordHandleRelease("error", len(handles))
		return
	}
	recordHandleRelease("ok", len(handles))
}
