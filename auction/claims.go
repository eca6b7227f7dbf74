package auction

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cloudx-io/sealedbid/core"
)

// ClaimAsset releases the escrowed asset to the winner of a settled auction.
func (e *Engine) ClaimAsset(ctx context.Context, caller common.Address, id uint64) error {
	s, err := e.slot(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.auction
	if a.State != core.StateSettled {
		return fmt.Errorf("auction %d is %s: %w", a.ID, a.State, core.ErrInvalidState)
	}
	if a.Released {
		return fmt.Errorf("auction %d released to %s: %w", a.ID, a.ReleasedTo.Hex(), core.ErrAlreadyClaimed)
	}
	if !a.HasWinner() {
		return fmt.Errorf("auction %d has no winner: %w", a.ID, core.ErrInvalidState)
	}
	if caller != a.Winner {
		return fmt.Errorf("%s is not the winner of auction %d: %w", caller.Hex(), a.ID, core.ErrUnauthorized)
	}

	if err := e.release(ctx, s, caller); err != nil {
		return err
	}

	releasesTotal.WithLabelValues("winner").Inc()
	e.auctionLog(s.auction).WithField("winner", caller.Hex()).Info("asset claimed")
	e.emit(Event{Kind: EventAssetClaimed, AuctionID: a.ID, Actor: caller})
	return nil
}

// ReclaimAsset returns the escrowed asset to the seller of a settled auction
// that has no winner.
func (e *Engine) ReclaimAsset(ctx context.Context, caller common.Address, id uint64) error {
	s, err := e.slot(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.auction
	if a.State != core.StateSettled {
		return fmt.Errorf("auction %d is %s: %w", a.ID, a.State, core.ErrInvalidState)
	}
	if a.Released {
		return fmt.Errorf("auction %d released to %s: %w", a.ID, a.ReleasedTo.Hex(), core.ErrAlreadyClaimed)
	}
	if a.HasWinner() {
		return fmt.Errorf("auction %d has a winner: %w", a.ID, core.ErrInvalidState)
	}
	if caller != a.Seller {
		return fmt.Errorf("%s is not the seller of auction %d: %w", caller.Hex(), a.ID, core.ErrUnauthorized)
	}

	if err := e.release(ctx, s, caller); err != nil {
		return err
	}

	releasesTotal.WithLabelValues("seller").Inc()
	e.auctionLog(s.auction).Info("asset reclaimed")
	e.emit(Event{Kind: EventAssetReclaimed, AuctionID: a.ID, Actor: caller})
	return nil
}
