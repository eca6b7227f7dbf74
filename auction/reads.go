package auction

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cloudx-io/sealedbid/core"
)

// GetAuction returns the public view of an auction. Winner and amount are
// zero until the auction is settled.
func (e *Engine) GetAuction(id uint64) (core.AuctionView, error) {
	s, err := e.slot(id)
	if err != nil {
		return core.AuctionView{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auction.View(), nil
}

// GetBidCount returns the number of distinct bidders.
func (e *Engine) GetBidCount(id uint64) (uint64, error) {
	s, err := e.slot(id)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auction.BidCount, nil
}

// IsDecryptionPending reports whether the auction waits on the oracle.
func (e *Engine) IsDecryptionPending(id uint64) (bool, error) {
	s, err := e.slot(id)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auction.State == core.StateSettlementPending, nil
}

// HasBid reports whether bidder holds a bid on the auction.
func (e *Engine) HasBid(id uint64, bidder common.Address) (bool, error) {
	s, err := e.slot(id)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bids[bidder]
	return ok, nil
}

// NextAuctionID is the id the next created auction will get. Existing ids
// are 0 through NextAuctionID()-1.
func (e *Engine) NextAuctionID() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return uint64(len(e.slots))
}

// Auctions returns the view of every auction in id order.
func (e *Engine) Auctions() []core.AuctionView {
	e.mu.RLock()
	slots := make([]*slot, len(e.slots))
	copy(slots, e.slots)
	e.mu.RUnlock()

	views := make([]core.AuctionView, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		views = append(views, s.auction.View())
		s.mu.Unlock()
	}
	return views
}

// Request returns an entry of the decryption request table.
func (e *Engine) Request(id uint64) (core.DecryptionRequest, error) {
	req, ok := e.request(id)
	if !ok {
		return core.DecryptionRequest{}, fmt.Errorf("decryption request %d: %w", id, core.ErrNotFound)
	}
	return req, nil
}
