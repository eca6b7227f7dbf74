package auction

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cloudx-io/sealedbid/core"
)

// Mutation is one atomic state change. Nil fields are left untouched.
type Mutation struct {
	Auction  *core.Auction
	Bid      *core.SealedBid
	Requests []*core.DecryptionRequest
}

// Snapshot is the full persisted state, loaded once at startup.
type Snapshot struct {
	Auctions []*core.Auction
	Bids     []*core.SealedBid
	Requests []*core.DecryptionRequest
}

// Store persists engine state. Apply must be all-or-nothing.
type Store interface {
	Apply(ctx context.Context, m Mutation) error
	Load(ctx context.Context) (*Snapshot, error)
}

type bidKey struct {
	auctionID uint64
	bidder    common.Address
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	auctions map[uint64]*core.Auction
	bids     map[bidKey]*core.SealedBid
	requests map[uint64]*core.DecryptionRequest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		auctions: make(map[uint64]*core.Auction),
		bids:     make(map[bidKey]*core.SealedBid),
		requests: make(map[uint64]*core.DecryptionRequest),
	}
}

func (s *MemoryStore) Apply(ctx context.Context, m Mutation) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("apply mutation: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if m.Auction != nil {
		s.auctions[m.Auction.ID] = m.Auction.Clone()
	}
	if m.Bid != nil {
		b := *m.Bid
		s.bids[bidKey{b.AuctionID, b.Bidder}] = &b
	}
	for _, r := range m.Requests {
		req := *r
		s.requests[req.ID] = &req
	}
	return nil
}

func (s *MemoryStore) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{}
	for _, a := range s.auctions {
		snap.Auctions = append(snap.Auctions, a.Clone())
	}
	for _, b := range s.bids {
		bid := *b
		snap.Bids = append(snap.Bids, &bid)
	}
	for _, r := range s.requests {
		req := *r
		snap.Requests = append(snap.Requests, &req)
	}

	sort.Slice(snap.Auctions, func(i, j int) bool { return snap.Auctions[i].ID < snap.Auctions[j].ID })
	sort.Slice(snap.Bids, func(i, j int) bool {
		if snap.Bids[i].AuctionID != snap.Bids[j].AuctionID {
			return snap.Bids[i].AuctionID < snap.Bids[j].AuctionID
		}
		return snap.Bids[i].Seq < snap.Bids[j].Seq
	})
	sort.Slice(snap.Requests, func(i, j int) bool { return snap.Requests[i].ID < snap.Requests[j].ID })
	return snap, nil
}
