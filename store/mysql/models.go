package mysql

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/cloudx-io/sealedbid/core"
)

// Auction is a gorm table definition represents the auctions.
type Auction struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement:false"`
	Seller         string `gorm:"size:42"`
	Collection     string `gorm:"size:42;index:idx_asset"`
	TokenID        uint64 `gorm:"index:idx_asset"`
	EndTime        time.Time
	MinBid         uint64
	State          string `gorm:"size:32;index"`
	Winner         string `gorm:"size:42"`
	WinningAmount  uint64
	BidCount       uint64
	MaxAmount      string `gorm:"size:66"`
	MaxBidder      string `gorm:"size:66"`
	PendingRequest uint64
	Released       bool
	ReleasedTo     string `gorm:"size:42"`
	Degraded       bool
	SettledRequest uint64
	SettledAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Bid is a gorm table definition represents the current sealed bid of each
// bidder on an auction.
type Bid struct {
	AuctionID   uint64 `gorm:"primaryKey;autoIncrement:false"`
	Bidder      string `gorm:"primaryKey;size:42"`
	Amount      string `gorm:"size:66"`
	BidderRef   string `gorm:"size:66"`
	Seq         uint64
	SubmittedAt time.Time
	UpdatedAt   time.Time
}

func (Bid) TableName() string {
	return "auction_bids"
}

// DecryptionRequest is a gorm table definition represents the decryption
// request table.
type DecryptionRequest struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement:false"`
	AuctionID   uint64 `gorm:"index"`
	Nonce       string `gorm:"size:36"`
	Amount      string `gorm:"size:66"`
	Bidder      string `gorm:"size:66"`
	Status      string `gorm:"size:16"`
	IssuedAt    time.Time
	ClosedAt    *time.Time
	Attestation []byte `gorm:"type:blob"`
	UpdatedAt   time.Time
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func fromOptional(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func newAuctionRow(a *core.Auction) (*Auction, error) {
	state, err := a.State.MarshalText()
	if err != nil {
		return nil, errors.Wrap(err, "encode state")
	}
	return &Auction{
		ID:             a.ID,
		Seller:         a.Seller.Hex(),
		Collection:     a.Asset.Collection.Hex(),
		TokenID:        a.Asset.TokenID,
		EndTime:        a.EndTime.UTC(),
		MinBid:         a.MinBid,
		State:          string(state),
		Winner:         a.Winner.Hex(),
		WinningAmount:  a.WinningAmount,
		BidCount:       a.BidCount,
		MaxAmount:      a.Max.Amount.Hex(),
		MaxBidder:      a.Max.Bidder.Hex(),
		PendingRequest: a.PendingRequest,
		Released:       a.Released,
		ReleasedTo:     a.ReleasedTo.Hex(),
		Degraded:       a.Degraded,
		SettledRequest: a.SettledRequest,
		SettledAt:      optionalTime(a.SettledAt),
		CreatedAt:      a.CreatedAt.UTC(),
	}, nil
}

func (r *Auction) toCore() (*core.Auction, error) {
	var state core.AuctionState
	if err := state.UnmarshalText([]byte(r.State)); err != nil {
		return nil, errors.Wrapf(err, "auction %d", r.ID)
	}
	maxAmount, err := core.ParseHandle(r.MaxAmount)
	if err != nil {
		return nil, errors.Wrapf(err, "auction %d max amount", r.ID)
	}
	maxBidder, err := core.ParseHandle(r.MaxBidder)
	if err != nil {
		return nil, errors.Wrapf(err, "auction %d max bidder", r.ID)
	}
	return &core.Auction{
		ID:             r.ID,
		Seller:         common.HexToAddress(r.Seller),
		Asset:          core.Asset{Collection: common.HexToAddress(r.Collection), TokenID: r.TokenID},
		EndTime:        r.EndTime.UTC(),
		MinBid:         r.MinBid,
		State:          state,
		Winner:         common.HexToAddress(r.Winner),
		WinningAmount:  r.WinningAmount,
		BidCount:       r.BidCount,
		Max:            core.MaxState{Amount: maxAmount, Bidder: maxBidder},
		PendingRequest: r.PendingRequest,
		Released:       r.Released,
		ReleasedTo:     common.HexToAddress(r.ReleasedTo),
		Degraded:       r.Degraded,
		SettledRequest: r.SettledRequest,
		CreatedAt:      r.CreatedAt.UTC(),
		SettledAt:      fromOptional(r.SettledAt),
	}, nil
}

func newBidRow(b *core.SealedBid) *Bid {
	return &Bid{
		AuctionID:   b.AuctionID,
		Bidder:      b.Bidder.Hex(),
		Amount:      b.Amount.Hex(),
		BidderRef:   b.BidderRef.Hex(),
		Seq:         b.Seq,
		SubmittedAt: b.SubmittedAt.UTC(),
	}
}

func (r *Bid) toCore() (*core.SealedBid, error) {
	amount, err := core.ParseHandle(r.Amount)
	if err != nil {
		return nil, errors.Wrapf(err, "bid %d/%s amount", r.AuctionID, r.Bidder)
	}
	ref, err := core.ParseHandle(r.BidderRef)
	if err != nil {
		return nil, errors.Wrapf(err, "bid %d/%s bidder ref", r.AuctionID, r.Bidder)
	}
	return &core.SealedBid{
		AuctionID:   r.AuctionID,
		Bidder:      common.HexToAddress(r.Bidder),
		Amount:      amount,
		BidderRef:   ref,
		Seq:         r.Seq,
		SubmittedAt: r.SubmittedAt.UTC(),
	}, nil
}

var requestStatuses = map[string]core.RequestStatus{
	core.RequestPending.String():    core.RequestPending,
	core.RequestFulfilled.String():  core.RequestFulfilled,
	core.RequestSuperseded.String(): core.RequestSuperseded,
	core.RequestAbandoned.String():  core.RequestAbandoned,
}

func newRequestRow(r *core.DecryptionRequest) *DecryptionRequest {
	return &DecryptionRequest{
		ID:          r.ID,
		AuctionID:   r.AuctionID,
		Nonce:       r.Nonce.String(),
		Amount:      r.Amount.Hex(),
		Bidder:      r.Bidder.Hex(),
		Status:      r.Status.String(),
		IssuedAt:    r.IssuedAt.UTC(),
		ClosedAt:    optionalTime(r.ClosedAt),
		Attestation: r.Attestation,
	}
}

func (r *DecryptionRequest) toCore() (*core.DecryptionRequest, error) {
	status, ok := requestStatuses[r.Status]
	if !ok {
		return nil, errors.Errorf("request %d: unknown status %q", r.ID, r.Status)
	}
	nonce, err := uuid.Parse(r.Nonce)
	if err != nil {
		return nil, errors.Wrapf(err, "request %d nonce", r.ID)
	}
	amount, err := core.ParseHandle(r.Amount)
	if err != nil {
		return nil, errors.Wrapf(err, "request %d amount", r.ID)
	}
	bidder, err := core.ParseHandle(r.Bidder)
	if err != nil {
		return nil, errors.Wrapf(err, "request %d bidder", r.ID)
	}
	return &core.DecryptionRequest{
		ID:          r.ID,
		AuctionID:   r.AuctionID,
		Nonce:       nonce,
		Amount:      amount,
		Bidder:      bidder,
		Status:      status,
		IssuedAt:    r.IssuedAt.UTC(),
		ClosedAt:    fromOptional(r.ClosedAt),
		Attestation: r.Attestation,
	}, nil
}
