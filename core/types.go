package core

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Handle is an opaque reference to a ciphertext held by the coprocessor.
// The engine never sees the value behind a handle.
type Handle [32]byte

// IsZero reports whether h is the unset handle.
func (h Handle) IsZero() bool {
	return h == Handle{}
}

// Hex returns the 0x-prefixed hex encoding of the handle.
func (h Handle) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Handle) String() string {
	return h.Hex()
}

// MarshalText implements encoding.TextMarshaler.
func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Handle) UnmarshalText(text []byte) error {
	parsed, err := ParseHandle(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHandle decodes a hex handle, with or without the 0x prefix.
func ParseHandle(s string) (Handle, error) {
	var h Handle
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("decode handle: %w", err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("invalid handle length: expected %d bytes, got %d", len(h), len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// AuctionState is the lifecycle position of an auction. It never regresses.
type AuctionState uint8

const (
	StateActive AuctionState = iota
	StateEnded
	StateSettlementPending
	StateSettled
)

var stateNames = map[AuctionState]string{
	StateActive:            "active",
	StateEnded:             "ended",
	StateSettlementPending: "settlement_pending",
	StateSettled:           "settled",
}

func (s AuctionState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s AuctionState) MarshalText() ([]byte, error) {
	name, ok := stateNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown auction state %d", uint8(s))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *AuctionState) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown auction state %q", string(text))
}

// Asset identifies one token in one collection.
type Asset struct {
	Collection common.Address `json:"collection"`
	TokenID    uint64         `json:"token_id"`
}

func (a Asset) String() string {
	return fmt.Sprintf("%s#%d", a.Collection.Hex(), a.TokenID)
}

// MaxState is the encrypted running maximum of an auction: the leading amount
// and a ciphertext reference to the bidder who placed it.
type MaxState struct {
	Amount Handle `json:"amount"`
	Bidder Handle `json:"bidder"`
}

// IsZero reports whether no bid has been absorbed yet.
func (m MaxState) IsZero() bool {
	return m.Amount.IsZero()
}

// Auction is the engine's record for one listed asset.
type Auction struct {
	ID            uint64         `json:"id"`
	Seller        common.Address `json:"seller"`
	Asset         Asset          `json:"asset"`
	EndTime       time.Time      `json:"end_time"`
	MinBid        uint64         `json:"min_bid"`
	State         AuctionState   `json:"state"`
	Winner        common.Address `json:"winner"`
	WinningAmount uint64         `json:"winning_amount"`
	BidCount      uint64         `json:"bid_count"`

	Max            MaxState       `json:"max"`
	PendingRequest uint64         `json:"pending_request"`
	Released       bool           `json:"released"`
	ReleasedTo     common.Address `json:"released_to"`
	Degraded       bool           `json:"degraded"`
	SettledRequest uint64         `json:"settled_request"`
	CreatedAt      time.Time      `json:"created_at"`
	SettledAt      time.Time      `json:"settled_at"`
}

// Clone returns a copy of the auction. Auction has no reference fields, so a
// value copy is a deep copy.
func (a *Auction) Clone() *Auction {
	c := *a
	return &c
}

// HasWinner reports whether settlement revealed a winner.
func (a *Auction) HasWinner() bool {
	return a.State == StateSettled && a.Winner != (common.Address{})
}

// View returns the public read surface of the auction. Winner and amount
// stay zero until settlement.
func (a *Auction) View() AuctionView {
	v := AuctionView{
		ID:       a.ID,
		Seller:   a.Seller,
		Asset:    a.Asset,
		EndTime:  a.EndTime,
		State:    a.State,
		MinBid:   a.MinBid,
		BidCount: a.BidCount,
		Released: a.Released,
		Degraded: a.Degraded,
	}
	if a.State == StateSettled {
		v.Winner = a.Winner
		v.WinningAmount = a.WinningAmount
		v.SettledRequest = a.SettledRequest
	}
	return v
}

// AuctionView is what readers outside the engine may observe.
type AuctionView struct {
	ID            uint64         `json:"id"`
	Seller        common.Address `json:"seller"`
	Asset         Asset          `json:"asset"`
	EndTime       time.Time      `json:"end_time"`
	State         AuctionState   `json:"state"`
	Winner        common.Address `json:"winner"`
	WinningAmount uint64         `json:"winning_amount"`
	MinBid        uint64         `json:"min_bid"`
	BidCount      uint64         `json:"bid_count"`
	Released      bool           `json:"released"`
	Degraded      bool           `json:"degraded"`
	// SettledRequest is the decryption request whose attestation settled the
	// auction; zero for the no-bid and degraded paths.
	SettledRequest uint64 `json:"settled_request,omitempty"`
}

// SealedBid is a bidder's current encrypted bid on one auction. Seq orders
// bids by submission; a resubmission takes a fresh Seq.
type SealedBid struct {
	AuctionID   uint64         `json:"auction_id"`
	Bidder      common.Address `json:"bidder"`
	Amount      Handle         `json:"amount"`
	BidderRef   Handle         `json:"bidder_ref"`
	Seq         uint64         `json:"seq"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// RequestStatus tracks a decryption request through the request table.
type RequestStatus uint8

const (
	RequestPending RequestStatus = iota
	RequestFulfilled
	RequestSuperseded
	RequestAbandoned
)

func (s RequestStatus) String() string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestFulfilled:
		return "fulfilled"
	case RequestSuperseded:
		return "superseded"
	case RequestAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// DecryptionRequest is one entry of the request table. An auction points at
// its outstanding request through Auction.PendingRequest.
type DecryptionRequest struct {
	ID        uint64        `json:"id"`
	AuctionID uint64        `json:"auction_id"`
	Nonce     uuid.UUID     `json:"nonce"`
	Amount    Handle        `json:"amount"`
	Bidder    Handle        `json:"bidder"`
	Status    RequestStatus `json:"status"`
	IssuedAt  time.Time     `json:"issued_at"`
	ClosedAt  time.Time     `json:"closed_at"`
	// Attestation is the oracle's COSE_Sign1 answer, kept once fulfilled.
	Attestation []byte `json:"attestation,omitempty"`
}
