package auction

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type EventKind string

const (
	EventAuctionCreated      EventKind = "auction_created"
	EventBidPlaced           EventKind = "bid_placed"
	EventAuctionClosed       EventKind = "auction_closed"
	EventDecryptionRequested EventKind = "decryption_requested"
	EventAuctionSettled      EventKind = "auction_settled"
	EventAssetClaimed        EventKind = "asset_claimed"
	EventAssetReclaimed      EventKind = "asset_reclaimed"
)

// Event records one committed transition. Winner and Amount are only set on
// EventAuctionSettled; no event carries a bid amount.
type Event struct {
	Kind      EventKind      `json:"kind"`
	AuctionID uint64         `json:"auction_id"`
	Actor     common.Address `json:"actor"`
	RequestID uint64         `json:"request_id,omitempty"`
	Winner    common.Address `json:"winner,omitempty"`
	Amount    uint64         `json:"amount,omitempty"`
	Degraded  bool           `json:"degraded,omitempty"`
	At        time.Time      `json:"at"`
}

// EventLog is an in-memory EventSink readable per auction.
type EventLog struct {
	mu     sync.RWMutex
	events map[uint64][]Event
}

func NewEventLog() *EventLog {
	return &EventLog{events: make(map[uint64][]Event)}
}

func (l *EventLog) Emit(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[ev.AuctionID] = append(l.events[ev.AuctionID], ev)
}

// Events returns the events of one auction in emission order.
func (l *EventLog) Events(auctionID uint64) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events[auctionID]))
	copy(out, l.events[auctionID])
	return out
}

type discardSink struct{}

func (discardSink) Emit(Event) {}
