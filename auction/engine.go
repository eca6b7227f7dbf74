// Package auction is the sealed-bid settlement engine. It escrows one asset
// per auction, folds encrypted bids into an encrypted running maximum, asks
// an oracle to decrypt only the final maximum, and releases the asset once to
// the winner or back to the seller.
//
// Every mutation of an auction runs under that auction's lock, is computed on
// a copy, persisted through the Store and only then committed to memory, so a
// rejected or failed call leaves the auction unchanged.
package auction

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedbid/core"
)

// Config wires an Engine.
type Config struct {
	// Address is the engine's identity: it owns every handle it creates,
	// holds escrowed assets and is bound into every bid input.
	Address common.Address
	// Oracle is the only caller allowed to deliver decryption results, and
	// OracleKey the key their attestations must verify against.
	Oracle    common.Address
	OracleKey *ecdsa.PublicKey
	// Operators may requeue stuck decryptions.
	Operators []common.Address
	// Keepers may settle through the plain path when AllowPlainClose is set.
	Keepers         []common.Address
	AllowPlainClose bool

	Coprocessor Coprocessor
	Decrypter   PlainDecrypter
	Registry    AssetRegistry
	Store       Store
	Dispatcher  Dispatcher
	Events      EventSink
	Clock       clock.Clock
	Log         logrus.FieldLogger
}

type slot struct {
	mu      sync.Mutex
	auction *core.Auction
	bids    map[common.Address]*core.SealedBid
	nextSeq uint64
}

// Engine is safe for concurrent use. Calls on different auctions proceed in
// parallel.
type Engine struct {
	address    common.Address
	oracle     common.Address
	oracleKey  *ecdsa.PublicKey
	operators  map[common.Address]bool
	keepers    map[common.Address]bool
	allowPlain bool

	cop        Coprocessor
	decrypter  PlainDecrypter
	registry   AssetRegistry
	store      Store
	dispatcher Dispatcher
	events     EventSink
	tracker    *Tracker
	clock      clock.Clock
	log        logrus.FieldLogger

	// createMu serializes CreateAuction. mu guards the arena and the escrow
	// index and is never held across I/O. Lock order is createMu, slot.mu, mu.
	createMu sync.Mutex
	mu       sync.RWMutex
	slots    []*slot
	escrowed map[core.Asset]uint64

	reqMu       sync.RWMutex
	requests    map[uint64]*core.DecryptionRequest
	lastRequest uint64
}

// New builds an engine and restores its state from cfg.Store.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("engine address is required")
	}
	if cfg.Oracle == (common.Address{}) || cfg.OracleKey == nil {
		return nil, fmt.Errorf("oracle identity and key are required")
	}
	if cfg.Coprocessor == nil || cfg.Registry == nil || cfg.Store == nil || cfg.Dispatcher == nil {
		return nil, fmt.Errorf("coprocessor, registry, store and dispatcher are required")
	}
	if cfg.AllowPlainClose && cfg.Decrypter == nil {
		return nil, fmt.Errorf("plain close requires a decrypter")
	}
	if cfg.Events == nil {
		cfg.Events = discardSink{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}

	e := &Engine{
		address:    cfg.Address,
		oracle:     cfg.Oracle,
		oracleKey:  cfg.OracleKey,
		operators:  addressSet(cfg.Operators),
		keepers:    addressSet(cfg.Keepers),
		allowPlain: cfg.AllowPlainClose,
		cop:        cfg.Coprocessor,
		decrypter:  cfg.Decrypter,
		registry:   cfg.Registry,
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		events:     cfg.Events,
		tracker:    NewTracker(cfg.Coprocessor, cfg.Address),
		clock:      cfg.Clock,
		log:        cfg.Log.WithField("component", "engine"),
		escrowed:   make(map[core.Asset]uint64),
		requests:   make(map[uint64]*core.DecryptionRequest),
	}

	if err := e.restore(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func addressSet(addrs []common.Address) map[common.Address]bool {
	set := make(map[common.Address]bool, len(addrs))
	for _, a := range addrs {
		set[a] = true
	}
	return set
}

func (e *Engine) restore(ctx context.Context) error {
	snap, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load engine state: %w", err)
	}

	for i, a := range snap.Auctions {
		if a.ID != uint64(i) {
			return fmt.Errorf("auction ids are not contiguous: expected %d, got %d", i, a.ID)
		}
		e.slots = append(e.slots, &slot{auction: a.Clone(), bids: make(map[common.Address]*core.SealedBid)})
		if !a.Released {
			e.escrowed[a.Asset] = a.ID
		}
	}
	for _, b := range snap.Bids {
		if b.AuctionID >= uint64(len(e.slots)) {
			return fmt.Errorf("bid references unknown auction %d", b.AuctionID)
		}
		s := e.slots[b.AuctionID]
		bid := *b
		s.bids[b.Bidder] = &bid
		if b.Seq > s.nextSeq {
			s.nextSeq = b.Seq
		}
	}
	for _, r := range snap.Requests {
		req := *r
		e.requests[req.ID] = &req
		if req.ID > e.lastRequest {
			e.lastRequest = req.ID
		}
	}

	if len(e.slots) > 0 {
		e.log.WithFields(logrus.Fields{
			"auctions": len(e.slots),
			"requests": len(e.requests),
		}).Info("engine state restored")
	}
	return nil
}

// Address returns the engine identity.
func (e *Engine) Address() common.Address {
	return e.address
}

func (e *Engine) slot(id uint64) (*slot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if id >= uint64(len(e.slots)) {
		return nil, fmt.Errorf("auction %d: %w", id, core.ErrNotFound)
	}
	return e.slots[id], nil
}

func (e *Engine) request(id uint64) (core.DecryptionRequest, bool) {
	e.reqMu.RLock()
	defer e.reqMu.RUnlock()
	r, ok := e.requests[id]
	if !ok {
		return core.DecryptionRequest{}, false
	}
	return *r, true
}

func (e *Engine) putRequests(reqs ...*core.DecryptionRequest) {
	e.reqMu.Lock()
	defer e.reqMu.Unlock()
	for _, r := range reqs {
		req := *r
		e.requests[req.ID] = &req
	}
}

func (e *Engine) nextRequestID() uint64 {
	e.reqMu.Lock()
	defer e.reqMu.Unlock()
	e.lastRequest++
	return e.lastRequest
}

func (e *Engine) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = e.clock.Now()
	}
	e.events.Emit(ev)
}

func (e *Engine) auctionLog(a *core.Auction) *logrus.Entry {
	return e.log.WithFields(logrus.Fields{
		"auction_id": a.ID,
		"state":      a.State.String(),
	})
}

// liveHandles returns the handles the auction still references: its running
// maximum and every current bid.
func (s *slot) liveHandles() map[core.Handle]bool {
	live := make(map[core.Handle]bool, 2+2*len(s.bids))
	live[s.auction.Max.Amount] = true
	live[s.auction.Max.Bidder] = true
	for _, b := range s.bids {
		live[b.Amount] = true
		live[b.BidderRef] = true
	}
	return live
}

// releaseUnused frees the dropped handles that s no longer references. It runs
// after the state is committed or rolled back, so cancellation of ctx does not
// stop it.
func (e *Engine) releaseUnused(ctx context.Context, s *slot, dropped ...core.Handle) {
	live := s.liveHandles()
	e.releaseHandles(ctx, s.auction, func(h core.Handle) bool { return !live[h] }, dropped...)
}

// releaseSettled frees every handle of a settled auction.
func (e *Engine) releaseSettled(ctx context.Context, s *slot) {
	live := s.liveHandles()
	handles := make([]core.Handle, 0, len(live))
	for h := range live {
		handles = append(handles, h)
	}
	e.releaseHandles(ctx, s.auction, func(core.Handle) bool { return true }, handles...)
}

func (e *Engine) releaseHandles(ctx context.Context, a *core.Auction, free func(core.Handle) bool, handles ...core.Handle) {
	seen := make(map[core.Handle]bool, len(handles))
	batch := make([]core.Handle, 0, len(handles))
	for _, h := range handles {
		if h.IsZero() || seen[h] || !free(h) {
			continue
		}
		seen[h] = true
		batch = append(batch, h)
	}
	if len(batch) == 0 {
		return
	}
	if err := e.cop.Release(context.WithoutCancel(ctx), e.address, batch...); err != nil {
		recordHandleRelease("error", len(batch))
		e.auctionLog(a).WithError(err).WithField("handles", len(batch)).Warn("failed to release coprocessor handles")
		return
	}
	recordHandleRelease("ok", len(batch))
}
