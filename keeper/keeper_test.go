package keeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedbid/core"
)

var keeperAddr = common.HexToAddress("0x000000000000000000000000000000000000cee9")

type fakeEngine struct {
	mu     sync.Mutex
	views  []core.AuctionView
	closed []uint64
	plain  []uint64
	failOn map[uint64]error
}

func (e *fakeEngine) Auctions() []core.AuctionView {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]core.AuctionView, len(e.views))
	copy(out, e.views)
	return out
}

func (e *fakeEngine) CloseAuction(_ context.Context, caller common.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failOn[id]; err != nil {
		return err
	}
	e.closed = append(e.closed, id)
	e.views[id].State = core.StateSettlementPending
	return nil
}

func (e *fakeEngine) CloseAuctionPlain(_ context.Context, caller common.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.plain = append(e.plain, id)
	e.views[id].State = core.StateSettled
	return nil
}

func (e *fakeEngine) closedIDs() []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]uint64(nil), e.closed...)
}

func fixture(now time.Time) *fakeEngine {
	return &fakeEngine{views: []core.AuctionView{
		{ID: 0, State: core.StateActive, EndTime: now.Add(-time.Minute)},
		{ID: 1, State: core.StateActive, EndTime: now.Add(time.Minute)},
		{ID: 2, State: core.StateEnded, EndTime: now.Add(-time.Hour)},
		{ID: 3, State: core.StateSettlementPending, EndTime: now.Add(-time.Hour)},
		{ID: 4, State: core.StateSettled, EndTime: now.Add(-time.Hour)},
		{ID: 5, State: core.StateActive, EndTime: now},
	}}
}

func newKeeper(t *testing.T, engine Engine, mock *clock.Mock, plain bool) *Keeper {
	t.Helper()
	k, err := New(engine, Config{Identity: keeperAddr, Interval: time.Minute, Plain: plain, Clock: mock})
	assert.NoError(t, err)
	return k
}

func TestSweepClosesDueAuctions(t *testing.T) {
	mock := clock.NewMock()
	engine := fixture(mock.Now())
	k := newKeeper(t, engine, mock, false)

	closed, err := k.Sweep(context.Background())
	assert.NoError(t, err)
	check.Equal(t, 3, closed)
	check.Equal(t, []uint64{0, 2, 5}, engine.closedIDs())

	// Nothing left to do on a second pass.
	closed, err = k.Sweep(context.Background())
	assert.NoError(t, err)
	check.Equal(t, 0, closed)
}

func TestSweepPlainMode(t *testing.T) {
	mock := clock.NewMock()
	engine := fixture(mock.Now())
	k := newKeeper(t, engine, mock, true)

	closed, err := k.Sweep(context.Background())
	assert.NoError(t, err)
	check.Equal(t, 4, closed)
	check.Equal(t, []uint64{0, 2, 3, 5}, engine.plain)
	check.Equal(t, 0, len(engine.closedIDs()))
}

func TestSweepContinuesAfterFailure(t *testing.T) {
	mock := clock.NewMock()
	engine := fixture(mock.Now())
	boom := errors.New("dispatch failed")
	engine.failOn = map[uint64]error{0: boom}
	k := newKeeper(t, engine, mock, false)

	closed, err := k.Sweep(context.Background())
	check.True(t, errors.Is(err, boom))
	check.Equal(t, 2, closed)
	check.Equal(t, []uint64{2, 5}, engine.closedIDs())
}

func TestRunSweepsOnTick(t *testing.T) {
	mock := clock.NewMock()
	engine := fixture(mock.Now().Add(time.Hour))
	k := newKeeper(t, engine, mock, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		k.Run(ctx)
	}()

	// Let Run register its ticker before advancing the clock.
	deadline := time.Now().Add(5 * time.Second)
	for len(engine.closedIDs()) == 0 && time.Now().Before(deadline) {
		mock.Add(time.Hour)
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	check.True(t, len(engine.closedIDs()) > 0)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(nil, Config{Interval: time.Second})
	check.Error(t, err)
	_, err = New(&fakeEngine{}, Config{})
	check.Error(t, err)
}
