// Package keeper closes auctions whose deadline has passed.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedbid/core"
)

// Engine is the part of auction.Engine the keeper drives.
type Engine interface {
	Auctions() []core.AuctionView
	CloseAuction(ctx context.Context, caller common.Address, id uint64) error
	CloseAuctionPlain(ctx context.Context, caller common.Address, id uint64) error
}

type Config struct {
	Identity common.Address
	Interval time.Duration
	// Plain settles through the degraded path instead of the oracle.
	Plain bool
	Clock clock.Clock
	Log   logrus.FieldLogger
}

type Keeper struct {
	engine   Engine
	identity common.Address
	interval time.Duration
	plain    bool
	clock    clock.Clock
	log      logrus.FieldLogger
}

func New(engine Engine, cfg Config) (*Keeper, error) {
	if engine == nil {
		return nil, fmt.Errorf("keeper requires an engine")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("invalid sweep interval: %s", cfg.Interval)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	return &Keeper{
		engine:   engine,
		identity: cfg.Identity,
		interval: cfg.Interval,
		plain:    cfg.Plain,
		clock:    cfg.Clock,
		log:      cfg.Log.WithField("component", "keeper"),
	}, nil
}

// due reports whether the keeper should act on v at now.
func (k *Keeper) due(v core.AuctionView, now time.Time) bool {
	switch v.State {
	case core.StateActive:
		return !now.Before(v.EndTime)
	case core.StateEnded:
		return true
	case core.StateSettlementPending:
		return k.plain
	default:
		return false
	}
}

// Sweep closes every due auction once and returns how many it closed. A
// failure on one auction does not stop the sweep.
func (k *Keeper) Sweep(ctx context.Context) (int, error) {
	now := k.clock.Now()
	closed := 0
	var errs []error

	for _, v := range k.engine.Auctions() {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if !k.due(v, now) {
			continue
		}

		var err error
		if k.plain {
			err = k.engine.CloseAuctionPlain(ctx, k.identity, v.ID)
		} else {
			err = k.engine.CloseAuction(ctx, k.identity, v.ID)
		}
		if err != nil {
			k.log.WithError(err).WithField("auction_id", v.ID).Warn("failed to close auction")
			errs = append(errs, fmt.Errorf("close auction %d: %w", v.ID, err))
			continue
		}
		closed++
	}

	if closed > 0 {
		k.log.WithFields(logrus.Fields{
			"closed": closed,
			"plain":  k.plain,
		}).Info("sweep finished")
	}
	return closed, errors.Join(errs...)
}

// Run sweeps every interval until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) {
	ticker := k.clock.Ticker(k.interval)
	defer ticker.Stop()

	k.log.WithFields(logrus.Fields{
		"interval": k.interval,
		"plain":    k.plain,
	}).Info("keeper started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = k.Sweep(ctx)
		}
	}
}
