// Package api serves the auction engine and asset registry over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/cloudx-io/sealedbid/auction"
	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/enclaveapi"
)

const shutdownTimeout = 10 * time.Second

// Engine is the slice of *auction.Engine the API drives.
type Engine interface {
	Address() common.Address
	GetAuction(id uint64) (core.AuctionView, error)
	GetBidCount(id uint64) (uint64, error)
	IsDecryptionPending(id uint64) (bool, error)
	HasBid(id uint64, bidder common.Address) (bool, error)
	NextAuctionID() uint64
	Auctions() []core.AuctionView
	Request(id uint64) (core.DecryptionRequest, error)
	Binding(id uint64, bidder common.Address) (enclaveapi.InputBinding, error)

	CreateAuction(ctx context.Context, caller common.Address, asset core.Asset, endTime time.Time, minBid uint64) (uint64, error)
	PlaceBid(ctx context.Context, caller common.Address, id uint64, in enclaveapi.EncryptedInput) error
	CloseAuction(ctx context.Context, caller common.Address, id uint64) error
	CloseAuctionPlain(ctx context.Context, caller common.Address, id uint64) error
	RequeueDecryption(ctx context.Context, caller common.Address, id uint64) (uint64, error)
	ClaimAsset(ctx context.Context, caller common.Address, id uint64) error
	ReclaimAsset(ctx context.Context, caller common.Address, id uint64) error
}

// Registry is the slice of *registry.Registry the API drives.
type Registry interface {
	Deploy(deployer common.Address, name, symbol string) common.Address
	Mint(collection, to common.Address, uri string) (core.Asset, error)
	OwnerOf(asset core.Asset) (common.Address, error)
	TokenURI(asset core.Asset) (string, error)
	GetApproved(asset core.Asset) (common.Address, error)
	Approve(caller, spender common.Address, asset core.Asset) error
	SetApprovalForAll(owner, operator, collection common.Address, approved bool) error
}

// KeySource publishes the enclave keys bidders encrypt to.
type KeySource interface {
	Keys(ctx context.Context) (*enclaveapi.KeyResponse, error)
}

// EventReader exposes the per-auction event log.
type EventReader interface {
	Events(auctionID uint64) []auction.Event
}

// Config holds the HTTP surface settings.
type Config struct {
	Port int
	// RateLimit is the sustained requests per second; zero disables limiting.
	RateLimit float64
	RateBurst int
	Clock     clock.Clock
	Log       logrus.FieldLogger
}

// Service bundles what the handlers call. Keys and Events are optional.
type Service struct {
	Engine   Engine
	Registry Registry
	Keys     KeySource
	Events   EventReader
}

// Server defines an instance of a server that handles the requests of
// bidders, sellers and operators.
type Server struct {
	port   int
	engine *gin.Engine
	svc    Service
	clock  clock.Clock
	log    logrus.FieldLogger
}

// New returns a new instance of the server.
func New(cfg Config, svc Service) *Server {
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	server := &Server{
		port:   cfg.Port,
		engine: gin.New(),
		svc:    svc,
		clock:  clk,
		log:    log.WithField("component", "api"),
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit) + 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	server.registerRouter(limiter)
	return server
}

func (s *Server) registerRouter(limiter *rate.Limiter) {
	s.engine.Use(gin.Recovery(), requestID(), accessLog(s.log))

	s.engine.GET("healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	s.engine.GET("metrics", gin.WrapH(promhttp.Handler()))

	g := s.engine.Group("auction/v1", rateLimit(limiter))

	g.GET("ping", s.handle(s.ping))
	g.GET("stats", s.handle(s.stats))
	g.GET("enclave/keys", s.handle(s.keys))

	g.GET("auctions", s.handle(s.listAuctions))
	g.POST("auctions", s.handle(s.createAuction))
	g.GET("auctions/:id", s.handle(s.getAuction))
	g.GET("auctions/:id/binding", s.handle(s.binding))
	g.GET("auctions/:id/pending", s.handle(s.pending))
	g.GET("auctions/:id/events", s.handle(s.events))
	g.GET("auctions/:id/bids/count", s.handle(s.bidCount))
	g.GET("auctions/:id/bids/:bidder", s.handle(s.hasBid))
	g.POST("auctions/:id/bids", s.handle(s.placeBid))
	g.POST("auctions/:id/close", s.handle(s.closeAuction))
	g.POST("auctions/:id/close-plain", s.handle(s.closeAuctionPlain))
	g.POST("auctions/:id/requeue", s.handle(s.requeue))
	g.POST("auctions/:id/claim", s.handle(s.claim))
	g.POST("auctions/:id/reclaim", s.handle(s.reclaim))
	g.GET("requests/:id", s.handle(s.request))

	g.POST("collections", s.handle(s.deployCollection))
	g.POST("collections/:collection/tokens", s.handle(s.mint))
	g.GET("collections/:collection/tokens/:token", s.handle(s.token))
	g.POST("collections/:collection/tokens/:token/approve", s.handle(s.approve))
	g.POST("collections/:collection/approvals", s.handle(s.setApprovalForAll))
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("port", s.port).Info("api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "run the server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown the server")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "run the server")
	}
	return nil
}
