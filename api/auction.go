package api

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/enclaveapi"
)

type pingResp struct {
	Pong string `json:"pong"`
}

func (s *Server) ping(_ *gin.Context) (any, error) {
	return &pingResp{Pong: "pong"}, nil
}

type statsResp struct {
	Contract      common.Address `json:"contract"`
	NextAuctionID uint64         `json:"next_auction_id"`
}

func (s *Server) stats(_ *gin.Context) (any, error) {
	return &statsResp{
		Contract:      s.svc.Engine.Address(),
		NextAuctionID: s.svc.Engine.NextAuctionID(),
	}, nil
}

func (s *Server) keys(c *gin.Context) (any, error) {
	if s.svc.Keys == nil {
		return nil, errNoKeySource
	}
	keys, err := s.svc.Keys.Keys(c.Request.Context())
	if err != nil {
		return nil, errors.Wrap(err, "fetch enclave keys")
	}
	return keys, nil
}

func (s *Server) listAuctions(_ *gin.Context) (any, error) {
	return s.svc.Engine.Auctions(), nil
}

func (s *Server) getAuction(c *gin.Context) (any, error) {
	id, err := uintParam(c, "id")
	if err != nil {
		return nil, err
	}
	return s.svc.Engine.GetAuction(id)
}

// maxDurationSeconds caps duration_seconds well below time.Duration overflow.
const maxDurationSeconds = 10 * 365 * 24 * 60 * 60

type createAuctionReq struct {
	Collection common.Address `json:"collection" binding:"required"`
	TokenID    uint64         `json:"token_id"`
	// Exactly one of EndTime and DurationSeconds is set.
	EndTime         *time.Time `json:"end_time"`
	DurationSeconds uint64     `json:"duration_seconds"`
	// MinBid is in ETH, e.g. "0.01".
	MinBid string `json:"min_bid" binding:"required"`
}

type createAuctionResp struct {
	ID uint64 `json:"id"`
}

func (s *Server) createAuction(c *gin.Context) (any, error) {
	caller, err := callerFrom(c)
	if err != nil {
		return nil, err
	}
	var req createAuctionReq
	if err := bindJSON(c, &req); err != nil {
		return nil, err
	}

	var end time.Time
	switch {
	case req.EndTime != nil && req.DurationSeconds == 0:
		end = *req.EndTime
	case req.EndTime == nil && req.DurationSeconds > maxDurationSeconds:
		return nil, errors.Wrapf(errBadRequest, "duration_seconds: at most %d", uint64(maxDurationSeconds))
	case req.EndTime == nil && req.DurationSeconds > 0:
		end = s.clock.Now().Add(time.Duration(req.DurationSeconds) * time.Second)
	default:
		return nil, errors.Wrap(errBadRequest, "set exactly one of end_time and duration_seconds")
	}

	minBid, err := core.ParseEther(req.MinBid)
	if err != nil {
		return nil, badRequest(err, "min_bid")
	}

	asset := core.Asset{Collection: req.Collection, TokenID: req.TokenID}
	id, err := s.svc.Engine.CreateAuction(c.Request.Context(), caller, asset, end, minBid)
	if err != nil {
		return nil, err
	}
	return &createAuctionResp{ID: id}, nil
}

func (s *Server) binding(c *gin.Context) (any, error) {
	id, err := uintParam(c, "id")
	if err != nil {
		return nil, err
	}
	bidder := c.Query("bidder")
	if bidder == "" {
		caller, err := callerFrom(c)
		if err != nil {
			return nil, err
		}
		return s.svc.Engine.Binding(id, caller)
	}
	if !common.IsHexAddress(bidder) {
		return nil, errors.Wrapf(errBadRequest, "bidder: not an address: %q", bidder)
	}
	return s.svc.Engine.Binding(id, common.HexToAddress(bidder))
}

type pendingResp struct {
	Pending bool `json:"pending"`
}

func (s *Server) pending(c *gin.Context) (any, error) {
	id, err := uintParam(c, "id")
	if err != nil {
		return nil, err
	}
	pending, err := s.svc.Engine.IsDecryptionPending(id)
	if err != nil {
		return nil, err
	}
	return &pendingResp{Pending: pending}, nil
}

func (s *Server) events(c *gin.Context) (any, error) {
	id, err := uintParam(c, "id")
	if err != nil {
		return nil, err
	}
	if _, err := s.svc.Engine.GetAuction(id); err != nil {
		return nil, err
	}
	if s.svc.Events == nil {
		return []any{}, nil
	}
	return s.svc.Events.Events(id), nil
}

type bidCountResp struct {
	BidCount uint64 `json:"bid_count"`
}

func (s *Server) bidCount(c *gin.Context) (any, error) {
	id, err := uintParam(c, "id")
	if err != nil {
		return nil, err
	}
	n, err := s.svc.Engine.GetBidCount(id)
	if err != nil {
		return nil, err
	}
	return &bidCountResp{BidCount: n}, nil
}

type hasBidResp struct {
	HasBid bool `json:"has_bid"`
}

func (s *Server) hasBid(c *gin.Context) (any, error) {
	id, err := uintParam(c, "id")
	if err != nil {
		return nil, err
	}
	bidder, err := addressParam(c, "bidder")
	if err != nil {
		return nil, err
	}
	ok, err := s.svc.Engine.HasBid(id, bidder)
	if err != nil {
		return nil, err
	}
	return &hasBidResp{HasBid: ok}, nil
}

type placeBidReq struct {
	Input enclaveapi.EncryptedInput `json:"input"`
}

func (s *Server) placeBid(c *gin.Context) (any, error) {
	caller, err := callerFrom(c)
	if err != nil {
		return nil, err
	}
	id, err := uintParam(c, "id")
	if err != nil {
		return nil, err
	}
	var req placeBidReq
	if err := bindJSON(c, &req); err != nil {
		return nil, err
	}
	if err := s.svc.Engine.PlaceBid(c.Request.Context(), caller, id, req.Input); err != nil {
		return nil, err
	}
	return s.svc.Engine.GetAuction(id)
}

type command func(c *gin.Context, caller common.Address, id uint64) error

// auctionCommand runs a caller-scoped command and answers with the updated
// auction view.
func (s *Server) auctionCommand(c *gin.Context, run command) (any, error) {
	caller, err := callerFrom(c)
	if err != nil {
		return nil, err
	}
	id, err := uintParam(c, "id")
	if err != nil {
		return nil, err
	}
	if err := run(c, caller, id); err != nil {
		return nil, err
	}
	return s.svc.Engine.GetAuction(id)
}

func (s *Server) closeAuction(c *gin.Context) (any, error) {
	return s.auctionCommand(c, func(c *gin.Context, caller common.Address, id uint64) error {
		return s.svc.Engine.CloseAuction(c.Request.Context(), caller, id)
	})
}

func (s *Server) closeAuctionPlain(c *gin.Context) (any, error) {
	return s.auctionCommand(c, func(c *gin.Context, caller common.Address, id uint64) error {
		return s.svc.Engine.CloseAuctionPlain(c.Request.Context(), caller, id)
	})
}

func (s *Server) claim(c *gin.Context) (any, error) {
	return s.auctionCommand(c, func(c *gin.Context, caller common.Address, id uint64) error {
		return s.svc.Engine.ClaimAsset(c.Request.Context(), caller, id)
	})
}

func (s *Server) reclaim(c *gin.Context) (any, error) {
	return s.auctionCommand(c, func(c *gin.Context, caller common.Address, id uint64) error {
		return s.svc.Engine.ReclaimAsset(c.Request.Context(), caller, id)
	})
}

type requeueResp struct {
	RequestID uint64 `json:"request_id"`
}

func (s *Server) requeue(c *gin.Context) (any, error) {
	caller, err := callerFrom(c)
	if err != nil {
		return nil, err
	}
	id, err := uintParam(c, "id")
	if err != nil {
		return nil, err
	}
	reqID, err := s.svc.Engine.RequeueDecryption(c.Request.Context(), caller, id)
	if err != nil {
		return nil, err
	}
	return &requeueResp{RequestID: reqID}, nil
}

func (s *Server) request(c *gin.Context) (any, error) {
	id, err := uintParam(c, "id")
	if err != nil {
		return nil, err
	}
	return s.svc.Engine.Request(id)
}
