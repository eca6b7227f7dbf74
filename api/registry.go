package api

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/cloudx-io/sealedbid/core"
)

type deployReq struct {
	Name   string `json:"name" binding:"required"`
	Symbol string `json:"symbol" binding:"required"`
}

type deployResp struct {
	Address common.Address `json:"address"`
}

func (s *Server) deployCollection(c *gin.Context) (any, error) {
	caller, err := callerFrom(c)
	if err != nil {
		return nil, err
	}
	var req deployReq
	if err := bindJSON(c, &req); err != nil {
		return nil, err
	}
	return &deployResp{Address: s.svc.Registry.Deploy(caller, req.Name, req.Symbol)}, nil
}

type mintReq struct {
	// To defaults to the caller.
	To  *common.Address `json:"to"`
	URI string          `json:"uri"`
}

func (s *Server) mint(c *gin.Context) (any, error) {
	caller, err := callerFrom(c)
	if err != nil {
		return nil, err
	}
	collection, err := addressParam(c, "collection")
	if err != nil {
		return nil, err
	}
	var req mintReq
	if err := bindJSON(c, &req); err != nil {
		return nil, err
	}
	to := caller
	if req.To != nil {
		to = *req.To
	}
	return s.svc.Registry.Mint(collection, to, req.URI)
}

func assetParams(c *gin.Context) (core.Asset, error) {
	collection, err := addressParam(c, "collection")
	if err != nil {
		return core.Asset{}, err
	}
	id, err := uintParam(c, "token")
	if err != nil {
		return core.Asset{}, err
	}
	return core.Asset{Collection: collection, TokenID: id}, nil
}

type tokenResp struct {
	Asset    core.Asset     `json:"asset"`
	Owner    common.Address `json:"owner"`
	URI      string         `json:"uri"`
	Approved common.Address `json:"approved"`
}

func (s *Server) token(c *gin.Context) (any, error) {
	asset, err := assetParams(c)
	if err != nil {
		return nil, err
	}
	owner, err := s.svc.Registry.OwnerOf(asset)
	if err != nil {
		return nil, err
	}
	uri, err := s.svc.Registry.TokenURI(asset)
	if err != nil {
		return nil, err
	}
	approved, err := s.svc.Registry.GetApproved(asset)
	if err != nil {
		return nil, err
	}
	return &tokenResp{Asset: asset, Owner: owner, URI: uri, Approved: approved}, nil
}

type approveReq struct {
	Spender common.Address `json:"spender" binding:"required"`
}

func (s *Server) approve(c *gin.Context) (any, error) {
	caller, err := callerFrom(c)
	if err != nil {
		return nil, err
	}
	asset, err := assetParams(c)
	if err != nil {
		return nil, err
	}
	var req approveReq
	if err := bindJSON(c, &req); err != nil {
		return nil, err
	}
	if err := s.svc.Registry.Approve(caller, req.Spender, asset); err != nil {
		return nil, err
	}
	return &tokenResp{Asset: asset, Approved: req.Spender}, nil
}

type approvalForAllReq struct {
	Operator common.Address `json:"operator" binding:"required"`
	Approved bool           `json:"approved"`
}

func (s *Server) setApprovalForAll(c *gin.Context) (any, error) {
	caller, err := callerFrom(c)
	if err != nil {
		return nil, err
	}
	collection, err := addressParam(c, "collection")
	if err != nil {
		return nil, err
	}
	var req approvalForAllReq
	if err := bindJSON(c, &req); err != nil {
		return nil, err
	}
	if err := s.svc.Registry.SetApprovalForAll(caller, req.Operator, collection, req.Approved); err != nil {
		return nil, err
	}
	return &req, nil
}
