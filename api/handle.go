package api

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

type response struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type handlerFunc func(c *gin.Context) (any, error)

func (s *Server) handle(fn handlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := fn(c)
		if err != nil {
			status, _ := classify(err)
			entry := s.log.WithError(err).WithField("request_id", c.GetString(ctxRequestID))
			if status >= http.StatusInternalServerError {
				entry.Error("handler failed")
			} else {
				entry.Debug("request rejected")
			}
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, response{Data: data})
	}
}

func abort(c *gin.Context, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError && code == ErrorCode[errSystem] {
		msg = errSystem.Error()
	}
	c.AbortWithStatusJSON(status, response{Code: code, Message: msg})
}

func badRequest(err error, what string) error {
	return errors.Wrapf(errBadRequest, "%s: %v", what, err)
}

func callerFrom(c *gin.Context) (common.Address, error) {
	h := c.GetHeader(headerCaller)
	if !common.IsHexAddress(h) {
		return common.Address{}, errMissingCaller
	}
	return common.HexToAddress(h), nil
}

func uintParam(c *gin.Context, name string) (uint64, error) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		return 0, badRequest(err, name)
	}
	return v, nil
}

func addressParam(c *gin.Context, name string) (common.Address, error) {
	v := c.Param(name)
	if !common.IsHexAddress(v) {
		return common.Address{}, errors.Wrapf(errBadRequest, "%s: not an address: %q", name, v)
	}
	return common.HexToAddress(v), nil
}

func bindJSON(c *gin.Context, out any) error {
	if err := c.ShouldBindJSON(out); err != nil {
		return badRequest(err, "request body")
	}
	return nil
}
