package api

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/registry"
)

var (
	errSystem        = errors.New("system error")
	errBadRequest    = errors.New("bad request")
	errMissingCaller = errors.New("missing or malformed X-Caller header")
	errRateLimited   = errors.New("rate limit exceeded")
	errNoKeySource   = errors.New("enclave keys unavailable")
)

var ErrorCode = map[error]int{
	errSystem:        1000,
	errBadRequest:    1001,
	errMissingCaller: 1002,
	errRateLimited:   1003,
	errNoKeySource:   1004,

	core.ErrNotFound:                2000,
	core.ErrInvalidState:            2001,
	core.ErrUnauthorized:            2002,
	core.ErrInvalidProof:            2003,
	core.ErrUntrustedOracleResponse: 2004,
	core.ErrAlreadyClaimed:          2005,
	core.ErrDeadlineNotReached:      2006,
	core.ErrDeadlinePassed:          2007,
	core.ErrAssetEscrowed:           2008,
	core.ErrStaleRequest:            2009,

	registry.ErrUnknownCollection: 3000,
	registry.ErrNonexistentToken:  3001,
	registry.ErrInvalidRecipient:  3002,
}

type classification struct {
	err    error
	status int
}

// Most specific first: ErrAssetEscrowed and ErrStaleRequest wrap
// ErrInvalidState, registry errors wrap ErrUnauthorized.
var classes = []classification{
	{errBadRequest, http.StatusBadRequest},
	{errMissingCaller, http.StatusUnauthorized},
	{errRateLimited, http.StatusTooManyRequests},
	{errNoKeySource, http.StatusServiceUnavailable},
	{core.ErrAssetEscrowed, http.StatusConflict},
	{core.ErrStaleRequest, http.StatusConflict},
	{core.ErrNotFound, http.StatusNotFound},
	{registry.ErrUnknownCollection, http.StatusNotFound},
	{registry.ErrNonexistentToken, http.StatusNotFound},
	{registry.ErrInvalidRecipient, http.StatusBadRequest},
	{core.ErrUnauthorized, http.StatusForbidden},
	{core.ErrInvalidProof, http.StatusUnprocessableEntity},
	{core.ErrUntrustedOracleResponse, http.StatusBadGateway},
	{core.ErrAlreadyClaimed, http.StatusConflict},
	{core.ErrDeadlineNotReached, http.StatusConflict},
	{core.ErrDeadlinePassed, http.StatusConflict},
	{core.ErrInvalidState, http.StatusConflict},
}

// classify returns the HTTP status and numeric error code for err.
func classify(err error) (int, int) {
	for _, c := range classes {
		if errors.Is(err, c.err) {
			return c.status, ErrorCode[c.err]
		}
	}
	return http.StatusInternalServerError, ErrorCode[errSystem]
}
