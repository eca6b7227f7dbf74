package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/enclaveapi"
)

const apiPrefix = "/auction/v1"

// apiClient reads and writes the auction daemon's HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string, timeout time.Duration) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/") + apiPrefix,
		http: &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *apiClient) do(ctx context.Context, method, path string, caller common.Address, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if caller != (common.Address{}) {
		req.Header.Set("X-Caller", caller.Hex())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return errors.Wrapf(err, "%s %s: decode response (status %d)", method, path, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || env.Code != 0 {
		return errors.Errorf("%s %s: status %d code %d: %s", method, path, resp.StatusCode, env.Code, env.Message)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.Wrapf(err, "%s %s: decode data", method, path)
		}
	}
	return nil
}

func (c *apiClient) keys(ctx context.Context) (*enclaveapi.KeyResponse, error) {
	var out enclaveapi.KeyResponse
	if err := c.do(ctx, http.MethodGet, "/enclave/keys", common.Address{}, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) binding(ctx context.Context, id uint64, bidder common.Address) (enclaveapi.InputBinding, error) {
	var out enclaveapi.InputBinding
	path := fmt.Sprintf("/auctions/%d/binding?bidder=%s", id, bidder.Hex())
	err := c.do(ctx, http.MethodGet, path, common.Address{}, nil, &out)
	return out, err
}

func (c *apiClient) auction(ctx context.Context, id uint64) (core.AuctionView, error) {
	var out core.AuctionView
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/auctions/%d", id), common.Address{}, nil, &out)
	return out, err
}

func (c *apiClient) request(ctx context.Context, id uint64) (core.DecryptionRequest, error) {
	var out core.DecryptionRequest
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/requests/%d", id), common.Address{}, nil, &out)
	return out, err
}

func (c *apiClient) placeBid(ctx context.Context, id uint64, bidder common.Address, in enclaveapi.EncryptedInput) (core.AuctionView, error) {
	var out core.AuctionView
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/auctions/%d/bids", id), bidder, bidRequest{Input: in}, &out)
	return out, err
}

type bidRequest struct {
	Input enclaveapi.EncryptedInput `json:"input"`
}
