package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/urfave/cli/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/enclaveapi"
)

var winner = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

type fixture struct {
	view    core.AuctionView
	request core.DecryptionRequest
	keys    enclaveapi.KeyResponse
}

func newFixture(t *testing.T, amount uint64) *fixture {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	assert.NoError(t, err)
	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	assert.NoError(t, err)
	att, err := enclaveapi.SignDecryptionResult(signer, enclaveapi.DecryptionResult{
		AuctionID: 3,
		RequestID: 7,
		Amount:    amount,
		Bidder:    winner,
		Timestamp: time.Now().Unix(),
	})
	assert.NoError(t, err)
	pem, err := enclaveapi.PublicKeyPEM(&key.PublicKey)
	assert.NoError(t, err)

	return &fixture{
		view: core.AuctionView{
			ID:             3,
			State:          core.StateSettled,
			Winner:         winner,
			WinningAmount:  5_000,
			BidCount:       2,
			SettledRequest: 7,
		},
		request: core.DecryptionRequest{
			ID:          7,
			AuctionID:   3,
			Status:      core.RequestFulfilled,
			Attestation: att,
		},
		keys: enclaveapi.KeyResponse{OraclePublicKey: pem},
	}
}

func (f *fixture) server(t *testing.T) *httptest.Server {
	t.Helper()
	reply := func(w http.ResponseWriter, data any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": data})
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/auction/v1/enclave/keys", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, f.keys)
	})
	mux.HandleFunc("/auction/v1/auctions/3", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, f.view)
	})
	mux.HandleFunc("/auction/v1/requests/7", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, f.request)
	})
	mux.HandleFunc("/auction/v1/auctions/9", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 2000, "message": "auction not found"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) (string, int) {
	t.Helper()
	code := 0
	exiter := cli.OsExiter
	cli.OsExiter = func(c int) { code = c }
	t.Cleanup(func() { cli.OsExiter = exiter })

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	if err := app.Run(append([]string{"sealedbid"}, args...)); err != nil && code == 0 {
		code = exitError
	}
	return out.String(), code
}

func TestValidateSettlementPasses(t *testing.T) {
	f := newFixture(t, 5_000)
	srv := f.server(t)

	out, code := run(t, "--api", srv.URL, "validate-settlement", "--auction", "3")
	check.Equal(t, 0, code)
	check.True(t, strings.Contains(out, "VALIDATION: ✓ PASSED"))
	check.True(t, strings.Contains(out, "Winner Match:    true"))
}

func TestValidateSettlementDetectsTamperedAmount(t *testing.T) {
	f := newFixture(t, 4_000)
	srv := f.server(t)

	out, code := run(t, "--api", srv.URL, "validate-settlement", "--auction", "3", "--format", "json")
	check.Equal(t, exitInvalid, code)

	var report struct {
		Valid       bool `json:"valid"`
		AmountMatch bool `json:"amount_match"`
		WinnerMatch bool `json:"winner_match"`
	}
	assert.NoError(t, json.Unmarshal([]byte(out[:strings.LastIndex(out, "}")+1]), &report))
	check.False(t, report.Valid)
	check.False(t, report.AmountMatch)
	check.True(t, report.WinnerMatch)
}

func TestSettlementInput(t *testing.T) {
	f := newFixture(t, 5_000)

	input, err := settlementInput(f.view, f.request, f.keys.OraclePublicKey)
	assert.NoError(t, err)
	check.Equal(t, uint64(7), input.RequestID)
	check.Equal(t, winner, input.Winner)
	check.Equal(t, uint64(5_000), input.WinningAmount)

	tests := []struct {
		name   string
		mutate func(v *core.AuctionView, r *core.DecryptionRequest)
	}{
		{"not settled", func(v *core.AuctionView, _ *core.DecryptionRequest) { v.State = core.StateSettlementPending }},
		{"degraded settlement", func(v *core.AuctionView, _ *core.DecryptionRequest) { v.SettledRequest = 0 }},
		{"foreign request", func(_ *core.AuctionView, r *core.DecryptionRequest) { r.AuctionID = 4 }},
		{"stale request", func(_ *core.AuctionView, r *core.DecryptionRequest) { r.ID = 6 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, r := f.view, f.request
			tt.mutate(&v, &r)
			_, err := settlementInput(v, r, f.keys.OraclePublicKey)
			check.Error(t, err)
		})
	}
}

func TestAPIClientSurfacesErrors(t *testing.T) {
	f := newFixture(t, 5_000)
	srv := f.server(t)
	api := newAPIClient(srv.URL+"/", time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	view, err := api.auction(ctx, 3)
	assert.NoError(t, err)
	check.Equal(t, core.StateSettled, view.State)
	check.Equal(t, uint64(7), view.SettledRequest)

	req, err := api.request(ctx, 7)
	assert.NoError(t, err)
	check.Equal(t, []byte(f.request.Attestation), req.Attestation)

	_, err = api.auction(ctx, 9)
	check.Error(t, err)
	check.True(t, strings.Contains(err.Error(), "auction not found"))
}

func TestValidateKeyRequiresAttestation(t *testing.T) {
	f := newFixture(t, 5_000)
	srv := f.server(t)

	_, code := run(t, "--api", srv.URL, "validate-key", "--pcrs", "testdata-missing.json")
	check.Equal(t, exitError, code)
}

func TestValidateSettlementWithSuppliedAttestation(t *testing.T) {
	f := newFixture(t, 5_000)
	srv := f.server(t)
	foreign := newFixture(t, 5_000)

	b64 := enclaveapi.AttestationCOSE(foreign.request.Attestation).EncodeBase64().String()
	out, code := run(t, "--api", srv.URL, "validate-settlement", "--auction", "3", "--attestation", b64)
	check.Equal(t, exitInvalid, code)
	check.True(t, strings.Contains(out, "Signature Valid: false"))
}
