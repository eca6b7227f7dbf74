package enclave

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/enclaveapi"
	"github.com/cloudx-io/sealedbid/enclaveapi/parsing"
)

func startServer(t *testing.T, attester EnclaveAttester) (*Server, *enclaveapi.Client) {
	t.Helper()
	_, verifier := zkKeys(t)
	keys, err := NewKeyManager()
	assert.NoError(t, err)

	srv, err := NewServer(ServerConfig{Keys: keys, Verifier: verifier, Attester: attester, MaxWorkers: 4})
	assert.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return srv, enclaveapi.NewClient(enclaveapi.DialTCP(ln.Addr().String()))
}

func TestNewServerValidatesConfig(t *testing.T) {
	_, verifier := zkKeys(t)
	keys, err := NewKeyManager()
	assert.NoError(t, err)

	_, err = NewServer(ServerConfig{Keys: keys, Verifier: verifier})
	check.Error(t, err)

	_, err = NewServer(ServerConfig{Verifier: verifier, MaxWorkers: 1})
	check.Error(t, err)
}

func TestServerRoundTrip(t *testing.T) {
	prover, _ := zkKeys(t)
	_, client := startServer(t, nil)
	ctx := context.Background()

	assert.NoError(t, client.Ping(ctx))

	keyResp, err := client.Keys(ctx)
	assert.NoError(t, err)
	check.Equal(t, 0, len(keyResp.Attestation))
	inputKey, err := enclaveapi.ParseRSAPublicKeyPEM(keyResp.InputPublicKey)
	assert.NoError(t, err)
	oracleKey, err := enclaveapi.ParseECDSAPublicKeyPEM(keyResp.OraclePublicKey)
	assert.NoError(t, err)

	binding := bindingFor(1, aliceAddr, 10)
	in, err := enclaveapi.EncryptBid(inputKey, prover, binding, 15)
	assert.NoError(t, err)

	bid, err := client.VerifyInput(ctx, engineAddr, in, binding)
	assert.NoError(t, err)

	_, err = client.VerifyInput(ctx, engineAddr, in, bindingFor(1, bobAddr, 10))
	check.True(t, errors.Is(err, core.ErrInvalidProof))

	floor, err := client.TrivialEncrypt64(ctx, engineAddr, 12)
	assert.NoError(t, err)
	ref, err := client.TrivialEncryptAddress(ctx, engineAddr, aliceAddr)
	assert.NoError(t, err)
	other, err := client.TrivialEncryptAddress(ctx, engineAddr, bobAddr)
	assert.NoError(t, err)

	isGreater, err := client.Gt(ctx, engineAddr, bid, floor)
	assert.NoError(t, err)
	maxAmount, err := client.Select(ctx, engineAddr, isGreater, bid, floor)
	assert.NoError(t, err)
	maxBidder, err := client.Select(ctx, engineAddr, isGreater, ref, other)
	assert.NoError(t, err)

	_, err = client.Gt(ctx, aliceAddr, bid, floor)
	check.True(t, errors.Is(err, enclaveapi.ErrAccessDenied))

	job := enclaveapi.DecryptionJob{AuctionID: 1, RequestID: 1, Amount: maxAmount, Bidder: maxBidder}
	_, err = client.OracleDecrypt(ctx, job)
	check.True(t, errors.Is(err, enclaveapi.ErrNotDecryptable))

	assert.NoError(t, client.AllowPublicDecrypt(ctx, engineAddr, maxAmount, maxBidder))

	resp, err := client.OracleDecrypt(ctx, job)
	assert.NoError(t, err)
	check.Equal(t, uint64(15), resp.Amount)
	check.Equal(t, aliceAddr, resp.Bidder)

	result, err := enclaveapi.VerifyDecryptionResult(oracleKey, resp.Attestation)
	assert.NoError(t, err)
	check.True(t, result.Matches(job))

	values, err := client.Decrypt(ctx, maxAmount)
	assert.NoError(t, err)
	check.Equal(t, uint64(15), values[0].Uint64)

	err = client.Release(ctx, aliceAddr, maxAmount)
	check.True(t, errors.Is(err, enclaveapi.ErrAccessDenied))
	assert.NoError(t, client.Release(ctx, engineAddr, isGreater, maxAmount, maxBidder))
	_, err = client.Decrypt(ctx, maxAmount)
	check.True(t, errors.Is(err, enclaveapi.ErrUnknownHandle))
}

func TestServerKeyAttestation(t *testing.T) {
	_, client := startServer(t, CreateMockEnclave(t))

	keyResp, err := client.Keys(context.Background())
	assert.NoError(t, err)
	assert.True(t, len(keyResp.Attestation) > 0)

	doc, userDataBytes, err := parsing.ParseAttestationDoc(keyResp.Attestation)
	assert.NoError(t, err)
	check.Equal(t, "test-enclave-12345", doc.ModuleID)

	var userData enclaveapi.KeyAttestationUserData
	assert.NoError(t, json.Unmarshal(userDataBytes, &userData))
	check.Equal(t, keyResp.InputPublicKey, userData.InputPublicKey)
	check.Equal(t, keyResp.OraclePublicKey, userData.OraclePublicKey)
	check.Equal(t, "ECDSA-P256", userData.OracleKeyAlgorithm)
}

func TestServerHandleRejectsUnknownRequests(t *testing.T) {
	srv, _ := startServer(t, nil)
	ctx := context.Background()

	resp := srv.Handle(ctx, enclaveapi.Request{Type: "auction_request"})
	assert.NotNil(t, resp.Error)
	check.Equal(t, enclaveapi.CodeInternal, resp.Error.Code)

	resp = srv.Handle(ctx, enclaveapi.Request{Type: enclaveapi.TypeCompute, Body: []byte{0xff}})
	assert.NotNil(t, resp.Error)

	resp = srv.Handle(ctx, enclaveapi.Request{Type: enclaveapi.TypePing})
	check.Nil(t, resp.Error)
	check.Equal(t, enclaveapi.TypePing, resp.Type)
}
