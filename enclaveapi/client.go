package enclaveapi

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"github.com/mdlayher/vsock"

	"github.com/cloudx-io/sealedbid/core"
)

const defaultCallTimeout = 30 * time.Second

// Dialer opens one connection to the enclave server.
type Dialer func(ctx context.Context) (net.Conn, error)

// DialTCP reaches an enclave server listening on TCP, used in development.
func DialTCP(addr string) Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
}

// DialVsock reaches an enclave server on the given vsock context ID and port.
func DialVsock(cid, port uint32) Dialer {
	return func(_ context.Context) (net.Conn, error) {
		return vsock.Dial(cid, port, nil)
	}
}

// Client calls the enclave over one connection per request. It implements
// the engine's coprocessor, plain decrypter and oracle KMS contracts.
type Client struct {
	dial    Dialer
	timeout time.Duration
}

// NewClient returns a client using dial for every call.
func NewClient(dial Dialer) *Client {
	return &Client{dial: dial, timeout: defaultCallTimeout}
}

// WithTimeout sets the per-call deadline used when ctx carries none.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

func (c *Client) call(ctx context.Context, typ string, body, out any) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial enclave: %w", err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	_ = conn.SetDeadline(deadline)

	req := Request{Type: typ}
	if body != nil {
		if req.Body, err = cbor.Marshal(body); err != nil {
			return fmt.Errorf("encode %s request: %w", typ, err)
		}
	}
	if err := cbor.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("send %s request: %w", typ, err)
	}

	var resp Response
	if err := cbor.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("read %s response: %w", typ, err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out != nil {
		if err := cbor.Unmarshal(resp.Body, out); err != nil {
			return fmt.Errorf("decode %s response: %w", typ, err)
		}
	}
	return nil
}

// Ping checks the enclave is reachable.
func (c *Client) Ping(ctx context.Context) error {
	var resp PingResponse
	return c.call(ctx, TypePing, nil, &resp)
}

// Keys fetches the enclave's public keys and their attestation.
func (c *Client) Keys(ctx context.Context) (*KeyResponse, error) {
	var resp KeyResponse
	if err := c.call(ctx, TypeKeyRequest, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) VerifyInput(ctx context.Context, owner common.Address, in EncryptedInput, binding InputBinding) (core.Handle, error) {
	var resp HandleResponse
	err := c.call(ctx, TypeVerifyInput, VerifyInputRequest{Owner: owner, Input: in, Binding: binding}, &resp)
	return resp.Handle, err
}

func (c *Client) TrivialEncrypt64(ctx context.Context, owner common.Address, v uint64) (core.Handle, error) {
	var resp HandleResponse
	err := c.call(ctx, TypeTrivialEncrypt, TrivialEncryptRequest{Owner: owner, Kind: KindUint64, Uint64: v}, &resp)
	return resp.Handle, err
}

func (c *Client) TrivialEncryptAddress(ctx context.Context, owner, addr common.Address) (core.Handle, error) {
	var resp HandleResponse
	err := c.call(ctx, TypeTrivialEncrypt, TrivialEncryptRequest{Owner: owner, Kind: KindAddress, Address: addr}, &resp)
	return resp.Handle, err
}

func (c *Client) Gt(ctx context.Context, caller common.Address, a, b core.Handle) (core.Handle, error) {
	var resp HandleResponse
	err := c.call(ctx, TypeCompute, ComputeRequest{Caller: caller, Op: OpGt, Operands: []core.Handle{a, b}}, &resp)
	return resp.Handle, err
}

func (c *Client) Select(ctx context.Context, caller common.Address, cond, a, b core.Handle) (core.Handle, error) {
	var resp HandleResponse
	err := c.call(ctx, TypeCompute, ComputeRequest{Caller: caller, Op: OpSelect, Operands: []core.Handle{cond, a, b}}, &resp)
	return resp.Handle, err
}

func (c *Client) AllowPublicDecrypt(ctx context.Context, caller common.Address, handles ...core.Handle) error {
	return c.call(ctx, TypeAllowDecrypt, AllowDecryptRequest{Caller: caller, Handles: handles}, nil)
}

// Release frees handles the caller no longer needs.
func (c *Client) Release(ctx context.Context, caller common.Address, handles ...core.Handle) error {
	return c.call(ctx, TypeRelease, ReleaseRequest{Caller: caller, Handles: handles}, nil)
}

func (c *Client) Decrypt(ctx context.Context, handles ...core.Handle) ([]Plaintext, error) {
	var resp DecryptResponse
	if err := c.call(ctx, TypeDecrypt, DecryptRequest{Handles: handles}, &resp); err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// OracleDecrypt asks the enclave KMS to decrypt and sign a job's result.
func (c *Client) OracleDecrypt(ctx context.Context, job DecryptionJob) (*DecryptionResponse, error) {
	var resp DecryptionResponse
	if err := c.call(ctx, TypeOracleDecrypt, job, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
