package auction

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/peterldowns/testy/assert"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/enclaveapi"
	"github.com/cloudx-io/sealedbid/registry"
)

var (
	engineAddr   = common.HexToAddress("0x00000000000000000000000000000000000e1e1e")
	oracleAddr   = common.HexToAddress("0x00000000000000000000000000000000000fac1e")
	sellerAddr   = common.HexToAddress("0x000000000000000000000000000000000005e11e")
	aliceAddr    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bobAddr      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carolAddr    = common.HexToAddress("0x00000000000000000000000000000000000ca401")
	operatorAddr = common.HexToAddress("0x0000000000000000000000000000000000000095")
	keeperAddr   = common.HexToAddress("0x000000000000000000000000000000000000cee9")

	errStoreDown = errors.New("store unavailable")
	errQueueDown = errors.New("queue unavailable")
)

type mockValue struct {
	kind  enclaveapi.ValueKind
	u     uint64
	b     bool
	addr  common.Address
	owner common.Address
}

// mockCoprocessor keeps plaintexts in a map. A mock input is valid when its
// Groth16 bytes read "ok"; the commitment carries the amount and the bidder
// it was made for.
type mockCoprocessor struct {
	mu          sync.Mutex
	next        uint64
	values      map[core.Handle]mockValue
	decryptable map[core.Handle]bool
	computes    int
	failCompute error
}

func newMockCoprocessor() *mockCoprocessor {
	return &mockCoprocessor{
		values:      make(map[core.Handle]mockValue),
		decryptable: make(map[core.Handle]bool),
	}
}

func mockInput(bidder common.Address, amount uint64) enclaveapi.EncryptedInput {
	var commitment [32]byte
	binary.BigEndian.PutUint64(commitment[:8], amount)
	copy(commitment[8:28], bidder.Bytes())
	return enclaveapi.EncryptedInput{Proof: enclaveapi.InputProof{Commitment: commitment, Groth16: []byte("ok")}}
}

func (m *mockCoprocessor) put(v mockValue) core.Handle {
	m.next++
	var h core.Handle
	binary.BigEndian.PutUint64(h[24:], m.next)
	m.values[h] = v
	return h
}

func (m *mockCoprocessor) get(caller common.Address, h core.Handle) (mockValue, error) {
	v, ok := m.values[h]
	if !ok {
		return v, enclaveapi.ErrUnknownHandle
	}
	if v.owner != caller {
		return v, enclaveapi.ErrAccessDenied
	}
	return v, nil
}

func (m *mockCoprocessor) VerifyInput(_ context.Context, owner common.Address, in enclaveapi.EncryptedInput, binding enclaveapi.InputBinding) (core.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if string(in.Proof.Groth16) != "ok" {
		return core.Handle{}, fmt.Errorf("%w: bad proof", core.ErrInvalidProof)
	}
	amount := binary.BigEndian.Uint64(in.Proof.Commitment[:8])
	if common.BytesToAddress(in.Proof.Commitment[8:28]) != binding.Bidder {
		return core.Handle{}, fmt.Errorf("%w: binding mismatch", core.ErrInvalidProof)
	}
	if amount < binding.Floor {
		return core.Handle{}, fmt.Errorf("%w: below floor", core.ErrInvalidProof)
	}
	return m.put(mockValue{kind: enclaveapi.KindUint64, u: amount, owner: owner}), nil
}

func (m *mockCoprocessor) TrivialEncryptAddress(_ context.Context, owner, addr common.Address) (core.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(mockValue{kind: enclaveapi.KindAddress, addr: addr, owner: owner}), nil
}

func (m *mockCoprocessor) Gt(_ context.Context, caller common.Address, a, b core.Handle) (core.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.computes++
	if m.failCompute != nil {
		return core.Handle{}, m.failCompute
	}
	va, err := m.get(caller, a)
	if err != nil {
		return core.Handle{}, err
	}
	vb, err := m.get(caller, b)
	if err != nil {
		return core.Handle{}, err
	}
	return m.put(mockValue{kind: enclaveapi.KindBool, b: va.u > vb.u, owner: caller}), nil
}

func (m *mockCoprocessor) Select(_ context.Context, caller common.Address, cond, a, b core.Handle) (core.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.computes++
	vc, err := m.get(caller, cond)
	if err != nil {
		return core.Handle{}, err
	}
	chosen := b
	if vc.b {
		chosen = a
	}
	v, err := m.get(caller, chosen)
	if err != nil {
		return core.Handle{}, err
	}
	return m.put(v), nil
}

func (m *mockCoprocessor) AllowPublicDecrypt(_ context.Context, caller common.Address, handles ...core.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range handles {
		if _, err := m.get(caller, h); err != nil {
			return err
		}
		m.decryptable[h] = true
	}
	return nil
}

func (m *mockCoprocessor) Release(_ context.Context, caller common.Address, handles ...core.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range handles {
		if v, ok := m.values[h]; ok && v.owner != caller {
			return enclaveapi.ErrAccessDenied
		}
	}
	for _, h := range handles {
		delete(m.values, h)
		delete(m.decryptable, h)
	}
	return nil
}

func (m *mockCoprocessor) Decrypt(_ context.Context, handles ...core.Handle) ([]enclaveapi.Plaintext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]enclaveapi.Plaintext, 0, len(handles))
	for _, h := range handles {
		if !m.decryptable[h] {
			return nil, enclaveapi.ErrNotDecryptable
		}
		v := m.values[h]
		out = append(out, enclaveapi.Plaintext{Handle: h, Kind: v.kind, Uint64: v.u, Bool: v.b, Address: v.addr})
	}
	return out, nil
}

func (m *mockCoprocessor) live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

func (m *mockCoprocessor) computeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.computes
}

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []enclaveapi.DecryptionJob
	err  error
}

func (d *recordingDispatcher) Dispatch(job enclaveapi.DecryptionJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

func (d *recordingDispatcher) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *recordingDispatcher) last(t *testing.T) enclaveapi.DecryptionJob {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	assert.True(t, len(d.jobs) > 0)
	return d.jobs[len(d.jobs)-1]
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

// flakyStore lets `skip` calls to Apply through, then fails the next
// `failures` calls.
type flakyStore struct {
	*MemoryStore
	mu       sync.Mutex
	skip     int
	failures int
}

func (s *flakyStore) failNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skip, s.failures = 0, n
}

func (s *flakyStore) failAfter(skip int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skip, s.failures = skip, 1
}

func (s *flakyStore) Apply(ctx context.Context, m Mutation) error {
	s.mu.Lock()
	switch {
	case s.skip > 0:
		s.skip--
	case s.failures > 0:
		s.failures--
		s.mu.Unlock()
		return errStoreDown
	}
	s.mu.Unlock()
	return s.MemoryStore.Apply(ctx, m)
}

// gatedStore blocks the first write of auction `held` until gate closes.
type gatedStore struct {
	*MemoryStore
	held    uint64
	once    sync.Once
	entered chan struct{}
	gate    chan struct{}
}

func newGatedStore(held uint64) *gatedStore {
	return &gatedStore{
		MemoryStore: NewMemoryStore(),
		held:        held,
		entered:     make(chan struct{}),
		gate:        make(chan struct{}),
	}
}

func (s *gatedStore) Apply(ctx context.Context, m Mutation) error {
	if m.Auction != nil && m.Auction.ID == s.held {
		s.once.Do(func() {
			close(s.entered)
			<-s.gate
		})
	}
	return s.MemoryStore.Apply(ctx, m)
}

type harness struct {
	t          *testing.T
	ctx        context.Context
	engine     *Engine
	cop        *mockCoprocessor
	registry   *registry.Registry
	store      *flakyStore
	dispatcher *recordingDispatcher
	events     *EventLog
	clock      *clock.Mock
	logs       *logtest.Hook
	oracleKey  *ecdsa.PrivateKey
	signer     cose.Signer
	asset      core.Asset
	start      time.Time
}

type harnessOption func(*Config)

func withPlainClose() harnessOption {
	return func(cfg *Config) { cfg.AllowPlainClose = true }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	oracleKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	assert.NoError(t, err)
	signer, err := cose.NewSigner(cose.AlgorithmES256, oracleKey)
	assert.NoError(t, err)

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	mock := clock.NewMock()
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	mock.Set(start)

	reg := registry.New(logger)
	coll := reg.Deploy(sellerAddr, "MyNFT", "MNFT")
	asset, err := reg.Mint(coll, sellerAddr, "ipfs://token/0")
	assert.NoError(t, err)
	assert.NoError(t, reg.SetApprovalForAll(sellerAddr, engineAddr, coll, true))

	h := &harness{
		t:          t,
		ctx:        context.Background(),
		cop:        newMockCoprocessor(),
		registry:   reg,
		store:      &flakyStore{MemoryStore: NewMemoryStore()},
		dispatcher: &recordingDispatcher{},
		events:     NewEventLog(),
		clock:      mock,
		logs:       hook,
		oracleKey:  oracleKey,
		signer:     signer,
		asset:      asset,
		start:      start,
	}

	cfg := h.config(logger)
	for _, opt := range opts {
		opt(&cfg)
	}
	h.engine, err = New(h.ctx, cfg)
	assert.NoError(t, err)
	return h
}

func (h *harness) config(log logrus.FieldLogger) Config {
	return Config{
		Address:     engineAddr,
		Oracle:      oracleAddr,
		OracleKey:   &h.oracleKey.PublicKey,
		Operators:   []common.Address{operatorAddr},
		Keepers:     []common.Address{keeperAddr},
		Coprocessor: h.cop,
		Decrypter:   h.cop,
		Registry:    h.registry,
		Store:       h.store,
		Dispatcher:  h.dispatcher,
		Events:      h.events,
		Clock:       h.clock,
		Log:         log,
	}
}

// at moves the clock to start+d.
func (h *harness) at(d time.Duration) {
	h.clock.Set(h.start.Add(d))
}

// create lists the harness asset ending at start+60s with floor minBid.
func (h *harness) create(minBid uint64) uint64 {
	h.t.Helper()
	id, err := h.engine.CreateAuction(h.ctx, sellerAddr, h.asset, h.start.Add(60*time.Second), minBid)
	assert.NoError(h.t, err)
	return id
}

func (h *harness) bid(id uint64, bidder common.Address, amount uint64) error {
	return h.engine.PlaceBid(h.ctx, bidder, id, mockInput(bidder, amount))
}

// answer plays the oracle: it decrypts the job and signs the result.
func (h *harness) answer(job enclaveapi.DecryptionJob) (uint64, common.Address, []byte) {
	h.t.Helper()
	values, err := h.cop.Decrypt(h.ctx, job.Amount, job.Bidder)
	assert.NoError(h.t, err)
	amount, bidder := values[0].Uint64, values[1].Address
	return amount, bidder, h.sign(h.signer, job, amount, bidder)
}

func (h *harness) sign(signer cose.Signer, job enclaveapi.DecryptionJob, amount uint64, bidder common.Address) []byte {
	h.t.Helper()
	att, err := enclaveapi.SignDecryptionResult(signer, enclaveapi.DecryptionResult{
		AuctionID:    job.AuctionID,
		RequestID:    job.RequestID,
		Nonce:        job.Nonce,
		AmountHandle: job.Amount,
		BidderHandle: job.Bidder,
		Amount:       amount,
		Bidder:       bidder,
		Timestamp:    h.clock.Now().Unix(),
	})
	assert.NoError(h.t, err)
	return att
}

func (h *harness) deliver(job enclaveapi.DecryptionJob) error {
	amount, bidder, att := h.answer(job)
	return h.engine.OnDecryptionCallback(h.ctx, oracleAddr, job.AuctionID, job.RequestID, amount, bidder, att)
}

func (h *harness) view(id uint64) core.AuctionView {
	h.t.Helper()
	v, err := h.engine.GetAuction(id)
	assert.NoError(h.t, err)
	return v
}

func (h *harness) ownerOf(asset core.Asset) common.Address {
	h.t.Helper()
	owner, err := h.registry.OwnerOf(asset)
	assert.NoError(h.t, err)
	return owner
}

func addrFor(name string) common.Address {
	return common.BytesToAddress([]byte(name))
}

func bindingFor(bidder common.Address) enclaveapi.InputBinding {
	return enclaveapi.InputBinding{Contract: engineAddr, Bidder: bidder}
}
