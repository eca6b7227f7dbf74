// Package registry is an in-process ERC-721 style asset registry: named
// collections of non-fungible tokens with per-token and operator approvals.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedbid/core"
)

var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrNonexistentToken  = errors.New("nonexistent token")
	ErrInvalidRecipient  = errors.New("invalid recipient")

	ErrNotOwner    = fmt.Errorf("%w: not token owner", core.ErrUnauthorized)
	ErrNotApproved = fmt.Errorf("%w: caller is not owner nor approved", core.ErrUnauthorized)
)

type token struct {
	owner    common.Address
	approved common.Address
	uri      string
}

// Collection is one ERC-721 contract.
type Collection struct {
	Address common.Address `json:"address"`
	Name    string         `json:"name"`
	Symbol  string         `json:"symbol"`
	Owner   common.Address `json:"owner"`

	nextTokenID uint64
	tokens      map[uint64]*token
	balances    map[common.Address]uint64
	operators   map[common.Address]map[common.Address]bool
}

// Registry holds every deployed collection.
type Registry struct {
	mu          sync.RWMutex
	collections map[common.Address]*Collection
	log         logrus.FieldLogger
}

func New(log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		collections: make(map[common.Address]*Collection),
		log:         log.WithField("component", "registry"),
	}
}

// Deploy creates a collection owned by deployer. Its address is derived from
// the deployer and the deployment count, like a contract creation address.
func (r *Registry) Deploy(deployer common.Address, name, symbol string) common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()

	addr := crypto.CreateAddress(deployer, uint64(len(r.collections)))
	r.collections[addr] = &Collection{
		Address:   addr,
		Name:      name,
		Symbol:    symbol,
		Owner:     deployer,
		tokens:    make(map[uint64]*token),
		balances:  make(map[common.Address]uint64),
		operators: make(map[common.Address]map[common.Address]bool),
	}
	r.log.WithFields(logrus.Fields{
		"collection": addr.Hex(),
		"name":       name,
	}).Info("collection deployed")
	return addr
}

func (r *Registry) collection(addr common.Address) (*Collection, error) {
	c, ok := r.collections[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, addr.Hex())
	}
	return c, nil
}

func (c *Collection) token(id uint64) (*token, error) {
	t, ok := c.tokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s#%d", ErrNonexistentToken, c.Address.Hex(), id)
	}
	return t, nil
}

// Mint creates the next token of a collection for `to`. Anyone may mint.
func (r *Registry) Mint(collection, to common.Address, uri string) (core.Asset, error) {
	if to == (common.Address{}) {
		return core.Asset{}, fmt.Errorf("mint: %w", ErrInvalidRecipient)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.collection(collection)
	if err != nil {
		return core.Asset{}, err
	}

	id := c.nextTokenID
	c.nextTokenID++
	c.tokens[id] = &token{owner: to, uri: uri}
	c.balances[to]++

	asset := core.Asset{Collection: collection, TokenID: id}
	r.log.WithFields(logrus.Fields{
		"asset": asset.String(),
		"to":    to.Hex(),
	}).Info("token minted")
	return asset, nil
}

// NextTokenID returns the id the next minted token will get.
func (r *Registry) NextTokenID(collection common.Address) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, err := r.collection(collection)
	if err != nil {
		return 0, err
	}
	return c.nextTokenID, nil
}

func (r *Registry) OwnerOf(asset core.Asset) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, err := r.collection(asset.Collection)
	if err != nil {
		return common.Address{}, err
	}
	t, err := c.token(asset.TokenID)
	if err != nil {
		return common.Address{}, err
	}
	return t.owner, nil
}

func (r *Registry) BalanceOf(collection, owner common.Address) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, err := r.collection(collection)
	if err != nil {
		return 0, err
	}
	return c.balances[owner], nil
}

func (r *Registry) TokenURI(asset core.Asset) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, err := r.collection(asset.Collection)
	if err != nil {
		return "", err
	}
	t, err := c.token(asset.TokenID)
	if err != nil {
		return "", err
	}
	return t.uri, nil
}

// Approve lets spender transfer one token. The caller must own the token or
// be an operator of its owner. A zero spender clears the approval.
func (r *Registry) Approve(caller, spender common.Address, asset core.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.collection(asset.Collection)
	if err != nil {
		return err
	}
	t, err := c.token(asset.TokenID)
	if err != nil {
		return err
	}
	if caller != t.owner && !c.operators[t.owner][caller] {
		return fmt.Errorf("approve %s: %w", asset, ErrNotApproved)
	}
	t.approved = spender
	return nil
}

func (r *Registry) GetApproved(asset core.Asset) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, err := r.collection(asset.Collection)
	if err != nil {
		return common.Address{}, err
	}
	t, err := c.token(asset.TokenID)
	if err != nil {
		return common.Address{}, err
	}
	return t.approved, nil
}

// SetApprovalForAll grants or revokes operator rights over all of owner's
// tokens in a collection.
func (r *Registry) SetApprovalForAll(owner, operator, collection common.Address, approved bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.collection(collection)
	if err != nil {
		return err
	}
	if c.operators[owner] == nil {
		c.operators[owner] = make(map[common.Address]bool)
	}
	c.operators[owner][operator] = approved
	return nil
}

func (r *Registry) IsApprovedForAll(owner, operator, collection common.Address) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, err := r.collection(collection)
	if err != nil {
		return false, err
	}
	return c.operators[owner][operator], nil
}

// TransferFrom moves a token from `from` to `to`. The caller must be the
// owner, the token's approved address, or an operator of the owner. The
// token approval is cleared.
func (r *Registry) TransferFrom(caller, from, to common.Address, asset core.Asset) error {
	if to == (common.Address{}) {
		return fmt.Errorf("transfer %s: %w", asset, ErrInvalidRecipient)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.collection(asset.Collection)
	if err != nil {
		return err
	}
	t, err := c.token(asset.TokenID)
	if err != nil {
		return err
	}
	if t.owner != from {
		return fmt.Errorf("transfer %s from %s: %w", asset, from.Hex(), ErrNotOwner)
	}
	if caller != from && t.approved != caller && !c.operators[from][caller] {
		return fmt.Errorf("transfer %s by %s: %w", asset, caller.Hex(), ErrNotApproved)
	}

	t.owner = to
	t.approved = common.Address{}
	c.balances[from]--
	c.balances[to]++
	return nil
}
