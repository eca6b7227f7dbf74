package registry

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedbid/core"
)

var (
	deployer = common.HexToAddress("0x000000000000000000000000000000000000d3d3")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	market   = common.HexToAddress("0x00000000000000000000000000000000000e1e1e")
)

func setup(t *testing.T) (*Registry, core.Asset) {
	t.Helper()
	r := New(nil)
	coll := r.Deploy(deployer, "MyNFT", "MNFT")
	asset, err := r.Mint(coll, alice, "ipfs://token/0")
	assert.NoError(t, err)
	return r, asset
}

func TestMint(t *testing.T) {
	r, asset := setup(t)

	check.Equal(t, uint64(0), asset.TokenID)
	next, err := r.NextTokenID(asset.Collection)
	assert.NoError(t, err)
	check.Equal(t, uint64(1), next)

	owner, err := r.OwnerOf(asset)
	assert.NoError(t, err)
	check.Equal(t, alice, owner)

	balance, err := r.BalanceOf(asset.Collection, alice)
	assert.NoError(t, err)
	check.Equal(t, uint64(1), balance)

	uri, err := r.TokenURI(asset)
	assert.NoError(t, err)
	check.Equal(t, "ipfs://token/0", uri)

	_, err = r.Mint(asset.Collection, common.Address{}, "")
	check.True(t, errors.Is(err, ErrInvalidRecipient))

	_, err = r.Mint(alice, alice, "")
	check.True(t, errors.Is(err, ErrUnknownCollection))
}

func TestDeployAddressesAreDistinct(t *testing.T) {
	r := New(nil)
	a := r.Deploy(deployer, "A", "A")
	b := r.Deploy(deployer, "B", "B")
	check.NotEqual(t, a, b)
}

func TestOwnerOfNonexistent(t *testing.T) {
	r, asset := setup(t)
	_, err := r.OwnerOf(core.Asset{Collection: asset.Collection, TokenID: 9})
	check.True(t, errors.Is(err, ErrNonexistentToken))
}

func TestTransferFrom(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(r *Registry, asset core.Asset)
		caller  common.Address
		from    common.Address
		wantErr error
	}{
		{
			name:   "owner transfers",
			caller: alice,
			from:   alice,
		},
		{
			name:    "stranger rejected",
			caller:  market,
			from:    alice,
			wantErr: ErrNotApproved,
		},
		{
			name: "token approval",
			prepare: func(r *Registry, asset core.Asset) {
				assert.NoError(t, r.Approve(alice, market, asset))
			},
			caller: market,
			from:   alice,
		},
		{
			name: "operator approval",
			prepare: func(r *Registry, asset core.Asset) {
				assert.NoError(t, r.SetApprovalForAll(alice, market, asset.Collection, true))
			},
			caller: market,
			from:   alice,
		},
		{
			name: "revoked operator",
			prepare: func(r *Registry, asset core.Asset) {
				assert.NoError(t, r.SetApprovalForAll(alice, market, asset.Collection, true))
				assert.NoError(t, r.SetApprovalForAll(alice, market, asset.Collection, false))
			},
			caller:  market,
			from:    alice,
			wantErr: ErrNotApproved,
		},
		{
			name:    "wrong from",
			caller:  bob,
			from:    bob,
			wantErr: ErrNotOwner,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, asset := setup(t)
			if tt.prepare != nil {
				tt.prepare(r, asset)
			}

			err := r.TransferFrom(tt.caller, tt.from, bob, asset)
			owner, _ := r.OwnerOf(asset)
			if tt.wantErr != nil {
				check.True(t, errors.Is(err, tt.wantErr))
				check.True(t, errors.Is(err, core.ErrUnauthorized))
				check.Equal(t, alice, owner)
				return
			}
			assert.NoError(t, err)
			check.Equal(t, bob, owner)

			aliceBalance, _ := r.BalanceOf(asset.Collection, alice)
			bobBalance, _ := r.BalanceOf(asset.Collection, bob)
			check.Equal(t, uint64(0), aliceBalance)
			check.Equal(t, uint64(1), bobBalance)
		})
	}
}

func TestTransferClearsApproval(t *testing.T) {
	r, asset := setup(t)
	assert.NoError(t, r.Approve(alice, market, asset))

	approved, err := r.GetApproved(asset)
	assert.NoError(t, err)
	check.Equal(t, market, approved)

	assert.NoError(t, r.TransferFrom(market, alice, bob, asset))

	approved, err = r.GetApproved(asset)
	assert.NoError(t, err)
	check.Equal(t, common.Address{}, approved)

	err = r.TransferFrom(market, bob, alice, asset)
	check.True(t, errors.Is(err, ErrNotApproved))
}

func TestApproveRequiresOwnerOrOperator(t *testing.T) {
	r, asset := setup(t)

	err := r.Approve(bob, bob, asset)
	check.True(t, errors.Is(err, ErrNotApproved))

	assert.NoError(t, r.SetApprovalForAll(alice, bob, asset.Collection, true))
	ok, err := r.IsApprovedForAll(alice, bob, asset.Collection)
	assert.NoError(t, err)
	check.True(t, ok)
	check.NoError(t, r.Approve(bob, market, asset))
}

func TestTransferToZeroAddress(t *testing.T) {
	r, asset := setup(t)
	err := r.TransferFrom(alice, alice, common.Address{}, asset)
	check.True(t, errors.Is(err, ErrInvalidRecipient))
}
