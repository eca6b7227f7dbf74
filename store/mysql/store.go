// Package mysql persists engine state in MySQL through gorm.
package mysql

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cloudx-io/sealedbid/auction"
)

// Store is an auction.Store backed by a gorm database.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the tables.
func (s *Store) Migrate() error {
	return errors.Wrap(s.db.AutoMigrate(&Auction{}, &Bid{}, &DecryptionRequest{}), "migrate")
}

func upsert(tx *gorm.DB, row any) error {
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
}

// Apply writes every part of m in one transaction.
func (s *Store) Apply(ctx context.Context, m auction.Mutation) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if m.Auction != nil {
			row, err := newAuctionRow(m.Auction)
			if err != nil {
				return err
			}
			if err := upsert(tx, row); err != nil {
				return errors.Wrapf(err, "upsert auction %d", m.Auction.ID)
			}
		}
		if m.Bid != nil {
			if err := upsert(tx, newBidRow(m.Bid)); err != nil {
				return errors.Wrapf(err, "upsert bid on auction %d", m.Bid.AuctionID)
			}
		}
		for _, r := range m.Requests {
			if err := upsert(tx, newRequestRow(r)); err != nil {
				return errors.Wrapf(err, "upsert decryption request %d", r.ID)
			}
		}
		return nil
	})
	return errors.Wrap(err, "apply mutation")
}

// Load reads the full engine state, auctions in id order.
func (s *Store) Load(ctx context.Context) (*auction.Snapshot, error) {
	db := s.db.WithContext(ctx)

	var auctions []Auction
	if err := db.Order("id").Find(&auctions).Error; err != nil {
		return nil, errors.Wrap(err, "load auctions")
	}
	var bids []Bid
	if err := db.Order("auction_id, seq").Find(&bids).Error; err != nil {
		return nil, errors.Wrap(err, "load bids")
	}
	var requests []DecryptionRequest
	if err := db.Order("id").Find(&requests).Error; err != nil {
		return nil, errors.Wrap(err, "load decryption requests")
	}

	snap := &auction.Snapshot{}
	for i := range auctions {
		a, err := auctions[i].toCore()
		if err != nil {
			return nil, err
		}
		snap.Auctions = append(snap.Auctions, a)
	}
	for i := range bids {
		b, err := bids[i].toCore()
		if err != nil {
			return nil, err
		}
		snap.Bids = append(snap.Bids, b)
	}
	for i := range requests {
		r, err := requests[i].toCore()
		if err != nil {
			return nil, err
		}
		snap.Requests = append(snap.Requests, r)
	}
	return snap, nil
}
