// Package store defines the persistence contract for the settlement
// engine: snapshot reads of the auction record, a conditional settle
// commit keyed on the record version, and the append-only bid ledger.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/anticca/auctiond/internal/auction"
)

// ErrVersionConflict is returned by Settle when the auction record
// changed between the snapshot read and the commit. The engine retries
// the whole read-validate-write cycle on it.
var ErrVersionConflict = errors.New("auction record changed since snapshot")

// AuctionRepository defines auction record persistence.
type AuctionRepository interface {
	// Get returns a consistent snapshot of the auction, including its
	// current version. Returns auction.ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*auction.Auction, error)

	// Create inserts a new auction record. Auctions are normally
	// created by the catalog; the engine never calls this.
	Create(ctx context.Context, a *auction.Auction) error

	// Settle commits a settlement atomically: it writes the updated
	// auction only if the stored version still equals upd.Version, and
	// appends the bid record in the same transaction. On success
	// upd.Version is advanced to the committed version. A nil bid is
	// rejected; bid appends are the only writes that accompany an
	// auction update.
	Settle(ctx context.Context, upd *auction.Auction, bid *auction.BidRecord) error

	// ListEndedBetween returns auctions whose end time falls in
	// (after, until]. Used by the expiry sweeper to announce closes.
	ListEndedBetween(ctx context.Context, after, until time.Time) ([]auction.Auction, error)
}

// BidRepository defines read access to the bid ledger. The ledger is
// written exclusively through AuctionRepository.Settle.
type BidRepository interface {
	// ListTop returns up to limit bids ordered by amount descending,
	// earlier bids first on equal amounts.
	ListTop(ctx context.Context, auctionID string, limit int) ([]auction.BidRecord, error)

	// ListByAuction returns the full ledger in placement order.
	ListByAuction(ctx context.Context, auctionID string) ([]auction.BidRecord, error)
}
