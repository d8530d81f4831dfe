package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/anticca/auctiond/internal/auction"
)

// BidRepo implements store.BidRepository with sqlx.
type BidRepo struct {
	db *sqlx.DB
}

// NewBidRepo returns a new BidRepo.
func NewBidRepo(db *sqlx.DB) *BidRepo {
	return &BidRepo{db: db}
}

type bidRow struct {
	ID        string          `db:"id"`
	AuctionID string          `db:"auction_id"`
	BidderID  string          `db:"bidder_id"`
	Amount    decimal.Decimal `db:"amount"`
	PlacedAt  time.Time       `db:"placed_at"`
	IsBuyNow  bool            `db:"is_buy_now"`
}

func (r bidRow) toDomain() auction.BidRecord {
	return auction.BidRecord{
		ID:        r.ID,
		AuctionID: r.AuctionID,
		BidderID:  r.BidderID,
		Amount:    r.Amount,
		PlacedAt:  r.PlacedAt,
		BuyNow:    r.IsBuyNow,
	}
}

func (r *BidRepo) ListTop(ctx context.Context, auctionID string, limit int) ([]auction.BidRecord, error) {
	var rows []bidRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM bids WHERE auction_id = $1
		 ORDER BY amount DESC, placed_at ASC LIMIT $2`,
		auctionID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing top bids: %w", err)
	}
	return toDomainBids(rows), nil
}

func (r *BidRepo) ListByAuction(ctx context.Context, auctionID string) ([]auction.BidRecord, error) {
	var rows []bidRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM bids WHERE auction_id = $1 ORDER BY placed_at ASC`,
		auctionID)
	if err != nil {
		return nil, fmt.Errorf("listing bids: %w", err)
	}
	return toDomainBids(rows), nil
}

func toDomainBids(rows []bidRow) []auction.BidRecord {
	out := make([]auction.BidRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out
}
