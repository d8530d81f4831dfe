package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/anticca/auctiond/internal/auction"
	"github.com/anticca/auctiond/internal/clock"
	"github.com/anticca/auctiond/internal/store"
)

// AuctionRepo implements store.AuctionRepository with sqlx.
type AuctionRepo struct {
	db  *sqlx.DB
	clk clock.Clock
}

// NewAuctionRepo returns a new AuctionRepo.
func NewAuctionRepo(db *sqlx.DB, clk clock.Clock) *AuctionRepo {
	return &AuctionRepo{db: db, clk: clk}
}

// auctionRow maps the auctions table; the domain type stays free of db tags.
type auctionRow struct {
	ID               string           `db:"id"`
	Stock            int              `db:"stock"`
	StartTime        time.Time        `db:"start_time"`
	EndTime          time.Time        `db:"end_time"`
	StartingBid      decimal.Decimal  `db:"starting_bid"`
	MinimumIncrement decimal.Decimal  `db:"minimum_increment"`
	BuyNowPrice      *decimal.Decimal `db:"buy_now_price"`
	HighestBid       *decimal.Decimal `db:"current_highest_bid"`
	HighestBidderID  sql.NullString   `db:"current_highest_bidder_id"`
	Version          int64            `db:"version"`
	CreatedAt        time.Time        `db:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at"`
}

func (r auctionRow) toDomain() *auction.Auction {
	return &auction.Auction{
		ID:                     r.ID,
		Stock:                  r.Stock,
		StartTime:              r.StartTime,
		EndTime:                r.EndTime,
		StartingBid:            r.StartingBid,
		MinimumIncrement:       r.MinimumIncrement,
		BuyNowPrice:            r.BuyNowPrice,
		CurrentHighestBid:      r.HighestBid,
		CurrentHighestBidderID: r.HighestBidderID.String,
		Version:                r.Version,
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
	}
}

func (r *AuctionRepo) Get(ctx context.Context, id string) (*auction.Auction, error) {
	var row auctionRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM auctions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auction.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting auction: %w", err)
	}
	return row.toDomain(), nil
}

func (r *AuctionRepo) Create(ctx context.Context, a *auction.Auction) error {
	now := r.clk.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auctions
		   (id, stock, start_time, end_time, starting_bid, minimum_increment,
		    buy_now_price, current_highest_bid, current_highest_bidder_id,
		    version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12)`,
		a.ID, a.Stock, a.StartTime, a.EndTime, a.StartingBid, a.MinimumIncrement,
		a.BuyNowPrice, a.CurrentHighestBid, a.CurrentHighestBidderID,
		a.Version, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating auction: %w", err)
	}
	return nil
}

// Settle commits the auction update and the ledger append in one
// transaction. The UPDATE is keyed on the snapshot version: zero rows
// affected means another settlement won the race.
func (r *AuctionRepo) Settle(ctx context.Context, upd *auction.Auction, bid *auction.BidRecord) error {
	if bid == nil {
		return fmt.Errorf("settle requires a bid record")
	}

	upd.UpdatedAt = r.clk.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE auctions
		    SET current_highest_bid = $1,
		        current_highest_bidder_id = NULLIF($2, ''),
		        end_time = $3,
		        stock = $4,
		        version = version + 1,
		        updated_at = $5
		  WHERE id = $6 AND version = $7`,
		upd.CurrentHighestBid, upd.CurrentHighestBidderID, upd.EndTime,
		upd.Stock, upd.UpdatedAt, upd.ID, upd.Version,
	)
	if err != nil {
		return fmt.Errorf("updating auction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if n == 0 {
		// Either the record moved on or it vanished; the retry loop's
		// fresh read distinguishes the two.
		var exists bool
		if err := tx.GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM auctions WHERE id = $1)`, upd.ID); err != nil {
			return fmt.Errorf("checking auction existence: %w", err)
		}
		if !exists {
			return auction.ErrNotFound
		}
		return store.ErrVersionConflict
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO bids (id, auction_id, bidder_id, amount, placed_at, is_buy_now)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		bid.ID, bid.AuctionID, bid.BidderID, bid.Amount, bid.PlacedAt, bid.BuyNow,
	)
	if err != nil {
		return fmt.Errorf("appending bid record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing settlement: %w", err)
	}
	upd.Version++
	return nil
}

func (r *AuctionRepo) ListEndedBetween(ctx context.Context, after, until time.Time) ([]auction.Auction, error) {
	var rows []auctionRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM auctions WHERE end_time > $1 AND end_time <= $2 ORDER BY end_time ASC`,
		after, until)
	if err != nil {
		return nil, fmt.Errorf("listing ended auctions: %w", err)
	}
	out := make([]auction.Auction, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row.toDomain())
	}
	return out, nil
}
