package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/anticca/auctiond/internal/auction"
	"github.com/anticca/auctiond/internal/clock"
	"github.com/anticca/auctiond/internal/store"
	"github.com/anticca/auctiond/internal/store/postgres"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedAuction(t *testing.T, repo *postgres.AuctionRepo, id string) *auction.Auction {
	t.Helper()
	a := &auction.Auction{
		ID:               id,
		Stock:            1,
		StartTime:        testStart,
		EndTime:          testStart.Add(time.Hour),
		StartingBid:      decimal.NewFromInt(1000),
		MinimumIncrement: decimal.NewFromInt(100),
	}
	if err := repo.Create(context.Background(), a); err != nil {
		t.Fatalf("creating auction: %v", err)
	}
	return a
}

func TestAuctionRepo_GetNotFound(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewAuctionRepo(db, clock.Real{})

	if _, err := repo.Get(context.Background(), "nope"); !errors.Is(err, auction.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestAuctionRepo_SettleRoundTrip(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewAuctionRepo(db, clock.Real{})
	bids := postgres.NewBidRepo(db)
	ctx := context.Background()

	seedAuction(t, repo, "a1")

	snap, err := repo.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	amt := decimal.NewFromInt(1000)
	snap.CurrentHighestBid = &amt
	snap.CurrentHighestBidderID = "bidder-1"
	snap.UpdatedAt = testStart.Add(time.Minute)

	bid := &auction.BidRecord{
		ID:        uuid.NewString(),
		AuctionID: "a1",
		BidderID:  "bidder-1",
		Amount:    amt,
		PlacedAt:  testStart.Add(time.Minute),
	}
	if err := repo.Settle(ctx, snap, bid); err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if snap.Version != 1 {
		t.Errorf("version after settle = %d, want 1", snap.Version)
	}

	stored, err := repo.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get() after settle error = %v", err)
	}
	if stored.CurrentHighestBid == nil || !stored.CurrentHighestBid.Equal(amt) {
		t.Errorf("stored highest bid = %v, want 1000", stored.CurrentHighestBid)
	}
	if stored.CurrentHighestBidderID != "bidder-1" {
		t.Errorf("stored bidder = %q, want bidder-1", stored.CurrentHighestBidderID)
	}

	ledger, err := bids.ListByAuction(ctx, "a1")
	if err != nil {
		t.Fatalf("ListByAuction() error = %v", err)
	}
	if len(ledger) != 1 || !ledger[0].Amount.Equal(amt) {
		t.Errorf("ledger = %v, want one 1000 bid", ledger)
	}
}

func TestAuctionRepo_SettleConflict(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewAuctionRepo(db, clock.Real{})
	ctx := context.Background()

	seedAuction(t, repo, "a1")

	first, _ := repo.Get(ctx, "a1")
	second, _ := repo.Get(ctx, "a1")

	amt := decimal.NewFromInt(1000)
	first.CurrentHighestBid = &amt
	first.UpdatedAt = testStart.Add(time.Minute)
	if err := repo.Settle(ctx, first, &auction.BidRecord{
		ID: uuid.NewString(), AuctionID: "a1", BidderID: "b1", Amount: amt, PlacedAt: testStart.Add(time.Minute),
	}); err != nil {
		t.Fatalf("first Settle() error = %v", err)
	}

	amt2 := decimal.NewFromInt(1100)
	second.CurrentHighestBid = &amt2
	second.UpdatedAt = testStart.Add(2 * time.Minute)
	err := repo.Settle(ctx, second, &auction.BidRecord{
		ID: uuid.NewString(), AuctionID: "a1", BidderID: "b2", Amount: amt2, PlacedAt: testStart.Add(2 * time.Minute),
	})
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Errorf("stale Settle() error = %v, want ErrVersionConflict", err)
	}
}

func TestBidRepo_ListTopOrdering(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewAuctionRepo(db, clock.Real{})
	bids := postgres.NewBidRepo(db)
	ctx := context.Background()

	seedAuction(t, repo, "a1")

	for i, n := range []int64{1000, 1200, 1100} {
		snap, err := repo.Get(ctx, "a1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		amt := decimal.NewFromInt(n)
		snap.CurrentHighestBid = &amt
		snap.UpdatedAt = testStart.Add(time.Duration(i+1) * time.Minute)
		if err := repo.Settle(ctx, snap, &auction.BidRecord{
			ID: uuid.NewString(), AuctionID: "a1", BidderID: "b1",
			Amount: amt, PlacedAt: snap.UpdatedAt,
		}); err != nil {
			t.Fatalf("Settle(%d) error = %v", n, err)
		}
	}

	top, err := bids.ListTop(ctx, "a1", 2)
	if err != nil {
		t.Fatalf("ListTop() error = %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("ListTop() returned %d bids, want 2", len(top))
	}
	if !top[0].Amount.Equal(decimal.NewFromInt(1200)) || !top[1].Amount.Equal(decimal.NewFromInt(1100)) {
		t.Errorf("ListTop() order = [%s %s], want [1200 1100]", top[0].Amount, top[1].Amount)
	}
}

func TestAuctionRepo_ListEndedBetween(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewAuctionRepo(db, clock.Real{})
	ctx := context.Background()

	early := seedAuction(t, repo, "a1")
	late := &auction.Auction{
		ID:               "a2",
		Stock:            1,
		StartTime:        testStart,
		EndTime:          testStart.Add(3 * time.Hour),
		StartingBid:      decimal.NewFromInt(500),
		MinimumIncrement: decimal.NewFromInt(50),
	}
	if err := repo.Create(ctx, late); err != nil {
		t.Fatalf("creating second auction: %v", err)
	}

	ended, err := repo.ListEndedBetween(ctx, testStart, testStart.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ListEndedBetween() error = %v", err)
	}
	if len(ended) != 1 || ended[0].ID != early.ID {
		t.Errorf("ListEndedBetween() = %v, want just %s", ended, early.ID)
	}
}
