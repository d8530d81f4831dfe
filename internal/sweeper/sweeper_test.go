package sweeper

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/anticca/auctiond/internal/auction"
	"github.com/anticca/auctiond/internal/clock"
	"github.com/anticca/auctiond/internal/store/memory"
)

var testStart = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu      sync.Mutex
	commits []string
	bids    []*auction.BidRecord
}

func (r *recorder) Publish(ctx context.Context, a *auction.Auction, bid *auction.BidRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, a.ID)
	r.bids = append(r.bids, bid)
}

func seed(t *testing.T, repo *memory.Repo, id string, end time.Time) {
	t.Helper()
	err := repo.Create(context.Background(), &auction.Auction{
		ID:          id,
		Stock:       1,
		StartTime:   testStart,
		EndTime:     end,
		StartingBid: decimal.NewFromInt(1000),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
}

func TestSweep_AnnouncesFreshCloses(t *testing.T) {
	clk := clock.NewMock(testStart)
	repo := memory.New(clk)
	rec := &recorder{}
	s := New(repo, rec, clk, slog.New(slog.NewTextHandler(io.Discard, nil)))

	seed(t, repo, "ends-early", testStart.Add(30*time.Second))
	seed(t, repo, "ends-late", testStart.Add(time.Hour))

	clk.Advance(time.Minute)
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	if len(rec.commits) != 1 || rec.commits[0] != "ends-early" {
		t.Fatalf("announced %v, want [ends-early]", rec.commits)
	}
	if rec.bids[0] != nil {
		t.Fatalf("clock close carried a bid: %+v", rec.bids[0])
	}
}

func TestSweep_DoesNotAnnounceTwice(t *testing.T) {
	clk := clock.NewMock(testStart)
	repo := memory.New(clk)
	rec := &recorder{}
	s := New(repo, rec, clk, slog.New(slog.NewTextHandler(io.Discard, nil)))

	seed(t, repo, "lot-1", testStart.Add(30*time.Second))

	clk.Advance(time.Minute)
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("first Sweep() error = %v", err)
	}
	clk.Advance(time.Minute)
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("second Sweep() error = %v", err)
	}

	if len(rec.commits) != 1 {
		t.Fatalf("announced %d times, want 1", len(rec.commits))
	}
}

func TestSweep_SkipsBuyNowCloses(t *testing.T) {
	clk := clock.NewMock(testStart)
	repo := memory.New(clk)
	rec := &recorder{}
	s := New(repo, rec, clk, slog.New(slog.NewTextHandler(io.Discard, nil)))

	seed(t, repo, "purchased", testStart.Add(time.Hour))
	seed(t, repo, "expired", testStart.Add(30*time.Second))

	// A purchase closes the auction inside the sweep window: stock
	// drops to zero and the end time becomes now.
	clk.Advance(10 * time.Second)
	snap, err := repo.Get(context.Background(), "purchased")
	if err != nil {
		t.Fatal(err)
	}
	upd := snap.Clone()
	price := decimal.NewFromInt(5000)
	upd.CurrentHighestBid = &price
	upd.CurrentHighestBidderID = "carol"
	upd.Stock = 0
	upd.EndTime = clk.Now()
	err = repo.Settle(context.Background(), upd, &auction.BidRecord{
		ID: "b1", AuctionID: "purchased", BidderID: "carol", Amount: price, PlacedAt: clk.Now(), BuyNow: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	clk.Advance(time.Minute)
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	// The purchase was announced at commit time; only the clock expiry
	// is the sweeper's to announce.
	if len(rec.commits) != 1 || rec.commits[0] != "expired" {
		t.Fatalf("announced %v, want [expired]", rec.commits)
	}
}

func TestSweep_PicksUpAntiSnipeExtensions(t *testing.T) {
	clk := clock.NewMock(testStart)
	repo := memory.New(clk)
	rec := &recorder{}
	s := New(repo, rec, clk, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Ends inside the first window but gets extended before the sweep.
	seed(t, repo, "lot-1", testStart.Add(30*time.Second))
	snap, err := repo.Get(context.Background(), "lot-1")
	if err != nil {
		t.Fatal(err)
	}
	upd := snap.Clone()
	upd.EndTime = testStart.Add(5 * time.Minute)
	amt := decimal.NewFromInt(1000)
	upd.CurrentHighestBid = &amt
	if err := repo.Settle(context.Background(), upd, &auction.BidRecord{ID: "b1", AuctionID: "lot-1", Amount: amt}); err != nil {
		t.Fatal(err)
	}

	clk.Advance(time.Minute)
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(rec.commits) != 0 {
		t.Fatalf("announced %v before the extended end", rec.commits)
	}

	clk.Set(testStart.Add(6 * time.Minute))
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(rec.commits) != 1 {
		t.Fatalf("announced %d times after the extended end, want 1", len(rec.commits))
	}
}
