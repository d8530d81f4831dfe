// Package memory provides an in-process store driver. It backs unit
// tests and single-node development deployments; the version check in
// Settle gives it the same optimistic concurrency semantics as the
// postgres driver.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/anticca/auctiond/internal/auction"
	"github.com/anticca/auctiond/internal/clock"
	"github.com/anticca/auctiond/internal/config"
	"github.com/anticca/auctiond/internal/store"
)

func init() {
	store.Register("memory", func(_ context.Context, _ config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
		return Open(clk), nil
	})
}

// Repo implements store.AuctionRepository and store.BidRepository over
// in-process maps guarded by a single RWMutex.
type Repo struct {
	mu       sync.RWMutex
	auctions map[string]*auction.Auction
	bids     map[string][]auction.BidRecord
	clk      clock.Clock
}

// New returns an empty in-memory repo.
func New(clk clock.Clock) *Repo {
	return &Repo{
		auctions: make(map[string]*auction.Auction),
		bids:     make(map[string][]auction.BidRecord),
		clk:      clk,
	}
}

// Open wraps New in the store.Repositories shape used by store.Open.
func Open(clk clock.Clock) *store.Repositories {
	r := New(clk)
	return &store.Repositories{
		Auctions: r,
		Bids:     r,
		Closer:   nopCloser{},
		Ping:     func(context.Context) error { return nil },
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func (r *Repo) Get(_ context.Context, id string) (*auction.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.auctions[id]
	if !ok {
		return nil, auction.ErrNotFound
	}
	return a.Clone(), nil
}

func (r *Repo) Create(_ context.Context, a *auction.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	r.auctions[a.ID] = a.Clone()
	return nil
}

func (r *Repo) Settle(_ context.Context, upd *auction.Auction, bid *auction.BidRecord) error {
	if bid == nil {
		return errors.New("settle requires a bid record")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.auctions[upd.ID]
	if !ok {
		return auction.ErrNotFound
	}
	if cur.Version != upd.Version {
		return store.ErrVersionConflict
	}

	upd.Version++
	upd.UpdatedAt = r.clk.Now().UTC()
	r.auctions[upd.ID] = upd.Clone()
	r.bids[bid.AuctionID] = append(r.bids[bid.AuctionID], *bid)
	return nil
}

func (r *Repo) ListEndedBetween(_ context.Context, after, until time.Time) ([]auction.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []auction.Auction
	for _, a := range r.auctions {
		if a.EndTime.After(after) && !a.EndTime.After(until) {
			out = append(out, *a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	return out, nil
}

func (r *Repo) ListTop(_ context.Context, auctionID string, limit int) ([]auction.BidRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bids := append([]auction.BidRecord(nil), r.bids[auctionID]...)
	sort.SliceStable(bids, func(i, j int) bool {
		if !bids[i].Amount.Equal(bids[j].Amount) {
			return bids[i].Amount.GreaterThan(bids[j].Amount)
		}
		return bids[i].PlacedAt.Before(bids[j].PlacedAt)
	})
	if limit > 0 && len(bids) > limit {
		bids = bids[:limit]
	}
	return bids, nil
}

func (r *Repo) ListByAuction(_ context.Context, auctionID string) ([]auction.BidRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]auction.BidRecord(nil), r.bids[auctionID]...), nil
}
