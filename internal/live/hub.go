// Package live fans committed auction state out to subscribers. The
// hub is written to only after a storage transaction commits; each
// subscriber of an auction observes a monotonically increasing version
// sequence, and the bid feed is a leaderboard capped at a configured
// size, ordered by amount descending.
package live

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/anticca/auctiond/internal/auction"
	"github.com/anticca/auctiond/internal/store"
)

// Commit is one committed settlement: the new auction snapshot and,
// when a bid landed, the appended ledger record. The sweeper publishes
// clock-expiry closes with a nil Bid.
type Commit struct {
	Auction *auction.Auction   `json:"auction"`
	Bid     *auction.BidRecord `json:"bid,omitempty"`
}

// Hub delivers committed changes to any number of independent
// subscriber streams. Publishing and subscription bookkeeping run
// under one mutex, so per-auction delivery order matches publish
// order; out-of-order publishes (a slow goroutine racing a newer
// commit) are dropped by version so no subscriber ever sees the price
// move backwards. A subscriber that stops draining its channel is
// disconnected rather than delivered out of order.
type Hub struct {
	mu     sync.Mutex
	nextID int

	auctionSubs map[string]map[int]chan *auction.Auction
	feedSubs    map[string]map[int]*feedSub
	boards      map[string]*board
	versions    map[string]int64

	bids         store.BidRepository
	logger       *slog.Logger
	defaultLimit int
	buffer       int
}

type feedSub struct {
	ch    chan []auction.BidRecord
	limit int
}

// NewHub creates a Hub. bids seeds the leaderboard for late
// subscribers; defaultLimit caps feeds that do not request a limit.
func NewHub(bids store.BidRepository, logger *slog.Logger, defaultLimit int) *Hub {
	if defaultLimit <= 0 {
		defaultLimit = 20
	}
	return &Hub{
		auctionSubs:  make(map[string]map[int]chan *auction.Auction),
		feedSubs:     make(map[string]map[int]*feedSub),
		boards:       make(map[string]*board),
		versions:     make(map[string]int64),
		bids:         bids,
		logger:       logger,
		defaultLimit: defaultLimit,
		buffer:       16,
	}
}

// Publish delivers a committed snapshot (and its bid, if any) to every
// subscriber of that auction. It never blocks on a subscriber.
func (h *Hub) Publish(ctx context.Context, a *auction.Auction, bid *auction.BidRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// A commit that lost the publish race to a newer one is stale;
	// forwarding it would reorder the stream.
	if a.Version < h.versions[a.ID] {
		return
	}
	h.versions[a.ID] = a.Version

	for id, ch := range h.auctionSubs[a.ID] {
		select {
		case ch <- a.Clone():
		default:
			h.dropAuctionSub(ctx, a.ID, id)
		}
	}

	if bid == nil {
		return
	}
	b := h.boards[a.ID]
	if b == nil {
		// Nobody watches the feed; the ledger row is in the store and
		// will seed the board when the first feed subscriber arrives.
		return
	}
	b.merge([]auction.BidRecord{*bid})
	for id, fs := range h.feedSubs[a.ID] {
		select {
		case fs.ch <- b.top(fs.limit):
		default:
			h.dropFeedSub(ctx, a.ID, id)
		}
	}
}

// SubscribeAuction streams committed snapshots of one auction. The
// returned cancel func must be called to release the stream; the
// channel is closed on cancel or when the subscriber falls behind.
func (h *Hub) SubscribeAuction(auctionID string) (<-chan *auction.Auction, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++

	ch := make(chan *auction.Auction, h.buffer)
	if h.auctionSubs[auctionID] == nil {
		h.auctionSubs[auctionID] = make(map[int]chan *auction.Auction)
	}
	h.auctionSubs[auctionID][id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.dropAuctionSub(context.Background(), auctionID, id)
	}
	return ch, cancel
}

// SubscribeBidFeed streams the auction's leaderboard: the top bids by
// amount descending, capped at limit, re-emitted on every committed
// bid. The first element on the channel is the current board.
func (h *Hub) SubscribeBidFeed(ctx context.Context, auctionID string, limit int) (<-chan []auction.BidRecord, func(), error) {
	if limit <= 0 || limit > h.defaultLimit {
		limit = h.defaultLimit
	}

	// Seed outside the lock; merge dedupes against commits that land
	// in between (they are already durable, so ListTop sees them too).
	var seed []auction.BidRecord
	if h.bids != nil {
		var err error
		seed, err = h.bids.ListTop(ctx, auctionID, limit)
		if err != nil {
			return nil, nil, err
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	b := h.boards[auctionID]
	if b == nil {
		b = &board{}
		h.boards[auctionID] = b
	}
	if limit > b.cap {
		b.cap = limit
	}
	b.merge(seed)

	id := h.nextID
	h.nextID++

	fs := &feedSub{ch: make(chan []auction.BidRecord, h.buffer), limit: limit}
	if h.feedSubs[auctionID] == nil {
		h.feedSubs[auctionID] = make(map[int]*feedSub)
	}
	h.feedSubs[auctionID][id] = fs
	fs.ch <- b.top(limit)

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.dropFeedSub(context.Background(), auctionID, id)
	}
	return fs.ch, cancel, nil
}

func (h *Hub) dropAuctionSub(ctx context.Context, auctionID string, id int) {
	subs := h.auctionSubs[auctionID]
	ch, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(h.auctionSubs, auctionID)
	}
	close(ch)
	h.logger.DebugContext(ctx, "auction subscriber dropped", slog.String("auction_id", auctionID))
}

func (h *Hub) dropFeedSub(ctx context.Context, auctionID string, id int) {
	subs := h.feedSubs[auctionID]
	fs, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(h.feedSubs, auctionID)
		delete(h.boards, auctionID)
	}
	close(fs.ch)
	h.logger.DebugContext(ctx, "bid feed subscriber dropped", slog.String("auction_id", auctionID))
}

// board holds the top-cap bids for one auction, amount descending with
// earlier bids winning ties.
type board struct {
	entries []auction.BidRecord
	cap     int
}

func (b *board) merge(bids []auction.BidRecord) {
	for _, bid := range bids {
		if b.contains(bid.ID) {
			continue
		}
		b.entries = append(b.entries, bid)
	}
	sort.SliceStable(b.entries, func(i, j int) bool {
		if !b.entries[i].Amount.Equal(b.entries[j].Amount) {
			return b.entries[i].Amount.GreaterThan(b.entries[j].Amount)
		}
		return b.entries[i].PlacedAt.Before(b.entries[j].PlacedAt)
	})
	if b.cap > 0 && len(b.entries) > b.cap {
		b.entries = b.entries[:b.cap]
	}
}

func (b *board) contains(id string) bool {
	for _, e := range b.entries {
		if e.ID == id {
			return true
		}
	}
	return false
}

func (b *board) top(limit int) []auction.BidRecord {
	n := len(b.entries)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]auction.BidRecord, n)
	copy(out, b.entries[:n])
	return out
}
