// Package auction holds the data model and pure bidding rules for the
// settlement engine: derived lifecycle state, the bid floor, the
// anti-sniping extension and the precondition checks shared by PlaceBid
// and BuyNow. Nothing in this package performs I/O; all mutation of an
// Auction happens inside a storage transaction driven by the engine.
package auction

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is the derived lifecycle of an auction. It is never persisted:
// every reader recomputes it from the clock so it cannot drift.
type State string

const (
	StateScheduled State = "scheduled"
	StateLive      State = "live"
	StateEnded     State = "ended"
)

// Auction is the single shared mutable record per sellable item. The
// catalog (out of scope here) creates it and configures the bidding
// fields before the auction goes live; this engine only ever updates
// the highest bid, the bidder, the end time and the stock.
type Auction struct {
	ID    string `json:"id"`
	Stock int    `json:"stock"`

	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`

	StartingBid      decimal.Decimal  `json:"startingBid"`
	MinimumIncrement decimal.Decimal  `json:"minimumIncrement"`
	BuyNowPrice      *decimal.Decimal `json:"buyNowPrice,omitempty"`

	CurrentHighestBid      *decimal.Decimal `json:"currentHighestBid,omitempty"`
	CurrentHighestBidderID string           `json:"currentHighestBidderId,omitempty"`

	// Version is the optimistic concurrency token. A settlement commits
	// only if the stored version still matches the one read.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BidRecord is one entry in the append-only bid ledger. Immutable once
// written.
type BidRecord struct {
	ID        string          `json:"id"`
	AuctionID string          `json:"auctionId"`
	BidderID  string          `json:"bidderId"`
	Amount    decimal.Decimal `json:"amount"`
	PlacedAt  time.Time       `json:"placedAt"`
	BuyNow    bool            `json:"isBuyNow"`
}

// Biddable reports whether the record is configured for bidding at all.
// Items sold at a fixed price have no starting bid and no end time.
func (a *Auction) Biddable() bool {
	return a.StartingBid.IsPositive() && !a.EndTime.IsZero()
}

// StateAt derives the lifecycle state at the given instant. The start
// boundary is inclusive, the end boundary exclusive; a sold-out auction
// is ended regardless of the clock.
func (a *Auction) StateAt(now time.Time) State {
	if a.Stock <= 0 || !now.Before(a.EndTime) {
		return StateEnded
	}
	if now.Before(a.StartTime) {
		return StateScheduled
	}
	return StateLive
}

// Floor returns the minimum acceptable amount for the next bid: the
// highest bid plus the increment, or the starting bid if nobody has bid.
func (a *Auction) Floor() decimal.Decimal {
	if a.CurrentHighestBid != nil {
		return a.CurrentHighestBid.Add(a.MinimumIncrement)
	}
	return a.StartingBid
}

// EndTimeAfterBid applies the anti-sniping rule: a bid landing with less
// than window left pushes the close a full window past the current end
// time. The extension is relative to the committed end, not to now, so
// repeated late bids compound additively.
func (a *Auction) EndTimeAfterBid(now time.Time, window time.Duration) time.Time {
	remaining := a.EndTime.Sub(now)
	if remaining > 0 && remaining < window {
		return a.EndTime.Add(window)
	}
	return a.EndTime
}

// CheckBid validates a PlaceBid attempt against this snapshot. All
// checks run in order against the same freshly read record; there is no
// "validate once, write later" path.
func (a *Auction) CheckBid(amount decimal.Decimal, now time.Time) error {
	if !a.Biddable() {
		return &InvalidStateError{Reason: ReasonNotBiddable}
	}
	if a.Stock <= 0 {
		return &InvalidStateError{Reason: ReasonSoldOut}
	}
	if now.Before(a.StartTime) {
		return &InvalidStateError{Reason: ReasonNotStarted}
	}
	if !now.Before(a.EndTime) {
		return &InvalidStateError{Reason: ReasonEnded}
	}
	floor := a.Floor()
	if amount.LessThan(floor) {
		return &ValidationError{Reason: "bid too low", Floor: floor}
	}
	// Bids must land on the increment ladder anchored at the floor, so
	// the next floor is always startingBid + k*increment.
	if a.MinimumIncrement.IsPositive() && !amount.Sub(floor).Mod(a.MinimumIncrement).IsZero() {
		return &ValidationError{Reason: "bid off increment", Floor: floor}
	}
	// A bid must never silently become a purchase.
	if a.BuyNowPrice != nil && amount.GreaterThanOrEqual(*a.BuyNowPrice) {
		return &ValidationError{Reason: "use buy-now", Floor: a.Floor()}
	}
	return nil
}

// CheckBuyNow validates a BuyNow attempt against this snapshot. The
// increment ladder does not apply; the buy-now price is fixed.
func (a *Auction) CheckBuyNow(now time.Time) error {
	if !a.Biddable() {
		return &InvalidStateError{Reason: ReasonNotBiddable}
	}
	if a.BuyNowPrice == nil {
		return &InvalidStateError{Reason: ReasonNoBuyNow}
	}
	if a.Stock <= 0 {
		return &InvalidStateError{Reason: ReasonSoldOut}
	}
	if !now.Before(a.EndTime) {
		return &InvalidStateError{Reason: ReasonEnded}
	}
	return nil
}

// Clone returns a deep copy, so a published snapshot can never be
// mutated by a later settlement.
func (a *Auction) Clone() *Auction {
	cp := *a
	if a.BuyNowPrice != nil {
		v := *a.BuyNowPrice
		cp.BuyNowPrice = &v
	}
	if a.CurrentHighestBid != nil {
		v := *a.CurrentHighestBid
		cp.CurrentHighestBid = &v
	}
	return &cp
}
