// Package engine settles bids and buy-now purchases against the
// auction store under optimistic concurrency. Every settlement reads a
// versioned snapshot, validates against it, and commits conditionally;
// a concurrent writer invalidates the snapshot and the attempt is
// retried from a fresh read, a bounded number of times.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/anticca/auctiond/internal/auction"
	"github.com/anticca/auctiond/internal/clock"
	"github.com/anticca/auctiond/internal/store"
	"github.com/anticca/auctiond/internal/telemetry"
)

// Publisher receives committed settlements. The bid is nil when the
// auction closed by clock expiry rather than by a purchase.
type Publisher interface {
	Publish(ctx context.Context, a *auction.Auction, bid *auction.BidRecord)
}

// Policy tunes settlement behavior.
type Policy struct {
	// AntiSnipeWindow extends the auction when a bid lands this close
	// to the end; the new end is the old end plus the window.
	AntiSnipeWindow time.Duration
	// MaxRetries bounds re-reads after a version conflict. The first
	// attempt is free, so an operation runs at most 1+MaxRetries times.
	MaxRetries int
	// RetryBackoff scales the pause between attempts.
	RetryBackoff time.Duration
}

// Engine validates and settles bids.
type Engine struct {
	auctions  store.AuctionRepository
	publisher Publisher
	clock     clock.Clock
	logger    *slog.Logger
	tracer    trace.Tracer
	policy    Policy

	settlements metric.Int64Counter
	exhaustions metric.Int64Counter
}

func New(auctions store.AuctionRepository, publisher Publisher, clk clock.Clock, logger *slog.Logger, tp trace.TracerProvider, policy Policy) *Engine {
	if policy.AntiSnipeWindow <= 0 {
		policy.AntiSnipeWindow = 2 * time.Minute
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}

	m := otel.Meter("github.com/anticca/auctiond/internal/engine")
	settlements, err := m.Int64Counter("auctiond.settlements",
		metric.WithDescription("Settlements committed."),
		metric.WithUnit("{settlement}"),
	)
	if err != nil {
		logger.Warn("creating settlements counter", slog.Any("error", err))
	}
	exhaustions, err := m.Int64Counter("auctiond.retry_exhaustions",
		metric.WithDescription("Settlements given up after exhausting version-conflict retries."),
		metric.WithUnit("{settlement}"),
	)
	if err != nil {
		logger.Warn("creating retry exhaustions counter", slog.Any("error", err))
	}

	return &Engine{
		auctions:    auctions,
		publisher:   publisher,
		clock:       clk,
		logger:      logger,
		tracer:      tp.Tracer("github.com/anticca/auctiond/internal/engine"),
		policy:      policy,
		settlements: settlements,
		exhaustions: exhaustions,
	}
}

// Get returns the current snapshot of one auction.
func (e *Engine) Get(ctx context.Context, auctionID string) (*auction.Auction, error) {
	return e.auctions.Get(ctx, auctionID)
}

// PlaceBid settles a bid of amount on the auction for bidderID and
// returns the committed snapshot.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (*auction.Auction, error) {
	ctx, span := e.tracer.Start(ctx, "engine.PlaceBid", trace.WithAttributes(
		attribute.String("auction.id", auctionID),
		attribute.String("bid.amount", amount.String()),
	))
	defer span.End()

	if bidderID == "" {
		return nil, auction.ErrAuthRequired
	}

	return e.settle(ctx, auctionID, func(a *auction.Auction, now time.Time) (*auction.BidRecord, error) {
		if err := a.CheckBid(amount, now); err != nil {
			return nil, err
		}
		amt := amount.Copy()
		a.CurrentHighestBid = &amt
		a.CurrentHighestBidderID = bidderID
		a.EndTime = a.EndTimeAfterBid(now, e.policy.AntiSnipeWindow)
		return &auction.BidRecord{
			ID:        uuid.NewString(),
			AuctionID: a.ID,
			BidderID:  bidderID,
			Amount:    amount,
			PlacedAt:  now,
		}, nil
	})
}

// BuyNow settles an immediate purchase at the auction's buy-now price:
// the price becomes the winning bid, stock drops to zero and the
// auction ends now.
func (e *Engine) BuyNow(ctx context.Context, auctionID, bidderID string) (*auction.Auction, error) {
	ctx, span := e.tracer.Start(ctx, "engine.BuyNow", trace.WithAttributes(
		attribute.String("auction.id", auctionID),
	))
	defer span.End()

	if bidderID == "" {
		return nil, auction.ErrAuthRequired
	}

	return e.settle(ctx, auctionID, func(a *auction.Auction, now time.Time) (*auction.BidRecord, error) {
		if err := a.CheckBuyNow(now); err != nil {
			return nil, err
		}
		price := a.BuyNowPrice.Copy()
		a.CurrentHighestBid = &price
		a.CurrentHighestBidderID = bidderID
		a.Stock = 0
		a.EndTime = now
		return &auction.BidRecord{
			ID:        uuid.NewString(),
			AuctionID: a.ID,
			BidderID:  bidderID,
			Amount:    *a.BuyNowPrice,
			PlacedAt:  now,
			BuyNow:    true,
		}, nil
	})
}

// settle runs the read-validate-commit loop. mutate validates against
// the snapshot and applies the change in place, returning the ledger
// record to append.
func (e *Engine) settle(ctx context.Context, auctionID string, mutate func(*auction.Auction, time.Time) (*auction.BidRecord, error)) (*auction.Auction, error) {
	for attempt := 0; ; attempt++ {
		a, err := e.auctions.Get(ctx, auctionID)
		if err != nil {
			return nil, err
		}

		now := e.clock.Now()
		upd := a.Clone()
		bid, err := mutate(upd, now)
		if err != nil {
			return nil, err
		}

		err = e.auctions.Settle(ctx, upd, bid)
		if err == nil {
			e.settlements.Add(ctx, 1, metric.WithAttributes(attribute.Bool("buy_now", bid.BuyNow)))
			telemetry.LogWithTrace(ctx, e.logger).InfoContext(ctx, "settlement committed",
				slog.String("auction_id", upd.ID),
				slog.String("bidder_id", bid.BidderID),
				slog.String("amount", bid.Amount.String()),
				slog.Bool("buy_now", bid.BuyNow),
				slog.Int64("version", upd.Version),
			)
			if e.publisher != nil {
				e.publisher.Publish(ctx, upd, bid)
			}
			return upd, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, fmt.Errorf("settling auction %s: %w", auctionID, err)
		}
		if attempt >= e.policy.MaxRetries {
			e.exhaustions.Add(ctx, 1)
			e.logger.WarnContext(ctx, "settlement retries exhausted",
				slog.String("auction_id", auctionID),
				slog.Int("attempts", attempt+1),
			)
			return nil, auction.ErrConflict
		}
		if err := e.backoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

// backoff pauses before the next attempt: linear in the attempt count
// with up-to-50% jitter so colliding writers spread out.
func (e *Engine) backoff(ctx context.Context, attempt int) error {
	if e.policy.RetryBackoff <= 0 {
		return nil
	}
	d := time.Duration(attempt+1) * e.policy.RetryBackoff
	d += time.Duration(rand.Int63n(int64(d)/2 + 1))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
