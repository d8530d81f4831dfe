// Package sweeper announces clock-expiry closes. Auction state is
// derived, never stored, so nothing fires when an auction crosses its
// end time; the sweeper scans for freshly ended auctions and publishes
// their final snapshots so live subscribers observe the transition.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anticca/auctiond/internal/clock"
	"github.com/anticca/auctiond/internal/engine"
	"github.com/anticca/auctiond/internal/store"
)

// Schedule is the scan cadence. A close is announced at most this long
// after the end time passes.
const Schedule = "@every 5s"

// Sweeper periodically publishes final snapshots of ended auctions.
// Runs on the elected leader only, so each close is announced once.
type Sweeper struct {
	auctions  store.AuctionRepository
	publisher engine.Publisher
	clock     clock.Clock
	logger    *slog.Logger

	mu   sync.Mutex
	last time.Time
	cron *cron.Cron
}

func New(auctions store.AuctionRepository, publisher engine.Publisher, clk clock.Clock, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		auctions:  auctions,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
		last:      clk.Now(),
	}
}

// Start begins the periodic scan. Idempotent.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(Schedule, func() {
		if err := s.Sweep(ctx); err != nil {
			s.logger.ErrorContext(ctx, "sweep failed", slog.Any("error", err))
		}
	}); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.logger.InfoContext(ctx, "sweeper started", slog.String("schedule", Schedule))
	return nil
}

// Stop halts the scan and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

// Sweep publishes every auction whose end time fell since the last
// pass. The published bid is nil: nothing was purchased, the clock ran
// out.
func (s *Sweeper) Sweep(ctx context.Context) error {
	s.mu.Lock()
	after := s.last
	s.mu.Unlock()

	now := s.clock.Now()
	ended, err := s.auctions.ListEndedBetween(ctx, after, now)
	if err != nil {
		return err
	}

	for i := range ended {
		a := ended[i]
		// A buy-now close zeroes the stock and lands its end time in
		// this window; the engine already published that settlement.
		if a.Stock <= 0 {
			continue
		}
		s.publisher.Publish(ctx, &a, nil)
		s.logger.InfoContext(ctx, "auction closed by clock",
			slog.String("auction_id", a.ID),
			slog.Time("end_time", a.EndTime),
		)
	}

	s.mu.Lock()
	s.last = now
	s.mu.Unlock()
	return nil
}
