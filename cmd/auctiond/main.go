package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/anticca/auctiond/internal/api"
	"github.com/anticca/auctiond/internal/clock"
	"github.com/anticca/auctiond/internal/config"
	"github.com/anticca/auctiond/internal/engine"
	"github.com/anticca/auctiond/internal/health"
	"github.com/anticca/auctiond/internal/leader"
	"github.com/anticca/auctiond/internal/live"
	"github.com/anticca/auctiond/internal/store"
	"github.com/anticca/auctiond/internal/sweeper"
	"github.com/anticca/auctiond/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/anticca/auctiond/internal/store/memory"
	_ "github.com/anticca/auctiond/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	// Open store using the configured driver (postgres or memory).
	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "connected to store", slog.String("driver", cfg.Database.Driver))

	hub := live.NewHub(repos.Bids, logger, cfg.Auction.FeedLimit)

	checks := []health.Check{{Name: "store", Probe: repos.Ping}}

	// With redis enabled, settlements are broadcast through it and every
	// replica (this one included) applies them to its local hub. Without
	// it, commits go straight to the hub of this single replica.
	var publisher engine.Publisher = hub
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		relay := live.NewRelay(rdb, hub, cfg.Redis.Channel, logger)
		go func() {
			if relayErr := relay.Run(ctx); relayErr != nil {
				logger.ErrorContext(ctx, "commit relay stopped", slog.Any("error", relayErr))
				cancel()
			}
		}()
		publisher = relay
		checks = append(checks, health.Check{
			Name:  "redis",
			Probe: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}

	eng := engine.New(repos.Auctions, publisher, clk, logger, tp.TracerProvider, engine.Policy{
		AntiSnipeWindow: cfg.Auction.AntiSnipeWindow,
		MaxRetries:      cfg.Auction.MaxRetries,
		RetryBackoff:    cfg.Auction.RetryBackoff,
	})

	healthHandler := health.NewHandler(clk, checks...)

	srv := api.NewServer(eng, repos.Bids, hub, clk, logger, cfg.Auction.FeedLimit)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Router(healthHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
			cancel()
		}
	}()

	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "auctiond is running", slog.String("version", version))

	// The expiry sweeper announces each close once, so it runs on the
	// leader only. Bidding needs no leader; every replica settles.
	sw := sweeper.New(repos.Auctions, publisher, clk, logger)
	runSweeper := func(ctx context.Context) {
		if sweepErr := sw.Start(ctx); sweepErr != nil {
			logger.ErrorContext(ctx, "starting sweeper failed", slog.Any("error", sweepErr))
			return
		}
		<-ctx.Done()
		sw.Stop()
	}

	if cfg.LeaderElection.Enabled {
		logger.InfoContext(ctx, "leader election enabled, waiting for leadership...")
		if leaderErr := leader.Run(ctx, cfg.LeaderElection, logger, runSweeper, func() {
			logger.Info("lost leadership, shutting down...")
			cancel()
		}); leaderErr != nil {
			return fmt.Errorf("leader election: %w", leaderErr)
		}
	} else {
		go runSweeper(ctx)
		<-ctx.Done()
	}

	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}
