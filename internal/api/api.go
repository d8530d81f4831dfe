// Package api serves the bidder-facing HTTP and websocket surface.
package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/anticca/auctiond/internal/clock"
	"github.com/anticca/auctiond/internal/engine"
	"github.com/anticca/auctiond/internal/health"
	"github.com/anticca/auctiond/internal/live"
	"github.com/anticca/auctiond/internal/store"
)

// Server holds the handler dependencies.
type Server struct {
	engine    *engine.Engine
	bids      store.BidRepository
	hub       *live.Hub
	clock     clock.Clock
	logger    *slog.Logger
	feedLimit int
}

func NewServer(eng *engine.Engine, bids store.BidRepository, hub *live.Hub, clk clock.Clock, logger *slog.Logger, feedLimit int) *Server {
	if feedLimit <= 0 {
		feedLimit = 20
	}
	return &Server{
		engine:    eng,
		bids:      bids,
		hub:       hub,
		clock:     clk,
		logger:    logger,
		feedLimit: feedLimit,
	}
}

// Router builds the gin engine with all routes mounted. probes may be
// nil in tests.
func (s *Server) Router(probes *health.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger)

	auctions := router.Group("/auctions")
	{
		auctions.GET("/:id", s.getAuction)
		auctions.GET("/:id/bids", s.listBids)
		auctions.POST("/:id/bids", s.placeBid)
		auctions.POST("/:id/buy-now", s.buyNow)
		auctions.GET("/:id/live", s.streamAuction)
		auctions.GET("/:id/bids/live", s.streamBidFeed)
	}

	if probes != nil {
		router.GET("/healthz", gin.WrapF(probes.LivenessHandler()))
		router.GET("/readyz", gin.WrapF(probes.ReadinessHandler()))
	}

	return router
}

func (s *Server) requestLogger(c *gin.Context) {
	start := s.clock.Now()
	c.Next()
	s.logger.InfoContext(c.Request.Context(), "http request",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.Int("status", c.Writer.Status()),
		slog.String("latency", s.clock.Now().Sub(start).String()),
	)
}
