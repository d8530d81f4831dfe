package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/anticca/auctiond/internal/auction"
)

// bidderHeader carries the authenticated bidder identity. Upstream
// auth middleware is expected to have verified it.
const bidderHeader = "X-Bidder-ID"

type placeBidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// auctionView is an auction snapshot plus its derived lifecycle state.
// The state is computed at response time and never stored.
type auctionView struct {
	*auction.Auction
	State auction.State `json:"state"`
}

type errorResponse struct {
	Error string           `json:"error"`
	Floor *decimal.Decimal `json:"floor,omitempty"`
}

func (s *Server) view(a *auction.Auction) auctionView {
	return auctionView{Auction: a, State: a.StateAt(s.clock.Now())}
}

func (s *Server) getAuction(c *gin.Context) {
	a, err := s.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.view(a))
}

func (s *Server) listBids(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.engine.Get(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	bids, err := s.bids.ListTop(c.Request.Context(), id, s.feedLimit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if bids == nil {
		bids = []auction.BidRecord{}
	}
	c.JSON(http.StatusOK, bids)
}

func (s *Server) placeBid(c *gin.Context) {
	var req placeBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed bid body"})
		return
	}

	a, err := s.engine.PlaceBid(c.Request.Context(), c.Param("id"), c.GetHeader(bidderHeader), req.Amount)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s.view(a))
}

func (s *Server) buyNow(c *gin.Context) {
	a, err := s.engine.BuyNow(c.Request.Context(), c.Param("id"), c.GetHeader(bidderHeader))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s.view(a))
}

// writeError maps settlement errors onto the HTTP surface. Floor is
// surfaced on validation failures so clients can correct and retry.
func (s *Server) writeError(c *gin.Context, err error) {
	var verr *auction.ValidationError
	var serr *auction.InvalidStateError

	switch {
	case errors.Is(err, auction.ErrAuthRequired):
		c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	case errors.Is(err, auction.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &serr):
		c.JSON(http.StatusConflict, errorResponse{Error: serr.Error()})
	case errors.As(err, &verr):
		floor := verr.Floor
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: verr.Error(), Floor: &floor})
	case errors.Is(err, auction.ErrConflict):
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		s.logger.ErrorContext(c.Request.Context(), "request failed",
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
