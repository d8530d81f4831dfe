package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/anticca/auctiond/internal/auction"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Origin checks belong to the edge proxy, same as bidder auth.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamAuction upgrades to a websocket carrying committed auction
// snapshots in commit order, starting with the current one.
func (s *Server) streamAuction(c *gin.Context) {
	id := c.Param("id")
	current, err := s.engine.Get(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the response.
		return
	}
	defer conn.Close()

	ch, cancel := s.hub.SubscribeAuction(id)
	defer cancel()

	// Re-read after subscribing so nothing commits between the initial
	// snapshot and the stream; anything older than the initial snapshot
	// is filtered out below.
	current, err = s.engine.Get(c.Request.Context(), id)
	if err != nil {
		return
	}
	if !s.writeJSON(c, conn, s.view(current)) {
		return
	}
	last := current.Version
	s.pump(c, conn, func() (any, bool) {
		for {
			a, ok := <-ch
			if !ok {
				return nil, false
			}
			if a.Version <= last {
				continue
			}
			last = a.Version
			return s.view(a), true
		}
	})
}

// streamBidFeed upgrades to a websocket carrying the leaderboard,
// re-emitted on every committed bid.
func (s *Server) streamBidFeed(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.engine.Get(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}

	ch, cancel, err := s.hub.SubscribeBidFeed(c.Request.Context(), id, s.feedLimit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.pump(c, conn, func() (any, bool) {
		board, ok := <-ch
		if !ok {
			return nil, false
		}
		if board == nil {
			board = []auction.BidRecord{}
		}
		return board, true
	})
}

// pump writes messages from next until the stream or the client goes
// away. A reader goroutine drains the connection to observe closes.
func (s *Server) pump(c *gin.Context, conn *websocket.Conn, next func() (any, bool)) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	msgs := make(chan any)
	go func() {
		defer close(msgs)
		for {
			v, ok := next()
			if !ok {
				return
			}
			select {
			case msgs <- v:
			case <-done:
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case v, ok := <-msgs:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"))
				return
			}
			if !s.writeJSON(c, conn, v) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeJSON(c *gin.Context, conn *websocket.Conn, v any) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(v); err != nil {
		s.logger.DebugContext(c.Request.Context(), "websocket write failed",
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
		return false
	}
	return true
}
