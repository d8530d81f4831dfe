package live

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// unreachableClient returns a client whose commands fail immediately.
func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestRelayPublish_FallsBackToLocalHub(t *testing.T) {
	hub := newTestHub(&stubBids{})
	client := unreachableClient()
	t.Cleanup(func() { _ = client.Close() })

	relay := NewRelay(client, hub, "commits", slog.New(slog.NewTextHandler(io.Discard, nil)))

	ch, cancel := hub.SubscribeAuction("lot-1")
	defer cancel()
	feed, cancelFeed, err := hub.SubscribeBidFeed(context.Background(), "lot-1", 3)
	if err != nil {
		t.Fatalf("SubscribeBidFeed() error = %v", err)
	}
	defer cancelFeed()
	<-feed // empty seed

	relay.Publish(context.Background(), snapshot("lot-1", 1, 1000), bid("b1", 1000, testStart))

	select {
	case got := <-ch:
		if got.Version != 1 {
			t.Fatalf("delivered version %d, want 1", got.Version)
		}
	case <-time.After(time.Second):
		t.Fatal("snapshot not delivered locally after failed broadcast")
	}

	select {
	case board := <-feed:
		if len(board) != 1 || board[0].ID != "b1" {
			t.Fatalf("feed = %+v, want the single committed bid", board)
		}
	case <-time.After(time.Second):
		t.Fatal("bid not delivered locally after failed broadcast")
	}
}

func TestRelayRun_SubscribeErrorSurfaces(t *testing.T) {
	hub := newTestHub(&stubBids{})
	client := unreachableClient()
	t.Cleanup(func() { _ = client.Close() })

	relay := NewRelay(client, hub, "commits", slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := relay.Run(ctx); err == nil {
		t.Fatal("Run() returned nil against an unreachable broker")
	}
}
