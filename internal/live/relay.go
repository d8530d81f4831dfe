package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/go-redis/redis/v8"

	"github.com/anticca/auctiond/internal/auction"
)

// Relay spans the hub across replicas via a redis pub/sub channel.
// Writers publish committed settlements to redis only; every replica,
// the origin included, consumes the channel and applies into its local
// hub, so each settlement travels one path and is delivered once.
type Relay struct {
	client  *redis.Client
	hub     *Hub
	channel string
	logger  *slog.Logger
}

func NewRelay(client *redis.Client, hub *Hub, channel string, logger *slog.Logger) *Relay {
	return &Relay{client: client, hub: hub, channel: channel, logger: logger}
}

// Publish broadcasts a committed settlement. The settlement is already
// durable, so a failed broadcast never fails the caller; the commit is
// applied to the local hub instead so this replica's subscribers still
// observe it, and remote replicas converge from the store.
func (r *Relay) Publish(ctx context.Context, a *auction.Auction, bid *auction.BidRecord) {
	payload, err := json.Marshal(Commit{Auction: a, Bid: bid})
	if err != nil {
		r.logger.ErrorContext(ctx, "marshal commit", slog.String("auction_id", a.ID), slog.Any("error", err))
		r.hub.Publish(ctx, a, bid)
		return
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.ErrorContext(ctx, "publish commit, delivering locally", slog.String("auction_id", a.ID), slog.Any("error", err))
		r.hub.Publish(ctx, a, bid)
	}
}

// Run consumes the channel and applies each settlement into the local
// hub until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Force the SUBSCRIBE round trip so a bad redis config surfaces
	// at startup instead of as a silent dead stream.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "relay subscribed", slog.String("channel", r.channel))
	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var c Commit
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				r.logger.WarnContext(ctx, "discarding malformed commit", slog.Any("error", err))
				continue
			}
			if c.Auction == nil {
				r.logger.WarnContext(ctx, "discarding commit without auction")
				continue
			}
			r.hub.Publish(ctx, c.Auction, c.Bid)
		}
	}
}
