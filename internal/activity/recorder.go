package activity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nfrund/relay/internal/pubsub"
)

// Recorder subscribes to every room topic, logs each event and keeps Stats.
type Recorder struct {
	sub    pubsub.Subscriber
	stats  *Stats
	logger *slog.Logger
}

// NewRecorder creates a recorder reading from sub.
func NewRecorder(sub pubsub.Subscriber) *Recorder {
	return &Recorder{
		sub:    sub,
		stats:  &Stats{},
		logger: slog.Default().With("component", "activity"),
	}
}

// Stats returns the live counters.
func (r *Recorder) Stats() *Stats {
	return r.stats
}

// Start subscribes to all topics. Subscriptions end when ctx is canceled.
func (r *Recorder) Start(ctx context.Context) error {
	subscriptions := []func() error{
		func() error {
			return pubsub.Subscribe(ctx, r.sub, TopicUserJoined, func(_ context.Context, connID string, p Presence) error {
				r.stats.joins.Add(1)
				r.logger.Info("User joined", "conn_id", connID, "user", p.User, "count", p.Count)
				return nil
			})
		},
		func() error {
			return pubsub.Subscribe(ctx, r.sub, TopicUserLeft, func(_ context.Context, connID string, p Presence) error {
				r.stats.leaves.Add(1)
				r.logger.Info("User left", "conn_id", connID, "user", p.User, "count", p.Count)
				return nil
			})
		},
		func() error {
			return pubsub.Subscribe(ctx, r.sub, TopicUserRenamed, func(_ context.Context, connID string, rn Rename) error {
				r.stats.renames.Add(1)
				r.logger.Info("User renamed", "conn_id", connID, "from", rn.From, "to", rn.To)
				return nil
			})
		},
		func() error {
			return pubsub.Subscribe(ctx, r.sub, TopicMessageRelayed, func(_ context.Context, connID string, m Relayed) error {
				r.stats.relayed.Add(1)
				r.logger.Debug("Message relayed",
					"conn_id", connID,
					"client_id", m.ClientID,
					"recipients", m.Recipients,
					"length", m.Length,
					"reply", m.Reply,
				)
				return nil
			})
		},
		func() error {
			return pubsub.Subscribe(ctx, r.sub, TopicMessageDelivered, func(_ context.Context, _ string, d Delivery) error {
				r.stats.delivered.Add(1)
				r.logger.Debug("Message delivered", "client_id", d.ClientID, "owner", d.Owner, "by", d.By)
				return nil
			})
		},
		func() error {
			return pubsub.Subscribe(ctx, r.sub, TopicMessageUndelivered, func(_ context.Context, _ string, d Delivery) error {
				r.stats.undelivered.Add(1)
				r.logger.Info("Message undelivered", "client_id", d.ClientID, "owner", d.Owner)
				return nil
			})
		},
		func() error {
			return pubsub.Subscribe(ctx, r.sub, TopicRateLimited, func(_ context.Context, connID string, d Denial) error {
				r.stats.rateLimited.Add(1)
				r.logger.Warn("Rate limit exceeded", "conn_id", connID, "category", d.Category)
				return nil
			})
		},
	}

	for _, subscribe := range subscriptions {
		if err := subscribe(); err != nil {
			return fmt.Errorf("subscribe activity topics: %w", err)
		}
	}
	return nil
}
