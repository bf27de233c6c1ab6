// Package progress broadcasts batch progress events over Redis pub/sub.
// Delivery is best effort; the durable state lives in the tracker.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/ragscale/api/internal/model"
)

// Key returns the pub/sub channel of a batch
func Key(batchID string) string {
	return "status:" + batchID
}

type Channel struct {
	rdb    redis.UniversalClient
	logger *slog.Logger
}

func NewChannel(rdb redis.UniversalClient, logger *slog.Logger) *Channel {
	return &Channel{rdb: rdb, logger: logger}
}

// Publish is fire-and-forget: an event with no listeners is simply dropped.
func (c *Channel) Publish(ctx context.Context, batchID string, event model.ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}
	if err := c.rdb.Publish(ctx, Key(batchID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish progress event: %w", err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so anything
// published afterwards is delivered. Earlier events are not replayed.
func (c *Channel) Subscribe(ctx context.Context, batchID string) (*Subscription, error) {
	ps := c.rdb.Subscribe(ctx, Key(batchID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", Key(batchID), err)
	}

	sub := &Subscription{
		ps:     ps,
		events: make(chan model.ProgressEvent, 16),
		done:   make(chan struct{}),
	}
	go sub.run(ctx, c.logger.With("batch_id", batchID))
	return sub, nil
}

// Subscription is a live feed of one batch's events. The Events channel is
// closed when the context ends, Close is called or the connection drops.
type Subscription struct {
	ps     *redis.PubSub
	events chan model.ProgressEvent
	done   chan struct{}
	once   sync.Once
}

func (s *Subscription) Events() <-chan model.ProgressEvent {
	return s.events
}

func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

func (s *Subscription) run(ctx context.Context, logger *slog.Logger) {
	defer close(s.events)
	defer s.Close()

	msgs := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev model.ProgressEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn("dropping malformed progress event", "error", err)
				continue
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
	}
}
