package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/forgeline-erp/forgeline-erp/internal/ledger"
)

// CommitChannel is the pub/sub channel carrying ledger commit events.
const CommitChannel = "forgeline.ledger.commits"

// RedisNotifier publishes commit events over Redis pub/sub. Delivery is
// fire-and-forget: subscribers that miss an event reconcile by re-reading the
// store, so the coordinator never waits on them.
type RedisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier builds a notifier on an existing client.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

// PublishCommit implements ledger.Notifier.
func (n *RedisNotifier) PublishCommit(ctx context.Context, event ledger.CommitEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: marshal commit event: %w", err)
	}
	if err := n.client.Publish(ctx, CommitChannel, payload).Err(); err != nil {
		return fmt.Errorf("notify: publish commit event: %w", err)
	}
	return nil
}

// Subscribe returns a channel of decoded commit events. The channel closes
// when ctx is cancelled. Used by reporting-side consumers and tests.
func Subscribe(ctx context.Context, client *redis.Client) (<-chan ledger.CommitEvent, error) {
	sub := client.Subscribe(ctx, CommitChannel)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("notify: subscribe: %w", err)
	}

	out := make(chan ledger.CommitEvent)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var event ledger.CommitEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
