package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/forgeline-erp/forgeline-erp/internal/ledger"
)

func TestPublishAndSubscribe(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := Subscribe(ctx, client)
	require.NoError(t, err)

	notifier := NewRedisNotifier(client)
	sent := ledger.CommitEvent{
		Operation: ledger.OpRecordPayment,
		RecordID:  "INV-010",
		CommitAt:  time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, notifier.PublishCommit(ctx, sent))

	select {
	case got := <-events:
		require.Equal(t, sent.Operation, got.Operation)
		require.Equal(t, sent.RecordID, got.RecordID)
		require.True(t, sent.CommitAt.Equal(got.CommitAt))
	case <-ctx.Done():
		t.Fatal("timed out waiting for commit event")
	}
}

func TestSubscribeClosesOnCancel(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	events, err := Subscribe(ctx, client)
	require.NoError(t, err)

	cancel()
	select {
	case _, open := <-events:
		require.False(t, open)
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not close after cancel")
	}
}
