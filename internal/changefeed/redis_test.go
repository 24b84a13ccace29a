package changefeed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisRelaysPublishedChangesIntoHub(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	feed := NewRedis(client, "", nil)
	hub := NewHub()
	got := make(chan struct{}, 4)
	stop := hub.Subscribe(func() { got <- struct{}{} })
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx, hub) }()

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(DefaultRedisChannel)[DefaultRedisChannel] == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, feed.Publish(context.Background()))
	waitFor(t, got)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("redis relay did not stop")
	}
}
