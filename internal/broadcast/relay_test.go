package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/livepost/internal/model"
)

type recorder struct{ ch chan Event }

func newRecorder() *recorder { return &recorder{ch: make(chan Event, 64)} }

func (r *recorder) Broadcast(e Event) { r.ch <- e }

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case e := <-r.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed event")
		return Event{}
	}
}

func newRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisRelay_DeliversToEveryProcess(t *testing.T) {
	client := newRedis(t)
	ctx := context.Background()

	localA, localB := newRecorder(), newRecorder()
	relayA := NewRedisRelay(client, "test:events", localA, 8)
	relayB := NewRedisRelay(client, "test:events", localB, 8)

	stopA, err := relayA.Start(ctx)
	require.NoError(t, err)
	defer stopA(ctx)
	stopB, err := relayB.Start(ctx)
	require.NoError(t, err)
	defer stopB(ctx)

	relayA.Broadcast(Created(model.Post{ID: 1, Title: "x", Content: "y"}))
	relayA.Broadcast(Deleted(1))

	for _, rec := range []*recorder{localA, localB} {
		e := rec.next(t)
		assert.Equal(t, PostCreated, e.Name)
		assert.JSONEq(t, `{"id":1,"title":"x","content":"y"}`, string(e.Data))
		assert.Equal(t, PostDeleted, rec.next(t).Name)
	}
}

func TestRedisRelay_SkipsMalformedMessages(t *testing.T) {
	client := newRedis(t)
	ctx := context.Background()

	local := newRecorder()
	relay := NewRedisRelay(client, "test:events", local, 8)
	stop, err := relay.Start(ctx)
	require.NoError(t, err)
	defer stop(ctx)

	require.NoError(t, client.Publish(ctx, "test:events", "garbage").Err())
	relay.Broadcast(Deleted(5))

	e := local.next(t)
	assert.Equal(t, PostDeleted, e.Name)
	assert.Equal(t, "5", string(e.Data))
}

func TestRedisRelay_StopDrainsQueue(t *testing.T) {
	client := newRedis(t)
	ctx := context.Background()

	watcher := client.Subscribe(ctx, "test:events")
	_, err := watcher.Receive(ctx)
	require.NoError(t, err)
	defer watcher.Close()

	relay := NewRedisRelay(client, "test:events", nil, 8)
	stop, err := relay.Start(ctx)
	require.NoError(t, err)

	relay.Broadcast(Deleted(1))
	relay.Broadcast(Deleted(2))

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, stop(stopCtx))
	assert.Zero(t, relay.QueueLen())

	for _, want := range []string{"1", "2"} {
		msg, err := watcher.ReceiveMessage(stopCtx)
		require.NoError(t, err)
		e, err := ParseEvent([]byte(msg.Payload))
		require.NoError(t, err)
		assert.Equal(t, want, string(e.Data))
	}
}

func TestRedisRelay_StartFailsWithoutRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	_, err := NewRedisRelay(client, "test:events", nil, 1).Start(context.Background())
	assert.Error(t, err)
}
