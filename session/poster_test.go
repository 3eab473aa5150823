package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/inoueakimitsu/cline/cache"
	"github.com/inoueakimitsu/cline/eventing"
	"github.com/inoueakimitsu/cline/logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogPoster(t *testing.T) {
	log := logger.NewTestLogger()
	p := NewLogPoster(log)
	require.NoError(t, p.Post(context.Background(), "s1", Event{Type: EventInvoke, Invoke: InvokePrimaryButtonClick}))
	assert.True(t, log.Contains("INFO", "invoke primaryButtonClick"))
}

func TestEventingPoster(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	client := eventing.NewRedisClient(ctx, logger.NewTestLogger(), rdb)
	defer client.Close()

	received := make(chan Event, 1)
	sub, err := client.Subscribe(ctx, EventSubject("s1"), func(ctx context.Context, msg eventing.Message) {
		var ev Event
		if json.Unmarshal(msg.Data(), &ev) == nil {
			received <- ev
		}
	})
	require.NoError(t, err)
	defer sub.Close()

	p := NewEventingPoster(client)
	require.NoError(t, p.Post(ctx, "s1", Event{Type: EventInvoke, Invoke: InvokeSendMessage, Text: "hi"}))

	select {
	case ev := <-received:
		assert.Equal(t, EventInvoke, ev.Type)
		assert.Equal(t, InvokeSendMessage, ev.Invoke)
		assert.Equal(t, "hi", ev.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestMultiPosterStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	first := NewRecordingPoster()
	failing := NewRecordingPoster()
	failing.SetErr(boom)
	last := NewRecordingPoster()

	err := NewMultiPoster(first, failing, last).Post(context.Background(), "s1", Event{Type: EventState})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, first.Events(), 1)
	assert.Empty(t, last.Events())
}

func TestSubscribeEventsAllSessions(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	log := logger.NewTestLogger()
	client := eventing.NewRedisClient(ctx, log, rdb)
	defer client.Close()

	type delivery struct {
		id    string
		event Event
	}
	received := make(chan delivery, 4)
	sub, err := SubscribeEvents(ctx, client, log, "", func(_ context.Context, id string, event Event) {
		received <- delivery{id, event}
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client.Publish(ctx, EventSubject("s1"), []byte("not json")))
	p := NewEventingPoster(client)
	require.NoError(t, p.Post(ctx, "s2", Event{Type: EventInvoke, Invoke: InvokeSecondaryButtonClick}))

	select {
	case d := <-received:
		assert.Equal(t, "s2", d.id)
		assert.Equal(t, InvokeSecondaryButtonClick, d.event.Invoke)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	assert.True(t, log.Contains("WARN", "dropping undecodable event"))
}

func TestSnapshotPoster(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	store := cache.NewRedis(rdb, cache.WithPrefix("cline"))

	_, found, err := LatestState(ctx, store, "s1")
	require.NoError(t, err)
	assert.False(t, found)

	p := NewSnapshotPoster(store)
	require.NoError(t, p.Post(ctx, "s1", Event{Type: EventInvoke, Invoke: InvokeSendMessage, Text: "hi"}))
	_, found, err = LatestState(ctx, store, "s1")
	require.NoError(t, err)
	assert.False(t, found)

	state := State{ID: "s1", Mode: ModePlan, Messages: []Message{{Role: "user", Text: "hi"}}, Authenticated: true}
	require.NoError(t, p.Post(ctx, "s1", Event{Type: EventState, State: &state}))
	got, found, err := LatestState(ctx, store, "s1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ModePlan, got.Mode)
	assert.True(t, got.Authenticated)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hi", got.Messages[0].Text)
	assert.Equal(t, SnapshotTTL, mr.TTL("cline:session-state:s1"))
}
