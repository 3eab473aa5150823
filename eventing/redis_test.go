package eventing

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/inoueakimitsu/cline/logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	c := NewRedisClient(context.Background(), logger.NewTestLogger(), rdb)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestHeaders(t *testing.T) {
	h := Headers{}
	h.Set("key", "value")
	assert.Equal(t, "value", h.Get("key"))
	assert.Equal(t, "", h.Get("nonexistent"))
	assert.Equal(t, []string{"key"}, h.Keys())
}

func TestWithHeader(t *testing.T) {
	msg := newPubRedisMessage([]byte("x"), WithHeader("a", "1"), WithHeader("b", "2"))
	assert.Equal(t, "1", msg.InternalHeaders["a"])
	assert.Equal(t, "2", msg.InternalHeaders["b"])
}

func TestRedisPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	received := make(chan Message, 1)
	sub, err := c.Subscribe(ctx, "cline.session.abc.events", func(ctx context.Context, msg Message) {
		received <- msg
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, c.Publish(ctx, "cline.session.abc.events", []byte(`{"type":"state"}`), WithHeader("content-type", "application/json")))

	select {
	case msg := <-received:
		assert.Equal(t, "cline.session.abc.events", msg.Subject())
		assert.JSONEq(t, `{"type":"state"}`, string(msg.Data()))
		assert.Equal(t, "application/json", msg.Headers().Get("content-type"))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestRedisPatternSubscribe(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	received := make(chan string, 2)
	sub, err := c.Subscribe(ctx, "cline.session.*.events", func(ctx context.Context, msg Message) {
		received <- msg.Subject()
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, c.Publish(ctx, "cline.session.one.events", []byte("1")))
	require.NoError(t, c.Publish(ctx, "cline.session.two.events", []byte("2")))

	var subjects []string
	for range 2 {
		select {
		case s := <-received:
			subjects = append(subjects, s)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
	assert.ElementsMatch(t, []string{"cline.session.one.events", "cline.session.two.events"}, subjects)
}
