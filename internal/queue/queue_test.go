package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryPublishConsume(t *testing.T) {
	q := NewInMemory(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, Message{Type: "a", Body: []byte(`{}`)}))
	require.NoError(t, q.Publish(ctx, Message{Type: "b"}))
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "c"}), ErrFull)

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", (<-ch).Type)
	assert.Equal(t, "b", (<-ch).Type)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "d"}), context.Canceled)
}

func TestSerialize(t *testing.T) {
	msg := Message{Type: "vote.cast", Body: []byte(`{"note":"a|b"}`)}
	assert.Equal(t, msg, deserialize(serialize(msg)))
	assert.Equal(t, Message{Body: []byte("raw")}, deserialize("raw"))
}

func TestRedisQueue(t *testing.T) {
	addr := os.Getenv("CAMPUSVOTE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set CAMPUSVOTE_TEST_REDIS_ADDR")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	key := "campusvote:test:" + t.Name()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.Del(ctx, key).Err())

	q := NewRedisQueue(client, key)
	require.NoError(t, q.Publish(ctx, Message{Type: "first", Body: []byte(`1`)}))
	require.NoError(t, q.Publish(ctx, Message{Type: "second", Body: []byte(`2`)}))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, Message{Type: "first", Body: []byte(`1`)}, <-ch)
	assert.Equal(t, Message{Type: "second", Body: []byte(`2`)}, <-ch)
}
