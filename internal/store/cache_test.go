package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/roomchat/internal/model"
)

// countingStore counts History calls on the wrapped store.
type countingStore struct {
	Store
	historyCalls int
}

func (c *countingStore) History(ctx context.Context, roomID string) ([]model.ChatMessage, error) {
	c.historyCalls++
	return c.Store.History(ctx, roomID)
}

func newCached(t *testing.T) (*Cached, *countingStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	inner := &countingStore{Store: NewMemory()}
	return NewCached(inner, client, time.Minute), inner, mr
}

func TestCachedHistoryHit(t *testing.T) {
	ctx := context.Background()
	c, inner, mr := newCached(t)

	_, err := c.Append(ctx, "room1", "alice", "hi")
	require.NoError(t, err)

	first, err := c.History(ctx, "room1")
	require.NoError(t, err)
	second, err := c.History(ctx, "room1")
	require.NoError(t, err)

	assert.Equal(t, 1, inner.historyCalls)
	assert.Equal(t, first, second)
	assert.True(t, mr.Exists(c.Key("room1")))
	assert.Equal(t, time.Minute, mr.TTL(c.Key("room1")))
}

func TestCachedAppendInvalidates(t *testing.T) {
	ctx := context.Background()
	c, inner, mr := newCached(t)

	_, err := c.History(ctx, "room1")
	require.NoError(t, err)
	assert.True(t, mr.Exists(c.Key("room1")))

	msg, err := c.Append(ctx, "room1", "alice", "hi")
	require.NoError(t, err)
	assert.False(t, mr.Exists(c.Key("room1")))

	msgs, err := c.History(ctx, "room1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, msg.ID, msgs[0].ID)
	assert.Equal(t, 2, inner.historyCalls)
}

func TestCachedEmptyHistory(t *testing.T) {
	c, _, _ := newCached(t)

	for i := 0; i < 2; i++ {
		msgs, err := c.History(context.Background(), "empty")
		require.NoError(t, err)
		assert.NotNil(t, msgs)
		assert.Empty(t, msgs)
	}
}

func TestCachedRedisDown(t *testing.T) {
	ctx := context.Background()
	c, inner, mr := newCached(t)
	mr.Close()

	_, err := c.Append(ctx, "room1", "alice", "hi")
	require.NoError(t, err)

	msgs, err := c.History(ctx, "room1")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Equal(t, 1, inner.historyCalls)
}

func TestCachedCorruptEntry(t *testing.T) {
	ctx := context.Background()
	c, inner, mr := newCached(t)
	require.NoError(t, mr.Set(c.Key("room1"), "not json"))

	msgs, err := c.History(ctx, "room1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, 1, inner.historyCalls)
}

func TestCachedPropagatesStorageErrors(t *testing.T) {
	c, _, _ := newCached(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Append(ctx, "room1", "alice", "hi")
	assert.ErrorIs(t, err, model.ErrStorage)

	_, err = c.History(ctx, "room1")
	assert.ErrorIs(t, err, model.ErrStorage)
}

// gatedStore holds its first History result until release is closed, so an
// Append can land between the store read and the cache fill.
type gatedStore struct {
	Store
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (g *gatedStore) History(ctx context.Context, roomID string) ([]model.ChatMessage, error) {
	msgs, err := g.Store.History(ctx, roomID)
	gated := false
	g.once.Do(func() { gated = true })
	if gated {
		close(g.read)
		<-g.release
	}
	return msgs, err
}

func TestCachedAppendDuringHistoryFill(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	inner := &gatedStore{Store: NewMemory(), read: make(chan struct{}), release: make(chan struct{})}
	c := NewCached(inner, client, time.Minute)

	done := make(chan []model.ChatMessage)
	go func() {
		msgs, err := c.History(ctx, "room1")
		assert.NoError(t, err)
		done <- msgs
	}()
	<-inner.read

	_, err := c.Append(ctx, "room1", "alice", "hi")
	require.NoError(t, err)

	close(inner.release)
	assert.Empty(t, <-done)

	// The stale snapshot must not have been cached.
	assert.False(t, mr.Exists(c.Key("room1")))

	msgs, err := c.History(ctx, "room1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Text)
}

func TestCachedVersionKeyIsSeparate(t *testing.T) {
	c, _, _ := newCached(t)
	assert.NotEqual(t, c.Key("room1:version"), c.VersionKey("room1"))
	assert.NotEqual(t, c.Key("room1-version"), c.VersionKey("room1"))
}
