package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/johndosdos/roomchat/internal/logging"
	"github.com/johndosdos/roomchat/internal/model"
)

const defaultCachePrefix = "roomchat:history"

// setIfVersion writes KEYS[1] only while the room version in KEYS[2] still
// equals ARGV[1] (empty for a room that was never appended to).
var setIfVersion = redis.NewScript(`
local v = redis.call("GET", KEYS[2])
if v == false then v = "" end
if v ~= ARGV[1] then return 0 end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
else
	redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`)

// Cached serves History from Redis and falls through to the wrapped store on
// a miss. Append bumps the room's version and drops its entry after the
// wrapped store has accepted the message; a miss only fills the cache if the
// version it read before querying the store is still current. Redis failures
// are logged and never returned.
type Cached struct {
	next   Store
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

// NewCached wraps next with a Redis history cache whose entries live for ttl.
func NewCached(next Store, client redis.Cmdable, ttl time.Duration) *Cached {
	return &Cached{
		next:   next,
		client: client,
		ttl:    ttl,
		prefix: defaultCachePrefix,
	}
}

// Key returns the Redis key holding roomID's history.
func (c *Cached) Key(roomID string) string {
	return fmt.Sprintf("%s:%s", c.prefix, roomID)
}

// VersionKey returns the Redis key counting roomID's appends.
func (c *Cached) VersionKey(roomID string) string {
	return fmt.Sprintf("%s-version:%s", c.prefix, roomID)
}

func (c *Cached) Append(ctx context.Context, roomID, username, text string) (model.ChatMessage, error) {
	msg, err := c.next.Append(ctx, roomID, username, text)
	if err != nil {
		return model.ChatMessage{}, err
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.VersionKey(roomID))
		pipe.Del(ctx, c.Key(roomID))
		return nil
	})
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str(logging.FieldRoomID, roomID).
			Msg("failed to invalidate history cache")
	}

	return msg, nil
}

func (c *Cached) History(ctx context.Context, roomID string) ([]model.ChatMessage, error) {
	key := c.Key(roomID)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var msgs []model.ChatMessage
		if err := json.Unmarshal(data, &msgs); err == nil {
			return msgs, nil
		}
		logging.Ctx(ctx).Warn().Str(logging.FieldRoomID, roomID).Msg("discarding undecodable history cache entry")
	case !errors.Is(err, redis.Nil):
		logging.Ctx(ctx).Warn().Err(err).
			Str(logging.FieldRoomID, roomID).
			Msg("history cache read failed")
	}

	version, err := c.client.Get(ctx, c.VersionKey(roomID)).Result()
	cacheable := true
	switch {
	case errors.Is(err, redis.Nil):
		version = ""
	case err != nil:
		cacheable = false
	}

	msgs, err := c.next.History(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !cacheable {
		return msgs, nil
	}

	data, err = json.Marshal(msgs)
	if err != nil {
		return msgs, nil
	}
	keys := []string{key, c.VersionKey(roomID)}
	if err := setIfVersion.Run(ctx, c.client, keys, version, data, c.ttl.Milliseconds()).Err(); err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str(logging.FieldRoomID, roomID).
			Msg("history cache write failed")
	}

	return msgs, nil
}
