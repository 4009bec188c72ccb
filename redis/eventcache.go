package redis

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/sharedcode/accessmgr"
)

// EventCache is the Redis rendition of accessmgr.EventCache: a capped list
// of the most recently persisted events, shared by the shard group's writer
// and every reader pulling deltas from it.
type EventCache struct {
	conn     *Connection
	capacity int

	listKey      string
	populatedKey string
	evictedKey   string
}

// NewEventCache builds the cache for the named shard group. Capacity caps
// the retained event count; older events are trimmed away FIFO.
func NewEventCache(conn *Connection, name string, capacity int) *EventCache {
	base := "amcache:" + name
	return &EventCache{
		conn:         conn,
		capacity:     capacity,
		listKey:      base + ":log",
		populatedKey: base + ":populated",
		evictedKey:   base + ":evicted",
	}
}

// AppendBatch appends events in id order and trims the list back to
// capacity, remembering that eviction happened.
func (c *EventCache) AppendBatch(ctx context.Context, events []accessmgr.Event) error {
	if len(events) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(events))
	for _, e := range events {
		line, err := json.Marshal(e)
		if err != nil {
			return err
		}
		values = append(values, line)
	}

	pipe := c.conn.Client.TxPipeline()
	pipe.RPush(ctx, c.listKey, values...)
	pipe.Set(ctx, c.populatedKey, "1", 0)
	length := pipe.LLen(ctx, c.listKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	if length.Val() > int64(c.capacity) {
		trim := c.conn.Client.TxPipeline()
		trim.LTrim(ctx, c.listKey, -int64(c.capacity), -1)
		trim.Set(ctx, c.evictedKey, "1", 0)
		if _, err := trim.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// GetAllSince returns the cached events after priorEventID, accessmgr.NilUUID
// for everything retained. EventCacheEmptyError means the cache was never
// populated; EventNotCachedError means the prior event has been trimmed away
// and the caller must fall back to persistent storage.
func (c *EventCache) GetAllSince(ctx context.Context, priorEventID accessmgr.UUID) ([]accessmgr.Event, error) {
	populated, err := c.conn.Client.Exists(ctx, c.populatedKey).Result()
	if err != nil {
		return nil, err
	}
	if populated == 0 {
		return nil, accessmgr.NewError(accessmgr.EventCacheEmptyError, "event cache never populated")
	}

	lines, err := c.conn.Client.LRange(ctx, c.listKey, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	events := make([]accessmgr.Event, 0, len(lines))
	for _, line := range lines {
		var e accessmgr.Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	if priorEventID.IsNil() {
		evicted, err := c.conn.Client.Exists(ctx, c.evictedKey).Result()
		if err != nil {
			return nil, err
		}
		if evicted > 0 {
			return nil, accessmgr.NewError(accessmgr.EventNotCachedError, "cache head trimmed, full replay required")
		}
		return events, nil
	}

	for i, e := range events {
		if e.ID.Compare(priorEventID) == 0 {
			return events[i+1:], nil
		}
	}
	return nil, accessmgr.NewError(accessmgr.EventNotCachedError, "prior event trimmed from cache", priorEventID.String())
}
