// Package cache holds the optional read-through cache of the full post list.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/livepost/internal/model"
	"github.com/d60-Lab/livepost/pkg/logger"
)

const (
	listKey    = "posts:list"
	versionKey = "posts:list:version"
)

// PostListCache stores the List() snapshot as one JSON value.
// Writers bump the version after every committed mutation; a snapshot read
// under an older version is never stored.
type PostListCache struct {
	client *redis.Client
	ttl    time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

func NewPostListCache(client *redis.Client, ttl time.Duration) *PostListCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &PostListCache{client: client, ttl: ttl}
}

// Get returns the cached list and the current version. ok is false on miss or
// any redis/decode error; version is -1 when it could not be read, and Set
// ignores such snapshots.
func (c *PostListCache) Get(ctx context.Context) ([]*model.Post, int64, bool) {
	vals, err := c.client.MGet(ctx, listKey, versionKey).Result()
	if err != nil {
		logger.Warn("post list cache read failed", zap.Error(err))
		c.misses.Add(1)
		return nil, -1, false
	}
	version, err := parseVersion(vals[1])
	if err != nil {
		logger.Warn("post list cache version unreadable", zap.Error(err))
		c.misses.Add(1)
		return nil, -1, false
	}
	raw, isString := vals[0].(string)
	if !isString {
		c.misses.Add(1)
		return nil, version, false
	}
	var out []*model.Post
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		c.misses.Add(1)
		return nil, version, false
	}
	c.hits.Add(1)
	return out, version, true
}

// Set stores posts only if no mutation committed since version was read.
func (c *PostListCache) Set(ctx context.Context, posts []*model.Post, version int64) bool {
	if version < 0 {
		return false
	}
	payload, err := json.Marshal(posts)
	if err != nil {
		return false
	}
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		v, err := tx.Get(ctx, versionKey).Int64()
		if errors.Is(err, redis.Nil) {
			v, err = 0, nil
		}
		if err != nil {
			return err
		}
		if v != version {
			return errStaleSnapshot
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, listKey, payload, c.ttl)
			return nil
		})
		return err
	}, versionKey)
	switch {
	case err == nil:
		return true
	case errors.Is(err, errStaleSnapshot), errors.Is(err, redis.TxFailedErr):
		return false
	default:
		logger.Warn("post list cache write failed", zap.Error(err))
		return false
	}
}

// Invalidate bumps the version and drops the cached list in one transaction.
func (c *PostListCache) Invalidate(ctx context.Context) {
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, versionKey)
		p.Del(ctx, listKey)
		return nil
	})
	if err != nil {
		logger.Warn("post list cache invalidate failed", zap.Error(err))
	}
}

// Counters reports hit/miss counts since creation.
func (c *PostListCache) Counters() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

var errStaleSnapshot = errors.New("list snapshot older than cache version")

func parseVersion(v any) (int64, error) {
	s, ok := v.(string)
	if !ok {
		// 未写过版本号
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
