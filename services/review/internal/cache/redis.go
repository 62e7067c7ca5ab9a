package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/BookshelfGo/services/review/internal/domain"
)

const keyPrefix = "bookshelf:review:"

func pageKey(k PageKey) string { return keyPrefix + "page:" + k.String() }

func ratingKey(bookID string, generation int64) string {
	return fmt.Sprintf("%srating:%s:g%d", keyPrefix, bookID, generation)
}

func bookTagKey(bookID string) string { return keyPrefix + "tag:book:" + bookID }

// The generation key never expires; losing it would resurrect entries of
// generation 0.
func generationKey(bookID string) string { return keyPrefix + "gen:book:" + bookID }

// RedisCache implements ReviewCache. Every entry is registered in a set
// keyed by its book so a write can drop all of them without knowing which
// pages were cached.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed cache whose entries expire after ttl.
func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

var _ ReviewCache = (*RedisCache)(nil)

func (c *RedisCache) get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// set stores the entry and tags it with the book in one MULTI/EXEC.
func (c *RedisCache) set(ctx context.Context, bookID, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	tag := bookTagKey(bookID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, c.ttl)
		pipe.SAdd(ctx, tag, key)
		// The tag outlives its members so no live entry is ever untagged.
		pipe.Expire(ctx, tag, 2*c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Generation returns the book's generation, 0 when it was never invalidated.
func (c *RedisCache) Generation(ctx context.Context, bookID string) (int64, error) {
	key := generationKey(bookID)
	gen, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", key, err)
	}
	return gen, nil
}

// GetPage returns a cached page or nil.
func (c *RedisCache) GetPage(ctx context.Context, key PageKey) (*domain.ReviewPage, error) {
	var page domain.ReviewPage
	ok, err := c.get(ctx, pageKey(key), &page)
	if !ok {
		return nil, err
	}
	return &page, nil
}

// SetPage caches a page.
func (c *RedisCache) SetPage(ctx context.Context, key PageKey, page *domain.ReviewPage) error {
	return c.set(ctx, key.BookID, pageKey(key), page)
}

// GetRating returns a cached rating or nil.
func (c *RedisCache) GetRating(ctx context.Context, bookID string, generation int64) (*domain.BookRating, error) {
	var rating domain.BookRating
	ok, err := c.get(ctx, ratingKey(bookID, generation), &rating)
	if !ok {
		return nil, err
	}
	return &rating, nil
}

// SetRating caches a rating.
func (c *RedisCache) SetRating(ctx context.Context, generation int64, rating *domain.BookRating) error {
	return c.set(ctx, rating.BookID, ratingKey(rating.BookID, generation), rating)
}

// InvalidateBook bumps the book's generation, which makes every earlier
// entry unreachable, then deletes the tagged entries to free them early.
func (c *RedisCache) InvalidateBook(ctx context.Context, bookID string) error {
	gen := generationKey(bookID)
	if err := c.client.Incr(ctx, gen).Err(); err != nil {
		return fmt.Errorf("redis incr %s: %w", gen, err)
	}

	tag := bookTagKey(bookID)
	members, err := c.client.SMembers(ctx, tag).Result()
	if err != nil {
		return fmt.Errorf("redis smembers %s: %w", tag, err)
	}

	keys := append(members, tag)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del book %s entries: %w", bookID, err)
	}
	return nil
}
