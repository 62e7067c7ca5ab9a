package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/BookshelfGo/services/review/internal/domain"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, time.Minute), mr
}

func samplePage() *domain.ReviewPage {
	return &domain.ReviewPage{
		Items: []domain.ReviewView{{
			Review:     domain.Review{ID: "r1", BookID: "book-1", CreatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
			AuthorName: "Ada",
			VoteTally:  domain.VoteTally{Likes: 2},
		}},
		Total:      1,
		Page:       1,
		PageSize:   10,
		TotalPages: 1,
	}
}

func TestRedisCache_PageRoundTrip(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()
	key := PageKey{BookID: "book-1", Page: 1, PageSize: 10}

	got, err := c.GetPage(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.SetPage(ctx, key, samplePage()))

	got, err = c.GetPage(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, samplePage(), got)

	assert.Equal(t, time.Minute, mr.TTL("bookshelf:review:page:book-1:g0:1:10:0"))
	isMember, err := mr.SIsMember("bookshelf:review:tag:book:book-1", "bookshelf:review:page:book-1:g0:1:10:0")
	require.NoError(t, err)
	assert.True(t, isMember)
}

func TestRedisCache_RatingNullAverageSurvives(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.SetRating(ctx, 0, &domain.BookRating{BookID: "book-1"}))

	got, err := c.GetRating(ctx, "book-1", 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.AverageRating)
	assert.Equal(t, 0, got.RatingCount)
}

func TestRedisCache_InvalidateBookDropsTaggedEntriesOnly(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()
	avg := 4.5

	for page := 1; page <= 3; page++ {
		require.NoError(t, c.SetPage(ctx, PageKey{BookID: "book-1", Page: page, PageSize: 10}, samplePage()))
	}
	require.NoError(t, c.SetPage(ctx, PageKey{BookID: "book-1", Page: 1, PageSize: 10, OnlyWithContent: true}, samplePage()))
	require.NoError(t, c.SetRating(ctx, 0, &domain.BookRating{BookID: "book-1", AverageRating: &avg, RatingCount: 2}))
	require.NoError(t, c.SetPage(ctx, PageKey{BookID: "book-2", Page: 1, PageSize: 10}, samplePage()))

	require.NoError(t, c.InvalidateBook(ctx, "book-1"))

	for _, k := range mr.Keys() {
		if k == "bookshelf:review:gen:book:book-1" {
			continue
		}
		assert.NotContains(t, k, "book-1", "key %s survived invalidation", k)
	}
	gen, err := c.Generation(ctx, "book-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
	got, err := c.GetPage(ctx, PageKey{BookID: "book-2", Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestRedisCache_InvalidateUnknownBook(t *testing.T) {
	c, _ := setupTestRedis(t)
	assert.NoError(t, c.InvalidateBook(context.Background(), "never-cached"))
}

func TestRedisCache_ErrorsSurface(t *testing.T) {
	c, mr := setupTestRedis(t)
	mr.Close()

	_, err := c.GetPage(context.Background(), PageKey{BookID: "b", Page: 1, PageSize: 1})
	assert.Error(t, err)
	assert.Error(t, c.InvalidateBook(context.Background(), "b"))
	_, err = c.Generation(context.Background(), "b")
	assert.Error(t, err)
}

// A reader that took its generation before an invalidation writes under the
// old generation; readers after the invalidation never see that entry.
func TestRedisCache_WriteBackAfterInvalidationIsUnreachable(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()
	avg := 2.0

	before, err := c.Generation(ctx, "book-1")
	require.NoError(t, err)

	require.NoError(t, c.InvalidateBook(ctx, "book-1"))

	stale := PageKey{BookID: "book-1", Generation: before, Page: 1, PageSize: 10}
	require.NoError(t, c.SetPage(ctx, stale, samplePage()))
	require.NoError(t, c.SetRating(ctx, before, &domain.BookRating{BookID: "book-1", AverageRating: &avg, RatingCount: 1}))

	after, err := c.Generation(ctx, "book-1")
	require.NoError(t, err)
	assert.Greater(t, after, before)

	fresh := stale
	fresh.Generation = after
	page, err := c.GetPage(ctx, fresh)
	require.NoError(t, err)
	assert.Nil(t, page)
	rating, err := c.GetRating(ctx, "book-1", after)
	require.NoError(t, err)
	assert.Nil(t, rating)
}

func TestRedisCache_GenerationStartsAtZero(t *testing.T) {
	c, _ := setupTestRedis(t)
	gen, err := c.Generation(context.Background(), "new-book")
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)
}

func TestPageKey_String(t *testing.T) {
	assert.Equal(t, "b:g3:2:5:1", PageKey{BookID: "b", Generation: 3, Page: 2, PageSize: 5, OnlyWithContent: true}.String())
}
