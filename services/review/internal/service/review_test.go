package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/BookshelfGo/pkg/errors"
	"github.com/utafrali/BookshelfGo/pkg/logger"
	"github.com/utafrali/BookshelfGo/services/review/internal/cache"
	"github.com/utafrali/BookshelfGo/services/review/internal/domain"
	"github.com/utafrali/BookshelfGo/services/review/internal/repository"
	"github.com/utafrali/BookshelfGo/services/review/internal/repository/memory"
)

// --- Mock Publisher ---

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishReviewUpserted(ctx context.Context, review *domain.Review) error {
	return m.Called(ctx, review).Error(0)
}

func (m *mockPublisher) PublishReviewDeleted(ctx context.Context, reviewID, userID, bookID string) error {
	return m.Called(ctx, reviewID, userID, bookID).Error(0)
}

func (m *mockPublisher) PublishBookRatingUpdated(ctx context.Context, rating *domain.BookRating) error {
	return m.Called(ctx, rating).Error(0)
}

func (m *mockPublisher) PublishReviewVoted(ctx context.Context, review *domain.Review, voterID string, vote *domain.VoteType, tally domain.VoteTally) error {
	return m.Called(ctx, review, voterID, vote, tally).Error(0)
}

func newLenientPublisher() *mockPublisher {
	p := &mockPublisher{}
	p.On("PublishReviewUpserted", mock.Anything, mock.Anything).Return(nil).Maybe()
	p.On("PublishReviewDeleted", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	p.On("PublishBookRatingUpdated", mock.Anything, mock.Anything).Return(nil).Maybe()
	p.On("PublishReviewVoted", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	return p
}

// --- Test Helpers ---

const (
	bookID    = "book-1"
	otherBook = "book-2"
	hardcover = "ed-hc"
	paperback = "ed-pb"
	foreignEd = "ed-foreign"
)

func newTestStore() *memory.Store {
	store := memory.NewStore()
	store.AddBook(bookID)
	store.AddBook(otherBook)
	store.AddEdition(hardcover, bookID, "Hardcover")
	store.AddEdition(paperback, bookID, "Paperback")
	store.AddEdition(foreignEd, otherBook, "Paperback")
	for _, id := range []string{"alice", "bob", "carol", "dave", "erin"} {
		store.AddUser(memory.User{ID: id, DisplayName: id})
	}
	return store
}

func newTestService(store repository.Store, c cache.ReviewCache, pub EventPublisher) *ReviewService {
	svc := NewReviewService(store, c, pub, logger.Discard())
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return svc
}

// racingStore runs a write right after the first CountReviews or
// GetBookRating read returns, so the reader holds a snapshot taken before a
// write that has since committed and invalidated the cache.
type racingStore struct {
	repository.Store
	afterCount  func()
	afterRating func()
	count       sync.Once
	rating      sync.Once
}

func (s *racingStore) CountReviews(ctx context.Context, filter repository.ReviewFilter) (int, error) {
	n, err := s.Store.CountReviews(ctx, filter)
	if s.afterCount != nil {
		s.count.Do(s.afterCount)
	}
	return n, err
}

func (s *racingStore) GetBookRating(ctx context.Context, bookID string) (*domain.BookRating, error) {
	rating, err := s.Store.GetBookRating(ctx, bookID)
	if s.afterRating != nil {
		s.rating.Do(s.afterRating)
	}
	return rating, err
}

func newRedisTestCache(t *testing.T) *cache.RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewRedisCache(client, time.Minute)
}

func intPtr(i int) *int { return &i }

func strPtr(s string) *string { return &s }

func upsert(t *testing.T, svc *ReviewService, user, edition string, rating *int, body *string) *domain.Review {
	t.Helper()
	r, err := svc.UpsertReview(context.Background(), UpsertReviewInput{
		UserID:    user,
		BookID:    bookID,
		EditionID: edition,
		Rating:    rating,
		Body:      body,
	})
	require.NoError(t, err)
	return r
}

func requireAppCode(t *testing.T, err error, code string) *apperrors.AppError {
	t.Helper()
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	assert.Equal(t, code, appErr.Code)
	return appErr
}

// --- Tests ---

func TestUpsertReview_AggregatesOverRatedReviewsOnly(t *testing.T) {
	svc := newTestService(newTestStore(), nil, newLenientPublisher())
	ctx := context.Background()

	upsert(t, svc, "alice", hardcover, intPtr(5), nil)
	upsert(t, svc, "bob", paperback, intPtr(5), nil)
	upsert(t, svc, "carol", hardcover, nil, strPtr("Loved the prose."))

	rating, err := svc.GetBookRating(ctx, bookID)
	require.NoError(t, err)
	require.NotNil(t, rating.AverageRating)
	assert.Equal(t, 5.0, *rating.AverageRating)
	assert.Equal(t, 2, rating.RatingCount)
}

func TestUpsertReview_AverageIsRoundedToOneDecimal(t *testing.T) {
	svc := newTestService(newTestStore(), nil, newLenientPublisher())

	upsert(t, svc, "alice", hardcover, intPtr(4), nil)
	upsert(t, svc, "bob", hardcover, intPtr(4), nil)
	upsert(t, svc, "carol", hardcover, intPtr(5), nil)

	rating, err := svc.GetBookRating(context.Background(), bookID)
	require.NoError(t, err)
	require.NotNil(t, rating.AverageRating)
	assert.Equal(t, 4.3, *rating.AverageRating)
	assert.Equal(t, 3, rating.RatingCount)
}

func TestUpsertReview_OverwritesSameEdition(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store, nil, newLenientPublisher())
	ctx := context.Background()

	first := upsert(t, svc, "alice", hardcover, intPtr(2), strPtr("meh"))
	second := upsert(t, svc, "alice", hardcover, intPtr(4), nil)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.Nil(t, second.Body)

	count, err := store.CountReviews(ctx, repository.ReviewFilter{BookID: bookID})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	rating, err := svc.GetBookRating(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 4.0, *rating.AverageRating)
	assert.Equal(t, 1, rating.RatingCount)
}

func TestUpsertReview_SeparateRowPerEdition(t *testing.T) {
	svc := newTestService(newTestStore(), nil, newLenientPublisher())

	hc := upsert(t, svc, "alice", hardcover, intPtr(2), nil)
	pb := upsert(t, svc, "alice", paperback, intPtr(4), nil)
	assert.NotEqual(t, hc.ID, pb.ID)

	rating, err := svc.GetBookRating(context.Background(), bookID)
	require.NoError(t, err)
	assert.Equal(t, 3.0, *rating.AverageRating)
	assert.Equal(t, 2, rating.RatingCount)

	views, err := svc.ListUserReviewsForBook(context.Background(), "alice", bookID)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, pb.ID, views[0].ID)
	assert.True(t, views[0].IsOwn)
}

func TestUpsertReview_Validation(t *testing.T) {
	svc := newTestService(newTestStore(), nil, newLenientPublisher())

	tests := []struct {
		name  string
		in    UpsertReviewInput
		code  string
		field string
	}{
		{
			name: "anonymous",
			in:   UpsertReviewInput{BookID: bookID, EditionID: hardcover, Rating: intPtr(3)},
			code: "UNAUTHORIZED",
		},
		{
			name:  "rating too high",
			in:    UpsertReviewInput{UserID: "alice", BookID: bookID, EditionID: hardcover, Rating: intPtr(6)},
			code:  "VALIDATION_ERROR",
			field: "rating",
		},
		{
			name:  "rating zero",
			in:    UpsertReviewInput{UserID: "alice", BookID: bookID, EditionID: hardcover, Rating: intPtr(0)},
			code:  "VALIDATION_ERROR",
			field: "rating",
		},
		{
			name:  "neither rating nor body",
			in:    UpsertReviewInput{UserID: "alice", BookID: bookID, EditionID: hardcover},
			code:  "VALIDATION_ERROR",
			field: "rating",
		},
		{
			name:  "blank body only",
			in:    UpsertReviewInput{UserID: "alice", BookID: bookID, EditionID: hardcover, Body: strPtr("   ")},
			code:  "VALIDATION_ERROR",
			field: "rating",
		},
		{
			name:  "edition of another book",
			in:    UpsertReviewInput{UserID: "alice", BookID: bookID, EditionID: foreignEd, Rating: intPtr(3)},
			code:  "VALIDATION_ERROR",
			field: "edition_id",
		},
		{
			name: "unknown edition",
			in:   UpsertReviewInput{UserID: "alice", BookID: bookID, EditionID: "nope", Rating: intPtr(3)},
			code: "NOT_FOUND",
		},
		{
			name: "unknown book",
			in:   UpsertReviewInput{UserID: "alice", BookID: "nope", EditionID: hardcover, Rating: intPtr(3)},
			code: "NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpsertReview(context.Background(), tt.in)
			require.Error(t, err)
			appErr := requireAppCode(t, err, tt.code)
			if tt.field != "" {
				assert.Contains(t, appErr.Fields, tt.field)
			}
		})
	}

	rating, err := svc.GetBookRating(context.Background(), bookID)
	require.NoError(t, err)
	assert.Nil(t, rating.AverageRating)
	assert.Equal(t, 0, rating.RatingCount)
}

func TestUpsertReview_BodyTooLong(t *testing.T) {
	svc := newTestService(newTestStore(), nil, newLenientPublisher())

	long := make([]rune, MaxBodyLength+1)
	for i := range long {
		long[i] = 'é'
	}
	_, err := svc.UpsertReview(context.Background(), UpsertReviewInput{
		UserID: "alice", BookID: bookID, EditionID: hardcover, Body: strPtr(string(long)),
	})
	appErr := requireAppCode(t, err, "VALIDATION_ERROR")
	assert.Contains(t, appErr.Fields, "body")
}

func TestUpsertReview_PublishesEvents(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("PublishReviewUpserted", mock.Anything, mock.MatchedBy(func(r *domain.Review) bool {
		return r.UserID == "alice" && r.EditionID == hardcover && r.BookID == bookID
	})).Return(nil).Once()
	pub.On("PublishBookRatingUpdated", mock.Anything, mock.MatchedBy(func(r *domain.BookRating) bool {
		return r.BookID == bookID && r.RatingCount == 1
	})).Return(nil).Once()

	svc := newTestService(newTestStore(), nil, pub)
	upsert(t, svc, "alice", hardcover, intPtr(3), nil)

	pub.AssertExpectations(t)
}

func TestUpsertReview_PublishFailureDoesNotFailWrite(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("PublishReviewUpserted", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	pub.On("PublishBookRatingUpdated", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	svc := newTestService(newTestStore(), nil, pub)
	r := upsert(t, svc, "alice", hardcover, intPtr(3), nil)
	assert.NotEmpty(t, r.ID)
}

func TestDeleteReview_LastReviewClearsAverage(t *testing.T) {
	svc := newTestService(newTestStore(), nil, newLenientPublisher())
	ctx := context.Background()

	r := upsert(t, svc, "alice", hardcover, intPtr(4), nil)
	require.NoError(t, svc.DeleteReview(ctx, "alice", r.ID, bookID))

	rating, err := svc.GetBookRating(ctx, bookID)
	require.NoError(t, err)
	assert.Nil(t, rating.AverageRating)
	assert.Equal(t, 0, rating.RatingCount)

	mine, err := svc.GetUserReviewForEdition(ctx, "alice", hardcover)
	require.NoError(t, err)
	assert.Nil(t, mine)
}

func TestDeleteReview_RecomputesRemaining(t *testing.T) {
	svc := newTestService(newTestStore(), nil, newLenientPublisher())
	ctx := context.Background()

	upsert(t, svc, "alice", hardcover, intPtr(1), nil)
	r := upsert(t, svc, "bob", hardcover, intPtr(5), nil)
	require.NoError(t, svc.DeleteReview(ctx, "bob", r.ID, bookID))

	rating, err := svc.GetBookRating(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, *rating.AverageRating)
	assert.Equal(t, 1, rating.RatingCount)
}

func TestDeleteReview_NotOwnedOrMissing(t *testing.T) {
	svc := newTestService(newTestStore(), nil, newLenientPublisher())
	ctx := context.Background()

	r := upsert(t, svc, "alice", hardcover, intPtr(4), nil)

	err := svc.DeleteReview(ctx, "bob", r.ID, bookID)
	requireAppCode(t, err, "NOT_FOUND")

	err = svc.DeleteReview(ctx, "alice", r.ID, otherBook)
	requireAppCode(t, err, "NOT_FOUND")

	err = svc.DeleteReview(ctx, "alice", "missing", bookID)
	requireAppCode(t, err, "NOT_FOUND")

	err = svc.DeleteReview(ctx, "", r.ID, bookID)
	requireAppCode(t, err, "UNAUTHORIZED")

	rating, err := svc.GetBookRating(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 1, rating.RatingCount)
}

func TestUpsertReview_ConcurrentWritersKeepAggregateExact(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store, nil, newLenientPublisher())
	ctx := context.Background()

	const writers = 30
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			edition := hardcover
			if i%2 == 0 {
				edition = paperback
			}
			_, err := svc.UpsertReview(ctx, UpsertReviewInput{
				UserID:    fmt.Sprintf("user-%d", i),
				BookID:    bookID,
				EditionID: edition,
				Rating:    intPtr(i%5 + 1),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rating, err := svc.GetBookRating(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, writers, rating.RatingCount)
	assert.Equal(t, 3.0, *rating.AverageRating)
}

func TestRecomputeBookRating_AfterEditionCascade(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store, nil, newLenientPublisher())
	ctx := context.Background()

	upsert(t, svc, "alice", hardcover, intPtr(1), nil)
	upsert(t, svc, "bob", paperback, intPtr(5), nil)

	store.DeleteEdition(paperback)

	stale, err := store.GetBookRating(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 2, stale.RatingCount)

	rating, err := svc.RecomputeBookRating(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, *rating.AverageRating)
	assert.Equal(t, 1, rating.RatingCount)

	_, err = svc.RecomputeBookRating(ctx, "nope")
	requireAppCode(t, err, "NOT_FOUND")
}

func TestGetUserReviewForEdition(t *testing.T) {
	svc := newTestService(newTestStore(), nil, newLenientPublisher())
	ctx := context.Background()

	_, err := svc.GetUserReviewForEdition(ctx, "", hardcover)
	requireAppCode(t, err, "UNAUTHORIZED")

	none, err := svc.GetUserReviewForEdition(ctx, "alice", hardcover)
	require.NoError(t, err)
	assert.Nil(t, none)

	saved := upsert(t, svc, "alice", hardcover, nil, strPtr("  Great  "))
	got, err := svc.GetUserReviewForEdition(ctx, "alice", hardcover)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, saved.ID, got.ID)
	assert.Equal(t, "Great", *got.Body)
}

func TestGetBookRating_ReadYourWritesThroughCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	rc := cache.NewRedisCache(client, time.Minute)
	svc := newTestService(newTestStore(), rc, newLenientPublisher())
	ctx := context.Background()

	upsert(t, svc, "alice", hardcover, intPtr(2), nil)
	first, err := svc.GetBookRating(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 2.0, *first.AverageRating)

	upsert(t, svc, "bob", hardcover, intPtr(4), nil)
	second, err := svc.GetBookRating(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 3.0, *second.AverageRating)
	assert.Equal(t, 2, second.RatingCount)
}

func TestGetBookRating_CacheOutageFallsBackToStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc := newTestService(newTestStore(), cache.NewRedisCache(client, time.Minute), newLenientPublisher())
	upsert(t, svc, "alice", hardcover, intPtr(5), nil)

	mr.Close()

	rating, err := svc.GetBookRating(context.Background(), bookID)
	require.NoError(t, err)
	assert.Equal(t, 5.0, *rating.AverageRating)
}

func TestGetBookRating_WriteDuringMissIsNotMasked(t *testing.T) {
	store := &racingStore{Store: newTestStore()}
	svc := newTestService(store, newRedisTestCache(t), newLenientPublisher())
	ctx := context.Background()

	upsert(t, svc, "alice", hardcover, intPtr(2), nil)
	store.afterRating = func() { upsert(t, svc, "bob", hardcover, intPtr(4), nil) }

	stale, err := svc.GetBookRating(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 1, stale.RatingCount)

	rating, err := svc.GetBookRating(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 2, rating.RatingCount)
	assert.Equal(t, 3.0, *rating.AverageRating)
}
