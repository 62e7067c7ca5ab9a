package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/utafrali/BookshelfGo/pkg/database"
	apperrors "github.com/utafrali/BookshelfGo/pkg/errors"
	"github.com/utafrali/BookshelfGo/services/review/internal/cache"
	"github.com/utafrali/BookshelfGo/services/review/internal/domain"
	"github.com/utafrali/BookshelfGo/services/review/internal/repository"
)

// MaxBodyLength is the longest review body accepted, in characters.
const MaxBodyLength = 10000

// EventPublisher emits review domain events after commit. Failures are
// logged and never fail the write.
type EventPublisher interface {
	PublishReviewUpserted(ctx context.Context, review *domain.Review) error
	PublishReviewDeleted(ctx context.Context, reviewID, userID, bookID string) error
	PublishBookRatingUpdated(ctx context.Context, rating *domain.BookRating) error
	PublishReviewVoted(ctx context.Context, review *domain.Review, voterID string, vote *domain.VoteType, tally domain.VoteTally) error
}

// UpsertReviewInput holds the parameters for rating or reviewing an edition.
type UpsertReviewInput struct {
	UserID    string
	BookID    string
	EditionID string
	Rating    *int
	Body      *string
}

// ReviewService implements the review write paths and read models.
type ReviewService struct {
	store      repository.Store
	aggregator RatingAggregator
	cache      cache.ReviewCache
	events     EventPublisher
	logger     *slog.Logger
	now        func() time.Time
}

// NewReviewService creates a review service.
func NewReviewService(store repository.Store, c cache.ReviewCache, events EventPublisher, logger *slog.Logger) *ReviewService {
	if c == nil {
		c = cache.Noop{}
	}
	return &ReviewService{
		store:  store,
		cache:  c,
		events: events,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func validateUpsert(in *UpsertReviewInput) error {
	if in.UserID == "" {
		return apperrors.Unauthorized("authentication required to review")
	}

	fields := map[string]string{}
	if in.BookID == "" {
		fields["book_id"] = "is required"
	}
	if in.EditionID == "" {
		fields["edition_id"] = "is required"
	}
	if !domain.IsValidRating(in.Rating) {
		fields["rating"] = fmt.Sprintf("must be between %d and %d", domain.MinRating, domain.MaxRating)
	}
	in.Body = domain.NormalizeBody(in.Body)
	if in.Body != nil && utf8.RuneCountInString(*in.Body) > MaxBodyLength {
		fields["body"] = fmt.Sprintf("must be at most %d characters", MaxBodyLength)
	}
	if in.Rating == nil && in.Body == nil {
		fields["rating"] = "a rating or a review body is required"
	}

	if len(fields) > 0 {
		return apperrors.Validation("invalid review", fields)
	}
	return nil
}

// txError maps a failed book transaction to the error returned to callers.
func (s *ReviewService) txError(ctx context.Context, err error, op string) error {
	if errors.Is(err, database.ErrTxAttemptsExhausted) {
		ratingConflicts.Inc()
		s.logger.WarnContext(ctx, "book transaction gave up under contention",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return apperrors.Conflict("the book's rating is being updated concurrently, please retry")
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

// UpsertReview creates or overwrites the user's review of an edition and
// recomputes the book's rating in the same transaction.
func (s *ReviewService) UpsertReview(ctx context.Context, in UpsertReviewInput) (*domain.Review, error) {
	if err := validateUpsert(&in); err != nil {
		return nil, err
	}

	now := s.now()
	candidate := &domain.Review{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		EditionID: in.EditionID,
		BookID:    in.BookID,
		Rating:    in.Rating,
		Body:      in.Body,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var (
		saved  *domain.Review
		rating *domain.BookRating
	)
	err := s.store.WithinBookTx(ctx, in.BookID, func(tx repository.BookTx) error {
		bookID, err := tx.EditionBookID(ctx, in.EditionID)
		if err != nil {
			return err
		}
		if bookID != in.BookID {
			return apperrors.Validation("invalid review", map[string]string{
				"edition_id": "does not belong to this book",
			})
		}

		if saved, err = tx.UpsertReview(ctx, candidate); err != nil {
			return err
		}
		rating, err = s.aggregator.Recompute(ctx, tx, in.BookID)
		return err
	})
	if err != nil {
		return nil, s.txError(ctx, err, "upsert review")
	}
	reviewWrites.WithLabelValues("upsert").Inc()

	s.InvalidateBook(ctx, in.BookID)

	if err := s.events.PublishReviewUpserted(ctx, saved); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish review.upserted event",
			slog.String("review_id", saved.ID),
			slog.String("error", err.Error()),
		)
	}
	s.publishRating(ctx, rating)

	s.logger.InfoContext(ctx, "review upserted",
		slog.String("review_id", saved.ID),
		slog.String("book_id", saved.BookID),
		slog.String("edition_id", saved.EditionID),
		slog.Int("rating_count", rating.RatingCount),
	)

	return saved, nil
}

// DeleteReview deletes the user's review from a book and recomputes the
// book's rating in the same transaction.
func (s *ReviewService) DeleteReview(ctx context.Context, userID, reviewID, bookID string) error {
	if userID == "" {
		return apperrors.Unauthorized("authentication required to delete a review")
	}
	if reviewID == "" || bookID == "" {
		return apperrors.InvalidInput("review id and book id are required")
	}

	var rating *domain.BookRating
	err := s.store.WithinBookTx(ctx, bookID, func(tx repository.BookTx) error {
		deleted, err := tx.DeleteReview(ctx, reviewID, userID, bookID)
		if err != nil {
			return err
		}
		if !deleted {
			return apperrors.NotFound("review", reviewID)
		}
		rating, err = s.aggregator.Recompute(ctx, tx, bookID)
		return err
	})
	if err != nil {
		return s.txError(ctx, err, "delete review")
	}
	reviewWrites.WithLabelValues("delete").Inc()

	s.InvalidateBook(ctx, bookID)

	if err := s.events.PublishReviewDeleted(ctx, reviewID, userID, bookID); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish review.deleted event",
			slog.String("review_id", reviewID),
			slog.String("error", err.Error()),
		)
	}
	s.publishRating(ctx, rating)

	s.logger.InfoContext(ctx, "review deleted",
		slog.String("review_id", reviewID),
		slog.String("book_id", bookID),
	)
	return nil
}

// RecomputeBookRating recomputes a book's aggregate without a review write,
// e.g. after reviews were removed by an edition cascade.
func (s *ReviewService) RecomputeBookRating(ctx context.Context, bookID string) (*domain.BookRating, error) {
	var rating *domain.BookRating
	err := s.store.WithinBookTx(ctx, bookID, func(tx repository.BookTx) (err error) {
		rating, err = s.aggregator.Recompute(ctx, tx, bookID)
		return err
	})
	if err != nil {
		return nil, s.txError(ctx, err, "recompute book rating")
	}
	reviewWrites.WithLabelValues("recompute").Inc()

	s.InvalidateBook(ctx, bookID)
	s.publishRating(ctx, rating)
	return rating, nil
}

func (s *ReviewService) publishRating(ctx context.Context, rating *domain.BookRating) {
	if err := s.events.PublishBookRatingUpdated(ctx, rating); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish book.rating_updated event",
			slog.String("book_id", rating.BookID),
			slog.String("error", err.Error()),
		)
	}
}

// InvalidateBook drops the cached pages and rating of a book. It runs
// before the write returns; a cache failure is logged and bounded by the
// entry TTL.
func (s *ReviewService) InvalidateBook(ctx context.Context, bookID string) {
	if err := s.cache.InvalidateBook(ctx, bookID); err != nil {
		s.logger.ErrorContext(ctx, "failed to invalidate book cache",
			slog.String("book_id", bookID),
			slog.String("error", err.Error()),
		)
	}
}

// GetBookRating returns the stored aggregate of a book.
func (s *ReviewService) GetBookRating(ctx context.Context, bookID string) (*domain.BookRating, error) {
	if bookID == "" {
		return nil, apperrors.InvalidInput("book id is required")
	}

	gen, cacheable := s.cacheGeneration(ctx, bookID)
	if !cacheable {
		return s.store.GetBookRating(ctx, bookID)
	}

	cached, err := s.cache.GetRating(ctx, bookID, gen)
	if err != nil {
		s.logger.WarnContext(ctx, "rating cache read failed",
			slog.String("book_id", bookID),
			slog.String("error", err.Error()),
		)
	}
	if cached != nil {
		return cached, nil
	}

	rating, err := s.store.GetBookRating(ctx, bookID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetRating(ctx, gen, rating); err != nil {
		s.logger.WarnContext(ctx, "rating cache write failed",
			slog.String("book_id", bookID),
			slog.String("error", err.Error()),
		)
	}
	return rating, nil
}

// cacheGeneration returns the book's cache generation. When it cannot be
// read the caller must bypass the cache for this request.
func (s *ReviewService) cacheGeneration(ctx context.Context, bookID string) (int64, bool) {
	gen, err := s.cache.Generation(ctx, bookID)
	if err != nil {
		s.logger.WarnContext(ctx, "cache generation read failed",
			slog.String("book_id", bookID),
			slog.String("error", err.Error()),
		)
		return 0, false
	}
	return gen, true
}

// GetUserReviewForEdition returns the user's review of an edition, or nil
// when the user has not reviewed it.
func (s *ReviewService) GetUserReviewForEdition(ctx context.Context, userID, editionID string) (*domain.Review, error) {
	if userID == "" {
		return nil, apperrors.Unauthorized("authentication required")
	}
	review, err := s.store.GetUserReviewForEdition(ctx, userID, editionID)
	if err != nil {
		return nil, fmt.Errorf("get user review for edition: %w", err)
	}
	return review, nil
}

// ListUserReviewsForBook returns the user's reviews across every edition of
// a book, newest first.
func (s *ReviewService) ListUserReviewsForBook(ctx context.Context, userID, bookID string) ([]domain.ReviewView, error) {
	if userID == "" {
		return nil, apperrors.Unauthorized("authentication required")
	}
	views, err := s.store.ListReviews(ctx, repository.ReviewFilter{BookID: bookID, AuthorID: userID}, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list user reviews for book: %w", err)
	}
	for i := range views {
		views[i].IsOwn = true
	}
	return views, nil
}
