package repository

import (
	"context"

	"github.com/utafrali/BookshelfGo/services/review/internal/domain"
)

// ReviewFilter selects reviews of one book.
type ReviewFilter struct {
	BookID string
	// AuthorID restricts the result to reviews written by this user.
	AuthorID string
	// ExcludeAuthorID drops reviews written by this user.
	ExcludeAuthorID string
	// OnlyWithContent drops reviews whose body is NULL or blank.
	OnlyWithContent bool
}

// BookTx is the set of writes available inside a book-scoped transaction.
// The book row is locked for the lifetime of the transaction.
type BookTx interface {
	// EditionBookID returns the book an edition belongs to.
	EditionBookID(ctx context.Context, editionID string) (string, error)

	// UpsertReview inserts the review or overwrites rating, body and
	// updated_at of the existing row for (UserID, EditionID). The returned
	// review carries the persisted id and created_at.
	UpsertReview(ctx context.Context, review *domain.Review) (*domain.Review, error)

	// DeleteReview removes the review if it exists on bookID and is owned by
	// userID. It reports whether a row was deleted.
	DeleteReview(ctx context.Context, reviewID, userID, bookID string) (bool, error)

	// RatingStats returns the raw average and count of non-null ratings over
	// every review of every edition of the book.
	RatingStats(ctx context.Context, bookID string) (avg float64, count int, err error)

	// SaveBookRating persists the aggregate onto the book row.
	SaveBookRating(ctx context.Context, rating domain.BookRating) error
}

// ReviewReader serves the read paths. Reads run outside any transaction.
type ReviewReader interface {
	// GetReview retrieves a review by id.
	GetReview(ctx context.Context, reviewID string) (*domain.Review, error)

	// GetUserReviewForEdition returns the user's review of an edition, or
	// nil when there is none.
	GetUserReviewForEdition(ctx context.Context, userID, editionID string) (*domain.Review, error)

	// ListReviews returns matching reviews newest first (created_at DESC,
	// id DESC). A limit <= 0 returns every row from offset on.
	ListReviews(ctx context.Context, filter ReviewFilter, offset, limit int) ([]domain.ReviewView, error)

	// CountReviews counts matching reviews.
	CountReviews(ctx context.Context, filter ReviewFilter) (int, error)

	// GetBookRating returns the stored aggregate of a book.
	GetBookRating(ctx context.Context, bookID string) (*domain.BookRating, error)
}

// VoteRepository persists review votes.
type VoteRepository interface {
	// ApplyVote toggles or switches the user's vote on a review and returns
	// the vote the user holds afterwards (nil when cleared).
	ApplyVote(ctx context.Context, reviewID, userID string, intent domain.VoteType) (*domain.VoteType, error)

	// TallyVotes counts likes and dislikes for every id in one query. Ids
	// without votes map to zero tallies. viewerID may be empty.
	TallyVotes(ctx context.Context, reviewIDs []string, viewerID string) (map[string]domain.VoteTally, error)
}

// Store is the full persistence surface of the review service.
type Store interface {
	ReviewReader
	VoteRepository

	// WithinBookTx locks the book row and runs fn in one transaction. The
	// transaction commits only if fn returns nil.
	WithinBookTx(ctx context.Context, bookID string, fn func(tx BookTx) error) error
}
