package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/BookshelfGo/pkg/database"
	apperrors "github.com/utafrali/BookshelfGo/pkg/errors"
	"github.com/utafrali/BookshelfGo/services/review/internal/domain"
	"github.com/utafrali/BookshelfGo/services/review/internal/repository"
)

const reviewColumns = `id, user_id, edition_id, book_id, rating, body, created_at, updated_at`

func scanReview(row pgx.Row) (*domain.Review, error) {
	var r domain.Review
	if err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.EditionID,
		&r.BookID,
		&r.Rating,
		&r.Body,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

// EditionBookID returns the book an edition belongs to.
func (t *bookTx) EditionBookID(ctx context.Context, editionID string) (string, error) {
	const query = `SELECT book_id FROM editions WHERE id = $1`

	var bookID string
	err := t.tx.QueryRow(ctx, query, editionID).Scan(&bookID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperrors.NotFound("edition", editionID)
	}
	if err != nil {
		return "", fmt.Errorf("get edition book: %w", err)
	}
	return bookID, nil
}

// UpsertReview inserts or overwrites the (user, edition) review.
func (t *bookTx) UpsertReview(ctx context.Context, review *domain.Review) (*domain.Review, error) {
	query := `
		INSERT INTO reviews (id, user_id, edition_id, book_id, rating, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, edition_id) DO UPDATE SET
			rating     = EXCLUDED.rating,
			body       = EXCLUDED.body,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + reviewColumns

	ctx, end := database.TraceQuery(ctx, "UpsertReview", query)
	saved, err := scanReview(t.tx.QueryRow(ctx, query,
		review.ID,
		review.UserID,
		review.EditionID,
		review.BookID,
		review.Rating,
		review.Body,
		review.CreatedAt,
		review.UpdatedAt,
	))
	end(err)
	if err != nil {
		return nil, fmt.Errorf("upsert review: %w", err)
	}
	return saved, nil
}

// DeleteReview deletes the review when it is owned by userID and sits on bookID.
func (t *bookTx) DeleteReview(ctx context.Context, reviewID, userID, bookID string) (bool, error) {
	const query = `DELETE FROM reviews WHERE id = $1 AND user_id = $2 AND book_id = $3`

	tag, err := t.tx.Exec(ctx, query, reviewID, userID, bookID)
	if err != nil {
		return false, fmt.Errorf("delete review: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RatingStats aggregates every non-null rating of the book.
func (t *bookTx) RatingStats(ctx context.Context, bookID string) (float64, int, error) {
	const query = `
		SELECT COALESCE(AVG(rating), 0)::float8, COUNT(rating)
		FROM reviews
		WHERE book_id = $1`

	var (
		avg   float64
		count int
	)
	ctx, end := database.TraceQuery(ctx, "RatingStats", query)
	err := t.tx.QueryRow(ctx, query, bookID).Scan(&avg, &count)
	end(err)
	if err != nil {
		return 0, 0, fmt.Errorf("aggregate ratings: %w", err)
	}
	return avg, count, nil
}

// SaveBookRating writes the aggregate onto the locked book row.
func (t *bookTx) SaveBookRating(ctx context.Context, rating domain.BookRating) error {
	const query = `UPDATE books SET average_rating = $2, rating_count = $3 WHERE id = $1`

	tag, err := t.tx.Exec(ctx, query, rating.BookID, rating.AverageRating, rating.RatingCount)
	if err != nil {
		return fmt.Errorf("save book rating: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("book", rating.BookID)
	}
	return nil
}

// GetReview retrieves a review by id.
func (s *Store) GetReview(ctx context.Context, reviewID string) (*domain.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE id = $1`

	r, err := scanReview(s.pool.QueryRow(ctx, query, reviewID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("review", reviewID)
	}
	if err != nil {
		return nil, fmt.Errorf("get review: %w", err)
	}
	return r, nil
}

// GetUserReviewForEdition returns the user's review of the edition or nil.
func (s *Store) GetUserReviewForEdition(ctx context.Context, userID, editionID string) (*domain.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE user_id = $1 AND edition_id = $2`

	r, err := scanReview(s.pool.QueryRow(ctx, query, userID, editionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user review for edition: %w", err)
	}
	return r, nil
}

// whereClause renders the filter as a WHERE clause starting at $1.
func whereClause(f repository.ReviewFilter) (string, []any) {
	conditions := []string{"r.book_id = $1"}
	args := []any{f.BookID}

	if f.AuthorID != "" {
		args = append(args, f.AuthorID)
		conditions = append(conditions, fmt.Sprintf("r.user_id = $%d", len(args)))
	}
	if f.ExcludeAuthorID != "" {
		args = append(args, f.ExcludeAuthorID)
		conditions = append(conditions, fmt.Sprintf("r.user_id <> $%d", len(args)))
	}
	if f.OnlyWithContent {
		conditions = append(conditions, "r.body IS NOT NULL AND btrim(r.body) <> ''")
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// ListReviews returns the filtered reviews newest first with author and
// edition display fields.
func (s *Store) ListReviews(ctx context.Context, filter repository.ReviewFilter, offset, limit int) (_ []domain.ReviewView, err error) {
	where, args := whereClause(filter)

	query := `
		SELECT r.id, r.user_id, r.edition_id, r.book_id, r.rating, r.body, r.created_at, r.updated_at,
		       COALESCE(u.display_name, ''), u.avatar_url, COALESCE(e.label, '')
		FROM reviews r
		LEFT JOIN users u ON u.id = r.user_id
		LEFT JOIN editions e ON e.id = r.edition_id
		` + where + `
		ORDER BY r.created_at DESC, r.id DESC`

	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	args = append(args, max(offset, 0))
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	ctx, end := database.TraceQuery(ctx, "ListReviews", query)
	defer func() { end(err) }()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	views := []domain.ReviewView{}
	for rows.Next() {
		var v domain.ReviewView
		if err := rows.Scan(
			&v.ID,
			&v.UserID,
			&v.EditionID,
			&v.BookID,
			&v.Rating,
			&v.Body,
			&v.CreatedAt,
			&v.UpdatedAt,
			&v.AuthorName,
			&v.AuthorAvatarURL,
			&v.EditionLabel,
		); err != nil {
			return nil, fmt.Errorf("scan review row: %w", err)
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review rows: %w", err)
	}

	return views, nil
}

// CountReviews counts the filtered reviews.
func (s *Store) CountReviews(ctx context.Context, filter repository.ReviewFilter) (int, error) {
	where, args := whereClause(filter)
	query := `SELECT COUNT(*) FROM reviews r ` + where

	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count reviews: %w", err)
	}
	return count, nil
}

// GetBookRating reads the stored aggregate of a book.
func (s *Store) GetBookRating(ctx context.Context, bookID string) (*domain.BookRating, error) {
	const query = `SELECT average_rating::float8, rating_count FROM books WHERE id = $1`

	rating := domain.BookRating{BookID: bookID}
	err := s.pool.QueryRow(ctx, query, bookID).Scan(&rating.AverageRating, &rating.RatingCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("book", bookID)
	}
	if err != nil {
		return nil, fmt.Errorf("get book rating: %w", err)
	}
	return &rating, nil
}
