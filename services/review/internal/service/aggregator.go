package service

import (
	"context"
	"fmt"

	"github.com/utafrali/BookshelfGo/services/review/internal/domain"
	"github.com/utafrali/BookshelfGo/services/review/internal/repository"
)

// RatingAggregator derives a book's rating aggregate from its reviews. It
// must run inside the book transaction of the write that changed them, so
// the aggregate and the reviews commit or roll back together.
type RatingAggregator struct{}

// Recompute reads every rating of every edition of the book through tx and
// persists the rounded average and count on the book row.
func (RatingAggregator) Recompute(ctx context.Context, tx repository.BookTx, bookID string) (*domain.BookRating, error) {
	avg, count, err := tx.RatingStats(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("recompute rating: %w", err)
	}

	rating := domain.NewBookRating(bookID, avg, count)
	if err := tx.SaveBookRating(ctx, rating); err != nil {
		return nil, fmt.Errorf("recompute rating: %w", err)
	}
	return &rating, nil
}
