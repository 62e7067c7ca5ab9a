// Package cache holds the read-through cache for review pages and book
// ratings, invalidated per book after every committed write.
//
// Every entry is keyed by the book's generation, a counter bumped on each
// invalidation. A reader takes the generation before it reads the store and
// writes its result under that generation, so a result computed before a
// concurrent write can never be served after the write's invalidation.
package cache

import (
	"context"
	"fmt"

	"github.com/utafrali/BookshelfGo/services/review/internal/domain"
)

// PageKey identifies one cached anonymous review page.
type PageKey struct {
	BookID          string
	Generation      int64
	Page            int
	PageSize        int
	OnlyWithContent bool
}

func (k PageKey) String() string {
	content := 0
	if k.OnlyWithContent {
		content = 1
	}
	return fmt.Sprintf("%s:g%d:%d:%d:%d", k.BookID, k.Generation, k.Page, k.PageSize, content)
}

// ReviewCache caches derived read models. Get methods return (nil, nil) on
// a miss.
type ReviewCache interface {
	// Generation returns the book's current generation. Callers take it
	// before reading the store.
	Generation(ctx context.Context, bookID string) (int64, error)
	GetPage(ctx context.Context, key PageKey) (*domain.ReviewPage, error)
	SetPage(ctx context.Context, key PageKey, page *domain.ReviewPage) error
	GetRating(ctx context.Context, bookID string, generation int64) (*domain.BookRating, error)
	SetRating(ctx context.Context, generation int64, rating *domain.BookRating) error
	// InvalidateBook bumps the book's generation and drops its entries.
	InvalidateBook(ctx context.Context, bookID string) error
}

// Noop is a ReviewCache that stores nothing.
type Noop struct{}

var _ ReviewCache = Noop{}

func (Noop) Generation(context.Context, string) (int64, error)                    { return 0, nil }
func (Noop) GetPage(context.Context, PageKey) (*domain.ReviewPage, error)         { return nil, nil }
func (Noop) SetPage(context.Context, PageKey, *domain.ReviewPage) error           { return nil }
func (Noop) GetRating(context.Context, string, int64) (*domain.BookRating, error) { return nil, nil }
func (Noop) SetRating(context.Context, int64, *domain.BookRating) error           { return nil }
func (Noop) InvalidateBook(context.Context, string) error                         { return nil }
