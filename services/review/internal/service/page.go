package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/utafrali/BookshelfGo/pkg/errors"
	"github.com/utafrali/BookshelfGo/pkg/pagination"
	"github.com/utafrali/BookshelfGo/services/review/internal/cache"
	"github.com/utafrali/BookshelfGo/services/review/internal/domain"
	"github.com/utafrali/BookshelfGo/services/review/internal/repository"
)

// ReviewPageQuery selects one page of a book's reviews as seen by a viewer.
// ViewerID is empty for anonymous callers.
type ReviewPageQuery struct {
	BookID          string
	ViewerID        string
	Page            int
	PageSize        int
	OnlyWithContent bool
}

// GetReviewPage returns the book's reviews with the viewer's own reviews
// pinned to the front. The page is addressed over the virtual sequence
// owner ++ others, so a page boundary may fall inside either segment.
func (s *ReviewService) GetReviewPage(ctx context.Context, q ReviewPageQuery) (*domain.ReviewPage, error) {
	if q.BookID == "" {
		return nil, apperrors.InvalidInput("book id is required")
	}
	params, err := pagination.New(q.Page, q.PageSize)
	if err != nil {
		var pe *pagination.ParamError
		if errors.As(err, &pe) {
			return nil, apperrors.Validation("invalid pagination", map[string]string{pe.Param: pe.Reason})
		}
		return nil, apperrors.InvalidInput(err.Error())
	}

	key := cache.PageKey{BookID: q.BookID, Page: params.Page, PageSize: params.PageSize, OnlyWithContent: q.OnlyWithContent}
	cacheable := false
	if q.ViewerID == "" {
		// Viewer pages are never cached. The generation is read before the
		// store so a write committed mid-read cannot be masked.
		key.Generation, cacheable = s.cacheGeneration(ctx, q.BookID)
	}
	if cacheable {
		cached, err := s.cache.GetPage(ctx, key)
		if err != nil {
			s.logger.WarnContext(ctx, "review page cache read failed",
				slog.String("book_id", q.BookID),
				slog.String("error", err.Error()),
			)
		}
		if cached != nil {
			return cached, nil
		}
	}

	// The book must exist even when it has no reviews.
	if _, err := s.store.GetBookRating(ctx, q.BookID); err != nil {
		return nil, err
	}

	var owner []domain.ReviewView
	if q.ViewerID != "" {
		owner, err = s.store.ListReviews(ctx, repository.ReviewFilter{
			BookID:          q.BookID,
			AuthorID:        q.ViewerID,
			OnlyWithContent: q.OnlyWithContent,
		}, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("list owner reviews: %w", err)
		}
	}

	othersFilter := repository.ReviewFilter{
		BookID:          q.BookID,
		ExcludeAuthorID: q.ViewerID,
		OnlyWithContent: q.OnlyWithContent,
	}
	othersTotal, err := s.store.CountReviews(ctx, othersFilter)
	if err != nil {
		return nil, fmt.Errorf("count reviews: %w", err)
	}

	plan := pagination.PlanOwnerFirst(params, len(owner))
	var others []domain.ReviewView
	if plan.OthersLimit > 0 && plan.OthersOffset < othersTotal {
		others, err = s.store.ListReviews(ctx, othersFilter, plan.OthersOffset, plan.OthersLimit)
		if err != nil {
			return nil, fmt.Errorf("list reviews: %w", err)
		}
	}

	for i := range owner {
		owner[i].IsOwn = true
	}
	items := pagination.MergeOwnerFirst(plan, owner, others)

	s.attachTallies(ctx, items, q.ViewerID)

	result := pagination.NewResult(items, len(owner)+othersTotal, params)
	page := &domain.ReviewPage{
		Items:      result.Items,
		Total:      result.Total,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalPages: result.TotalPages,
		HasNext:    result.HasNext,
	}

	if cacheable {
		if err := s.cache.SetPage(ctx, key, page); err != nil {
			s.logger.WarnContext(ctx, "review page cache write failed",
				slog.String("book_id", q.BookID),
				slog.String("error", err.Error()),
			)
		}
	}
	return page, nil
}

// attachTallies fills vote counts for every item with one batched query. A
// failure degrades to zero tallies rather than failing the page.
func (s *ReviewService) attachTallies(ctx context.Context, items []domain.ReviewView, viewerID string) {
	if len(items) == 0 {
		return
	}
	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}

	tallies, err := s.store.TallyVotes(ctx, ids, viewerID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to tally review votes",
			slog.Int("reviews", len(ids)),
			slog.String("error", err.Error()),
		)
		return
	}
	for i := range items {
		items[i].VoteTally = tallies[items[i].ID]
	}
}
