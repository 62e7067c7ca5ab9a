package service

import (
	"context"
	"fmt"
	"log/slog"

	apperrors "github.com/utafrali/BookshelfGo/pkg/errors"
	"github.com/utafrali/BookshelfGo/services/review/internal/cache"
	"github.com/utafrali/BookshelfGo/services/review/internal/domain"
	"github.com/utafrali/BookshelfGo/services/review/internal/repository"
)

// VoteResult is the state of a review's votes after a vote request.
type VoteResult struct {
	ReviewID string `json:"review_id"`
	domain.VoteTally
}

// VoteService handles likes and dislikes on reviews.
type VoteService struct {
	store  repository.Store
	cache  cache.ReviewCache
	events EventPublisher
	logger *slog.Logger
}

// NewVoteService creates a vote service.
func NewVoteService(store repository.Store, c cache.ReviewCache, events EventPublisher, logger *slog.Logger) *VoteService {
	if c == nil {
		c = cache.Noop{}
	}
	return &VoteService{store: store, cache: c, events: events, logger: logger}
}

// SetVote casts intent on a review. Casting the vote the user already holds
// clears it; casting the other type switches it. Authors cannot vote on
// their own reviews.
func (s *VoteService) SetVote(ctx context.Context, viewerID, reviewID string, intent domain.VoteType) (*VoteResult, error) {
	if viewerID == "" {
		return nil, apperrors.Unauthorized("authentication required to vote")
	}
	if !domain.IsValidVoteType(intent) {
		return nil, apperrors.Validation("invalid vote", map[string]string{
			"vote_type": "must be LIKE or DISLIKE",
		})
	}

	review, err := s.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if review.UserID == viewerID {
		reviewVotes.WithLabelValues("self_vote").Inc()
		return nil, apperrors.Forbidden("cannot vote on your own review")
	}

	held, err := s.store.ApplyVote(ctx, reviewID, viewerID, intent)
	if err != nil {
		return nil, err
	}

	tallies, err := s.store.TallyVotes(ctx, []string{reviewID}, viewerID)
	if err != nil {
		return nil, fmt.Errorf("tally votes: %w", err)
	}
	tally := tallies[reviewID]

	if held == nil {
		reviewVotes.WithLabelValues("cleared").Inc()
	} else {
		reviewVotes.WithLabelValues("set").Inc()
	}

	// Cached anonymous pages carry tallies.
	if err := s.cache.InvalidateBook(ctx, review.BookID); err != nil {
		s.logger.ErrorContext(ctx, "failed to invalidate book cache",
			slog.String("book_id", review.BookID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.events.PublishReviewVoted(ctx, review, viewerID, held, tally); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish review.voted event",
			slog.String("review_id", reviewID),
			slog.String("error", err.Error()),
		)
	}

	return &VoteResult{ReviewID: reviewID, VoteTally: tally}, nil
}

// TallyVotes returns the tallies of several reviews as seen by viewerID.
func (s *VoteService) TallyVotes(ctx context.Context, reviewIDs []string, viewerID string) (map[string]domain.VoteTally, error) {
	if len(reviewIDs) > 100 {
		return nil, apperrors.InvalidInput("at most 100 review ids per request")
	}
	tallies, err := s.store.TallyVotes(ctx, reviewIDs, viewerID)
	if err != nil {
		return nil, fmt.Errorf("tally votes: %w", err)
	}
	return tallies, nil
}
