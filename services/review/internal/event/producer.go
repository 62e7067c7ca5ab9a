package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/utafrali/BookshelfGo/pkg/kafka"
	"github.com/utafrali/BookshelfGo/pkg/logger"
	"github.com/utafrali/BookshelfGo/services/review/internal/domain"
)

// Kafka topics for review domain events.
const (
	TopicReviewUpserted    = "bookshelf.review.upserted"
	TopicReviewDeleted     = "bookshelf.review.deleted"
	TopicReviewVoted       = "bookshelf.review.voted"
	TopicBookRatingUpdated = "bookshelf.book.rating_updated"
)

// Aggregate types.
const (
	AggregateTypeReview = "review"
	AggregateTypeBook   = "book"
)

// SourceReviewService identifies events emitted by this service.
const SourceReviewService = "review-service"

// ReviewUpsertedData is the payload of review.upserted.
type ReviewUpsertedData struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	EditionID  string `json:"edition_id"`
	BookID     string `json:"book_id"`
	Rating     *int   `json:"rating"`
	HasContent bool   `json:"has_content"`
}

// ReviewDeletedData is the payload of review.deleted.
type ReviewDeletedData struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	BookID string `json:"book_id"`
}

// BookRatingUpdatedData is the payload of book.rating_updated.
type BookRatingUpdatedData struct {
	BookID        string   `json:"book_id"`
	AverageRating *float64 `json:"average_rating"`
	RatingCount   int      `json:"rating_count"`
}

// ReviewVotedData is the payload of review.voted.
type ReviewVotedData struct {
	ReviewID string           `json:"review_id"`
	BookID   string           `json:"book_id"`
	UserID   string           `json:"user_id"`
	Vote     *domain.VoteType `json:"vote"`
	Likes    int              `json:"likes"`
	Dislikes int              `json:"dislikes"`
}

// Sender publishes an event envelope to a topic. *pkgkafka.Producer
// satisfies it.
type Sender interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes review domain events. A Producer without a sender
// drops every event, which is how the service runs with Kafka disabled.
type Producer struct {
	sender Sender
	logger *slog.Logger
}

// NewProducer creates an event producer. sender may be nil.
func NewProducer(sender Sender, logger *slog.Logger) *Producer {
	return &Producer{sender: sender, logger: logger}
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	if p.sender == nil {
		return nil
	}

	event, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourceReviewService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event = event.WithCorrelationID(id)
	}

	if err := p.sender.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}

// PublishReviewUpserted publishes a review.upserted event.
func (p *Producer) PublishReviewUpserted(ctx context.Context, review *domain.Review) error {
	return p.publish(ctx, TopicReviewUpserted, review.ID, AggregateTypeReview, ReviewUpsertedData{
		ID:         review.ID,
		UserID:     review.UserID,
		EditionID:  review.EditionID,
		BookID:     review.BookID,
		Rating:     review.Rating,
		HasContent: review.HasContent(),
	})
}

// PublishReviewDeleted publishes a review.deleted event.
func (p *Producer) PublishReviewDeleted(ctx context.Context, reviewID, userID, bookID string) error {
	return p.publish(ctx, TopicReviewDeleted, reviewID, AggregateTypeReview, ReviewDeletedData{
		ID:     reviewID,
		UserID: userID,
		BookID: bookID,
	})
}

// PublishBookRatingUpdated publishes a book.rating_updated event keyed by
// book so consumers see aggregates of one book in order.
func (p *Producer) PublishBookRatingUpdated(ctx context.Context, rating *domain.BookRating) error {
	return p.publish(ctx, TopicBookRatingUpdated, rating.BookID, AggregateTypeBook, BookRatingUpdatedData{
		BookID:        rating.BookID,
		AverageRating: rating.AverageRating,
		RatingCount:   rating.RatingCount,
	})
}

// PublishReviewVoted publishes a review.voted event.
func (p *Producer) PublishReviewVoted(ctx context.Context, review *domain.Review, voterID string, vote *domain.VoteType, tally domain.VoteTally) error {
	return p.publish(ctx, TopicReviewVoted, review.ID, AggregateTypeReview, ReviewVotedData{
		ReviewID: review.ID,
		BookID:   review.BookID,
		UserID:   voterID,
		Vote:     vote,
		Likes:    tally.Likes,
		Dislikes: tally.Dislikes,
	})
}
