package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/utafrali/BookshelfGo/pkg/errors"
	pkgkafka "github.com/utafrali/BookshelfGo/pkg/kafka"
	"github.com/utafrali/BookshelfGo/services/review/internal/domain"
)

// Kafka topics consumed from the catalog service.
const (
	TopicEditionDeleted = "bookshelf.catalog.edition_deleted"
	TopicBookDeleted    = "bookshelf.catalog.book_deleted"
)

// RatingService is what the consumer needs from the review service.
type RatingService interface {
	RecomputeBookRating(ctx context.Context, bookID string) (*domain.BookRating, error)
	InvalidateBook(ctx context.Context, bookID string)
}

// EditionDeletedData is the payload of catalog.edition_deleted.
type EditionDeletedData struct {
	EditionID string `json:"edition_id"`
	BookID    string `json:"book_id"`
}

// BookDeletedData is the payload of catalog.book_deleted.
type BookDeletedData struct {
	BookID string `json:"book_id"`
}

// Consumer handles catalog events. Deleting an edition cascades to its
// reviews in the database without going through the aggregator, so the
// book's aggregate is recomputed here.
type Consumer struct {
	service RatingService
	logger  *slog.Logger
}

// NewConsumer creates a catalog event consumer.
func NewConsumer(service RatingService, logger *slog.Logger) *Consumer {
	return &Consumer{service: service, logger: logger}
}

// HandleEditionDeleted recomputes the aggregate of the edition's book.
func (c *Consumer) HandleEditionDeleted(ctx context.Context, event *pkgkafka.Event) error {
	var data EditionDeletedData
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal edition_deleted data: %w", err)
	}
	if data.BookID == "" {
		return fmt.Errorf("edition_deleted event %s has no book_id", event.EventID)
	}

	c.logger.InfoContext(ctx, "processing catalog.edition_deleted event",
		slog.String("edition_id", data.EditionID),
		slog.String("book_id", data.BookID),
	)

	rating, err := c.service.RecomputeBookRating(ctx, data.BookID)
	if errors.Is(err, apperrors.ErrNotFound) {
		// The whole book went with it; nothing left to aggregate.
		c.service.InvalidateBook(ctx, data.BookID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("recompute rating for book %s: %w", data.BookID, err)
	}

	c.logger.InfoContext(ctx, "book rating recomputed after edition deletion",
		slog.String("book_id", rating.BookID),
		slog.Int("rating_count", rating.RatingCount),
	)
	return nil
}

// HandleBookDeleted drops every cached entry of the book.
func (c *Consumer) HandleBookDeleted(ctx context.Context, event *pkgkafka.Event) error {
	var data BookDeletedData
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal book_deleted data: %w", err)
	}
	if data.BookID == "" {
		return fmt.Errorf("book_deleted event %s has no book_id", event.EventID)
	}

	c.service.InvalidateBook(ctx, data.BookID)
	return nil
}
