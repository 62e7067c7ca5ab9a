package domain

import (
	"math"
	"strings"
	"time"
)

const (
	MinRating = 1
	MaxRating = 5
)

// Review is a user's rating and/or written review of one edition. There is
// at most one per (UserID, EditionID).
type Review struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	EditionID string    `json:"edition_id"`
	BookID    string    `json:"book_id"`
	Rating    *int      `json:"rating"`
	Body      *string   `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasContent reports whether the review carries a non-blank body.
func (r *Review) HasContent() bool {
	return r.Body != nil && strings.TrimSpace(*r.Body) != ""
}

// IsValidRating reports whether rating is absent or within [MinRating, MaxRating].
func IsValidRating(rating *int) bool {
	return rating == nil || (*rating >= MinRating && *rating <= MaxRating)
}

// NormalizeBody trims the body and maps blank text to nil.
func NormalizeBody(body *string) *string {
	if body == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*body)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// BookRating is the derived rating aggregate stored on a book.
// AverageRating is nil when RatingCount is zero.
type BookRating struct {
	BookID        string   `json:"book_id"`
	AverageRating *float64 `json:"average_rating"`
	RatingCount   int      `json:"rating_count"`
}

// RoundRating rounds an average to one decimal place.
func RoundRating(v float64) float64 {
	return math.Round(v*10) / 10
}

// NewBookRating builds the aggregate from a raw average and count.
func NewBookRating(bookID string, avg float64, count int) BookRating {
	r := BookRating{BookID: bookID, RatingCount: count}
	if count > 0 {
		rounded := RoundRating(avg)
		r.AverageRating = &rounded
	}
	return r
}
