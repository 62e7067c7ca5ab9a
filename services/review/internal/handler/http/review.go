package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	apperrors "github.com/utafrali/BookshelfGo/pkg/errors"
	"github.com/utafrali/BookshelfGo/pkg/httputil"
	"github.com/utafrali/BookshelfGo/pkg/middleware"
	"github.com/utafrali/BookshelfGo/pkg/pagination"
	"github.com/utafrali/BookshelfGo/pkg/validator"
	"github.com/utafrali/BookshelfGo/services/review/internal/service"
)

// ReviewHandler handles HTTP requests for review endpoints.
type ReviewHandler struct {
	service *service.ReviewService
	logger  *slog.Logger
}

// NewReviewHandler creates a new review HTTP handler.
func NewReviewHandler(svc *service.ReviewService, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// UpsertReviewRequest is the JSON body for rating or reviewing an edition.
// At least one of the fields must be set.
type UpsertReviewRequest struct {
	Rating *int    `json:"rating" validate:"omitempty,min=1,max=5"`
	Body   *string `json:"body" validate:"omitempty,max=10000"`
}

// decode reads and validates a JSON body. Malformed bodies are reported as
// INVALID_INPUT, failed validation as VALIDATION_ERROR.
func decode(w http.ResponseWriter, r *http.Request, dst any, logger *slog.Logger) bool {
	err := validator.DecodeAndValidate(w, r, dst)
	if err == nil {
		return true
	}
	var valErr *validator.ValidationError
	if !errors.As(err, &valErr) {
		err = apperrors.InvalidInput(err.Error())
	}
	httputil.WriteError(w, r, err, logger)
	return false
}

func urlParamID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id, ok := httputil.URLParamUUID(w, r, name)
	if !ok {
		return "", false
	}
	return id.String(), true
}

// --- Handlers ---

// ListReviews handles GET /api/v1/books/{bookId}/reviews
// @Summary List a book's reviews, the caller's own first
// @Tags reviews
// @Param page query int false "Page number" default(1)
// @Param page_size query int false "Items per page (max 100)" default(10)
// @Param only_with_content query bool false "Skip rating-only reviews"
// @Router /api/v1/books/{bookId}/reviews [get]
func (h *ReviewHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	bookID, ok := urlParamID(w, r, "bookId")
	if !ok {
		return
	}

	params, err := pagination.FromRequest(r)
	if err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput(err.Error()), h.logger)
		return
	}

	onlyWithContent := false
	if v := r.URL.Query().Get("only_with_content"); v != "" {
		onlyWithContent, err = strconv.ParseBool(v)
		if err != nil {
			httputil.WriteError(w, r, apperrors.InvalidInput("only_with_content must be a boolean"), h.logger)
			return
		}
	}

	page, err := h.service.GetReviewPage(r.Context(), service.ReviewPageQuery{
		BookID:          bookID,
		ViewerID:        middleware.UserIDFromContext(r.Context()),
		Page:            params.Page,
		PageSize:        params.PageSize,
		OnlyWithContent: onlyWithContent,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, page)
}

// GetRating handles GET /api/v1/books/{bookId}/rating
func (h *ReviewHandler) GetRating(w http.ResponseWriter, r *http.Request) {
	bookID, ok := urlParamID(w, r, "bookId")
	if !ok {
		return
	}

	rating, err := h.service.GetBookRating(r.Context(), bookID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, rating)
}

// UpsertReview handles PUT|POST /api/v1/books/{bookId}/editions/{editionId}/review
// @Summary Rate or review an edition, replacing any earlier review of it
// @Tags reviews
// @Accept json
// @Param request body UpsertReviewRequest true "Rating and/or body"
// @Router /api/v1/books/{bookId}/editions/{editionId}/review [put]
func (h *ReviewHandler) UpsertReview(w http.ResponseWriter, r *http.Request) {
	bookID, ok := urlParamID(w, r, "bookId")
	if !ok {
		return
	}
	editionID, ok := urlParamID(w, r, "editionId")
	if !ok {
		return
	}

	var req UpsertReviewRequest
	if !decode(w, r, &req, h.logger) {
		return
	}

	review, err := h.service.UpsertReview(r.Context(), service.UpsertReviewInput{
		UserID:    middleware.UserIDFromContext(r.Context()),
		BookID:    bookID,
		EditionID: editionID,
		Rating:    req.Rating,
		Body:      req.Body,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, review)
}

// DeleteReview handles DELETE /api/v1/books/{bookId}/reviews/{reviewId}
func (h *ReviewHandler) DeleteReview(w http.ResponseWriter, r *http.Request) {
	bookID, ok := urlParamID(w, r, "bookId")
	if !ok {
		return
	}
	reviewID, ok := urlParamID(w, r, "reviewId")
	if !ok {
		return
	}

	err := h.service.DeleteReview(r.Context(), middleware.UserIDFromContext(r.Context()), reviewID, bookID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListMyReviews handles GET /api/v1/books/{bookId}/my-reviews
func (h *ReviewHandler) ListMyReviews(w http.ResponseWriter, r *http.Request) {
	bookID, ok := urlParamID(w, r, "bookId")
	if !ok {
		return
	}

	views, err := h.service.ListUserReviewsForBook(r.Context(), middleware.UserIDFromContext(r.Context()), bookID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, views)
}

// GetMyReview handles GET /api/v1/editions/{editionId}/my-review. It answers
// 204 when the caller has not reviewed the edition.
func (h *ReviewHandler) GetMyReview(w http.ResponseWriter, r *http.Request) {
	editionID, ok := urlParamID(w, r, "editionId")
	if !ok {
		return
	}

	review, err := h.service.GetUserReviewForEdition(r.Context(), middleware.UserIDFromContext(r.Context()), editionID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if review == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	httputil.WriteData(w, http.StatusOK, review)
}
