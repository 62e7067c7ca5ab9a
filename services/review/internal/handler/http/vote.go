package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/utafrali/BookshelfGo/pkg/errors"
	"github.com/utafrali/BookshelfGo/pkg/httputil"
	"github.com/utafrali/BookshelfGo/pkg/middleware"
	"github.com/utafrali/BookshelfGo/services/review/internal/domain"
	"github.com/utafrali/BookshelfGo/services/review/internal/service"
)

// VoteHandler handles HTTP requests for review votes.
type VoteHandler struct {
	service *service.VoteService
	logger  *slog.Logger
}

// NewVoteHandler creates a new vote HTTP handler.
func NewVoteHandler(svc *service.VoteService, logger *slog.Logger) *VoteHandler {
	return &VoteHandler{service: svc, logger: logger}
}

// VoteRequest is the JSON body of a vote. Sending the vote already held
// clears it.
type VoteRequest struct {
	Type string `json:"type" validate:"required,oneof=LIKE DISLIKE"`
}

// Vote handles POST /api/v1/reviews/{reviewId}/vote
func (h *VoteHandler) Vote(w http.ResponseWriter, r *http.Request) {
	reviewID, ok := urlParamID(w, r, "reviewId")
	if !ok {
		return
	}

	var req VoteRequest
	if !decode(w, r, &req, h.logger) {
		return
	}

	result, err := h.service.SetVote(r.Context(), middleware.UserIDFromContext(r.Context()), reviewID, domain.VoteType(req.Type))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, result)
}

// GetTallies handles GET /api/v1/reviews/votes?ids=a,b,c
func (h *VoteHandler) GetTallies(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("ids is required"), h.logger)
		return
	}

	var ids []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := uuid.Parse(part)
		if err != nil {
			httputil.WriteError(w, r, apperrors.InvalidInput("invalid review id: "+part), h.logger)
			return
		}
		// Ids are stored in canonical lowercase form.
		ids = append(ids, id.String())
	}

	tallies, err := h.service.TallyVotes(r.Context(), ids, middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, tallies)
}
