package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/medleaf/api/internal/platform/httpx"
	"github.com/medleaf/api/internal/services"
)

const maxInternalBodySize = 16 * 1024

// InternalHandlers exposes service-to-service job endpoints. Callers are
// verified by the OIDC middleware mounted on the /internal group.
type InternalHandlers struct {
	reviews services.ReviewService
}

// NewInternalHandlers constructs the internal job endpoints.
func NewInternalHandlers(reviews services.ReviewService) *InternalHandlers {
	return &InternalHandlers{reviews: reviews}
}

// Routes wires the /internal endpoints onto the provided router.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/jobs/ratings:recount", h.recountRating)
}

type recountRatingRequest struct {
	MedicineID string `json:"medicine_id"`
}

type recountRatingResponse struct {
	MedicineID string   `json:"medicine_id"`
	Rating     *float64 `json:"rating"`
	Count      int64    `json:"count"`
}

func (h *InternalHandlers) recountRating(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxInternalBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req recountRatingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	summary, err := h.reviews.RecountRating(ctx, strings.TrimSpace(req.MedicineID))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, recountRatingResponse{
		MedicineID: summary.MedicineID,
		Rating:     summary.Average,
		Count:      summary.Count,
	})
}
