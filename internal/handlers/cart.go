package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/medleaf/api/internal/platform/auth"
	"github.com/medleaf/api/internal/platform/httpx"
	"github.com/medleaf/api/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes authenticated cart endpoints for the current user.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{medicineID}", h.updateItem)
	r.Delete("/items/{medicineID}", h.removeItem)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	snapshot, err := h.carts.Snapshot(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCartResponse(snapshot))
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	if err := h.carts.Clear(ctx, identity.UID); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cartItemRequest struct {
	MedicineID string `json:"medicine_id"`
	Quantity   int64  `json:"qty"`
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req cartItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	line, err := h.carts.AddLine(ctx, services.CartLineCommand{
		UserID:     identity.UID,
		MedicineID: strings.TrimSpace(req.MedicineID),
		Quantity:   req.Quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, cartLineResponse{Line: buildCartLinePayload(line)})
}

type updateCartItemRequest struct {
	Quantity int64 `json:"qty"`
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	medicineID := strings.TrimSpace(chi.URLParam(r, "medicineID"))
	if medicineID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "medicine id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req updateCartItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	line, err := h.carts.UpdateLineQuantity(ctx, services.CartLineCommand{
		UserID:     identity.UID,
		MedicineID: medicineID,
		Quantity:   req.Quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, cartLineResponse{Line: buildCartLinePayload(line)})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	medicineID := strings.TrimSpace(chi.URLParam(r, "medicineID"))
	if medicineID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "medicine id is required", http.StatusBadRequest))
		return
	}

	if err := h.carts.RemoveLine(ctx, identity.UID, medicineID); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cartLinePayload struct {
	ID         string `json:"id"`
	MedicineID string `json:"medicine_id"`
	Quantity   int64  `json:"qty"`
	CreatedAt  string `json:"created_at,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

type cartLineResponse struct {
	Line cartLinePayload `json:"line"`
}

type cartMedicinePayload struct {
	ID             string   `json:"id"`
	SellerID       string   `json:"seller_id"`
	Name           string   `json:"name"`
	Price          int64    `json:"price"`
	DiscountPrice  *int64   `json:"discount_price,omitempty"`
	EffectivePrice int64    `json:"effective_price"`
	Stock          int64    `json:"stock"`
	IsActive       bool     `json:"is_active"`
	Rating         *float64 `json:"rating"`
	RatingCount    int64    `json:"rating_count"`
}

type cartResponse struct {
	UserID    string                         `json:"user_id"`
	Lines     []cartLinePayload              `json:"lines"`
	Medicines map[string]cartMedicinePayload `json:"medicines"`
	Subtotal  int64                          `json:"subtotal"`
	TakenAt   string                         `json:"taken_at"`
}

func buildCartLinePayload(line services.CartLine) cartLinePayload {
	return cartLinePayload{
		ID:         line.ID,
		MedicineID: line.MedicineID,
		Quantity:   line.Quantity,
		CreatedAt:  formatTime(line.CreatedAt),
		UpdatedAt:  formatTime(line.UpdatedAt),
	}
}

// buildCartResponse renders the snapshot with a subtotal computed from the
// effective prices of the medicines still present and active.
func buildCartResponse(snapshot services.CartSnapshot) cartResponse {
	lines := make([]cartLinePayload, 0, len(snapshot.Lines))
	var subtotal int64
	for _, line := range snapshot.Lines {
		lines = append(lines, buildCartLinePayload(line))
		if medicine, ok := snapshot.Medicines[line.MedicineID]; ok && medicine.IsActive {
			subtotal += medicine.EffectivePrice() * line.Quantity
		}
	}

	medicines := make(map[string]cartMedicinePayload, len(snapshot.Medicines))
	for id, medicine := range snapshot.Medicines {
		medicines[id] = cartMedicinePayload{
			ID:             medicine.ID,
			SellerID:       medicine.SellerID,
			Name:           medicine.Name,
			Price:          medicine.Price,
			DiscountPrice:  medicine.DiscountPrice,
			EffectivePrice: medicine.EffectivePrice(),
			Stock:          medicine.Stock,
			IsActive:       medicine.IsActive,
			Rating:         medicine.Rating,
			RatingCount:    medicine.RatingCount,
		}
	}

	return cartResponse{
		UserID:    snapshot.UserID,
		Lines:     lines,
		Medicines: medicines,
		Subtotal:  subtotal,
		TakenAt:   formatTime(snapshot.TakenAt),
	}
}
