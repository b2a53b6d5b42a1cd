package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/medleaf/api/internal/domain"
	"github.com/medleaf/api/internal/platform/auth"
	"github.com/medleaf/api/internal/platform/httpx"
	"github.com/medleaf/api/internal/services"
)

const maxSellerBodySize = 16 * 1024

// SellerHandlers exposes the seller back office: incoming orders, fulfilment
// transitions and direct stock adjustments.
type SellerHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	inventory services.InventoryService
}

// NewSellerHandlers constructs handlers requiring the seller role.
func NewSellerHandlers(authn *auth.Authenticator, orders services.OrderService, inventory services.InventoryService) *SellerHandlers {
	return &SellerHandlers{
		authn:     authn,
		orders:    orders,
		inventory: inventory,
	}
}

// Routes wires the /seller endpoints onto the provided router.
func (h *SellerHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleSeller, auth.RoleAdmin))
	}
	r.Get("/orders", h.listOrders)
	r.Post("/orders/{orderID}:transition", h.transitionOrder)
	r.Get("/medicines", h.listMedicines)
	r.Post("/medicines/{medicineID}/stock:adjust", h.adjustStock)
}

func (h *SellerHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	actor := actorFromIdentity(identity)
	if actor.SellerID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "seller profile required", http.StatusForbidden))
		return
	}

	query, err := parseOrderListQuery(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	orders, err := h.orders.ListForSeller(ctx, actor.SellerID, query)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(orders))
}

type transitionOrderRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (h *SellerHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	req, err := parseTransitionRequest(r)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.OrderStatusCommand{
		OrderID: orderID,
		Target:  domain.OrderStatus(strings.ToUpper(req.Status)),
		Actor:   actorFromIdentity(identity),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func parseTransitionRequest(r *http.Request) (transitionOrderRequest, error) {
	var req transitionOrderRequest
	body, err := readLimitedBody(r, maxSellerBodySize)
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, errors.New("invalid JSON payload")
	}
	if strings.TrimSpace(req.Status) == "" {
		return req, errors.New("status is required")
	}
	return req, nil
}

func (h *SellerHandlers) listMedicines(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	medicines, err := h.inventory.ListForSeller(ctx, actorFromIdentity(identity))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]medicinePayload, 0, len(medicines))
	for _, medicine := range medicines {
		items = append(items, buildMedicinePayload(medicine))
	}
	writeJSONResponse(w, http.StatusOK, medicineListResponse{Items: items})
}

type adjustStockRequest struct {
	Delta int64 `json:"delta"`
}

func (h *SellerHandlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service is unavailable", http.StatusServiceUnavailable))
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

	body, err := readLimitedBody(r, maxSellerBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req adjustStockRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	medicine, err := h.inventory.AdjustStock(ctx, services.AdjustStockCommand{
		MedicineID: medicineID,
		Delta:      req.Delta,
		Actor:      actorFromIdentity(identity),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, medicineResponse{Medicine: buildMedicinePayload(medicine)})
}

type medicinePayload struct {
	ID            string   `json:"id"`
	SellerID      string   `json:"seller_id"`
	Name          string   `json:"name"`
	Price         int64    `json:"price"`
	DiscountPrice *int64   `json:"discount_price,omitempty"`
	Stock         int64    `json:"stock"`
	IsActive      bool     `json:"is_active"`
	Rating        *float64 `json:"rating"`
	RatingCount   int64    `json:"rating_count"`
	CreatedAt     string   `json:"created_at,omitempty"`
	UpdatedAt     string   `json:"updated_at,omitempty"`
}

type medicineResponse struct {
	Medicine medicinePayload `json:"medicine"`
}

type medicineListResponse struct {
	Items []medicinePayload `json:"items"`
}

func buildMedicinePayload(medicine services.Medicine) medicinePayload {
	return medicinePayload{
		ID:            medicine.ID,
		SellerID:      medicine.SellerID,
		Name:          medicine.Name,
		Price:         medicine.Price,
		DiscountPrice: medicine.DiscountPrice,
		Stock:         medicine.Stock,
		IsActive:      medicine.IsActive,
		Rating:        medicine.Rating,
		RatingCount:   medicine.RatingCount,
		CreatedAt:     formatTime(medicine.CreatedAt),
		UpdatedAt:     formatTime(medicine.UpdatedAt),
	}
}
