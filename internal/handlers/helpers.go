package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/medleaf/api/internal/domain"
	"github.com/medleaf/api/internal/platform/auth"
	"github.com/medleaf/api/internal/platform/httpx"
	"github.com/medleaf/api/internal/services"
)

const defaultMaxBodySize = 64 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func parseRFC3339(value string) (time.Time, error) {
	layouts := []string{time.RFC3339Nano, time.RFC3339}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", value)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePointer(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// requireIdentity extracts the authenticated principal or writes a 401.
func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// actorFromIdentity derives the service-layer actor. The strongest role wins:
// an identity holding both seller and admin acts as admin.
func actorFromIdentity(identity *auth.Identity) services.Actor {
	actor := services.Actor{
		ID:     identity.UID,
		Role:   domain.RoleCustomer,
		Locale: identity.Locale,
	}
	if identity.HasRole(auth.RoleSeller) {
		actor.Role = domain.RoleSeller
		actor.SellerID = identity.SellerID
		if actor.SellerID == "" {
			actor.SellerID = identity.UID
		}
	}
	if identity.HasRole(auth.RoleAdmin) {
		actor.Role = domain.RoleAdmin
	}
	return actor
}

// parseOrderListQuery reads the shared listing parameters: status,
// created_after (RFC3339) and limit.
func parseOrderListQuery(r *http.Request) (services.OrderListQuery, error) {
	var query services.OrderListQuery

	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		query.Status = domain.OrderStatus(strings.ToUpper(status))
	}
	if after := strings.TrimSpace(r.URL.Query().Get("created_after")); after != "" {
		parsed, err := parseRFC3339(after)
		if err != nil {
			return query, fmt.Errorf("created_after must be an RFC3339 timestamp: %w", err)
		}
		query.CreatedAfter = &parsed
	}
	if limit := strings.TrimSpace(r.URL.Query().Get("limit")); limit != "" {
		parsed, err := strconv.Atoi(limit)
		if err != nil || parsed <= 0 {
			return query, errors.New("limit must be a positive integer")
		}
		query.Limit = parsed
	}
	return query, nil
}

// writeServiceError maps the service error taxonomy onto the JSON envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("empty_cart", "cart has no lines to order", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrMedicineNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("medicine_not_found", "medicine not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReviewNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("review_not_found", "review not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartLineNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_line_not_found", "cart line not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "actor may not perform this operation", http.StatusForbidden))
	case errors.Is(err, services.ErrReviewNotEligible):
		httpx.WriteError(ctx, w, httpx.NewError("review_not_eligible", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrMedicineUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("medicine_unavailable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrIllegalTransition):
		httpx.WriteError(ctx, w, httpx.NewError("illegal_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrReviewDuplicate):
		httpx.WriteError(ctx, w, httpx.NewError("review_exists", "user already reviewed this medicine", http.StatusConflict))
	case errors.Is(err, services.ErrServiceUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "backend temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "request failed", http.StatusInternalServerError))
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

type orderItemPayload struct {
	MedicineID   string `json:"medicine_id"`
	MedicineName string `json:"medicine_name"`
	SellerID     string `json:"seller_id"`
	Quantity     int64  `json:"qty"`
	UnitPrice    int64  `json:"unit_price"`
	LineTotal    int64  `json:"line_total"`
}

type orderPayload struct {
	ID             string             `json:"id"`
	OrderNumber    string             `json:"order_number"`
	UserID         string             `json:"user_id"`
	AddressID      string             `json:"address_id,omitempty"`
	PaymentMethod  string             `json:"payment_method,omitempty"`
	CustomerNote   string             `json:"customer_note,omitempty"`
	Status         string             `json:"status"`
	Subtotal       int64              `json:"subtotal"`
	DeliveryCharge int64              `json:"delivery_charge"`
	Discount       int64              `json:"discount"`
	Total          int64              `json:"total"`
	Currency       string             `json:"currency"`
	Items          []orderItemPayload `json:"items"`
	DeliveredAt    string             `json:"delivered_at,omitempty"`
	CanceledAt     string             `json:"canceled_at,omitempty"`
	CancelReason   string             `json:"cancel_reason,omitempty"`
	CreatedAt      string             `json:"created_at"`
	UpdatedAt      string             `json:"updated_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items []orderPayload `json:"items"`
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			MedicineID:   item.MedicineID,
			MedicineName: item.MedicineName,
			SellerID:     item.SellerID,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			LineTotal:    item.LineTotal,
		})
	}

	payload := orderPayload{
		ID:             order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		AddressID:      order.AddressID,
		PaymentMethod:  order.PaymentMethod,
		CustomerNote:   order.CustomerNote,
		Status:         string(order.Status),
		Subtotal:       order.Totals.Subtotal,
		DeliveryCharge: order.Totals.DeliveryCharge,
		Discount:       order.Totals.Discount,
		Total:          order.Totals.Total,
		Currency:       strings.ToUpper(strings.TrimSpace(order.Totals.Currency)),
		Items:          items,
		DeliveredAt:    formatTimePointer(order.DeliveredAt),
		CanceledAt:     formatTimePointer(order.CanceledAt),
		CreatedAt:      formatTime(order.CreatedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
	}
	if order.CancelReason != nil {
		payload.CancelReason = *order.CancelReason
	}
	return payload
}

func buildOrderListResponse(orders []services.Order) orderListResponse {
	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderPayload(order))
	}
	return orderListResponse{Items: items}
}
