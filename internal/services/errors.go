package services

import "errors"

// Sentinel errors returned by the service layer. Handlers translate these
// into HTTP status codes; repositories never return them directly.
var (
	// ErrOrderInvalidInput indicates the caller supplied malformed input.
	ErrOrderInvalidInput = errors.New("order input is invalid")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order not found")
	// ErrMedicineNotFound indicates a referenced medicine does not exist.
	ErrMedicineNotFound = errors.New("medicine not found")
	// ErrReviewNotFound indicates the review does not exist.
	ErrReviewNotFound = errors.New("review not found")
	// ErrCartLineNotFound indicates the cart has no line for the medicine.
	ErrCartLineNotFound = errors.New("cart line not found")
	// ErrOrderForbidden indicates the actor may not see or mutate the order.
	ErrOrderForbidden = errors.New("actor is not allowed to act on this order")
	// ErrEmptyCart indicates order creation was attempted on an empty cart.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrMedicineUnavailable indicates a cart line references a missing or
	// inactive medicine.
	ErrMedicineUnavailable = errors.New("medicine is unavailable")
	// ErrInsufficientStock indicates requested quantity exceeds availability.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrIllegalTransition indicates the requested status change is not an
	// edge of the order state machine, or the actor may not take it.
	ErrIllegalTransition = errors.New("illegal order status transition")
	// ErrReviewNotEligible indicates the user has no delivered order
	// containing the medicine.
	ErrReviewNotEligible = errors.New("user is not eligible to review this medicine")
	// ErrReviewDuplicate indicates the user already reviewed the medicine.
	ErrReviewDuplicate = errors.New("review already exists for this medicine")
	// ErrServiceUnavailable indicates a transient backend failure.
	ErrServiceUnavailable = errors.New("service temporarily unavailable")
)
