package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/conscious-checkout/internal/domain/contact"
	"github.com/xenking/conscious-checkout/internal/domain/coupon"
	"github.com/xenking/conscious-checkout/internal/domain/order"
)

// headerIdempotencyKey may carry the idempotency key instead of the body.
const headerIdempotencyKey = "Idempotency-Key"

type itemView struct {
	ProgramID string      `json:"programId"`
	Name      string      `json:"name"`
	Price     json.Number `json:"price"`
	Quantity  int         `json:"quantity"`
}

type orderView struct {
	ID                string      `json:"id"`
	Email             string      `json:"email"`
	Phone             string      `json:"phone"`
	Name              string      `json:"name"`
	City              string      `json:"city"`
	Coupon            string      `json:"coupon,omitempty"`
	PaymentStatus     string      `json:"paymentStatus"`
	EmailVerified     bool        `json:"emailVerified"`
	Items             []itemView  `json:"items"`
	TotalAmount       json.Number `json:"totalAmount"`
	Discount          json.Number `json:"discount"`
	FinalTotal        json.Number `json:"finalTotal"`
	RazorpayOrderID   string      `json:"razorpayOrderId,omitempty"`
	RazorpayPaymentID string      `json:"razorpayPaymentId,omitempty"`
	PaidAt            *time.Time  `json:"paidAt,omitempty"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

func viewOrder(o *order.Order) orderView {
	items := make([]itemView, len(o.Items))
	for i, it := range o.Items {
		items[i] = itemView{
			ProgramID: it.ProgramID,
			Name:      it.Name,
			Price:     money(it.Price),
			Quantity:  it.Quantity,
		}
	}
	return orderView{
		ID:                o.ID,
		Email:             o.Email,
		Phone:             o.Phone,
		Name:              o.Name,
		City:              o.City,
		Coupon:            o.CouponCode,
		PaymentStatus:     string(o.PaymentStatus),
		EmailVerified:     o.EmailVerified,
		Items:             items,
		TotalAmount:       money(o.TotalAmount),
		Discount:          money(o.Discount),
		FinalTotal:        money(o.FinalTotal()),
		RazorpayOrderID:   o.GatewayOrderID,
		RazorpayPaymentID: o.GatewayPaymentID,
		PaidAt:            o.PaidAt,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

func viewOrders(orders []order.Order) []orderView {
	out := make([]orderView, len(orders))
	for i := range orders {
		out[i] = viewOrder(&orders[i])
	}
	return out
}

type createCartRequest struct {
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Name     string `json:"name"`
	City     string `json:"city"`
	Coupon   string `json:"coupon"`
	Verified bool   `json:"emailVerified"`
	Items    []struct {
		ProgramID string          `json:"programId"`
		Name      string          `json:"name"`
		Price     decimal.Decimal `json:"price"`
		Quantity  int             `json:"quantity"`
	} `json:"items"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// createCart stores a pending cart. Totals are recomputed from the item
// prices and quantities as sent, plus the coupon.
func (h *Handler) createCart(w http.ResponseWriter, r *http.Request) {
	var req createCartRequest
	if !decode(w, r, &req) {
		return
	}

	items := make([]order.Item, len(req.Items))
	for i, it := range req.Items {
		items[i] = order.Item{
			ProgramID: it.ProgramID,
			Name:      it.Name,
			Price:     it.Price,
			Quantity:  it.Quantity,
		}
	}
	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get(headerIdempotencyKey)
	}

	res, err := h.orders.Create(r.Context(), order.CreateRequest{
		Contact: contact.Info{
			Name:  req.Name,
			Email: req.Email,
			Phone: req.Phone,
			City:  req.City,
		},
		CouponCode:     req.Coupon,
		Items:          items,
		EmailVerified:  req.Verified,
		IdempotencyKey: key,
	})
	if err != nil {
		h.orderError(w, r, err, "Failed to create cart entry")
		return
	}

	status := http.StatusCreated
	if res.Existed {
		status = http.StatusOK
	}
	writeJSON(w, status, struct {
		envelope
		CartID string `json:"cartId"`
	}{envelope{Success: true}, res.Order.ID})
}

// prefill returns the contact details of the latest paid cart for an email.
func (h *Handler) prefill(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		writeError(w, http.StatusBadRequest, "Email parameter is required")
		return
	}

	info, err := h.orders.LatestContact(r.Context(), email)
	switch {
	case errors.Is(err, order.ErrNotFound):
		writeJSON(w, http.StatusOK, envelope{Message: "No previous purchase found for this email"})
		return
	case err != nil:
		internalError(w, r, "Failed to fetch user details", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		UserInfo *contact.Info `json:"userInfo"`
	}{envelope{Success: true}, info})
}

func (h *Handler) listCarts(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.List(r.Context())
	if err != nil {
		internalError(w, r, "Failed to fetch cart entries", err)
		return
	}
	noStore(w)
	writeJSON(w, http.StatusOK, struct {
		envelope
		Carts []orderView `json:"carts"`
	}{envelope{Success: true}, viewOrders(orders)})
}

// listOrders is listCarts in the dashboard's shape.
func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.List(r.Context())
	if err != nil {
		internalError(w, r, "Failed to fetch orders", err)
		return
	}
	noStore(w)
	w.Header().Set("Surrogate-Control", "no-store")
	writeJSON(w, http.StatusOK, struct {
		envelope
		Orders    []orderView `json:"orders"`
		Timestamp time.Time   `json:"timestamp"`
	}{envelope{Success: true}, viewOrders(orders), h.now().UTC()})
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.orderError(w, r, err, "Failed to fetch cart")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		Cart orderView `json:"cart"`
	}{envelope{Success: true}, viewOrder(o)})
}

func (h *Handler) updateCart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PaymentStatus string `json:"paymentStatus"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.PaymentStatus == "" {
		writeError(w, http.StatusBadRequest, "Payment status is required")
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), order.PaymentStatus(req.PaymentStatus))
	if err != nil {
		h.orderError(w, r, err, "Failed to update cart")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		Cart orderView `json:"cart"`
	}{envelope{Success: true}, viewOrder(o)})
}

// orderError maps order and coupon errors to responses. Anything unknown
// is logged and reported as fallback.
func (h *Handler) orderError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var (
		itemErr       *order.InvalidItemError
		transitionErr *order.TransitionError
	)
	switch {
	case errors.Is(err, order.ErrRequiredFields):
		writeError(w, http.StatusBadRequest, "Required fields missing")
	case errors.Is(err, order.ErrInvalidPhone):
		writeError(w, http.StatusBadRequest, "Phone number must be exactly 10 digits")
	case errors.Is(err, order.ErrInvalidID):
		writeError(w, http.StatusBadRequest, "Invalid cart ID format")
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "Cart not found")
	case errors.Is(err, order.ErrAmountMismatch):
		writeError(w, http.StatusBadRequest, "Amount does not match cart total")
	case errors.As(err, &itemErr):
		writeError(w, http.StatusBadRequest, itemErr.Error())
	case errors.As(err, &transitionErr):
		if transitionErr.From == "" {
			writeError(w, http.StatusBadRequest, "Invalid payment status")
			return
		}
		writeError(w, http.StatusConflict, transitionErr.Error())
	case errors.Is(err, coupon.ErrNotFound):
		writeError(w, http.StatusBadRequest, "Invalid coupon code")
	case errors.Is(err, coupon.ErrDiscountExceedsTotal):
		writeError(w, http.StatusBadRequest, "Discount exceeds cart total")
	default:
		internalError(w, r, fallback, err)
	}
}
