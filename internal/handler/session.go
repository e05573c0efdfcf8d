package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/conscious-checkout/internal/checkout"
	"github.com/xenking/conscious-checkout/internal/domain/cart"
	"github.com/xenking/conscious-checkout/internal/domain/contact"
	"github.com/xenking/conscious-checkout/internal/domain/coupon"
	"github.com/xenking/conscious-checkout/internal/domain/order"
	"github.com/xenking/conscious-checkout/internal/domain/program"
	"github.com/xenking/conscious-checkout/internal/payment/razorpay"
)

const maxSessionIDLen = 64

// requireSessionID rejects session ids that are empty, too long or carry
// characters outside [A-Za-z0-9_-].
func requireSessionID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !validSessionID(chi.URLParam(r, "sid")) {
			writeError(w, http.StatusBadRequest, "Invalid session ID")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func validSessionID(id string) bool {
	if id == "" || len(id) > maxSessionIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

type sessionView struct {
	*cart.Session
	ItemCount  int         `json:"itemCount"`
	Subtotal   json.Number `json:"subtotal"`
	Discount   json.Number `json:"discount"`
	FinalTotal json.Number `json:"finalTotal"`
}

func viewSession(s *cart.Session) sessionView {
	return sessionView{
		Session:    s,
		ItemCount:  s.ItemCount(),
		Subtotal:   money(s.Subtotal()),
		Discount:   money(s.Discount()),
		FinalTotal: money(s.FinalTotal()),
	}
}

type sessionResponse struct {
	envelope
	Session sessionView `json:"session"`
}

func writeSession(w http.ResponseWriter, s *cart.Session) {
	writeJSON(w, http.StatusOK, sessionResponse{envelope{Success: true}, viewSession(s)})
}

// writeSessionError reports err together with the session state, so the
// client can render messages such as the coupon error.
func writeSessionError(w http.ResponseWriter, status int, msg string, s *cart.Session) {
	if s == nil {
		writeError(w, status, msg)
		return
	}
	writeJSON(w, status, sessionResponse{envelope{Error: msg}, viewSession(s)})
}

func sessionID(r *http.Request) string {
	return chi.URLParam(r, "sid")
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.Context(), sessionID(r))
	if err != nil {
		internalError(w, r, "Failed to load cart", err)
		return
	}
	writeSession(w, s)
}

func (h *Handler) clearSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.Context(), sessionID(r)); err != nil {
		internalError(w, r, "Failed to clear cart", err)
		return
	}
	writeSession(w, cart.New(sessionID(r)))
}

// addItem is the buy-now path: the program is looked up in the catalog and
// added at its catalog price.
func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProgramID string `json:"programId"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.ProgramID == "" {
		writeError(w, http.StatusBadRequest, "Program ID is required")
		return
	}

	s, err := h.sessions.Do(r.Context(), sessionID(r), func(s *cart.Session) error {
		_, err := h.checkout.BuyNow(r.Context(), s, req.ProgramID)
		return err
	})
	switch {
	case errors.Is(err, program.ErrNotFound):
		writeSessionError(w, http.StatusNotFound, "Program not found", s)
		return
	case err != nil:
		internalError(w, r, "Failed to add item", err)
		return
	}
	writeSession(w, s)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if !decode(w, r, &req) {
		return
	}
	itemID := chi.URLParam(r, "itemId")
	s, err := h.sessions.Do(r.Context(), sessionID(r), func(s *cart.Session) error {
		return s.UpdateQuantity(itemID, req.Quantity)
	})
	h.itemResult(w, r, s, err)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemId")
	s, err := h.sessions.Do(r.Context(), sessionID(r), func(s *cart.Session) error {
		return s.Remove(itemID)
	})
	h.itemResult(w, r, s, err)
}

func (h *Handler) itemResult(w http.ResponseWriter, r *http.Request, s *cart.Session, err error) {
	switch {
	case errors.Is(err, cart.ErrItemNotFound):
		writeSessionError(w, http.StatusNotFound, "Item not in cart", s)
	case err != nil:
		internalError(w, r, "Failed to update cart", err)
	default:
		writeSession(w, s)
	}
}

func (h *Handler) applySessionCoupon(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &req) {
		return
	}

	s, err := h.sessions.Do(r.Context(), sessionID(r), func(s *cart.Session) error {
		return h.checkout.ApplyCoupon(r.Context(), s, req.Code)
	})
	switch {
	case errors.Is(err, coupon.ErrNotFound):
		writeSessionError(w, http.StatusBadRequest, couponMessage(s, cart.MsgCouponInvalid), s)
	case errors.Is(err, coupon.ErrDiscountExceedsTotal):
		writeSessionError(w, http.StatusUnprocessableEntity, couponMessage(s, cart.MsgCouponTooLarge), s)
	case err != nil:
		internalError(w, r, "Failed to apply coupon", err)
	default:
		writeSession(w, s)
	}
}

func couponMessage(s *cart.Session, fallback string) string {
	if s != nil && s.CouponError != "" {
		return s.CouponError
	}
	return fallback
}

func (h *Handler) removeSessionCoupon(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Do(r.Context(), sessionID(r), func(s *cart.Session) error {
		s.RemoveCoupon()
		return nil
	})
	if err != nil {
		internalError(w, r, "Failed to remove coupon", err)
		return
	}
	writeSession(w, s)
}

func (h *Handler) setCustomer(w http.ResponseWriter, r *http.Request) {
	var req contact.Info
	if !decode(w, r, &req) {
		return
	}
	s, err := h.sessions.Do(r.Context(), sessionID(r), func(s *cart.Session) error {
		s.SetCustomer(req)
		return nil
	})
	if err != nil {
		internalError(w, r, "Failed to save contact details", err)
		return
	}
	writeSession(w, s)
}

func (h *Handler) sendSessionOTP(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.Context(), sessionID(r))
	if err != nil {
		internalError(w, r, "Failed to load cart", err)
		return
	}
	if strings.TrimSpace(s.Customer.Email) == "" {
		writeFailure(w, http.StatusBadRequest, "Email is required")
		return
	}
	if err := h.checkout.SendCode(r.Context(), s); err != nil {
		sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "OTP sent successfully"})
}

func (h *Handler) verifySessionOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OTP string `json:"otp"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.OTP) == "" {
		writeFailure(w, http.StatusBadRequest, "Email and OTP are required")
		return
	}

	s, err := h.sessions.Do(r.Context(), sessionID(r), func(s *cart.Session) error {
		return h.checkout.VerifyCode(r.Context(), s, strings.TrimSpace(req.OTP))
	})
	if err != nil {
		verifyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		envelope{Success: true, Message: "Email verified successfully"},
		viewSession(s),
	})
}

type fieldErrors struct {
	envelope
	Fields map[string]string `json:"fields"`
}

// beginCheckout stores the pending cart and opens the gateway order.
func (h *Handler) beginCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IdempotencyKey string `json:"idempotencyKey"`
	}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get(headerIdempotencyKey)
	}

	var pending *checkout.Pending
	_, err := h.sessions.Do(r.Context(), sessionID(r), func(s *cart.Session) error {
		var err error
		pending, err = h.checkout.Begin(r.Context(), s, checkout.BeginOptions{IdempotencyKey: req.IdempotencyKey})
		return err
	})

	var validation *checkout.ValidationError
	switch {
	case err == nil:
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, fieldErrors{envelope{Error: "Please correct the highlighted fields"}, validation.Fields})
		return
	case errors.Is(err, checkout.ErrEmailNotVerified):
		writeError(w, http.StatusForbidden, "Please verify your email before proceeding to checkout")
		return
	case errors.Is(err, checkout.ErrEmptyCart):
		writeError(w, http.StatusBadRequest, "Your cart is empty")
		return
	case errors.Is(err, razorpay.ErrCreateOrder):
		internalError(w, r, "Failed to create payment order", err)
		return
	default:
		h.orderError(w, r, err, "Failed to start checkout")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		envelope
		Checkout *checkout.Pending `json:"checkout"`
	}{envelope{Success: true}, pending})
}

// completeCheckout verifies the payment and resets the session.
func (h *Handler) completeCheckout(w http.ResponseWriter, r *http.Request) {
	var req paymentCallback
	if !decode(w, r, &req) {
		return
	}

	var receipt *checkout.Receipt
	_, err := h.sessions.Do(r.Context(), sessionID(r), func(s *cart.Session) error {
		var err error
		receipt, err = h.checkout.Complete(r.Context(), s, req.callback())
		return err
	})
	if err != nil {
		paymentError(w, r, err)
		return
	}

	resp := struct {
		paymentVerified
		PaidAt *time.Time `json:"paidAt,omitempty"`
	}{
		paymentVerified: paymentVerified{
			envelope:  envelope{Success: true, Message: "Payment verified successfully"},
			OrderID:   receipt.GatewayOrderID,
			PaymentID: receipt.GatewayPaymentID,
			CartID:    req.CartID,
		},
	}
	if receipt.Order != nil && receipt.Order.PaymentStatus == order.StatusPaid {
		resp.PaidAt = receipt.Order.PaidAt
	}
	writeJSON(w, http.StatusOK, resp)
}
