package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/conscious-checkout/internal/checkout"
	"github.com/xenking/conscious-checkout/internal/domain/order"
)

// createGatewayOrder opens a payment gateway order for an amount in paise
// and returns the gateway's order object as is. A cartId must name a stored
// cart whose final total matches the amount.
func (h *Handler) createGatewayOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int64  `json:"amount"`
		CartID string `json:"cartId"`
	}
	if !decode(w, r, &req) {
		return
	}

	gw, err := h.checkout.CreateGatewayOrder(r.Context(), req.Amount, req.CartID)
	if err != nil {
		h.orderError(w, r, err, "Failed to create payment order")
		return
	}
	writeJSON(w, http.StatusOK, gw)
}

type paymentCallback struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"razorpayPaymentId"`
	Signature string `json:"razorpaySignature"`
	CartID    string `json:"cartId"`
}

func (cb paymentCallback) callback() checkout.Callback {
	return checkout.Callback{
		GatewayOrderID:   cb.OrderID,
		GatewayPaymentID: cb.PaymentID,
		Signature:        cb.Signature,
		CartID:           cb.CartID,
	}
}

type paymentVerified struct {
	envelope
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	CartID    string `json:"cartId,omitempty"`
}

// verifyPayment checks a payment callback and marks the cart paid.
func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentCallback
	if !decode(w, r, &req) {
		return
	}

	receipt, err := h.checkout.Complete(r.Context(), nil, req.callback())
	if err != nil {
		paymentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentVerified{
		envelope:  envelope{Success: true, Message: "Payment verified successfully"},
		OrderID:   receipt.GatewayOrderID,
		PaymentID: receipt.GatewayPaymentID,
	})
}

func paymentError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, checkout.ErrSignatureMismatch) {
		writeFailure(w, http.StatusBadRequest, "Payment verification failed")
		return
	}
	var transitionErr *order.TransitionError
	if errors.As(err, &transitionErr) {
		writeFailure(w, http.StatusConflict, transitionErr.Error())
		return
	}
	internalError(w, r, "Server error during payment verification", err)
}
