package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/conscious-checkout/internal/domain/otp"
)

func (h *Handler) sendOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeFailure(w, http.StatusBadRequest, "Email is required")
		return
	}

	if err := h.checkout.SendStandalone(r.Context(), req.Email, req.Name); err != nil {
		sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "OTP sent successfully"})
}

func (h *Handler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.OTP) == "" {
		writeFailure(w, http.StatusBadRequest, "Email and OTP are required")
		return
	}

	if err := h.checkout.VerifyStandalone(r.Context(), req.Email, strings.TrimSpace(req.OTP)); err != nil {
		verifyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Email verified successfully"})
}

func sendError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, otp.ErrEmailRequired) {
		writeFailure(w, http.StatusBadRequest, "Email is required")
		return
	}
	logError(r, "Send OTP", err)
	writeFailure(w, http.StatusInternalServerError, "Failed to send OTP")
}

func verifyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, otp.ErrEmailRequired):
		writeFailure(w, http.StatusBadRequest, "Email and OTP are required")
	case errors.Is(err, otp.ErrNotFound):
		writeFailure(w, http.StatusBadRequest, "OTP not found or expired. Please request a new OTP.")
	case errors.Is(err, otp.ErrMismatch):
		writeFailure(w, http.StatusBadRequest, "Invalid OTP. Please try again.")
	default:
		logError(r, "Verify OTP", err)
		writeFailure(w, http.StatusInternalServerError, "Failed to verify OTP")
	}
}
