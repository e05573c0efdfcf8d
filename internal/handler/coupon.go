package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/conscious-checkout/internal/domain/coupon"
)

// publicCoupon is what anonymous callers see of a coupon.
type publicCoupon struct {
	ID           string              `json:"id"`
	Code         string              `json:"code"`
	DiscountType coupon.DiscountType `json:"discountType"`
	Discount     json.Number         `json:"discount"`
}

// adminCoupon adds the owner and payout details.
type adminCoupon struct {
	publicCoupon
	Name        string             `json:"name"`
	City        string             `json:"city"`
	Phone       string             `json:"phone"`
	InstagramID string             `json:"instagramId,omitempty"`
	BankDetails coupon.BankDetails `json:"bankDetails"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

func viewCoupon(c *coupon.Coupon, admin bool) any {
	pub := publicCoupon{
		ID:           c.ID,
		Code:         c.Code,
		DiscountType: c.DiscountType,
		Discount:     money(c.Discount),
	}
	if !admin {
		return pub
	}
	return adminCoupon{
		publicCoupon: pub,
		Name:         c.OwnerName,
		City:         c.City,
		Phone:        c.Phone,
		InstagramID:  c.InstagramID,
		BankDetails:  c.BankDetails,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

type couponRequest struct {
	Code         string              `json:"code"`
	DiscountType coupon.DiscountType `json:"discountType"`
	Discount     decimal.Decimal     `json:"discount"`
	Name         string              `json:"name"`
	City         string              `json:"city"`
	Phone        string              `json:"phone"`
	InstagramID  string              `json:"instagramId"`
	BankDetails  coupon.BankDetails  `json:"bankDetails"`
}

func (req couponRequest) input() coupon.Input {
	return coupon.Input{
		Code:         req.Code,
		DiscountType: req.DiscountType,
		Discount:     req.Discount,
		OwnerName:    req.Name,
		City:         req.City,
		Phone:        req.Phone,
		InstagramID:  req.InstagramID,
		BankDetails:  req.BankDetails,
	}
}

type couponResponse struct {
	envelope
	Coupon any `json:"coupon"`
}

// listCoupons returns all coupons. Owner and bank details are only
// included for administrators.
func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.coupons.List(r.Context())
	if err != nil {
		internalError(w, r, "Failed to fetch coupons", err)
		return
	}
	_, admin := adminFrom(r.Context())
	views := make([]any, len(coupons))
	for i := range coupons {
		views[i] = viewCoupon(&coupons[i], admin)
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		Coupons []any `json:"coupons"`
	}{envelope{Success: true}, views})
}

func (h *Handler) getCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := couponID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	c, err := h.coupons.Get(r.Context(), id)
	if err != nil {
		h.couponError(w, r, err, "Failed to fetch coupon")
		return
	}
	_, admin := adminFrom(r.Context())
	writeJSON(w, http.StatusOK, couponResponse{envelope{Success: true}, viewCoupon(c, admin)})
}

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.coupons.Create(r.Context(), req.input())
	if err != nil {
		h.couponError(w, r, err, "Failed to create coupon")
		return
	}
	writeJSON(w, http.StatusCreated, couponResponse{envelope{Success: true}, viewCoupon(c, true)})
}

func (h *Handler) updateCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := couponID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req couponRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.coupons.Update(r.Context(), id, req.input())
	if err != nil {
		h.couponError(w, r, err, "Failed to update coupon")
		return
	}
	writeJSON(w, http.StatusOK, couponResponse{envelope{Success: true}, viewCoupon(c, true)})
}

func (h *Handler) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "Coupon ID is required")
		return
	}
	id, ok := couponID(w, req.ID)
	if !ok {
		return
	}
	if err := h.coupons.Delete(r.Context(), id); err != nil {
		h.couponError(w, r, err, "Failed to delete coupon")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Coupon deleted successfully"})
}

// validateCoupon quotes a coupon against a subtotal without touching any
// cart.
func (h *Handler) validateCoupon(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code     string          `json:"code"`
		Subtotal decimal.Decimal `json:"subtotal"`
	}
	if !decode(w, r, &req) {
		return
	}
	if coupon.NormalizeCode(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "Please enter a coupon code")
		return
	}
	if req.Subtotal.IsNegative() {
		writeError(w, http.StatusBadRequest, "Subtotal must not be negative")
		return
	}

	q, err := h.quotes.Validate(r.Context(), req.Code, req.Subtotal)
	switch {
	case errors.Is(err, coupon.ErrNotFound):
		writeError(w, http.StatusNotFound, "Invalid coupon code")
		return
	case errors.Is(err, coupon.ErrDiscountExceedsTotal):
		writeError(w, http.StatusUnprocessableEntity, coupon.ErrDiscountExceedsTotal.Error())
		return
	case err != nil:
		internalError(w, r, "Failed to validate coupon", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		Code         string              `json:"code"`
		DiscountType coupon.DiscountType `json:"discountType"`
		Discount     json.Number         `json:"discount"`
		FinalTotal   json.Number         `json:"finalTotal"`
	}{envelope{Success: true}, q.Coupon.Code, q.Coupon.DiscountType, money(q.Discount), money(q.FinalTotal)})
}

func couponID(w http.ResponseWriter, raw string) (string, bool) {
	if _, err := uuid.Parse(raw); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid coupon ID format")
		return "", false
	}
	return raw, true
}

func (h *Handler) couponError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var inputErr *coupon.InvalidInputError
	switch {
	case errors.As(err, &inputErr):
		writeError(w, http.StatusBadRequest, inputErr.Reason)
	case errors.Is(err, coupon.ErrDuplicateCode):
		writeError(w, http.StatusBadRequest, "A coupon with this code already exists")
	case errors.Is(err, coupon.ErrNotFound):
		writeError(w, http.StatusNotFound, "Coupon not found")
	default:
		internalError(w, r, fallback, err)
	}
}
