// Package handler exposes the checkout API over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/conscious-checkout/internal/checkout"
	"github.com/xenking/conscious-checkout/internal/domain/auth"
	"github.com/xenking/conscious-checkout/internal/domain/cart"
	"github.com/xenking/conscious-checkout/internal/domain/contact"
	"github.com/xenking/conscious-checkout/internal/domain/coupon"
	"github.com/xenking/conscious-checkout/internal/domain/order"
	"github.com/xenking/conscious-checkout/internal/domain/program"
	"github.com/xenking/conscious-checkout/internal/payment/razorpay"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// OrderService manages cart records.
type OrderService interface {
	Create(ctx context.Context, req order.CreateRequest) (*order.CreateResult, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	List(ctx context.Context) ([]order.Order, error)
	UpdateStatus(ctx context.Context, id string, status order.PaymentStatus) (*order.Order, error)
	LatestContact(ctx context.Context, email string) (*contact.Info, error)
}

// CouponService administers coupons.
type CouponService interface {
	List(ctx context.Context) ([]coupon.Coupon, error)
	Get(ctx context.Context, id string) (*coupon.Coupon, error)
	Create(ctx context.Context, in coupon.Input) (*coupon.Coupon, error)
	Update(ctx context.Context, id string, in coupon.Input) (*coupon.Coupon, error)
	Delete(ctx context.Context, id string) error
}

// Checkout runs the checkout flow.
type Checkout interface {
	Begin(ctx context.Context, sess *cart.Session, opts checkout.BeginOptions) (*checkout.Pending, error)
	Complete(ctx context.Context, sess *cart.Session, cb checkout.Callback) (*checkout.Receipt, error)
	CreateGatewayOrder(ctx context.Context, amount int64, cartID string) (*razorpay.Order, error)
	BuyNow(ctx context.Context, adder cart.ItemAdder, programID string) (*program.Program, error)
	ApplyCoupon(ctx context.Context, sess *cart.Session, code string) error
	SendCode(ctx context.Context, sess *cart.Session) error
	VerifyCode(ctx context.Context, sess *cart.Session, code string) error
	SendStandalone(ctx context.Context, email, name string) error
	VerifyStandalone(ctx context.Context, email, code string) error
}

// Sessions loads and mutates cart sessions.
type Sessions interface {
	Get(ctx context.Context, id string) (*cart.Session, error)
	Do(ctx context.Context, id string, fn func(s *cart.Session) error) (*cart.Session, error)
	Delete(ctx context.Context, id string) error
}

// Authenticator resolves admin API keys.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error)
}

// Deps groups the Handler dependencies.
type Deps struct {
	Orders   OrderService
	Coupons  CouponService
	Quotes   coupon.Validator
	Programs program.Repository
	Checkout Checkout
	Sessions Sessions
	Auth     Authenticator
}

// Handler serves the /api routes.
type Handler struct {
	orders   OrderService
	coupons  CouponService
	quotes   coupon.Validator
	programs program.Repository
	checkout Checkout
	sessions Sessions
	auth     Authenticator
	now      func() time.Time
}

// New creates a Handler.
func New(d Deps) *Handler {
	return &Handler{
		orders:   d.Orders,
		coupons:  d.Coupons,
		quotes:   d.Quotes,
		programs: d.Programs,
		checkout: d.Checkout,
		sessions: d.Sessions,
		auth:     d.Auth,
		now:      time.Now,
	}
}

// Routes returns the API router. Paths are relative to the /api mount point.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.identify)

	r.Post("/sendOtp", h.sendOTP)
	r.Post("/verifyOtp", h.verifyOTP)

	r.Post("/createOrder", h.createGatewayOrder)
	r.Post("/verifyOrder", h.verifyPayment)

	r.Get("/programs", h.listPrograms)
	r.Get("/programs/{id}", h.getProgram)

	r.Route("/cart", func(r chi.Router) {
		r.Post("/", h.createCart)
		r.Get("/email", h.prefill)
		r.Group(func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Get("/", h.listCarts)
			r.Get("/{id}", h.getCart)
			r.Patch("/{id}", h.updateCart)
		})
	})
	r.With(h.requireAdmin).Get("/orders", h.listOrders)

	r.Route("/coupons", func(r chi.Router) {
		r.Get("/", h.listCoupons)
		r.Post("/validate", h.validateCoupon)
		r.Get("/{id}", h.getCoupon)
		r.Group(func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Post("/", h.createCoupon)
			r.Delete("/", h.deleteCoupon)
			r.Patch("/{id}", h.updateCoupon)
		})
	})

	r.Route("/sessions/{sid}", func(r chi.Router) {
		r.Use(requireSessionID)
		r.Get("/", h.getSession)
		r.Delete("/", h.clearSession)
		r.Post("/items", h.addItem)
		r.Patch("/items/{itemId}", h.updateItem)
		r.Delete("/items/{itemId}", h.removeItem)
		r.Post("/coupon", h.applySessionCoupon)
		r.Delete("/coupon", h.removeSessionCoupon)
		r.Put("/customer", h.setCustomer)
		r.Post("/otp/send", h.sendSessionOTP)
		r.Post("/otp/verify", h.verifySessionOTP)
		r.Post("/checkout", h.beginCheckout)
		r.Post("/checkout/complete", h.completeCheckout)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

// envelope is the common response shape. Handlers embed it in their
// responses; errors use Error, informational replies use Message.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Error: msg})
}

// writeFailure reports an error under "message", the shape the OTP and
// payment endpoints use.
func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Message: msg})
}

// internalError logs err and answers 500 with msg.
func internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	logError(r, msg, err)
	writeError(w, http.StatusInternalServerError, msg)
}

func logError(r *http.Request, msg string, err error) {
	lg := zctx.From(r.Context())
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		lg = lg.With(zap.String("route", rctx.RoutePattern()))
	}
	lg.Error(msg, zap.Error(err))
}

// decode reads a JSON body into v. It answers 400 and returns false on
// malformed input.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

// money renders an amount as a bare JSON number.
func money(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}
