// Package checkout drives a cart session through contact validation, the
// email verification gate, order persistence and payment confirmation.
package checkout

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/conscious-checkout/internal/domain/cart"
	"github.com/xenking/conscious-checkout/internal/domain/contact"
	"github.com/xenking/conscious-checkout/internal/domain/coupon"
	"github.com/xenking/conscious-checkout/internal/domain/order"
	"github.com/xenking/conscious-checkout/internal/domain/program"
	"github.com/xenking/conscious-checkout/internal/payment/razorpay"
)

var (
	// ErrEmailNotVerified is returned by Begin before the OTP gate was passed.
	ErrEmailNotVerified = errors.New("please verify your email before proceeding to checkout")
	// ErrEmptyCart is returned by Begin for a session without items.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrSignatureMismatch is returned by Complete when the payment
	// signature does not verify or the payment was made for another cart.
	ErrSignatureMismatch = errors.New("payment verification failed")
)

// ValidationError carries a message per invalid contact field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return "invalid contact: " + strings.Join(parts, "; ")
}

// Orders persists and settles orders.
type Orders interface {
	Create(ctx context.Context, req order.CreateRequest) (*order.CreateResult, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	AttachGatewayOrder(ctx context.Context, id, gatewayOrderID string) (*order.Order, error)
	MarkPaid(ctx context.Context, id, gatewayOrderID, gatewayPaymentID string) (*order.Order, error)
	RejectPayment(ctx context.Context, id, gatewayOrderID, gatewayPaymentID, reason string)
}

// Gateway creates payment orders and verifies callbacks.
type Gateway interface {
	KeyID() string
	Currency() string
	CreateOrder(ctx context.Context, amount int64, notes map[string]string) (*razorpay.Order, error)
	VerifySignature(orderID, paymentID, signature string) bool
}

// Catalog looks up programs.
type Catalog interface {
	GetByID(ctx context.Context, id string) (*program.Program, error)
}

// Coupons looks up coupons by code.
type Coupons interface {
	FindByCode(ctx context.Context, code string) (*coupon.Coupon, error)
}

// Verifier is the OTP gate.
type Verifier interface {
	Send(ctx context.Context, email, name string) error
	Verify(ctx context.Context, email, code string) error
}

// Prefill is handed to the payment widget.
type Prefill struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Contact string `json:"contact"`
}

// Pending is everything the client needs to open the payment widget.
type Pending struct {
	KeyID          string            `json:"key"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	GatewayOrderID string            `json:"orderId"`
	CartID         string            `json:"cartId"`
	Subtotal       decimal.Decimal   `json:"subtotal"`
	Discount       decimal.Decimal   `json:"discount"`
	FinalTotal     decimal.Decimal   `json:"finalTotal"`
	Prefill        Prefill           `json:"prefill"`
	Notes          map[string]string `json:"notes"`
}

// BeginOptions tunes Begin.
type BeginOptions struct {
	IdempotencyKey string
}

// Callback is what the payment widget returns after a payment.
type Callback struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	CartID           string
}

// Receipt is the outcome of a verified payment. Order is nil when the
// callback named no cart or the cart no longer exists.
type Receipt struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Order            *order.Order
}

// Orchestrator runs checkout.
type Orchestrator struct {
	orders  Orders
	gateway Gateway
	catalog Catalog
	coupons Coupons
	otp     Verifier
	metrics *Metrics
	tracer  trace.Tracer
}

// Deps groups the Orchestrator dependencies.
type Deps struct {
	Orders  Orders
	Gateway Gateway
	Catalog Catalog
	Coupons Coupons
	OTP     Verifier
	Metrics *Metrics
	Tracer  trace.TracerProvider
}

// New creates an Orchestrator.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		orders:  d.Orders,
		gateway: d.Gateway,
		catalog: d.Catalog,
		coupons: d.Coupons,
		otp:     d.OTP,
		metrics: d.Metrics,
		tracer:  d.Tracer.Tracer(instrumentationName),
	}
}

// Begin validates the session, stores a pending order and opens a gateway
// order for the discounted total.
func (o *Orchestrator) Begin(ctx context.Context, sess *cart.Session, opts BeginOptions) (_ *Pending, rerr error) {
	ctx, span := o.tracer.Start(ctx, "checkout.Begin",
		trace.WithAttributes(attribute.String("session.id", sess.ID)))
	defer func() { endSpan(span, rerr) }()

	if fields := contact.Validate(sess.Customer); fields != nil {
		return nil, &ValidationError{Fields: fields}
	}
	if !sess.EmailVerified {
		return nil, ErrEmailNotVerified
	}
	if len(sess.Items) == 0 {
		return nil, ErrEmptyCart
	}

	items := make([]order.Item, len(sess.Items))
	for i, it := range sess.Items {
		items[i] = order.Item{
			ProgramID: it.ID,
			Name:      it.Name,
			Price:     it.Price,
			Quantity:  it.Quantity,
		}
	}

	res, err := o.orders.Create(ctx, order.CreateRequest{
		Contact: contact.Info{
			Name:  strings.TrimSpace(sess.Customer.Name),
			Email: strings.TrimSpace(sess.Customer.Email),
			Phone: contact.NormalizePhone(sess.Customer.Phone),
			City:  strings.TrimSpace(sess.Customer.City),
		},
		CouponCode:     sess.CouponCode(),
		Items:          items,
		EmailVerified:  true,
		IdempotencyKey: opts.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	ord := res.Order
	if !res.Existed {
		o.metrics.orderCreated(ctx, ord.CouponCode != "")
	}
	span.SetAttributes(attribute.String("order.id", ord.ID))

	final := ord.FinalTotal()
	notes := map[string]string{"cartId": ord.ID}

	gw, err := o.gateway.CreateOrder(ctx, ord.AmountMinor(), notes)
	if err != nil {
		return nil, err
	}
	if _, err := o.orders.AttachGatewayOrder(ctx, ord.ID, gw.ID); err != nil {
		return nil, err
	}

	return &Pending{
		KeyID:          o.gateway.KeyID(),
		Amount:         gw.Amount,
		Currency:       gw.Currency,
		GatewayOrderID: gw.ID,
		CartID:         ord.ID,
		Subtotal:       ord.TotalAmount,
		Discount:       ord.Discount,
		FinalTotal:     final,
		Prefill: Prefill{
			Name:    ord.Name,
			Email:   ord.Email,
			Contact: ord.Phone,
		},
		Notes: notes,
	}, nil
}

// Complete verifies a payment callback. On success the order is marked paid
// and the session, when given, is reset. A payment only settles the order it
// was opened for. A missing order is logged but does not fail the payment,
// since the customer has been charged.
func (o *Orchestrator) Complete(ctx context.Context, sess *cart.Session, cb Callback) (_ *Receipt, rerr error) {
	ctx, span := o.tracer.Start(ctx, "checkout.Complete",
		trace.WithAttributes(
			attribute.String("gateway.order_id", cb.GatewayOrderID),
			attribute.String("order.id", cb.CartID),
		))
	defer func() { endSpan(span, rerr) }()

	if !o.gateway.VerifySignature(cb.GatewayOrderID, cb.GatewayPaymentID, cb.Signature) {
		return nil, o.reject(ctx, cb, "signature mismatch", ErrSignatureMismatch)
	}

	receipt := &Receipt{
		GatewayOrderID:   cb.GatewayOrderID,
		GatewayPaymentID: cb.GatewayPaymentID,
	}

	if cb.CartID != "" {
		ord, err := o.orders.MarkPaid(ctx, cb.CartID, cb.GatewayOrderID, cb.GatewayPaymentID)
		switch {
		case err == nil:
			receipt.Order = ord
		case errors.Is(err, order.ErrPaymentMismatch):
			return nil, o.reject(ctx, cb, "payment does not match cart",
				fmt.Errorf("%w: %w", ErrSignatureMismatch, err))
		case errors.Is(err, order.ErrNotFound), errors.Is(err, order.ErrInvalidID):
			zctx.From(ctx).Error("Cart not found during payment verification",
				zap.String("cart_id", cb.CartID),
				zap.String("payment_id", cb.GatewayPaymentID),
			)
		default:
			return nil, fmt.Errorf("mark cart %s paid: %w", cb.CartID, err)
		}
	}
	o.metrics.paymentVerified(ctx)

	if sess != nil {
		sess.Reset()
	}
	return receipt, nil
}

func (o *Orchestrator) reject(ctx context.Context, cb Callback, reason string, err error) error {
	o.metrics.paymentRejected(ctx)
	if cb.CartID != "" {
		o.orders.RejectPayment(ctx, cb.CartID, cb.GatewayOrderID, cb.GatewayPaymentID, reason)
	}
	return err
}

// CreateGatewayOrder opens a gateway order for a client-computed amount.
// An empty cartID is recorded as a direct purchase. For a stored cart the
// amount must equal the cart's final total, and the gateway order is
// attached to the cart.
func (o *Orchestrator) CreateGatewayOrder(ctx context.Context, amount int64, cartID string) (_ *razorpay.Order, rerr error) {
	ctx, span := o.tracer.Start(ctx, "checkout.CreateGatewayOrder")
	defer func() { endSpan(span, rerr) }()

	if cartID == "" || cartID == razorpay.DirectPurchase {
		return o.gateway.CreateOrder(ctx, amount, map[string]string{"cartId": razorpay.DirectPurchase})
	}

	ord, err := o.orders.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if !order.CanTransition(ord.PaymentStatus, order.StatusPaid) {
		return nil, &order.TransitionError{From: ord.PaymentStatus, To: order.StatusPaid}
	}
	if want := ord.AmountMinor(); amount != want {
		return nil, fmt.Errorf("%w: got %d, want %d", order.ErrAmountMismatch, amount, want)
	}

	gw, err := o.gateway.CreateOrder(ctx, amount, map[string]string{"cartId": ord.ID})
	if err != nil {
		return nil, err
	}
	if _, err := o.orders.AttachGatewayOrder(ctx, ord.ID, gw.ID); err != nil {
		return nil, err
	}
	return gw, nil
}

// BuyNow adds a catalog program to whatever cart adder represents.
func (o *Orchestrator) BuyNow(ctx context.Context, adder cart.ItemAdder, programID string) (*program.Program, error) {
	p, err := o.catalog.GetByID(ctx, programID)
	if err != nil {
		return nil, err
	}
	adder.Add(cart.Item{
		ID:       p.ID,
		Name:     p.Name,
		Price:    p.Price,
		ImageURL: p.ImageURL,
	})
	return p, nil
}

// ApplyCoupon looks up code and applies it to the session. Lookup and policy
// failures are recorded in the session's CouponError and returned.
func (o *Orchestrator) ApplyCoupon(ctx context.Context, sess *cart.Session, code string) error {
	code = coupon.NormalizeCode(code)
	if code == "" {
		sess.RejectCoupon(cart.MsgCouponRequired)
		return coupon.ErrNotFound
	}

	c, err := o.coupons.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			sess.RejectCoupon(cart.MsgCouponInvalid)
		}
		return err
	}
	return sess.ApplyCoupon(c)
}

// SendCode sends a verification code to the session's email.
func (o *Orchestrator) SendCode(ctx context.Context, sess *cart.Session) error {
	err := o.otp.Send(ctx, sess.Customer.Email, sess.Customer.Name)
	o.metrics.codeSent(ctx, err)
	return err
}

// VerifyCode checks code for the session's email and marks it verified.
func (o *Orchestrator) VerifyCode(ctx context.Context, sess *cart.Session, code string) error {
	err := o.otp.Verify(ctx, sess.Customer.Email, code)
	o.metrics.codeVerified(ctx, err)
	if err != nil {
		return err
	}
	sess.MarkEmailVerified(sess.Customer.Email)
	return nil
}

// SendStandalone sends a code without a session.
func (o *Orchestrator) SendStandalone(ctx context.Context, email, name string) error {
	err := o.otp.Send(ctx, email, name)
	o.metrics.codeSent(ctx, err)
	return err
}

// VerifyStandalone verifies a code without a session.
func (o *Orchestrator) VerifyStandalone(ctx context.Context, email, code string) error {
	err := o.otp.Verify(ctx, email, code)
	o.metrics.codeVerified(ctx, err)
	return err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
