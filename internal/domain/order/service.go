package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/conscious-checkout/internal/domain/contact"
	"github.com/xenking/conscious-checkout/internal/domain/coupon"
	"github.com/xenking/conscious-checkout/internal/events"
)

// CreateRequest holds the input for recording a checkout cart.
type CreateRequest struct {
	Contact        contact.Info
	CouponCode     string
	Items          []Item
	EmailVerified  bool
	IdempotencyKey string
}

// CreateResult holds the stored order. Existed is set when the idempotency
// key matched an order created earlier.
type CreateResult struct {
	Order   *Order
	Existed bool
}

// Service encapsulates order business logic.
type Service struct {
	orders  Repository
	coupons coupon.Validator
	events  events.Publisher
	now     func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(orders Repository, coupons coupon.Validator, pub events.Publisher) *Service {
	return &Service{
		orders:  orders,
		coupons: coupons,
		events:  pub,
		now:     time.Now,
	}
}

// Create validates the request, prices it and stores a pending order.
// TotalAmount is the sum of the line items at the prices given in req and
// the discount comes from the coupon. Client totals are not read.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	email := strings.TrimSpace(req.Contact.Email)
	phone := strings.TrimSpace(req.Contact.Phone)
	if email == "" || phone == "" || len(req.Items) == 0 {
		return nil, ErrRequiredFields
	}
	if !contact.ValidPhone(phone) {
		return nil, ErrInvalidPhone
	}

	items, subtotal, err := normalizeItems(req.Items)
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.orders.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		switch {
		case err == nil:
			return &CreateResult{Order: existing, Existed: true}, nil
		case !errors.Is(err, ErrNotFound):
			return nil, fmt.Errorf("lookup idempotency key: %w", err)
		}
	}

	code := coupon.NormalizeCode(req.CouponCode)
	discount := decimal.Zero
	if code != "" {
		quote, err := s.coupons.Validate(ctx, code, subtotal)
		if err != nil {
			return nil, fmt.Errorf("validate coupon: %w", err)
		}
		discount = quote.Discount
	}

	now := s.now()
	o := &Order{
		ID:             uuid.New().String(),
		Email:          email,
		Phone:          phone,
		Name:           strings.TrimSpace(req.Contact.Name),
		City:           strings.TrimSpace(req.Contact.City),
		CouponCode:     code,
		PaymentStatus:  StatusPending,
		EmailVerified:  req.EmailVerified,
		Items:          items,
		TotalAmount:    subtotal,
		Discount:       discount,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.orders.Create(ctx, o); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			existing, ferr := s.orders.FindByIdempotencyKey(ctx, req.IdempotencyKey)
			if ferr != nil {
				return nil, fmt.Errorf("lookup idempotency key: %w", ferr)
			}
			return &CreateResult{Order: existing, Existed: true}, nil
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.publish(ctx, events.OrderCreated, o, "")
	return &CreateResult{Order: o}, nil
}

// Get returns an order by id.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	return s.orders.GetByID(ctx, id)
}

// List returns every order, newest first.
func (s *Service) List(ctx context.Context) ([]Order, error) {
	return s.orders.List(ctx)
}

// AttachGatewayOrder records the gateway order opened to pay for the order.
// Only that gateway order can settle it afterwards.
func (s *Service) AttachGatewayOrder(ctx context.Context, id, gatewayOrderID string) (*Order, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.PaymentStatus, StatusPaid) {
		return nil, &TransitionError{From: o.PaymentStatus, To: StatusPaid}
	}

	now := s.now()
	if err := s.orders.SetGatewayOrder(ctx, id, gatewayOrderID, now); err != nil {
		return nil, fmt.Errorf("attach gateway order: %w", err)
	}
	o.GatewayOrderID = gatewayOrderID
	o.UpdatedAt = now
	return o, nil
}

// MarkPaid records a verified payment. The payment must belong to the
// gateway order attached to the order. Marking an already paid order again
// with the same payment is a no-op so that concurrent verifications converge.
func (s *Service) MarkPaid(ctx context.Context, id string, gatewayOrderID, gatewayPaymentID string) (*Order, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.GatewayOrderID == "" || o.GatewayOrderID != gatewayOrderID {
		return nil, ErrPaymentMismatch
	}
	if o.PaymentStatus == StatusPaid {
		if o.GatewayPaymentID != gatewayPaymentID {
			return nil, ErrPaymentMismatch
		}
		return o, nil
	}
	if !CanTransition(o.PaymentStatus, StatusPaid) {
		return nil, &TransitionError{From: o.PaymentStatus, To: StatusPaid}
	}

	p := Payment{
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: gatewayPaymentID,
		PaidAt:           s.now(),
	}
	if err := s.orders.MarkPaid(ctx, id, p); err != nil {
		if errors.Is(err, ErrPaymentMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("mark order paid: %w", err)
	}

	o.PaymentStatus = StatusPaid
	o.GatewayOrderID = p.GatewayOrderID
	o.GatewayPaymentID = p.GatewayPaymentID
	o.PaidAt = &p.PaidAt
	o.UpdatedAt = p.PaidAt

	s.publish(ctx, events.OrderPaid, o, "")
	return o, nil
}

// RejectPayment reports a payment callback that failed verification. The
// order itself stays pending.
func (s *Service) RejectPayment(ctx context.Context, id, gatewayOrderID, gatewayPaymentID, reason string) {
	o, err := s.Get(ctx, id)
	if err != nil {
		o = &Order{ID: id}
	}
	o.GatewayOrderID = gatewayOrderID
	o.GatewayPaymentID = gatewayPaymentID
	s.publish(ctx, events.PaymentRejected, o, reason)
}

// UpdateStatus changes the payment status on behalf of an administrator.
func (s *Service) UpdateStatus(ctx context.Context, id string, status PaymentStatus) (*Order, error) {
	if !status.Valid() {
		return nil, &TransitionError{To: status}
	}
	if err := checkID(id); err != nil {
		return nil, err
	}

	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus == status {
		return o, nil
	}
	if !CanTransition(o.PaymentStatus, status) {
		return nil, &TransitionError{From: o.PaymentStatus, To: status}
	}

	now := s.now()
	if err := s.orders.UpdateStatus(ctx, id, status, now); err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	o.PaymentStatus = status
	o.UpdatedAt = now
	return o, nil
}

// LatestContact returns the contact details of the most recent paid order
// placed with email. It returns ErrNotFound when there is none.
func (s *Service) LatestContact(ctx context.Context, email string) (*contact.Info, error) {
	o, err := s.orders.LatestPaidByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}
	return &contact.Info{
		Name:  o.Name,
		Email: o.Email,
		Phone: o.Phone,
		City:  o.City,
	}, nil
}

func (s *Service) publish(ctx context.Context, t events.Type, o *Order, reason string) {
	ev := events.New(t, s.now(), events.OrderPayload{
		OrderID:          o.ID,
		Email:            o.Email,
		Status:           string(o.PaymentStatus),
		TotalAmount:      o.TotalAmount,
		Discount:         o.Discount,
		CouponCode:       o.CouponCode,
		GatewayOrderID:   o.GatewayOrderID,
		GatewayPaymentID: o.GatewayPaymentID,
		Reason:           reason,
	})
	if err := s.events.Publish(ctx, ev); err != nil {
		zctx.From(ctx).Warn("Publish event",
			zap.String("type", string(t)),
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
}

func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidID
	}
	return nil
}

// normalizeItems defaults missing quantities to one and returns the
// pre-discount subtotal.
func normalizeItems(in []Item) ([]Item, decimal.Decimal, error) {
	items := make([]Item, len(in))
	subtotal := decimal.Zero
	for i, it := range in {
		if it.Quantity == 0 {
			it.Quantity = 1
		}
		if it.Quantity < 0 {
			return nil, decimal.Zero, &InvalidItemError{ProgramID: it.ProgramID, Reason: "quantity must be at least 1"}
		}
		if it.Price.IsNegative() {
			return nil, decimal.Zero, &InvalidItemError{ProgramID: it.ProgramID, Reason: "price must not be negative"}
		}
		items[i] = it
		subtotal = subtotal.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return items, subtotal, nil
}
