package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of an order's payment.
type PaymentStatus string

const (
	StatusPending  PaymentStatus = "pending"
	StatusPaid     PaymentStatus = "paid"
	StatusFailed   PaymentStatus = "failed"
	StatusRefunded PaymentStatus = "refunded"
)

var validNext = map[PaymentStatus]map[PaymentStatus]bool{
	StatusPending:  {StatusPaid: true, StatusFailed: true},
	StatusFailed:   {StatusPending: true, StatusPaid: true},
	StatusPaid:     {StatusRefunded: true},
	StatusRefunded: {},
}

// Valid reports whether s is a known status.
func (s PaymentStatus) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to PaymentStatus) bool {
	return validNext[from][to]
}

var (
	// ErrNotFound is returned when no order matches the given id or key.
	ErrNotFound = errors.New("cart not found")
	// ErrInvalidID is returned for ids that are not UUIDs.
	ErrInvalidID = errors.New("invalid cart ID format")
	// ErrRequiredFields is returned when email, phone or items are missing.
	ErrRequiredFields = errors.New("required fields missing")
	// ErrInvalidPhone is returned when the phone does not carry ten digits.
	ErrInvalidPhone = errors.New("phone number must be exactly 10 digits")
	// ErrDuplicateIdempotencyKey is returned by Repository.Create when an
	// order with the same idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	// ErrPaymentMismatch is returned when a payment was not made for the
	// gateway order attached to the cart, or already settled another cart.
	ErrPaymentMismatch = errors.New("payment does not match cart")
	// ErrAmountMismatch is returned when a gateway order is requested for an
	// amount other than the cart's final total.
	ErrAmountMismatch = errors.New("amount does not match cart total")
)

// InvalidItemError reports a line item that cannot be ordered.
type InvalidItemError struct {
	ProgramID string
	Reason    string
}

func (e *InvalidItemError) Error() string {
	return fmt.Sprintf("item %s: %s", e.ProgramID, e.Reason)
}

// TransitionError is returned when a status change is not allowed.
type TransitionError struct {
	From PaymentStatus
	To   PaymentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot change payment status from %s to %s", e.From, e.To)
}

// Item is a single program line in an order.
type Item struct {
	ProgramID string          `json:"programId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// Order is a persisted cart submitted at checkout.
type Order struct {
	ID            string
	Email         string
	Phone         string
	Name          string
	City          string
	CouponCode    string
	PaymentStatus PaymentStatus
	EmailVerified bool
	Items         []Item
	// TotalAmount is the pre-discount subtotal.
	TotalAmount decimal.Decimal
	Discount    decimal.Decimal

	GatewayOrderID   string
	GatewayPaymentID string
	PaidAt           *time.Time

	IdempotencyKey string
	RemindedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FinalTotal is the amount charged.
func (o *Order) FinalTotal() decimal.Decimal {
	t := o.TotalAmount.Sub(o.Discount)
	if t.IsNegative() {
		return decimal.Zero
	}
	return t
}

// AmountMinor is FinalTotal in minor units (paise).
func (o *Order) AmountMinor() int64 {
	return o.FinalTotal().Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// Payment records a verified gateway payment.
type Payment struct {
	GatewayOrderID   string
	GatewayPaymentID string
	PaidAt           time.Time
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	List(ctx context.Context) ([]Order, error)
	SetGatewayOrder(ctx context.Context, id, gatewayOrderID string, at time.Time) error
	// MarkPaid returns ErrPaymentMismatch when the order no longer carries
	// the payment's gateway order or the payment id is recorded on another
	// order.
	MarkPaid(ctx context.Context, id string, p Payment) error
	UpdateStatus(ctx context.Context, id string, status PaymentStatus, at time.Time) error
	LatestPaidByEmail(ctx context.Context, email string) (*Order, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]Order, error)
	MarkReminded(ctx context.Context, id string, at time.Time) error
}
