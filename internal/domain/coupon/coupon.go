package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the subtotal, rounded to whole rupees.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a flat amount off the subtotal.
	DiscountFixed DiscountType = "fixed"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixed
}

// MaxFixedDiscount caps the value an administrator may set on a fixed coupon.
var MaxFixedDiscount = decimal.NewFromInt(100_000)

var (
	// ErrNotFound is returned when no coupon matches the given code or id.
	ErrNotFound = errors.New("invalid coupon code")
	// ErrDuplicateCode is returned when creating a coupon whose code is taken.
	ErrDuplicateCode = errors.New("a coupon with this code already exists")
	// ErrDiscountExceedsTotal is returned when a coupon would take off more
	// than the cart is worth.
	ErrDiscountExceedsTotal = errors.New("discount exceeds cart total")
)

// BankDetails holds the payout account of a coupon owner.
type BankDetails struct {
	AccountNumber string `json:"accountNumber"`
	IFSCCode      string `json:"ifscCode"`
}

// IsZero reports whether no bank details were provided.
func (b BankDetails) IsZero() bool {
	return b.AccountNumber == "" && b.IFSCCode == ""
}

// Coupon is a named discount rule owned by a referral partner.
type Coupon struct {
	ID           string
	Code         string
	DiscountType DiscountType
	Discount     decimal.Decimal
	OwnerName    string
	City         string
	Phone        string
	InstagramID  string
	BankDetails  BankDetails
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NormalizeCode uppercases and trims a coupon code. Codes are stored and
// compared in this form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository provides persistence of coupons.
type Repository interface {
	List(ctx context.Context) ([]Coupon, error)
	GetByID(ctx context.Context, id string) (*Coupon, error)
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	Create(ctx context.Context, c *Coupon) error
	Update(ctx context.Context, c *Coupon) error
	Delete(ctx context.Context, id string) error
}
