package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/conscious-checkout/internal/domain/contact"
)

// InvalidInputError reports an administrator input that cannot be stored.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return e.Reason
}

// Input holds the editable fields of a coupon.
type Input struct {
	Code         string
	DiscountType DiscountType
	Discount     decimal.Decimal
	OwnerName    string
	City         string
	Phone        string
	InstagramID  string
	BankDetails  BankDetails
}

// Service implements coupon administration on top of a Repository.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a coupon Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// List returns every coupon, newest first.
func (s *Service) List(ctx context.Context) ([]Coupon, error) {
	return s.repo.List(ctx)
}

// Get returns a coupon by id.
func (s *Service) Get(ctx context.Context, id string) (*Coupon, error) {
	return s.repo.GetByID(ctx, id)
}

// Create validates in and stores a new coupon.
func (s *Service) Create(ctx context.Context, in Input) (*Coupon, error) {
	c, err := NewCoupon(in, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create coupon: %w", err)
	}
	return c, nil
}

// NewCoupon validates in and builds a coupon with a fresh id. The code is
// uppercased and the discount type defaults to percentage.
func NewCoupon(in Input, now time.Time) (*Coupon, error) {
	const required = "Coupon code, discount percentage, name, city, and phone are required"

	in.Code = NormalizeCode(in.Code)
	if in.Code == "" {
		return nil, &InvalidInputError{Reason: required}
	}
	if err := validateInput(&in, required); err != nil {
		return nil, err
	}

	c := &Coupon{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	in.applyTo(c)
	return c, nil
}

// Update replaces the editable fields of an existing coupon. The code and
// bank details are only changed when given.
func (s *Service) Update(ctx context.Context, id string, in Input) (*Coupon, error) {
	if err := validateInput(&in, "Discount percentage, name, city, and phone are required"); err != nil {
		return nil, err
	}

	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	in.Code = NormalizeCode(in.Code)
	if in.Code == "" {
		in.Code = c.Code
	}
	if in.BankDetails.IsZero() {
		in.BankDetails = c.BankDetails
	}
	in.applyTo(c)
	c.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("update coupon: %w", err)
	}
	return c, nil
}

// Delete removes a coupon. Orders that reference its code keep the code.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

func validateInput(in *Input, requiredMsg string) error {
	in.OwnerName = strings.TrimSpace(in.OwnerName)
	in.City = strings.TrimSpace(in.City)
	in.Phone = strings.TrimSpace(in.Phone)

	if in.Discount.IsZero() || in.OwnerName == "" || in.City == "" || in.Phone == "" {
		return &InvalidInputError{Reason: requiredMsg}
	}
	if in.DiscountType == "" {
		in.DiscountType = DiscountPercentage
	}
	if !in.DiscountType.Valid() {
		return &InvalidInputError{Reason: fmt.Sprintf("unsupported discount type %q", in.DiscountType)}
	}
	if in.Discount.IsNegative() {
		return &InvalidInputError{Reason: "Discount must be positive"}
	}
	if in.DiscountType == DiscountPercentage && in.Discount.GreaterThan(hundred) {
		return &InvalidInputError{Reason: "Percentage discount cannot exceed 100"}
	}
	if in.DiscountType == DiscountFixed && in.Discount.GreaterThan(MaxFixedDiscount) {
		return &InvalidInputError{Reason: fmt.Sprintf("Fixed discount cannot exceed %s", MaxFixedDiscount)}
	}
	if !contact.ValidPhone(in.Phone) {
		return &InvalidInputError{Reason: "Phone number must be exactly 10 digits"}
	}
	in.Phone = contact.NormalizePhone(in.Phone)
	return nil
}

func (in Input) applyTo(c *Coupon) {
	c.Code = in.Code
	c.DiscountType = in.DiscountType
	c.Discount = in.Discount
	c.OwnerName = in.OwnerName
	c.City = in.City
	c.Phone = in.Phone
	c.InstagramID = strings.TrimSpace(in.InstagramID)
	c.BankDetails = in.BankDetails
}
