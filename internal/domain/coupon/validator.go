package coupon

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Quote is the result of checking a coupon against a subtotal.
type Quote struct {
	Coupon     *Coupon
	Discount   decimal.Decimal
	FinalTotal decimal.Decimal
}

// Validator validates a coupon code against a cart subtotal and returns the
// computed discount.
type Validator interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal) (*Quote, error)
}

// RepoValidator implements Validator by looking up coupons from a Repository
// and applying them via Apply. It never mutates the coupon.
type RepoValidator struct {
	repo Repository
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo}
}

// Validate looks up the coupon for code and applies it to subtotal.
func (v *RepoValidator) Validate(ctx context.Context, code string, subtotal decimal.Decimal) (*Quote, error) {
	c, err := v.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	discount, err := Apply(c, subtotal)
	if err != nil {
		return nil, err
	}

	return &Quote{
		Coupon:     c,
		Discount:   discount,
		FinalTotal: FinalTotal(subtotal, discount),
	}, nil
}
