package coupon

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Compute returns the discount a coupon grants on subtotal. A nil coupon
// grants nothing. Fixed discounts are capped at the subtotal; percentage
// discounts are rounded to whole rupees, half away from zero.
func Compute(c *Coupon, subtotal decimal.Decimal) decimal.Decimal {
	if c == nil {
		return decimal.Zero
	}
	raw := rawAmount(c, subtotal)
	if c.DiscountType == DiscountFixed {
		raw = decimal.Min(raw, subtotal)
	}
	return floorAtZero(raw)
}

// Apply is the checkout guard around Compute. It rejects the coupon with
// ErrDiscountExceedsTotal when its unclamped discount is larger than the
// subtotal, for every discount type.
func Apply(c *Coupon, subtotal decimal.Decimal) (decimal.Decimal, error) {
	if c == nil {
		return decimal.Zero, nil
	}
	if rawAmount(c, subtotal).GreaterThan(subtotal) {
		return decimal.Zero, ErrDiscountExceedsTotal
	}
	return Compute(c, subtotal), nil
}

// FinalTotal returns subtotal minus discount, never negative.
func FinalTotal(subtotal, discount decimal.Decimal) decimal.Decimal {
	return floorAtZero(subtotal.Sub(discount))
}

func rawAmount(c *Coupon, subtotal decimal.Decimal) decimal.Decimal {
	switch c.DiscountType {
	case DiscountFixed:
		return c.Discount
	default:
		return subtotal.Mul(c.Discount).Div(hundred).Round(0)
	}
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
