// Package cart holds the per-visitor cart session: items, contact details,
// the applied coupon and the email verification flag.
package cart

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/conscious-checkout/internal/domain/contact"
	"github.com/xenking/conscious-checkout/internal/domain/coupon"
)

// Messages stored in Session.CouponError.
const (
	MsgCouponRequired = "Please enter a coupon code"
	MsgCouponInvalid  = "Invalid coupon code"
	MsgCouponTooLarge = "Discount applies only if subtotal exceeds actual price."
	MsgCouponDetached = "Coupon removed: Discount exceeds cart total."
)

// ErrItemNotFound is returned when an item id matches nothing in the cart.
var ErrItemNotFound = errors.New("item not in cart")

// Item is a program placed in the cart.
type Item struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	ImageURL string          `json:"imageUrl,omitempty"`
}

// AppliedCoupon is the snapshot of a coupon taken when it was applied.
type AppliedCoupon struct {
	Code         string              `json:"code"`
	DiscountType coupon.DiscountType `json:"discountType"`
	Discount     decimal.Decimal     `json:"discount"`
}

func (a *AppliedCoupon) coupon() *coupon.Coupon {
	if a == nil {
		return nil
	}
	return &coupon.Coupon{Code: a.Code, DiscountType: a.DiscountType, Discount: a.Discount}
}

// Session is the server-held cart of one visitor.
type Session struct {
	ID            string         `json:"id"`
	Items         []Item         `json:"items"`
	Customer      contact.Info   `json:"customer"`
	Coupon        *AppliedCoupon `json:"appliedCoupon,omitempty"`
	CouponError   string         `json:"couponError,omitempty"`
	EmailVerified bool           `json:"emailVerified"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// New returns an empty session.
func New(id string) *Session {
	return &Session{ID: id, Items: []Item{}}
}

// Add puts item in the cart. An item with the same id or name has its
// quantity bumped instead.
func (s *Session) Add(item Item) {
	if i := s.index(item.ID, item.Name); i >= 0 {
		if s.Items[i].Quantity < 1 {
			s.Items[i].Quantity = 1
		}
		s.Items[i].Quantity++
	} else {
		item.Quantity = 1
		s.Items = append(s.Items, item)
	}
	s.revalidateCoupon()
}

// Remove drops the item whose id or name equals id.
func (s *Session) Remove(id string) error {
	i := s.index(id, id)
	if i < 0 {
		return ErrItemNotFound
	}
	s.Items = append(s.Items[:i], s.Items[i+1:]...)
	s.revalidateCoupon()
	return nil
}

// UpdateQuantity sets the quantity of an item. A quantity of zero or less
// removes it.
func (s *Session) UpdateQuantity(id string, quantity int) error {
	if quantity <= 0 {
		return s.Remove(id)
	}
	i := s.index(id, id)
	if i < 0 {
		return ErrItemNotFound
	}
	s.Items[i].Quantity = quantity
	s.revalidateCoupon()
	return nil
}

// Clear empties the cart.
func (s *Session) Clear() {
	s.Items = []Item{}
	s.revalidateCoupon()
}

func (s *Session) index(id, name string) int {
	for i, it := range s.Items {
		if (id != "" && it.ID == id) || (name != "" && it.Name == name) {
			return i
		}
	}
	return -1
}

// Subtotal is the pre-discount total.
func (s *Session) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range s.Items {
		q := it.Quantity
		if q < 1 {
			q = 1
		}
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(q))))
	}
	return total
}

// ItemCount is the sum of quantities.
func (s *Session) ItemCount() int {
	n := 0
	for _, it := range s.Items {
		n += max(it.Quantity, 1)
	}
	return n
}

// ApplyCoupon replaces the applied coupon with c. When the discount would
// exceed the subtotal the coupon is not applied, CouponError is set and
// the policy error is returned.
func (s *Session) ApplyCoupon(c *coupon.Coupon) error {
	s.Coupon = nil
	s.CouponError = ""

	if _, err := coupon.Apply(c, s.Subtotal()); err != nil {
		if errors.Is(err, coupon.ErrDiscountExceedsTotal) {
			s.CouponError = MsgCouponTooLarge
		} else {
			s.CouponError = err.Error()
		}
		return err
	}

	s.Coupon = &AppliedCoupon{
		Code:         c.Code,
		DiscountType: c.DiscountType,
		Discount:     c.Discount,
	}
	return nil
}

// RejectCoupon clears the applied coupon and records msg.
func (s *Session) RejectCoupon(msg string) {
	s.Coupon = nil
	s.CouponError = msg
}

// RemoveCoupon detaches the applied coupon.
func (s *Session) RemoveCoupon() {
	s.Coupon = nil
	s.CouponError = ""
}

// Discount is the amount taken off by the applied coupon.
func (s *Session) Discount() decimal.Decimal {
	return coupon.Compute(s.Coupon.coupon(), s.Subtotal())
}

// FinalTotal is the amount to charge.
func (s *Session) FinalTotal() decimal.Decimal {
	return coupon.FinalTotal(s.Subtotal(), s.Discount())
}

// CouponCode returns the applied code or "".
func (s *Session) CouponCode() string {
	if s.Coupon == nil {
		return ""
	}
	return s.Coupon.Code
}

// revalidateCoupon detaches a coupon that no longer fits after the items
// changed. An empty cart keeps its coupon until items are added again.
func (s *Session) revalidateCoupon() {
	if s.Coupon == nil || len(s.Items) == 0 {
		return
	}
	if _, err := coupon.Apply(s.Coupon.coupon(), s.Subtotal()); err != nil {
		s.Coupon = nil
		s.CouponError = MsgCouponDetached
	}
}

// SetCustomer replaces the contact details. Changing the email drops the
// verification flag.
func (s *Session) SetCustomer(info contact.Info) {
	if !strings.EqualFold(strings.TrimSpace(info.Email), strings.TrimSpace(s.Customer.Email)) {
		s.EmailVerified = false
	}
	s.Customer = info
}

// MarkEmailVerified sets the verification flag when email is the session's
// current email.
func (s *Session) MarkEmailVerified(email string) bool {
	if contact.NormalizeEmail(email) != contact.NormalizeEmail(s.Customer.Email) {
		return false
	}
	s.EmailVerified = true
	return true
}

// Reset empties the session after a successful payment.
func (s *Session) Reset() {
	s.Items = []Item{}
	s.Coupon = nil
	s.CouponError = ""
	s.Customer = contact.Info{}
	s.EmailVerified = false
}
