package checkout

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/conscious-checkout/internal/domain/cart"
	"github.com/xenking/conscious-checkout/internal/domain/contact"
	"github.com/xenking/conscious-checkout/internal/domain/coupon"
	"github.com/xenking/conscious-checkout/internal/domain/order"
	"github.com/xenking/conscious-checkout/internal/domain/program"
	"github.com/xenking/conscious-checkout/internal/events"
	"github.com/xenking/conscious-checkout/internal/payment/razorpay"
)

const gatewaySecret = "s3cr3t"

// --- Mock implementations ---

type memOrders struct {
	mu     sync.Mutex
	orders map[string]*order.Order
}

func newMemOrders() *memOrders {
	return &memOrders{orders: map[string]*order.Order{}}
}

func (m *memOrders) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memOrders) GetByID(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) FindByIdempotencyKey(_ context.Context, key string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if key != "" && o.IdempotencyKey == key {
			cp := *o
			return &cp, nil
		}
	}
	return nil, order.ErrNotFound
}

func (m *memOrders) List(context.Context) ([]order.Order, error) { return nil, nil }

func (m *memOrders) SetGatewayOrder(_ context.Context, id, gatewayOrderID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.GatewayOrderID = gatewayOrderID
	return nil
}

func (m *memOrders) MarkPaid(_ context.Context, id string, p order.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	for oid, other := range m.orders {
		if oid != id && other.GatewayPaymentID == p.GatewayPaymentID {
			return order.ErrPaymentMismatch
		}
	}
	if o.GatewayOrderID != p.GatewayOrderID {
		return order.ErrPaymentMismatch
	}
	o.PaymentStatus = order.StatusPaid
	o.GatewayOrderID = p.GatewayOrderID
	o.GatewayPaymentID = p.GatewayPaymentID
	o.PaidAt = &p.PaidAt
	return nil
}

func (m *memOrders) UpdateStatus(context.Context, string, order.PaymentStatus, time.Time) error {
	return nil
}

func (m *memOrders) LatestPaidByEmail(context.Context, string) (*order.Order, error) {
	return nil, order.ErrNotFound
}

func (m *memOrders) ListStalePending(context.Context, time.Time, int) ([]order.Order, error) {
	return nil, nil
}

func (m *memOrders) MarkReminded(context.Context, string, time.Time) error { return nil }

type memCoupons struct {
	byCode map[string]*coupon.Coupon
}

func (m *memCoupons) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	c, ok := m.byCode[code]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return c, nil
}

func (m *memCoupons) List(context.Context) ([]coupon.Coupon, error)           { return nil, nil }
func (m *memCoupons) GetByID(context.Context, string) (*coupon.Coupon, error) { return nil, nil }
func (m *memCoupons) Create(context.Context, *coupon.Coupon) error            { return nil }
func (m *memCoupons) Update(context.Context, *coupon.Coupon) error            { return nil }
func (m *memCoupons) Delete(context.Context, string) error                    { return nil }

type fakeGateway struct {
	created []int64
	notes   []map[string]string
	err     error
}

func (g *fakeGateway) KeyID() string    { return "rzp_test_key" }
func (g *fakeGateway) Currency() string { return razorpay.CurrencyINR }

func (g *fakeGateway) CreateOrder(_ context.Context, amount int64, notes map[string]string) (*razorpay.Order, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.created = append(g.created, amount)
	g.notes = append(g.notes, notes)
	id := "order_abc"
	if n := len(g.created); n > 1 {
		id = fmt.Sprintf("order_abc%d", n)
	}
	return &razorpay.Order{
		ID:        id,
		Entity:    "order",
		Amount:    amount,
		AmountDue: amount,
		Currency:  razorpay.CurrencyINR,
		Status:    "created",
		Notes:     notes,
	}, nil
}

func (g *fakeGateway) VerifySignature(orderID, paymentID, signature string) bool {
	return razorpay.VerifySignature(gatewaySecret, orderID, paymentID, signature)
}

type fakeCatalog struct{}

func (fakeCatalog) GetByID(_ context.Context, id string) (*program.Program, error) {
	if id != "inner-stillness" {
		return nil, program.ErrNotFound
	}
	return &program.Program{ID: id, Name: "Inner Stillness", Price: decimal.NewFromInt(5999)}, nil
}

type fakeVerifier struct {
	code string
	sent []string
}

func (v *fakeVerifier) Send(_ context.Context, email, _ string) error {
	v.sent = append(v.sent, email)
	return nil
}

func (v *fakeVerifier) Verify(_ context.Context, _ string, code string) error {
	if code != v.code {
		return errors.New("invalid otp")
	}
	return nil
}

// --- Helpers ---

type fixture struct {
	orch    *Orchestrator
	orders  *memOrders
	gateway *fakeGateway
	otp     *fakeVerifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	orders := newMemOrders()
	coupons := &memCoupons{byCode: map[string]*coupon.Coupon{
		"WELCOME10": {Code: "WELCOME10", DiscountType: coupon.DiscountPercentage, Discount: decimal.NewFromInt(10)},
		"FLAT100":   {Code: "FLAT100", DiscountType: coupon.DiscountFixed, Discount: decimal.NewFromInt(100)},
	}}
	orderSvc := order.NewService(orders, coupon.NewRepoValidator(coupons), events.Discard{})

	metrics, err := NewMetrics(metricnoop.NewMeterProvider())
	require.NoError(t, err)

	gw := &fakeGateway{}
	otp := &fakeVerifier{code: "123456"}
	return &fixture{
		orch: New(Deps{
			Orders:  orderSvc,
			Gateway: gw,
			Catalog: fakeCatalog{},
			Coupons: coupons,
			OTP:     otp,
			Metrics: metrics,
			Tracer:  tracenoop.NewTracerProvider(),
		}),
		orders:  orders,
		gateway: gw,
		otp:     otp,
	}
}

func readySession() *cart.Session {
	s := cart.New("sess-1")
	s.SetCustomer(contact.Info{
		Name:  "Asha",
		Email: "asha@example.com",
		Phone: "98765-43210",
		City:  "Pune",
	})
	return s
}

// --- Tests ---

func TestCheckout_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := readySession()

	_, err := f.orch.BuyNow(ctx, sess, "inner-stillness")
	require.NoError(t, err)
	require.NoError(t, f.orch.ApplyCoupon(ctx, sess, "welcome10"))

	require.NoError(t, f.orch.SendCode(ctx, sess))
	require.NoError(t, f.orch.VerifyCode(ctx, sess, "123456"))
	require.True(t, sess.EmailVerified)

	pending, err := f.orch.Begin(ctx, sess, BeginOptions{})
	require.NoError(t, err)

	assert.Equal(t, "rzp_test_key", pending.KeyID)
	assert.Equal(t, int64(539900), pending.Amount)
	assert.Equal(t, "INR", pending.Currency)
	assert.Equal(t, "order_abc", pending.GatewayOrderID)
	assert.Equal(t, "9876543210", pending.Prefill.Contact)
	assert.Equal(t, pending.CartID, pending.Notes["cartId"])

	stored, err := f.orders.GetByID(ctx, pending.CartID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, stored.PaymentStatus)
	assert.True(t, stored.TotalAmount.Equal(decimal.NewFromInt(5999)))
	assert.True(t, stored.Discount.Equal(decimal.NewFromInt(600)))
	assert.Equal(t, "WELCOME10", stored.CouponCode)

	receipt, err := f.orch.Complete(ctx, sess, Callback{
		GatewayOrderID:   "order_abc",
		GatewayPaymentID: "pay_xyz",
		Signature:        razorpay.Sign(gatewaySecret, "order_abc", "pay_xyz"),
		CartID:           pending.CartID,
	})
	require.NoError(t, err)
	require.NotNil(t, receipt.Order)
	assert.Equal(t, order.StatusPaid, receipt.Order.PaymentStatus)

	stored, err = f.orders.GetByID(ctx, pending.CartID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, stored.PaymentStatus)
	assert.Equal(t, "pay_xyz", stored.GatewayPaymentID)
	require.NotNil(t, stored.PaidAt)

	assert.Empty(t, sess.Items)
	assert.Nil(t, sess.Coupon)
	assert.False(t, sess.EmailVerified)
}

func TestCheckout_BeginRequiresVerifiedEmail(t *testing.T) {
	f := newFixture(t)
	sess := readySession()
	sess.Add(cart.Item{ID: "a", Name: "A", Price: decimal.NewFromInt(100)})

	_, err := f.orch.Begin(context.Background(), sess, BeginOptions{})
	require.ErrorIs(t, err, ErrEmailNotVerified)
	assert.Empty(t, f.orders.orders)
	assert.Empty(t, f.gateway.created)
}

func TestCheckout_BeginValidatesContact(t *testing.T) {
	f := newFixture(t)
	sess := cart.New("s")
	sess.SetCustomer(contact.Info{Name: "Asha", Email: "not-an-email", Phone: "12345"})
	sess.EmailVerified = true
	sess.Add(cart.Item{ID: "a", Name: "A", Price: decimal.NewFromInt(100)})

	_, err := f.orch.Begin(context.Background(), sess, BeginOptions{})

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, map[string]string{
		"email": "Email is invalid",
		"phone": "Phone number must be 10 digits",
		"city":  "City is required",
	}, vErr.Fields)
}

func TestCheckout_BeginEmptyCart(t *testing.T) {
	f := newFixture(t)
	sess := readySession()
	sess.EmailVerified = true

	_, err := f.orch.Begin(context.Background(), sess, BeginOptions{})
	require.ErrorIs(t, err, ErrEmptyCart)
}

func TestCheckout_BeginIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := readySession()
	sess.EmailVerified = true
	sess.Add(cart.Item{ID: "a", Name: "A", Price: decimal.NewFromInt(100)})

	first, err := f.orch.Begin(ctx, sess, BeginOptions{IdempotencyKey: "k1"})
	require.NoError(t, err)
	second, err := f.orch.Begin(ctx, sess, BeginOptions{IdempotencyKey: "k1"})
	require.NoError(t, err)

	assert.Equal(t, first.CartID, second.CartID)
	assert.Len(t, f.orders.orders, 1)
}

func TestCheckout_GatewayFailure(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = razorpay.ErrCreateOrder
	sess := readySession()
	sess.EmailVerified = true
	sess.Add(cart.Item{ID: "a", Name: "A", Price: decimal.NewFromInt(100)})

	_, err := f.orch.Begin(context.Background(), sess, BeginOptions{})
	require.ErrorIs(t, err, razorpay.ErrCreateOrder)

	// The pending order stays behind for the reminder job.
	assert.Len(t, f.orders.orders, 1)
}

func TestCheckout_FlatCouponAboveSubtotalRejected(t *testing.T) {
	f := newFixture(t)
	sess := readySession()
	sess.Add(cart.Item{ID: "a", Name: "A", Price: decimal.NewFromInt(50)})

	err := f.orch.ApplyCoupon(context.Background(), sess, "FLAT100")
	require.ErrorIs(t, err, coupon.ErrDiscountExceedsTotal)
	assert.Nil(t, sess.Coupon)
	assert.Equal(t, cart.MsgCouponTooLarge, sess.CouponError)
}

func TestCheckout_ApplyUnknownCoupon(t *testing.T) {
	f := newFixture(t)
	sess := readySession()
	sess.Add(cart.Item{ID: "a", Name: "A", Price: decimal.NewFromInt(500)})

	err := f.orch.ApplyCoupon(context.Background(), sess, "NOPE")
	require.ErrorIs(t, err, coupon.ErrNotFound)
	assert.Equal(t, cart.MsgCouponInvalid, sess.CouponError)

	err = f.orch.ApplyCoupon(context.Background(), sess, "  ")
	require.Error(t, err)
	assert.Equal(t, cart.MsgCouponRequired, sess.CouponError)
}

func TestCheckout_CompleteSignatureMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := readySession()
	sess.EmailVerified = true
	sess.Add(cart.Item{ID: "a", Name: "A", Price: decimal.NewFromInt(100)})

	pending, err := f.orch.Begin(ctx, sess, BeginOptions{})
	require.NoError(t, err)

	_, err = f.orch.Complete(ctx, sess, Callback{
		GatewayOrderID:   "order_abc",
		GatewayPaymentID: "pay_xyz",
		Signature:        razorpay.Sign("wrong", "order_abc", "pay_xyz"),
		CartID:           pending.CartID,
	})
	require.ErrorIs(t, err, ErrSignatureMismatch)

	stored, err := f.orders.GetByID(ctx, pending.CartID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, stored.PaymentStatus)
	assert.NotEmpty(t, sess.Items)
}

func TestCheckout_CompleteForeignPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var carts []string
	for range 2 {
		sess := readySession()
		sess.EmailVerified = true
		sess.Add(cart.Item{ID: "inner-stillness", Name: "Inner Stillness", Price: decimal.NewFromInt(5999)})
		pending, err := f.orch.Begin(ctx, sess, BeginOptions{})
		require.NoError(t, err)
		carts = append(carts, pending.CartID)
	}

	// A genuine payment for a cheap direct purchase.
	cheap, err := f.orch.CreateGatewayOrder(ctx, 100, "")
	require.NoError(t, err)
	sig := razorpay.Sign(gatewaySecret, cheap.ID, "pay_1")

	for _, id := range carts {
		_, err := f.orch.Complete(ctx, nil, Callback{
			GatewayOrderID:   cheap.ID,
			GatewayPaymentID: "pay_1",
			Signature:        sig,
			CartID:           id,
		})
		require.ErrorIs(t, err, ErrSignatureMismatch)
		require.ErrorIs(t, err, order.ErrPaymentMismatch)

		stored, err := f.orders.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, order.StatusPending, stored.PaymentStatus)
		assert.Empty(t, stored.GatewayPaymentID)
	}
}

func TestCheckout_CompletePaymentUsedTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var pendings []*Pending
	for range 2 {
		sess := readySession()
		sess.EmailVerified = true
		sess.Add(cart.Item{ID: "a", Name: "A", Price: decimal.NewFromInt(100)})
		p, err := f.orch.Begin(ctx, sess, BeginOptions{})
		require.NoError(t, err)
		pendings = append(pendings, p)
	}
	require.NotEqual(t, pendings[0].GatewayOrderID, pendings[1].GatewayOrderID)

	first := pendings[0]
	_, err := f.orch.Complete(ctx, nil, Callback{
		GatewayOrderID:   first.GatewayOrderID,
		GatewayPaymentID: "pay_1",
		Signature:        razorpay.Sign(gatewaySecret, first.GatewayOrderID, "pay_1"),
		CartID:           first.CartID,
	})
	require.NoError(t, err)

	_, err = f.orch.Complete(ctx, nil, Callback{
		GatewayOrderID:   first.GatewayOrderID,
		GatewayPaymentID: "pay_1",
		Signature:        razorpay.Sign(gatewaySecret, first.GatewayOrderID, "pay_1"),
		CartID:           pendings[1].CartID,
	})
	require.ErrorIs(t, err, ErrSignatureMismatch)

	stored, err := f.orders.GetByID(ctx, pendings[1].CartID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, stored.PaymentStatus)
}

func TestCheckout_CompleteMissingCart(t *testing.T) {
	f := newFixture(t)

	receipt, err := f.orch.Complete(context.Background(), nil, Callback{
		GatewayOrderID:   "order_abc",
		GatewayPaymentID: "pay_xyz",
		Signature:        razorpay.Sign(gatewaySecret, "order_abc", "pay_xyz"),
		CartID:           "missing",
	})
	require.NoError(t, err)
	assert.Nil(t, receipt.Order)
	assert.Equal(t, "pay_xyz", receipt.GatewayPaymentID)
}

func TestCheckout_CompleteTwiceConverges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := readySession()
	sess.EmailVerified = true
	sess.Add(cart.Item{ID: "a", Name: "A", Price: decimal.NewFromInt(100)})
	pending, err := f.orch.Begin(ctx, sess, BeginOptions{})
	require.NoError(t, err)

	cb := Callback{
		GatewayOrderID:   "order_abc",
		GatewayPaymentID: "pay_xyz",
		Signature:        razorpay.Sign(gatewaySecret, "order_abc", "pay_xyz"),
		CartID:           pending.CartID,
	}
	_, err = f.orch.Complete(ctx, nil, cb)
	require.NoError(t, err)
	receipt, err := f.orch.Complete(ctx, nil, cb)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, receipt.Order.PaymentStatus)
}

func TestCheckout_CreateGatewayOrder(t *testing.T) {
	f := newFixture(t)

	o, err := f.orch.CreateGatewayOrder(context.Background(), 10000, "")
	require.NoError(t, err)
	assert.Equal(t, razorpay.DirectPurchase, o.Notes["cartId"])
}

func TestCheckout_CreateGatewayOrderForCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := order.NewService(f.orders, coupon.NewRepoValidator(&memCoupons{}), events.Discard{}).
		Create(ctx, order.CreateRequest{
			Contact: contact.Info{Email: "asha@example.com", Phone: "9876543210"},
			Items:   []order.Item{{ProgramID: "inner-stillness", Price: decimal.NewFromInt(5999)}},
		})
	require.NoError(t, err)
	cartID := res.Order.ID

	_, err = f.orch.CreateGatewayOrder(ctx, 100, cartID)
	require.ErrorIs(t, err, order.ErrAmountMismatch)
	assert.Empty(t, f.gateway.created)

	gw, err := f.orch.CreateGatewayOrder(ctx, 599900, cartID)
	require.NoError(t, err)
	assert.Equal(t, cartID, gw.Notes["cartId"])

	stored, err := f.orders.GetByID(ctx, cartID)
	require.NoError(t, err)
	assert.Equal(t, gw.ID, stored.GatewayOrderID)

	_, err = f.orch.Complete(ctx, nil, Callback{
		GatewayOrderID:   gw.ID,
		GatewayPaymentID: "pay_cart",
		Signature:        razorpay.Sign(gatewaySecret, gw.ID, "pay_cart"),
		CartID:           cartID,
	})
	require.NoError(t, err)

	_, err = f.orch.CreateGatewayOrder(ctx, 599900, cartID)
	var trErr *order.TransitionError
	require.ErrorAs(t, err, &trErr)
	assert.Len(t, f.gateway.created, 1)
}

func TestCheckout_BuyNowUnknownProgram(t *testing.T) {
	f := newFixture(t)
	sess := cart.New("s")

	_, err := f.orch.BuyNow(context.Background(), sess, "missing")
	require.ErrorIs(t, err, program.ErrNotFound)
	assert.Empty(t, sess.Items)
}

func TestCheckout_VerifyCodeWrong(t *testing.T) {
	f := newFixture(t)
	sess := readySession()

	require.Error(t, f.orch.VerifyCode(context.Background(), sess, "000000"))
	assert.False(t, sess.EmailVerified)
}
