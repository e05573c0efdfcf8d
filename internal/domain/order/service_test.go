package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/conscious-checkout/internal/domain/contact"
	"github.com/xenking/conscious-checkout/internal/domain/coupon"
	"github.com/xenking/conscious-checkout/internal/events"
)

// --- Mock implementations ---

type mockOrderRepo struct {
	byID      map[string]*Order
	byKey     map[string]*Order
	createErr error
	paidErr   error
	created   []*Order
	paid      map[string]Payment
	statuses  map[string]PaymentStatus
	attached  map[string]string
}

func newOrderRepo(orders ...*Order) *mockOrderRepo {
	m := &mockOrderRepo{
		byID:     make(map[string]*Order),
		byKey:    make(map[string]*Order),
		paid:     make(map[string]Payment),
		statuses: make(map[string]PaymentStatus),
		attached: make(map[string]string),
	}
	for _, o := range orders {
		m.byID[o.ID] = o
		if o.IdempotencyKey != "" {
			m.byKey[o.IdempotencyKey] = o
		}
	}
	return m
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, o)
	m.byID[o.ID] = o
	if o.IdempotencyKey != "" {
		m.byKey[o.IdempotencyKey] = o
	}
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id string) (*Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) FindByIdempotencyKey(_ context.Context, key string) (*Order, error) {
	o, ok := m.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

func (m *mockOrderRepo) List(_ context.Context) ([]Order, error) {
	out := make([]Order, 0, len(m.byID))
	for _, o := range m.byID {
		out = append(out, *o)
	}
	return out, nil
}

func (m *mockOrderRepo) SetGatewayOrder(_ context.Context, id, gatewayOrderID string, _ time.Time) error {
	m.attached[id] = gatewayOrderID
	return nil
}

func (m *mockOrderRepo) MarkPaid(_ context.Context, id string, p Payment) error {
	if m.paidErr != nil {
		return m.paidErr
	}
	m.paid[id] = p
	return nil
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, id string, status PaymentStatus, _ time.Time) error {
	m.statuses[id] = status
	return nil
}

func (m *mockOrderRepo) LatestPaidByEmail(_ context.Context, email string) (*Order, error) {
	for _, o := range m.byID {
		if o.Email == email && o.PaymentStatus == StatusPaid {
			return o, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockOrderRepo) ListStalePending(context.Context, time.Time, int) ([]Order, error) {
	return nil, nil
}

func (m *mockOrderRepo) MarkReminded(context.Context, string, time.Time) error {
	return nil
}

// racingRepo misses the first idempotency lookup, as if a concurrent
// request inserted the order between lookup and insert.
type racingRepo struct {
	*mockOrderRepo
	winner  *Order
	lookups int
}

func (r *racingRepo) FindByIdempotencyKey(_ context.Context, _ string) (*Order, error) {
	r.lookups++
	if r.lookups == 1 {
		return nil, ErrNotFound
	}
	return r.winner, nil
}

type mockValidator struct {
	quote *coupon.Quote
	err   error
	code  string
}

func (m *mockValidator) Validate(_ context.Context, code string, _ decimal.Decimal) (*coupon.Quote, error) {
	m.code = code
	return m.quote, m.err
}

type mockPublisher struct {
	events []events.Event
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, ev events.Event) error {
	m.events = append(m.events, ev)
	return m.err
}

// --- Helpers ---

const testOrderID = "5b1e7c3a-8f7d-4c1e-9a3b-2f6d9e0c4a11"

func validRequest() CreateRequest {
	return CreateRequest{
		Contact: contact.Info{
			Name:  "Asha",
			Email: "asha@example.com",
			Phone: "9876543210",
			City:  "Pune",
		},
		Items: []Item{
			{ProgramID: "prog-1", Name: "Inner Stillness", Price: decimal.NewFromInt(5999), Quantity: 1},
		},
		EmailVerified: true,
	}
}

func newTestService(repo *mockOrderRepo, v *mockValidator, pub *mockPublisher) *Service {
	svc := NewService(repo, v, pub)
	svc.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return svc
}

// --- Tests ---

func TestService_Create(t *testing.T) {
	repo := newOrderRepo()
	v := &mockValidator{quote: &coupon.Quote{Discount: decimal.NewFromInt(600), FinalTotal: decimal.NewFromInt(5399)}}
	pub := &mockPublisher{}
	svc := newTestService(repo, v, pub)

	req := validRequest()
	req.CouponCode = " welcome10 "
	res, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	require.False(t, res.Existed)

	o := res.Order
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, StatusPending, o.PaymentStatus)
	assert.Equal(t, "WELCOME10", o.CouponCode)
	assert.Equal(t, "WELCOME10", v.code)
	assert.True(t, o.TotalAmount.Equal(decimal.NewFromInt(5999)))
	assert.True(t, o.Discount.Equal(decimal.NewFromInt(600)))
	assert.True(t, o.FinalTotal().Equal(decimal.NewFromInt(5399)))
	assert.True(t, o.EmailVerified)
	require.Len(t, repo.created, 1)

	require.Len(t, pub.events, 1)
	assert.Equal(t, events.OrderCreated, pub.events[0].Type)
	assert.Equal(t, o.ID, pub.events[0].Key)
}

func TestService_CreateRecomputesTotal(t *testing.T) {
	svc := newTestService(newOrderRepo(), &mockValidator{}, &mockPublisher{})

	req := validRequest()
	req.Items = []Item{
		{ProgramID: "a", Price: decimal.NewFromInt(1000), Quantity: 2},
		{ProgramID: "b", Price: decimal.NewFromInt(499)},
	}
	res, err := svc.Create(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, res.Order.TotalAmount.Equal(decimal.NewFromInt(2499)))
	assert.True(t, res.Order.Discount.IsZero())
	assert.Equal(t, 1, res.Order.Items[1].Quantity)
}

func TestService_CreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *CreateRequest)
		want   error
	}{
		{
			name:   "missing email",
			mutate: func(r *CreateRequest) { r.Contact.Email = " " },
			want:   ErrRequiredFields,
		},
		{
			name:   "missing phone",
			mutate: func(r *CreateRequest) { r.Contact.Phone = "" },
			want:   ErrRequiredFields,
		},
		{
			name:   "no items",
			mutate: func(r *CreateRequest) { r.Items = nil },
			want:   ErrRequiredFields,
		},
		{
			name:   "short phone",
			mutate: func(r *CreateRequest) { r.Contact.Phone = "12345" },
			want:   ErrInvalidPhone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newOrderRepo()
			svc := newTestService(repo, &mockValidator{}, &mockPublisher{})

			req := validRequest()
			tt.mutate(&req)
			_, err := svc.Create(context.Background(), req)
			require.ErrorIs(t, err, tt.want)
			assert.Empty(t, repo.created)
		})
	}
}

func TestService_CreateInvalidItem(t *testing.T) {
	svc := newTestService(newOrderRepo(), &mockValidator{}, &mockPublisher{})

	req := validRequest()
	req.Items[0].Quantity = -1
	_, err := svc.Create(context.Background(), req)

	var itemErr *InvalidItemError
	require.ErrorAs(t, err, &itemErr)
	assert.Equal(t, "prog-1", itemErr.ProgramID)
}

func TestService_CreateCouponRejected(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "unknown code", err: coupon.ErrNotFound},
		{name: "discount too large", err: coupon.ErrDiscountExceedsTotal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newOrderRepo()
			svc := newTestService(repo, &mockValidator{err: tt.err}, &mockPublisher{})

			req := validRequest()
			req.CouponCode = "FLAT100"
			_, err := svc.Create(context.Background(), req)
			require.ErrorIs(t, err, tt.err)
			assert.Empty(t, repo.created)
		})
	}
}

func TestService_CreateIdempotent(t *testing.T) {
	existing := &Order{ID: "order-1", IdempotencyKey: "key-1", PaymentStatus: StatusPending}
	repo := newOrderRepo(existing)
	pub := &mockPublisher{}
	svc := newTestService(repo, &mockValidator{}, pub)

	req := validRequest()
	req.IdempotencyKey = "key-1"
	res, err := svc.Create(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, res.Existed)
	assert.Equal(t, "order-1", res.Order.ID)
	assert.Empty(t, repo.created)
	assert.Empty(t, pub.events)
}

func TestService_CreateIdempotentRace(t *testing.T) {
	repo := &racingRepo{
		mockOrderRepo: newOrderRepo(),
		winner:        &Order{ID: "order-2", IdempotencyKey: "key-2"},
	}
	repo.createErr = ErrDuplicateIdempotencyKey
	svc := NewService(repo, &mockValidator{}, &mockPublisher{})

	req := validRequest()
	req.IdempotencyKey = "key-2"
	res, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Existed)
	assert.Equal(t, "order-2", res.Order.ID)
	assert.Equal(t, 2, repo.lookups)
}

func TestService_CreateRepoError(t *testing.T) {
	repo := newOrderRepo()
	repo.createErr = errors.New("connection refused")
	svc := newTestService(repo, &mockValidator{}, &mockPublisher{})

	_, err := svc.Create(context.Background(), validRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create order")
}

func TestService_CreatePublishErrorIgnored(t *testing.T) {
	pub := &mockPublisher{err: errors.New("broker down")}
	svc := newTestService(newOrderRepo(), &mockValidator{}, pub)

	res, err := svc.Create(context.Background(), validRequest())
	require.NoError(t, err)
	assert.NotNil(t, res.Order)
}

func TestService_AttachGatewayOrder(t *testing.T) {
	tests := []struct {
		name    string
		status  PaymentStatus
		wantErr bool
	}{
		{name: "pending", status: StatusPending},
		{name: "failed", status: StatusFailed},
		{name: "paid", status: StatusPaid, wantErr: true},
		{name: "refunded", status: StatusRefunded, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newOrderRepo(&Order{ID: testOrderID, PaymentStatus: tt.status})
			svc := newTestService(repo, &mockValidator{}, &mockPublisher{})

			o, err := svc.AttachGatewayOrder(context.Background(), testOrderID, "order_abc")
			if tt.wantErr {
				var trErr *TransitionError
				require.ErrorAs(t, err, &trErr)
				assert.Empty(t, repo.attached)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "order_abc", o.GatewayOrderID)
			assert.Equal(t, "order_abc", repo.attached[testOrderID])
		})
	}
}

func TestService_MarkPaid(t *testing.T) {
	repo := newOrderRepo(&Order{ID: testOrderID, PaymentStatus: StatusPending, GatewayOrderID: "order_abc", TotalAmount: decimal.NewFromInt(100)})
	pub := &mockPublisher{}
	svc := newTestService(repo, &mockValidator{}, pub)

	o, err := svc.MarkPaid(context.Background(), testOrderID, "order_abc", "pay_xyz")
	require.NoError(t, err)

	assert.Equal(t, StatusPaid, o.PaymentStatus)
	assert.Equal(t, "pay_xyz", o.GatewayPaymentID)
	require.NotNil(t, o.PaidAt)
	assert.Equal(t, "order_abc", repo.paid[testOrderID].GatewayOrderID)
	require.Len(t, pub.events, 1)
	assert.Equal(t, events.OrderPaid, pub.events[0].Type)
}

func TestService_MarkPaidAlreadyPaid(t *testing.T) {
	repo := newOrderRepo(&Order{ID: testOrderID, PaymentStatus: StatusPaid, GatewayOrderID: "order_abc", GatewayPaymentID: "pay_first"})
	pub := &mockPublisher{}
	svc := newTestService(repo, &mockValidator{}, pub)

	o, err := svc.MarkPaid(context.Background(), testOrderID, "order_abc", "pay_first")
	require.NoError(t, err)

	assert.Equal(t, "pay_first", o.GatewayPaymentID)
	assert.Empty(t, repo.paid)
	assert.Empty(t, pub.events)
}

func TestService_MarkPaidForeignPayment(t *testing.T) {
	tests := []struct {
		name           string
		stored         Order
		gatewayOrderID string
		paymentID      string
	}{
		{
			name:           "no gateway order attached",
			stored:         Order{PaymentStatus: StatusPending},
			gatewayOrderID: "order_cheap",
			paymentID:      "pay_1",
		},
		{
			name:           "other gateway order",
			stored:         Order{PaymentStatus: StatusPending, GatewayOrderID: "order_abc"},
			gatewayOrderID: "order_cheap",
			paymentID:      "pay_1",
		},
		{
			name:           "already paid by another payment",
			stored:         Order{PaymentStatus: StatusPaid, GatewayOrderID: "order_abc", GatewayPaymentID: "pay_first"},
			gatewayOrderID: "order_abc",
			paymentID:      "pay_second",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stored := tt.stored
			stored.ID = testOrderID
			repo := newOrderRepo(&stored)
			pub := &mockPublisher{}
			svc := newTestService(repo, &mockValidator{}, pub)

			_, err := svc.MarkPaid(context.Background(), testOrderID, tt.gatewayOrderID, tt.paymentID)
			require.ErrorIs(t, err, ErrPaymentMismatch)
			assert.Empty(t, repo.paid)
			assert.Empty(t, pub.events)
		})
	}
}

func TestService_MarkPaidPaymentReused(t *testing.T) {
	repo := newOrderRepo(&Order{ID: testOrderID, PaymentStatus: StatusPending, GatewayOrderID: "order_abc"})
	repo.paidErr = ErrPaymentMismatch
	pub := &mockPublisher{}
	svc := newTestService(repo, &mockValidator{}, pub)

	_, err := svc.MarkPaid(context.Background(), testOrderID, "order_abc", "pay_used")
	require.ErrorIs(t, err, ErrPaymentMismatch)
	assert.Empty(t, pub.events)
}

func TestService_MarkPaidRefunded(t *testing.T) {
	repo := newOrderRepo(&Order{ID: testOrderID, PaymentStatus: StatusRefunded, GatewayOrderID: "order_abc"})
	svc := newTestService(repo, &mockValidator{}, &mockPublisher{})

	_, err := svc.MarkPaid(context.Background(), testOrderID, "order_abc", "pay_xyz")

	var trErr *TransitionError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, StatusRefunded, trErr.From)
}

func TestService_MarkPaidNotFound(t *testing.T) {
	svc := newTestService(newOrderRepo(), &mockValidator{}, &mockPublisher{})

	_, err := svc.MarkPaid(context.Background(), "7d0f8a52-0000-4000-8000-00000000dead", "order_abc", "pay_xyz")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_InvalidID(t *testing.T) {
	svc := newTestService(newOrderRepo(), &mockValidator{}, &mockPublisher{})

	_, err := svc.Get(context.Background(), "not-a-uuid")
	require.ErrorIs(t, err, ErrInvalidID)

	_, err = svc.MarkPaid(context.Background(), "direct_purchase", "order_abc", "pay_xyz")
	require.ErrorIs(t, err, ErrInvalidID)
}

func TestService_RejectPayment(t *testing.T) {
	repo := newOrderRepo(&Order{ID: testOrderID, PaymentStatus: StatusPending})
	pub := &mockPublisher{}
	svc := newTestService(repo, &mockValidator{}, pub)

	svc.RejectPayment(context.Background(), testOrderID, "order_abc", "pay_xyz", "signature mismatch")

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, events.PaymentRejected, ev.Type)
	assert.Equal(t, "signature mismatch", ev.Payload.Reason)
	assert.Equal(t, "pending", ev.Payload.Status)
	assert.Empty(t, repo.paid)
}

func TestService_UpdateStatus(t *testing.T) {
	tests := []struct {
		name    string
		from    PaymentStatus
		to      PaymentStatus
		wantErr bool
	}{
		{name: "pending to failed", from: StatusPending, to: StatusFailed},
		{name: "failed to pending", from: StatusFailed, to: StatusPending},
		{name: "paid to refunded", from: StatusPaid, to: StatusRefunded},
		{name: "same status", from: StatusPaid, to: StatusPaid},
		{name: "paid to pending", from: StatusPaid, to: StatusPending, wantErr: true},
		{name: "refunded to paid", from: StatusRefunded, to: StatusPaid, wantErr: true},
		{name: "unknown status", from: StatusPending, to: "shipped", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newOrderRepo(&Order{ID: testOrderID, PaymentStatus: tt.from})
			svc := newTestService(repo, &mockValidator{}, &mockPublisher{})

			o, err := svc.UpdateStatus(context.Background(), testOrderID, tt.to)
			if tt.wantErr {
				var trErr *TransitionError
				require.ErrorAs(t, err, &trErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, o.PaymentStatus)
		})
	}
}

func TestService_LatestContact(t *testing.T) {
	repo := newOrderRepo(
		&Order{ID: testOrderID, Email: "asha@example.com", Name: "Asha", Phone: "9876543210", City: "Pune", PaymentStatus: StatusPaid},
		&Order{ID: "o2", Email: "ravi@example.com", PaymentStatus: StatusPending},
	)
	svc := newTestService(repo, &mockValidator{}, &mockPublisher{})

	info, err := svc.LatestContact(context.Background(), " asha@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "Pune", info.City)

	_, err = svc.LatestContact(context.Background(), "ravi@example.com")
	require.ErrorIs(t, err, ErrNotFound)
}
