package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/xenking/conscious-checkout/internal/checkout"

// Metrics counts checkout outcomes.
type Metrics struct {
	ordersCreated    metric.Int64Counter
	paymentsVerified metric.Int64Counter
	paymentsRejected metric.Int64Counter
	otpSent          metric.Int64Counter
	otpVerified      metric.Int64Counter
}

// NewMetrics registers the checkout counters on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationName)

	var (
		m   Metrics
		err error
	)
	for _, c := range []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.ordersCreated, "checkout.orders.created", "Pending orders created at checkout"},
		{&m.paymentsVerified, "checkout.payments.verified", "Payments with a valid signature"},
		{&m.paymentsRejected, "checkout.payments.rejected", "Payments whose signature did not match"},
		{&m.otpSent, "checkout.otp.sent", "Verification codes sent"},
		{&m.otpVerified, "checkout.otp.verified", "Verification attempts by result"},
	} {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, errors.Wrapf(err, "create counter %s", c.name)
		}
	}
	return &m, nil
}

func result(err error) metric.AddOption {
	r := "ok"
	if err != nil {
		r = "error"
	}
	return metric.WithAttributes(attribute.String("result", r))
}

func (m *Metrics) orderCreated(ctx context.Context, couponApplied bool) {
	m.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.Bool("coupon", couponApplied)))
}

func (m *Metrics) paymentVerified(ctx context.Context) { m.paymentsVerified.Add(ctx, 1) }

func (m *Metrics) paymentRejected(ctx context.Context) { m.paymentsRejected.Add(ctx, 1) }

func (m *Metrics) codeSent(ctx context.Context, err error) { m.otpSent.Add(ctx, 1, result(err)) }

func (m *Metrics) codeVerified(ctx context.Context, err error) {
	m.otpVerified.Add(ctx, 1, result(err))
}
