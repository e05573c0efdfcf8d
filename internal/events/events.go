// Package events defines the checkout events published for downstream
// consumers and the Publisher abstraction used to emit them.
package events

import (
	"context"
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type names an event. It doubles as the Kafka topic.
type Type string

const (
	OrderCreated    Type = "checkout.order.created"
	OrderPaid       Type = "checkout.order.paid"
	PaymentRejected Type = "checkout.payment.rejected"
	OrderAbandoned  Type = "checkout.order.abandoned"
)

// Version of the envelope layout.
const Version = 1

// Producer identifies this service in the envelope.
const Producer = "checkout-api"

// Event is the envelope written to the bus. Key is the partition key; all
// events of one order share it so they stay ordered.
type Event struct {
	ID         string
	Type       Type
	Key        string
	OccurredAt time.Time
	RequestID  string
	Payload    OrderPayload
}

// OrderPayload describes the order an event is about.
type OrderPayload struct {
	OrderID          string
	Email            string
	Status           string
	TotalAmount      decimal.Decimal
	Discount         decimal.Decimal
	CouponCode       string
	GatewayOrderID   string
	GatewayPaymentID string
	Reason           string
}

// New builds an event for an order, keyed by the order id.
func New(t Type, now time.Time, p OrderPayload) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       t,
		Key:        p.OrderID,
		OccurredAt: now,
		Payload:    p,
	}
}

// Encode writes the envelope as JSON.
func (ev Event) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("event_id")
	e.Str(ev.ID)
	e.FieldStart("event_type")
	e.Str(string(ev.Type))
	e.FieldStart("event_version")
	e.Int(Version)
	e.FieldStart("occurred_at")
	e.Str(ev.OccurredAt.UTC().Format(time.RFC3339Nano))
	e.FieldStart("producer")
	e.Str(Producer)
	if ev.RequestID != "" {
		e.FieldStart("request_id")
		e.Str(ev.RequestID)
	}
	e.FieldStart("correlation_id")
	e.Str(ev.Key)
	e.FieldStart("payload")
	ev.Payload.Encode(e)
	e.ObjEnd()
}

// Encode writes the payload as JSON. Money is written as decimal strings.
func (p OrderPayload) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("order_id")
	e.Str(p.OrderID)
	e.FieldStart("email")
	e.Str(p.Email)
	e.FieldStart("status")
	e.Str(p.Status)
	e.FieldStart("total_amount")
	e.Str(p.TotalAmount.String())
	e.FieldStart("discount")
	e.Str(p.Discount.String())
	optStr(e, "coupon_code", p.CouponCode)
	optStr(e, "gateway_order_id", p.GatewayOrderID)
	optStr(e, "gateway_payment_id", p.GatewayPaymentID)
	optStr(e, "reason", p.Reason)
	e.ObjEnd()
}

func optStr(e *jx.Encoder, name, v string) {
	if v == "" {
		return
	}
	e.FieldStart(name)
	e.Str(v)
}

// Bytes returns the JSON encoding of the envelope.
func (ev Event) Bytes() []byte {
	var e jx.Encoder
	ev.Encode(&e)
	return e.Bytes()
}

// MarshalJSON implements json.Marshaler.
func (ev Event) MarshalJSON() ([]byte, error) {
	return ev.Bytes(), nil
}

// Publisher emits events. Implementations must not block the caller for
// longer than ctx allows.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Discard is a Publisher that drops every event. It is used when no broker
// is configured.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, Event) error { return nil }

// RequestIDPublisher stamps each event with the request id found in ctx
// before handing it to the next Publisher.
type RequestIDPublisher struct {
	Next      Publisher
	RequestID func(ctx context.Context) string
}

// Publish implements Publisher.
func (p RequestIDPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.RequestID == "" && p.RequestID != nil {
		ev.RequestID = p.RequestID(ctx)
	}
	return p.Next.Publish(ctx, ev)
}
