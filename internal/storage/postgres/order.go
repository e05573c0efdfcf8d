package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/conscious-checkout/internal/domain/order"
)

const (
	orderColumns = `id, email, phone, name, city, coupon_code, payment_status,
		email_verified, items, total_amount, discount, gateway_order_id,
		gateway_payment_id, paid_at, idempotency_key, reminded_at,
		created_at, updated_at`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByIdempotencyKeySQL = `SELECT ` + orderColumns + ` FROM orders WHERE idempotency_key = $1`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC`

	markOrderPaidSQL = `UPDATE orders SET
			payment_status = 'paid',
			gateway_payment_id = $3,
			paid_at = COALESCE(paid_at, $4),
			updated_at = $4
		WHERE id = $1 AND gateway_order_id = $2
			AND (payment_status IN ('pending', 'failed') OR gateway_payment_id = $3)`

	setGatewayOrderSQL = `UPDATE orders SET gateway_order_id = $2, updated_at = $3
		WHERE id = $1 AND payment_status IN ('pending', 'failed')`

	updateOrderStatusSQL = `UPDATE orders SET payment_status = $2, updated_at = $3 WHERE id = $1`

	latestPaidByEmailSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE lower(email) = lower($1) AND payment_status = 'paid'
		ORDER BY paid_at DESC NULLS LAST, created_at DESC
		LIMIT 1`

	listStalePendingSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE payment_status = 'pending' AND reminded_at IS NULL AND created_at < $1
		ORDER BY created_at
		LIMIT $2`

	markOrderRemindedSQL = `UPDATE orders SET reminded_at = $2 WHERE id = $1`

	idempotencyKeyIndex = "orders_idempotency_key_idx"
	gatewayPaymentIndex = "orders_gateway_payment_id_idx"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Line
// items are stored as a JSONB array.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts o.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	var key *string
	if o.IdempotencyKey != "" {
		key = &o.IdempotencyKey
	}
	items := o.Items
	if items == nil {
		items = []order.Item{}
	}

	_, err := r.pool.Exec(ctx, insertOrderSQL,
		o.ID, o.Email, o.Phone, o.Name, o.City, o.CouponCode, string(o.PaymentStatus),
		o.EmailVerified, items, o.TotalAmount, o.Discount, o.GatewayOrderID,
		o.GatewayPaymentID, o.PaidAt, key, o.RemindedAt,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, idempotencyKeyIndex) {
			return order.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("inserting order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns the order with the given id.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.one(ctx, getOrderByIDSQL, id, "getting order %q: %w")
}

// FindByIdempotencyKey returns the order created with key.
func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	return r.one(ctx, getOrderByIdempotencyKeySQL, key, "finding order by idempotency key %q: %w")
}

// LatestPaidByEmail returns the most recently paid order for email.
func (r *OrderRepository) LatestPaidByEmail(ctx context.Context, email string) (*order.Order, error) {
	return r.one(ctx, latestPaidByEmailSQL, email, "finding paid order for %q: %w")
}

func (r *OrderRepository) one(ctx context.Context, sql, arg, format string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		if isInvalidID(err) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf(format, arg, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf(format, arg, err)
	}
	return &o, nil
}

// List returns every order, newest first.
func (r *OrderRepository) List(ctx context.Context) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// SetGatewayOrder attaches a gateway order to an unpaid order.
func (r *OrderRepository) SetGatewayOrder(ctx context.Context, id, gatewayOrderID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, setGatewayOrderSQL, id, gatewayOrderID, at)
	if err != nil {
		return fmt.Errorf("attaching gateway order to %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// MarkPaid records a verified payment in a single statement. The update
// applies only while the order carries the payment's gateway order and is
// unpaid or already paid by the same payment.
func (r *OrderRepository) MarkPaid(ctx context.Context, id string, p order.Payment) error {
	tag, err := r.pool.Exec(ctx, markOrderPaidSQL, id, p.GatewayOrderID, p.GatewayPaymentID, p.PaidAt)
	if err != nil {
		if isUniqueViolation(err, gatewayPaymentIndex) {
			return order.ErrPaymentMismatch
		}
		return fmt.Errorf("marking order %q paid: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrPaymentMismatch
	}
	return nil
}

// UpdateStatus sets the payment status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status order.PaymentStatus, at time.Time) error {
	tag, err := r.pool.Exec(ctx, updateOrderStatusSQL, id, string(status), at)
	if err != nil {
		return fmt.Errorf("updating order %q status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// ListStalePending returns pending orders created before the cutoff that
// have not been reminded about yet, oldest first.
func (r *OrderRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listStalePendingSQL, before, limit)
	if err != nil {
		return nil, fmt.Errorf("listing stale pending orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// MarkReminded stamps the reminder time.
func (r *OrderRepository) MarkReminded(ctx context.Context, id string, at time.Time) error {
	if _, err := r.pool.Exec(ctx, markOrderRemindedSQL, id, at); err != nil {
		return fmt.Errorf("marking order %q reminded: %w", id, err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
		key    *string
	)
	err := row.Scan(
		&o.ID, &o.Email, &o.Phone, &o.Name, &o.City, &o.CouponCode, &status,
		&o.EmailVerified, &o.Items, &o.TotalAmount, &o.Discount, &o.GatewayOrderID,
		&o.GatewayPaymentID, &o.PaidAt, &key, &o.RemindedAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	o.PaymentStatus = order.PaymentStatus(status)
	if key != nil {
		o.IdempotencyKey = *key
	}
	return o, err
}
