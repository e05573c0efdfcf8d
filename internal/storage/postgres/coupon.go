package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/conscious-checkout/internal/domain/coupon"
)

const (
	couponColumns = `id, code, discount_type, discount, owner_name, city, phone,
		instagram_id, account_number, ifsc_code, created_at, updated_at`

	listCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons ORDER BY created_at DESC`

	getCouponByIDSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = UPPER($1)`

	insertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, UPPER($2), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	updateCouponSQL = `UPDATE coupons SET
			code = UPPER($2), discount_type = $3, discount = $4, owner_name = $5,
			city = $6, phone = $7, instagram_id = $8, account_number = $9,
			ifsc_code = $10, updated_at = $11
		WHERE id = $1`

	upsertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, UPPER($2), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			discount = EXCLUDED.discount,
			updated_at = EXCLUDED.updated_at`

	deleteCouponSQL = `DELETE FROM coupons WHERE id = $1`

	couponCodeConstraint = "coupons_code_key"
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// List returns every coupon, newest first.
func (r *CouponRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// GetByID returns the coupon with the given id.
func (r *CouponRepository) GetByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	return r.one(ctx, getCouponByIDSQL, id, "getting coupon %q: %w")
}

// FindByCode looks up a coupon by code. Matching is case-insensitive since
// codes are stored upper-cased.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.one(ctx, getCouponByCodeSQL, code, "finding coupon by code %q: %w")
}

func (r *CouponRepository) one(ctx context.Context, sql, arg, format string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		if isInvalidID(err) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf(format, arg, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf(format, arg, err)
	}
	return &c, nil
}

// Create inserts c. A taken code yields coupon.ErrDuplicateCode.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, insertCouponSQL, couponArgs(c)...)
	if err != nil {
		if isUniqueViolation(err, couponCodeConstraint) {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("inserting coupon %q: %w", c.Code, err)
	}
	return nil
}

// Update replaces every mutable field of c.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	tag, err := r.pool.Exec(ctx, updateCouponSQL,
		c.ID, c.Code, string(c.DiscountType), c.Discount, c.OwnerName,
		c.City, c.Phone, c.InstagramID, c.BankDetails.AccountNumber,
		c.BankDetails.IFSCCode, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, couponCodeConstraint) {
			return coupon.ErrDuplicateCode
		}
		if isInvalidID(err) {
			return coupon.ErrNotFound
		}
		return fmt.Errorf("updating coupon %q: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// Delete removes the coupon with the given id.
func (r *CouponRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		if isInvalidID(err) {
			return coupon.ErrNotFound
		}
		return fmt.Errorf("deleting coupon %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// Upsert inserts coupons, updating the discount of codes that already exist.
// It is used by the seed and bulk import tools.
func (r *CouponRepository) Upsert(ctx context.Context, coupons []coupon.Coupon) error {
	batch := &pgx.Batch{}
	for i := range coupons {
		batch.Queue(upsertCouponSQL, couponArgs(&coupons[i])...)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d coupons: %w", len(coupons), err)
	}
	return nil
}

func couponArgs(c *coupon.Coupon) []any {
	return []any{
		c.ID, c.Code, string(c.DiscountType), c.Discount, c.OwnerName,
		c.City, c.Phone, c.InstagramID, c.BankDetails.AccountNumber,
		c.BankDetails.IFSCCode, c.CreatedAt, c.UpdatedAt,
	}
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c  coupon.Coupon
		dt string
	)
	err := row.Scan(
		&c.ID, &c.Code, &dt, &c.Discount, &c.OwnerName, &c.City, &c.Phone,
		&c.InstagramID, &c.BankDetails.AccountNumber, &c.BankDetails.IFSCCode,
		&c.CreatedAt, &c.UpdatedAt,
	)
	c.DiscountType = coupon.DiscountType(dt)
	return c, err
}
