package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/conscious-checkout/internal/domain/program"
)

const (
	programColumns = `id, name, description, price, duration, category, image_url`

	listProgramsSQL = `SELECT ` + programColumns + ` FROM programs ORDER BY name`

	getProgramByIDSQL = `SELECT ` + programColumns + ` FROM programs WHERE id = $1`

	getProgramsByIDsSQL = `SELECT ` + programColumns + ` FROM programs WHERE id = ANY($1)`

	upsertProgramSQL = `INSERT INTO programs (` + programColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			price = EXCLUDED.price,
			duration = EXCLUDED.duration,
			category = EXCLUDED.category,
			image_url = EXCLUDED.image_url`
)

var _ program.Repository = (*ProgramRepository)(nil)

// ProgramRepository implements program.Repository backed by PostgreSQL.
type ProgramRepository struct {
	pool *pgxpool.Pool
}

// NewProgramRepository returns a ProgramRepository that uses the given pool.
func NewProgramRepository(pool *pgxpool.Pool) *ProgramRepository {
	return &ProgramRepository{pool: pool}
}

// List returns the whole catalog ordered by name.
func (r *ProgramRepository) List(ctx context.Context) ([]program.Program, error) {
	rows, err := r.pool.Query(ctx, listProgramsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing programs: %w", err)
	}
	return pgx.CollectRows(rows, scanProgram)
}

// GetByID returns a single program.
func (r *ProgramRepository) GetByID(ctx context.Context, id string) (*program.Program, error) {
	rows, err := r.pool.Query(ctx, getProgramByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting program %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProgram)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, program.ErrNotFound
		}
		return nil, fmt.Errorf("getting program %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns programs matching any of ids.
func (r *ProgramRepository) GetByIDs(ctx context.Context, ids []string) ([]program.Program, error) {
	rows, err := r.pool.Query(ctx, getProgramsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting programs by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProgram)
}

// Upsert inserts or replaces programs in one batch.
func (r *ProgramRepository) Upsert(ctx context.Context, programs []program.Program) error {
	batch := &pgx.Batch{}
	for _, p := range programs {
		batch.Queue(upsertProgramSQL, p.ID, p.Name, p.Description, p.Price, p.Duration, p.Category, p.ImageURL)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting programs: %w", err)
	}
	return nil
}

func scanProgram(row pgx.CollectableRow) (program.Program, error) {
	var p program.Program
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Duration, &p.Category, &p.ImageURL)
	return p, err
}
