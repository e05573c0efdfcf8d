package program

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested program does not exist.
var ErrNotFound = errors.New("program not found")

// Program is a purchasable spiritual program or retreat.
type Program struct {
	ID          string
	Name        string
	Description string
	Price       decimal.Decimal
	Duration    string
	Category    string
	ImageURL    string
}

// Repository defines read operations for the program catalog.
type Repository interface {
	List(ctx context.Context) ([]Program, error)
	GetByID(ctx context.Context, id string) (*Program, error)
	GetByIDs(ctx context.Context, ids []string) ([]Program, error)
}
