package customer

import (
	"context"

	"github.com/google/uuid"
)

// CustomerRepository defines persistence operations for customers.
type CustomerRepository interface {
	Save(ctx context.Context, c *Customer) error
	Update(ctx context.Context, c *Customer) error
	FindByID(ctx context.Context, id uuid.UUID) (*Customer, error)
	FindByEmail(ctx context.Context, email string) (*Customer, error)
	List(ctx context.Context, page, limit int) ([]*Customer, int64, error)
	Count(ctx context.Context) (int64, error)
}
