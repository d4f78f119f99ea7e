package identity

import (
	"context"

	"github.com/google/uuid"
)

type PrincipalRepository interface {
	GetByEmail(ctx context.Context, email string) (*Principal, error)
	// Ensure returns the principal for email, creating it when absent.
	Ensure(ctx context.Context, email, nickname string) (*Principal, error)
}

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// GetByIDForOwner matches on id and owner in one query.
	GetByIDForOwner(ctx context.Context, id, ownerID uuid.UUID) (*Patient, error)
	ExistsByCode(ctx context.Context, code string) (bool, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
	Search(ctx context.Context, f PatientFilter, limit, offset int) ([]*Patient, int, error)
}
