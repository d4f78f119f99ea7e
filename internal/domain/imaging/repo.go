package imaging

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, img *XrayImage) error
	GetByID(ctx context.Context, id uuid.UUID) (*XrayImage, error)
	// ListByPatient returns the patient's images, newest first.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*XrayImage, error)
	DeleteByPatient(ctx context.Context, patientID uuid.UUID) (int64, error)
}
