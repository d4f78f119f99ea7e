package diagnosis

import (
	"context"

	"github.com/google/uuid"
)

type ResultRepository interface {
	Create(ctx context.Context, r *Result) error
	GetByID(ctx context.Context, id uuid.UUID) (*Result, error)
	GetByImageID(ctx context.Context, imageID uuid.UUID) (*Result, error)
	// GetByIDForUploader matches the result only when uploaderID uploaded its image.
	GetByIDForUploader(ctx context.Context, id, uploaderID uuid.UUID) (*Result, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByPatient(ctx context.Context, patientID uuid.UUID) (int64, error)
}

type CommentRepository interface {
	Create(ctx context.Context, c *Comment) error
	// ListByResult returns comments oldest first.
	ListByResult(ctx context.Context, resultID uuid.UUID) ([]*Comment, error)
	DeleteByResult(ctx context.Context, resultID uuid.UUID) (int64, error)
	DeleteByPatient(ctx context.Context, patientID uuid.UUID) (int64, error)
}
