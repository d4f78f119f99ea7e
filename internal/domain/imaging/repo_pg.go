package imaging

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eyesofbreath/xray-api/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const imageCols = `id, patient_id, member_id, image_url, file_name, file_size, uploaded_at`

func (r *repoPG) Create(ctx context.Context, img *XrayImage) error {
	img.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO xray_images (id, patient_id, member_id, image_url, file_name, file_size)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING uploaded_at`,
		img.ID, img.PatientID, img.UploaderID, img.ImageURL, img.FileName, img.FileSize,
	).Scan(&img.UploadedAt)
	if err != nil {
		return fmt.Errorf("insert xray image: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*XrayImage, error) {
	img, err := scanImage(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+imageCols+` FROM xray_images WHERE id = $1`, id))
	if err != nil {
		return nil, db.NotFound(err)
	}
	return img, nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*XrayImage, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+imageCols+` FROM xray_images WHERE patient_id = $1 ORDER BY uploaded_at DESC, id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list xray images: %w", err)
	}
	defer rows.Close()

	var items []*XrayImage
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, img)
	}
	return items, rows.Err()
}

func (r *repoPG) DeleteByPatient(ctx context.Context, patientID uuid.UUID) (int64, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM xray_images WHERE patient_id = $1`, patientID)
	if err != nil {
		return 0, fmt.Errorf("delete xray images: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanImage(row pgx.Row) (*XrayImage, error) {
	var img XrayImage
	if err := row.Scan(&img.ID, &img.PatientID, &img.UploaderID, &img.ImageURL,
		&img.FileName, &img.FileSize, &img.UploadedAt); err != nil {
		return nil, err
	}
	return &img, nil
}
