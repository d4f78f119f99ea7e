package imaging

import (
	"time"

	"github.com/google/uuid"
)

// XrayImage is an uploaded radiograph. ImageURL is always the gateway's HTTPS URL.
type XrayImage struct {
	ID         uuid.UUID `json:"id"`
	PatientID  uuid.UUID `json:"patient_id"`
	UploaderID uuid.UUID `json:"uploader_id"`
	ImageURL   string    `json:"image_url"`
	FileName   string    `json:"file_name"`
	FileSize   int64     `json:"file_size"`
	UploadedAt time.Time `json:"uploaded_at"`
}
