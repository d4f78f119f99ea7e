package diagnosis

import (
	"time"

	"github.com/google/uuid"
)

// Ranked is one labelled probability of the differential list.
type Ranked struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Result is the stored outcome of one inference run. There is at most one per image.
type Result struct {
	ID               uuid.UUID `json:"id"`
	ImageID          uuid.UUID `json:"image_id"`
	PredictedDisease string    `json:"predicted_disease"`
	Probability      float64   `json:"probability"`
	GradcamURL       string    `json:"gradcam_url"`
	Top1             Ranked    `json:"top1"`
	Top2             *Ranked   `json:"top2,omitempty"`
	Top3             *Ranked   `json:"top3,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Comment is a clinician note attached to a result.
type Comment struct {
	ID             uuid.UUID `json:"id"`
	ResultID       uuid.UUID `json:"result_id"`
	AuthorID       uuid.UUID `json:"author_id"`
	AuthorNickname string    `json:"author_nickname"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Upload is the image payload handed to the pipeline.
type Upload struct {
	FileName    string
	ContentType string
	Data        []byte
}
