package diagnosis

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eyesofbreath/xray-api/internal/platform/db"
)

// -- Result Repository --

type resultRepoPG struct {
	pool *pgxpool.Pool
}

func NewResultRepo(pool *pgxpool.Pool) ResultRepository {
	return &resultRepoPG{pool: pool}
}

const resultCols = `r.id, r.image_id, r.predicted_disease, r.probability, r.gradcam_url,
	r.top1_label, r.top1_probability, r.top2_label, r.top2_probability,
	r.top3_label, r.top3_probability, r.created_at`

func (r *resultRepoPG) Create(ctx context.Context, res *Result) error {
	res.ID = uuid.New()
	top2Label, top2Prob := rankedArgs(res.Top2)
	top3Label, top3Prob := rankedArgs(res.Top3)
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO diagnosis_results (
			id, image_id, predicted_disease, probability, gradcam_url,
			top1_label, top1_probability, top2_label, top2_probability, top3_label, top3_probability
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at`,
		res.ID, res.ImageID, res.PredictedDisease, res.Probability, res.GradcamURL,
		res.Top1.Label, res.Top1.Probability, top2Label, top2Prob, top3Label, top3Prob,
	).Scan(&res.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert diagnosis result: %w", err)
	}
	return nil
}

func (r *resultRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Result, error) {
	return r.getOne(ctx, `SELECT `+resultCols+` FROM diagnosis_results r WHERE r.id = $1`, id)
}

func (r *resultRepoPG) GetByImageID(ctx context.Context, imageID uuid.UUID) (*Result, error) {
	return r.getOne(ctx, `SELECT `+resultCols+` FROM diagnosis_results r WHERE r.image_id = $1`, imageID)
}

func (r *resultRepoPG) GetByIDForUploader(ctx context.Context, id, uploaderID uuid.UUID) (*Result, error) {
	return r.getOne(ctx, `
		SELECT `+resultCols+`
		FROM diagnosis_results r
		JOIN xray_images i ON i.id = r.image_id
		WHERE r.id = $1 AND i.member_id = $2`, id, uploaderID)
}

func (r *resultRepoPG) getOne(ctx context.Context, sql string, args ...any) (*Result, error) {
	res, err := scanResult(db.Conn(ctx, r.pool).QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, db.NotFound(err)
	}
	return res, nil
}

func (r *resultRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM diagnosis_results WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete diagnosis result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *resultRepoPG) DeleteByPatient(ctx context.Context, patientID uuid.UUID) (int64, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM diagnosis_results
		WHERE image_id IN (SELECT id FROM xray_images WHERE patient_id = $1)`, patientID)
	if err != nil {
		return 0, fmt.Errorf("delete diagnosis results: %w", err)
	}
	return tag.RowsAffected(), nil
}

func rankedArgs(r *Ranked) (*string, *float64) {
	if r == nil {
		return nil, nil
	}
	return &r.Label, &r.Probability
}

func scanResult(row pgx.Row) (*Result, error) {
	var (
		res                  Result
		top2Label, top3Label *string
		top2Prob, top3Prob   *float64
	)
	err := row.Scan(
		&res.ID, &res.ImageID, &res.PredictedDisease, &res.Probability, &res.GradcamURL,
		&res.Top1.Label, &res.Top1.Probability, &top2Label, &top2Prob,
		&top3Label, &top3Prob, &res.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	res.Top2 = rankedFrom(top2Label, top2Prob)
	res.Top3 = rankedFrom(top3Label, top3Prob)
	return &res, nil
}

func rankedFrom(label *string, p *float64) *Ranked {
	if label == nil {
		return nil
	}
	r := &Ranked{Label: *label}
	if p != nil {
		r.Probability = *p
	}
	return r
}

// -- Comment Repository --

type commentRepoPG struct {
	pool *pgxpool.Pool
}

func NewCommentRepo(pool *pgxpool.Pool) CommentRepository {
	return &commentRepoPG{pool: pool}
}

func (r *commentRepoPG) Create(ctx context.Context, c *Comment) error {
	c.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		WITH inserted AS (
			INSERT INTO comments (id, result_id, member_id, content)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at, member_id
		)
		SELECT inserted.created_at, m.nickname
		FROM inserted JOIN members m ON m.id = inserted.member_id`,
		c.ID, c.ResultID, c.AuthorID, c.Content,
	).Scan(&c.CreatedAt, &c.AuthorNickname)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (r *commentRepoPG) ListByResult(ctx context.Context, resultID uuid.UUID) ([]*Comment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT c.id, c.result_id, c.member_id, m.nickname, c.content, c.created_at
		FROM comments c
		JOIN members m ON m.id = c.member_id
		WHERE c.result_id = $1
		ORDER BY c.created_at, c.id`, resultID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var items []*Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.ResultID, &c.AuthorID, &c.AuthorNickname, &c.Content, &c.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &c)
	}
	return items, rows.Err()
}

func (r *commentRepoPG) DeleteByResult(ctx context.Context, resultID uuid.UUID) (int64, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM comments WHERE result_id = $1`, resultID)
	if err != nil {
		return 0, fmt.Errorf("delete comments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *commentRepoPG) DeleteByPatient(ctx context.Context, patientID uuid.UUID) (int64, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM comments
		WHERE result_id IN (
			SELECT r.id FROM diagnosis_results r
			JOIN xray_images i ON i.id = r.image_id
			WHERE i.patient_id = $1
		)`, patientID)
	if err != nil {
		return 0, fmt.Errorf("delete comments: %w", err)
	}
	return tag.RowsAffected(), nil
}
