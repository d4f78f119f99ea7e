package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eyesofbreath/xray-api/internal/platform/db"
)

// -- Principal Repository --

type principalRepoPG struct {
	pool *pgxpool.Pool
}

func NewPrincipalRepo(pool *pgxpool.Pool) PrincipalRepository {
	return &principalRepoPG{pool: pool}
}

const principalCols = `id, email, nickname, created_at`

func (r *principalRepoPG) GetByEmail(ctx context.Context, email string) (*Principal, error) {
	var p Principal
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+principalCols+` FROM members WHERE email = $1`, email,
	).Scan(&p.ID, &p.Email, &p.Nickname, &p.CreatedAt)
	if err != nil {
		return nil, db.NotFound(err)
	}
	return &p, nil
}

func (r *principalRepoPG) Ensure(ctx context.Context, email, nickname string) (*Principal, error) {
	var p Principal
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO members (id, email, nickname) VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING `+principalCols,
		uuid.New(), email, nickname,
	).Scan(&p.ID, &p.Email, &p.Nickname, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure member %s: %w", email, err)
	}
	return &p, nil
}

// -- Patient Repository --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `id, patient_code, name, birth_date, gender, blood_type, height, weight,
	country, current_medication, special_notes, member_id, created_at, updated_at`

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patients (
			id, patient_code, name, birth_date, gender, blood_type, height, weight,
			country, current_medication, special_notes, member_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		p.ID, p.Code, p.Name, p.BirthDate, p.Gender, p.BloodType, p.Height, p.Weight,
		p.Country, p.CurrentMedication, p.SpecialNotes, p.OwnerID,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	if err != nil {
		return nil, db.NotFound(err)
	}
	return p, nil
}

func (r *patientRepoPG) GetByIDForOwner(ctx context.Context, id, ownerID uuid.UUID) (*Patient, error) {
	p, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE id = $1 AND member_id = $2`, id, ownerID))
	if err != nil {
		return nil, db.NotFound(err)
	}
	return p, nil
}

func (r *patientRepoPG) ExistsByCode(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM patients WHERE patient_code = $1)`, code,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check patient code: %w", err)
	}
	return exists, nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE patients SET
			name = $2, birth_date = $3, gender = $4, blood_type = $5, height = $6, weight = $7,
			country = $8, current_medication = $9, special_notes = $10, updated_at = NOW()
		WHERE id = $1`,
		p.ID, p.Name, p.BirthDate, p.Gender, p.BloodType, p.Height, p.Weight,
		p.Country, p.CurrentMedication, p.SpecialNotes,
	)
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM patients WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return r.Search(ctx, PatientFilter{}, limit, offset)
}

func (r *patientRepoPG) Search(ctx context.Context, f PatientFilter, limit, offset int) ([]*Patient, int, error) {
	where, args := patientWhere(f)
	q := db.Conn(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM patients`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}

	n := len(args)
	args = append(args, limit, offset)
	rows, err := q.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM patients%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, patientCols, where, n+1, n+2),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search patients: %w", err)
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// patientWhere renders the filter as a WHERE clause with positional args.
func patientWhere(f PatientFilter) (string, []any) {
	var conds []string
	var args []any
	if name := strings.TrimSpace(f.Name); name != "" {
		args = append(args, "%"+name+"%")
		conds = append(conds, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if f.BirthDate != nil {
		args = append(args, *f.BirthDate)
		conds = append(conds, fmt.Sprintf("birth_date = $%d", len(args)))
	}
	if g := strings.ToUpper(strings.TrimSpace(f.Gender)); g != "" {
		args = append(args, g)
		conds = append(conds, fmt.Sprintf("gender = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID, &p.Code, &p.Name, &p.BirthDate, &p.Gender, &p.BloodType, &p.Height, &p.Weight,
		&p.Country, &p.CurrentMedication, &p.SpecialNotes, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
