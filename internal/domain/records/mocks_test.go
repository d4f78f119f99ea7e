package records

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/eyesofbreath/xray-api/internal/domain/diagnosis"
	"github.com/eyesofbreath/xray-api/internal/domain/identity"
	"github.com/eyesofbreath/xray-api/internal/domain/imaging"
	"github.com/eyesofbreath/xray-api/internal/platform/db"
)

// chart is an in-memory store backing every repository mock in this package.
type chart struct {
	patients  map[uuid.UUID]*identity.Patient
	images    map[uuid.UUID]*imaging.XrayImage
	results   map[uuid.UUID]*diagnosis.Result
	comments  map[uuid.UUID]*diagnosis.Comment
	deleteErr error
	deletes   []string
}

func newChart() *chart {
	return &chart{
		patients: make(map[uuid.UUID]*identity.Patient),
		images:   make(map[uuid.UUID]*imaging.XrayImage),
		results:  make(map[uuid.UUID]*diagnosis.Result),
		comments: make(map[uuid.UUID]*diagnosis.Comment),
	}
}

func (c *chart) addPatient(name string, owner uuid.UUID) *identity.Patient {
	p := &identity.Patient{ID: uuid.New(), Code: "P-" + name, Name: name, Gender: "M", OwnerID: owner,
		BirthDate: time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)}
	c.patients[p.ID] = p
	return p
}

func (c *chart) addImage(patientID uuid.UUID, withResult bool) *imaging.XrayImage {
	img := &imaging.XrayImage{ID: uuid.New(), PatientID: patientID, ImageURL: "https://example.com/x.png", UploadedAt: time.Now()}
	c.images[img.ID] = img
	if withResult {
		r := &diagnosis.Result{ID: uuid.New(), ImageID: img.ID, PredictedDisease: "Normal", Top1: diagnosis.Ranked{Label: "Normal", Probability: 0.9}}
		c.results[r.ID] = r
		cm := &diagnosis.Comment{ID: uuid.New(), ResultID: r.ID, Content: "ok"}
		c.comments[cm.ID] = cm
	}
	return img
}

func (c *chart) imageIDs(patientID uuid.UUID) map[uuid.UUID]bool {
	ids := make(map[uuid.UUID]bool)
	for _, img := range c.images {
		if img.PatientID == patientID {
			ids[img.ID] = true
		}
	}
	return ids
}

// -- Mock Patient Repository --

type mockPatientRepo struct{ *chart }

func (m mockPatientRepo) Create(_ context.Context, p *identity.Patient) error {
	p.ID = uuid.New()
	m.patients[p.ID] = p
	return nil
}

func (m mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*identity.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return p, nil
}

func (m mockPatientRepo) GetByIDForOwner(ctx context.Context, id, ownerID uuid.UUID) (*identity.Patient, error) {
	p, err := m.GetByID(ctx, id)
	if err != nil || p.OwnerID != ownerID {
		return nil, db.ErrNotFound
	}
	return p, nil
}

func (m mockPatientRepo) ExistsByCode(_ context.Context, code string) (bool, error) {
	for _, p := range m.patients {
		if p.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (m mockPatientRepo) Update(_ context.Context, p *identity.Patient) error {
	if _, ok := m.patients[p.ID]; !ok {
		return db.ErrNotFound
	}
	m.patients[p.ID] = p
	return nil
}

func (m mockPatientRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.deletes = append(m.deletes, "patient")
	delete(m.patients, id)
	return nil
}

func (m mockPatientRepo) List(ctx context.Context, limit, offset int) ([]*identity.Patient, int, error) {
	return m.Search(ctx, identity.PatientFilter{}, limit, offset)
}

func (m mockPatientRepo) Search(_ context.Context, f identity.PatientFilter, limit, offset int) ([]*identity.Patient, int, error) {
	var out []*identity.Patient
	for _, p := range m.patients {
		if f.Gender != "" && p.Gender != f.Gender {
			continue
		}
		out = append(out, p)
	}
	total := len(out)
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

// -- Mock Image Repository --

type mockImageRepo struct{ *chart }

func (m mockImageRepo) Create(_ context.Context, img *imaging.XrayImage) error {
	img.ID = uuid.New()
	m.images[img.ID] = img
	return nil
}

func (m mockImageRepo) GetByID(_ context.Context, id uuid.UUID) (*imaging.XrayImage, error) {
	img, ok := m.images[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return img, nil
}

func (m mockImageRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*imaging.XrayImage, error) {
	var out []*imaging.XrayImage
	for id := range m.imageIDs(patientID) {
		out = append(out, m.images[id])
	}
	return out, nil
}

func (m mockImageRepo) DeleteByPatient(_ context.Context, patientID uuid.UUID) (int64, error) {
	m.deletes = append(m.deletes, "images")
	var n int64
	for id := range m.imageIDs(patientID) {
		delete(m.images, id)
		n++
	}
	return n, nil
}

// -- Mock Result Repository --

type mockResultRepo struct{ *chart }

func (m mockResultRepo) Create(_ context.Context, r *diagnosis.Result) error {
	r.ID = uuid.New()
	m.results[r.ID] = r
	return nil
}

func (m mockResultRepo) GetByID(_ context.Context, id uuid.UUID) (*diagnosis.Result, error) {
	r, ok := m.results[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return r, nil
}

func (m mockResultRepo) GetByImageID(_ context.Context, imageID uuid.UUID) (*diagnosis.Result, error) {
	for _, r := range m.results {
		if r.ImageID == imageID {
			return r, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m mockResultRepo) GetByIDForUploader(context.Context, uuid.UUID, uuid.UUID) (*diagnosis.Result, error) {
	return nil, db.ErrNotFound
}

func (m mockResultRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.results, id)
	return nil
}

func (m mockResultRepo) DeleteByPatient(_ context.Context, patientID uuid.UUID) (int64, error) {
	m.deletes = append(m.deletes, "results")
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	imgs := m.imageIDs(patientID)
	var n int64
	for id, r := range m.results {
		if imgs[r.ImageID] {
			delete(m.results, id)
			n++
		}
	}
	return n, nil
}

// -- Mock Comment Repository --

type mockCommentRepo struct{ *chart }

func (m mockCommentRepo) Create(_ context.Context, c *diagnosis.Comment) error {
	c.ID = uuid.New()
	m.comments[c.ID] = c
	return nil
}

func (m mockCommentRepo) ListByResult(_ context.Context, resultID uuid.UUID) ([]*diagnosis.Comment, error) {
	var out []*diagnosis.Comment
	for _, c := range m.comments {
		if c.ResultID == resultID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m mockCommentRepo) DeleteByResult(_ context.Context, resultID uuid.UUID) (int64, error) {
	return 0, errors.New("not used")
}

func (m mockCommentRepo) DeleteByPatient(_ context.Context, patientID uuid.UUID) (int64, error) {
	m.deletes = append(m.deletes, "comments")
	imgs := m.imageIDs(patientID)
	var n int64
	for id, c := range m.comments {
		if r, ok := m.results[c.ResultID]; ok && imgs[r.ImageID] {
			delete(m.comments, id)
			n++
		}
	}
	return n, nil
}

// -- Mock Principal Repository --

type mockPrincipalRepo struct {
	byEmail map[string]*identity.Principal
}

func (m *mockPrincipalRepo) GetByEmail(_ context.Context, email string) (*identity.Principal, error) {
	p, ok := m.byEmail[email]
	if !ok {
		return nil, db.ErrNotFound
	}
	return p, nil
}

func (m *mockPrincipalRepo) Ensure(_ context.Context, email, _ string) (*identity.Principal, error) {
	return m.GetByEmail(context.Background(), email)
}

// -- Transactor --

type recordingTx struct{ calls int }

func (t *recordingTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.calls++
	return fn(ctx)
}
