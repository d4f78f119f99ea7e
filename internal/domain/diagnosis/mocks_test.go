package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eyesofbreath/xray-api/internal/domain/identity"
	"github.com/eyesofbreath/xray-api/internal/domain/imaging"
	"github.com/eyesofbreath/xray-api/internal/platform/blobstore"
	"github.com/eyesofbreath/xray-api/internal/platform/db"
	"github.com/eyesofbreath/xray-api/internal/platform/inference"
)

// -- Mock Patient Repository --

type mockPatientRepo struct {
	mu        sync.Mutex
	store     map[uuid.UUID]*identity.Patient
	createErr error
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{store: make(map[uuid.UUID]*identity.Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *identity.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.store[p.ID] = p
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*identity.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return p, nil
}

func (m *mockPatientRepo) GetByIDForOwner(ctx context.Context, id, ownerID uuid.UUID) (*identity.Patient, error) {
	p, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != ownerID {
		return nil, db.ErrNotFound
	}
	return p, nil
}

func (m *mockPatientRepo) ExistsByCode(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.store {
		if p.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockPatientRepo) Update(_ context.Context, p *identity.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[p.ID]; !ok {
		return db.ErrNotFound
	}
	m.store[p.ID] = p
	return nil
}

func (m *mockPatientRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, id)
	return nil
}

func (m *mockPatientRepo) List(ctx context.Context, limit, offset int) ([]*identity.Patient, int, error) {
	return m.Search(ctx, identity.PatientFilter{}, limit, offset)
}

func (m *mockPatientRepo) Search(_ context.Context, _ identity.PatientFilter, _, _ int) ([]*identity.Patient, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*identity.Patient
	for _, p := range m.store {
		out = append(out, p)
	}
	return out, len(out), nil
}

// -- Mock Image Repository --

type mockImageRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]*imaging.XrayImage
}

func newMockImageRepo() *mockImageRepo {
	return &mockImageRepo{store: make(map[uuid.UUID]*imaging.XrayImage)}
}

func (m *mockImageRepo) Create(_ context.Context, img *imaging.XrayImage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	img.ID = uuid.New()
	img.UploadedAt = time.Now()
	m.store[img.ID] = img
	return nil
}

func (m *mockImageRepo) GetByID(_ context.Context, id uuid.UUID) (*imaging.XrayImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.store[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return img, nil
}

func (m *mockImageRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*imaging.XrayImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*imaging.XrayImage
	for _, img := range m.store {
		if img.PatientID == patientID {
			out = append(out, img)
		}
	}
	return out, nil
}

func (m *mockImageRepo) DeleteByPatient(_ context.Context, patientID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, img := range m.store {
		if img.PatientID == patientID {
			delete(m.store, id)
			n++
		}
	}
	return n, nil
}

func (m *mockImageRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.store)
}

// -- Mock Result Repository --

type mockResultRepo struct {
	mu     sync.Mutex
	store  map[uuid.UUID]*Result
	images *mockImageRepo
}

func newMockResultRepo(images *mockImageRepo) *mockResultRepo {
	return &mockResultRepo{store: make(map[uuid.UUID]*Result), images: images}
}

func (m *mockResultRepo) Create(_ context.Context, r *Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.store {
		if existing.ImageID == r.ImageID {
			return fmt.Errorf("image %s already has a result", r.ImageID)
		}
	}
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	m.store[r.ID] = r
	return nil
}

func (m *mockResultRepo) GetByID(_ context.Context, id uuid.UUID) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.store[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return r, nil
}

func (m *mockResultRepo) GetByImageID(_ context.Context, imageID uuid.UUID) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.store {
		if r.ImageID == imageID {
			return r, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *mockResultRepo) GetByIDForUploader(ctx context.Context, id, uploaderID uuid.UUID) (*Result, error) {
	r, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	img, err := m.images.GetByID(ctx, r.ImageID)
	if err != nil || img.UploaderID != uploaderID {
		return nil, db.ErrNotFound
	}
	return r, nil
}

func (m *mockResultRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return db.ErrNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *mockResultRepo) DeleteByPatient(ctx context.Context, patientID uuid.UUID) (int64, error) {
	imgs, _ := m.images.ListByPatient(ctx, patientID)
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, img := range imgs {
		for id, r := range m.store {
			if r.ImageID == img.ID {
				delete(m.store, id)
				n++
			}
		}
	}
	return n, nil
}

func (m *mockResultRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.store)
}

// -- Mock Comment Repository --

type mockCommentRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]*Comment
}

func newMockCommentRepo() *mockCommentRepo {
	return &mockCommentRepo{store: make(map[uuid.UUID]*Comment)}
}

func (m *mockCommentRepo) Create(_ context.Context, c *Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	m.store[c.ID] = c
	return nil
}

func (m *mockCommentRepo) ListByResult(_ context.Context, resultID uuid.UUID) ([]*Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Comment
	for _, c := range m.store {
		if c.ResultID == resultID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockCommentRepo) DeleteByResult(_ context.Context, resultID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, c := range m.store {
		if c.ResultID == resultID {
			delete(m.store, id)
			n++
		}
	}
	return n, nil
}

func (m *mockCommentRepo) DeleteByPatient(context.Context, uuid.UUID) (int64, error) {
	return 0, nil
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

func (m *mockPrincipalRepo) Ensure(_ context.Context, email, nickname string) (*identity.Principal, error) {
	if p, ok := m.byEmail[email]; ok {
		return p, nil
	}
	p := &identity.Principal{ID: uuid.New(), Email: email, Nickname: nickname}
	m.byEmail[email] = p
	return p, nil
}

// -- Collaborator stubs --

type stubPredictor struct {
	mu     sync.Mutex
	raw    *inference.RawPrediction
	err    error
	calls  int
	gotURL string
}

func (s *stubPredictor) Predict(_ context.Context, imageURL string) (*inference.RawPrediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.gotURL = imageURL
	if s.err != nil {
		return nil, s.err
	}
	return s.raw, nil
}

type failingGateway struct{}

func (failingGateway) Upload(context.Context, string, string, string, []byte) (string, error) {
	return "", fmt.Errorf("%w: %w", blobstore.ErrUploadFailed, errors.New("bucket unreachable"))
}

type passthroughTx struct {
	mu    sync.Mutex
	calls int
}

func (t *passthroughTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	return fn(ctx)
}
