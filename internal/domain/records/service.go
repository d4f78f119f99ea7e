// Package records serves patient charts: a patient with every x-ray and
// diagnosis result recorded for them.
package records

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eyesofbreath/xray-api/internal/domain/diagnosis"
	"github.com/eyesofbreath/xray-api/internal/domain/identity"
	"github.com/eyesofbreath/xray-api/internal/domain/imaging"
	"github.com/eyesofbreath/xray-api/internal/platform/apperr"
	"github.com/eyesofbreath/xray-api/internal/platform/db"
)

// PatientRecord is a patient with their images, newest first.
type PatientRecord struct {
	*identity.Patient
	XrayImages []diagnosis.ImageView `json:"xray_images"`
}

type Service struct {
	patients identity.PatientRepository
	images   imaging.Repository
	results  diagnosis.ResultRepository
	comments diagnosis.CommentRepository
	tx       db.Transactor
	guard    *identity.Guard
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(
	patients identity.PatientRepository,
	images imaging.Repository,
	results diagnosis.ResultRepository,
	comments diagnosis.CommentRepository,
	tx db.Transactor,
	guard *identity.Guard,
	log zerolog.Logger,
) *Service {
	return &Service{
		patients: patients,
		images:   images,
		results:  results,
		comments: comments,
		tx:       tx,
		guard:    guard,
		log:      log,
		now:      time.Now,
	}
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*PatientRecord, int, error) {
	return s.Search(ctx, identity.PatientFilter{}, limit, offset)
}

// Search matches on any combination of name fragment, birth date and sex code.
func (s *Service) Search(ctx context.Context, f identity.PatientFilter, limit, offset int) ([]*PatientRecord, int, error) {
	patients, total, err := s.patients.Search(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperr.Persistence("search patients", err)
	}
	out := make([]*PatientRecord, 0, len(patients))
	for _, p := range patients {
		rec, err := s.hydrate(ctx, p)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*PatientRecord, error) {
	p, err := s.patients.GetByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("patient")
	}
	if err != nil {
		return nil, apperr.Persistence("load patient", err)
	}
	return s.hydrate(ctx, p)
}

func (s *Service) hydrate(ctx context.Context, p *identity.Patient) (*PatientRecord, error) {
	imgs, err := s.images.ListByPatient(ctx, p.ID)
	if err != nil {
		return nil, apperr.Persistence("list x-ray images", err)
	}
	rec := &PatientRecord{Patient: p, XrayImages: make([]diagnosis.ImageView, 0, len(imgs))}
	for _, img := range imgs {
		res, err := s.results.GetByImageID(ctx, img.ID)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return nil, apperr.Persistence("load diagnosis result", err)
		}
		rec.XrayImages = append(rec.XrayImages, diagnosis.ImageView{XrayImage: img, DiagnosisResult: res})
	}
	return rec, nil
}

// Update replaces the editable fields of a patient owned by principal.
func (s *Service) Update(ctx context.Context, principal *identity.Principal, id uuid.UUID, spec identity.PatientSpec) (*identity.Patient, error) {
	spec.Normalize()
	if err := spec.Validate(s.now()); err != nil {
		return nil, err
	}
	p, err := s.owned(ctx, principal, id)
	if err != nil {
		return nil, err
	}

	spec.Apply(p)
	if err := s.patients.Update(ctx, p); err != nil {
		return nil, apperr.Persistence("update patient", err)
	}
	return p, nil
}

// Delete removes a patient owned by principal together with comments,
// results and images, children first, in one transaction.
func (s *Service) Delete(ctx context.Context, principal *identity.Principal, id uuid.UUID) error {
	if _, err := s.owned(ctx, principal, id); err != nil {
		return err
	}

	var comments, results, images int64
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if comments, err = s.comments.DeleteByPatient(ctx, id); err != nil {
			return err
		}
		if results, err = s.results.DeleteByPatient(ctx, id); err != nil {
			return err
		}
		if images, err = s.images.DeleteByPatient(ctx, id); err != nil {
			return err
		}
		return s.patients.Delete(ctx, id)
	})
	if err != nil {
		return apperr.Persistence("delete patient", err)
	}

	s.log.Info().
		Str("patient_id", id.String()).
		Int64("comments", comments).
		Int64("results", results).
		Int64("images", images).
		Msg("patient deleted")
	return nil
}

func (s *Service) owned(ctx context.Context, principal *identity.Principal, id uuid.UUID) (*identity.Patient, error) {
	var p *identity.Patient
	err := s.guard.RequireOwner(ctx, principal, func(ctx context.Context, ownerID uuid.UUID) error {
		found, err := s.patients.GetByIDForOwner(ctx, id, ownerID)
		p = found
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
