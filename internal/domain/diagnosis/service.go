package diagnosis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eyesofbreath/xray-api/internal/domain/identity"
	"github.com/eyesofbreath/xray-api/internal/domain/imaging"
	"github.com/eyesofbreath/xray-api/internal/platform/apperr"
	"github.com/eyesofbreath/xray-api/internal/platform/blobstore"
	"github.com/eyesofbreath/xray-api/internal/platform/db"
	"github.com/eyesofbreath/xray-api/internal/platform/inference"
	"github.com/eyesofbreath/xray-api/internal/platform/metrics"
)

// Predictor is the inference collaborator.
type Predictor interface {
	Predict(ctx context.Context, imageURL string) (*inference.RawPrediction, error)
}

// Pipeline entry labels used in metrics and logs.
const (
	EntryNewPatient      = "new_patient"
	EntryExistingPatient = "existing_patient"
)

// codeAttempts bounds patient code generation before giving up.
const codeAttempts = 5

type Dependencies struct {
	Patients   identity.PatientRepository
	Images     imaging.Repository
	Results    ResultRepository
	Comments   CommentRepository
	Gateway    blobstore.Gateway
	Predictor  Predictor
	Normalizer *Normalizer
	Tx         db.Transactor
	Guard      *identity.Guard
	Metrics    *metrics.PipelineMetrics
	Logger     zerolog.Logger
}

type Options struct {
	// ImagePrefix is the object key prefix for uploaded radiographs.
	ImagePrefix string
	// EnforcePatientOwnership restricts StartForExisting to the patient's owner.
	EnforcePatientOwnership bool
}

// Service orchestrates the diagnosis pipeline:
// upload, image row, inference, normalization, result row.
type Service struct {
	Dependencies
	opts    Options
	newCode func() string
	now     func() time.Time
}

func NewService(deps Dependencies, opts Options) *Service {
	if opts.ImagePrefix == "" {
		opts.ImagePrefix = "xray-images"
	}
	return &Service{
		Dependencies: deps,
		opts:         opts,
		newCode:      generatePatientCode,
		now:          time.Now,
	}
}

// generatePatientCode returns P- followed by eight upper-case hex characters.
func generatePatientCode() string {
	return "P-" + strings.ToUpper(uuid.NewString()[:8])
}

// StartForNewPatient registers a patient owned by principal and diagnoses the upload.
func (s *Service) StartForNewPatient(ctx context.Context, principal *identity.Principal, spec identity.PatientSpec, up Upload) (out *Assembled, err error) {
	s.Metrics.RunStarted()
	defer func() { s.Metrics.RunFinished(EntryNewPatient, outcomeFor(err)) }()

	if principal == nil {
		return nil, apperr.Authorization("no authenticated session")
	}
	spec.Normalize()
	if err := spec.Validate(s.now()); err != nil {
		return nil, err
	}
	if err := validateUpload(up); err != nil {
		return nil, err
	}

	code, err := s.patientCode(ctx, spec.Code)
	if err != nil {
		return nil, err
	}

	patient := spec.NewPatient(code, principal.ID)
	err = s.Tx.InTx(ctx, func(ctx context.Context) error {
		return s.Patients.Create(ctx, patient)
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apperr.Persistence("patient code "+code+" was registered concurrently", err)
		}
		return nil, apperr.Persistence("save patient", err)
	}

	s.Logger.Info().
		Str("patient_id", patient.ID.String()).
		Str("patient_code", patient.Code).
		Str("member_id", principal.ID.String()).
		Msg("patient registered")

	return s.run(ctx, EntryNewPatient, principal, patient, up)
}

// StartForExisting diagnoses a new upload for a stored patient.
func (s *Service) StartForExisting(ctx context.Context, principal *identity.Principal, patientID uuid.UUID, up Upload) (out *Assembled, err error) {
	s.Metrics.RunStarted()
	defer func() { s.Metrics.RunFinished(EntryExistingPatient, outcomeFor(err)) }()

	if principal == nil {
		return nil, apperr.Authorization("no authenticated session")
	}
	patient, err := s.loadPatient(ctx, principal, patientID)
	if err != nil {
		return nil, err
	}
	if err := validateUpload(up); err != nil {
		return nil, err
	}
	return s.run(ctx, EntryExistingPatient, principal, patient, up)
}

func (s *Service) loadPatient(ctx context.Context, principal *identity.Principal, patientID uuid.UUID) (*identity.Patient, error) {
	if s.opts.EnforcePatientOwnership {
		var patient *identity.Patient
		err := s.Guard.RequireOwner(ctx, principal, func(ctx context.Context, ownerID uuid.UUID) error {
			p, err := s.Patients.GetByIDForOwner(ctx, patientID, ownerID)
			patient = p
			return err
		})
		if err != nil {
			return nil, err
		}
		return patient, nil
	}

	patient, err := s.Patients.GetByID(ctx, patientID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("patient")
	}
	if err != nil {
		return nil, apperr.Persistence("load patient", err)
	}
	return patient, nil
}

// patientCode returns the supplied code when it is free, or generates one.
func (s *Service) patientCode(ctx context.Context, supplied string) (string, error) {
	if supplied != "" {
		exists, err := s.Patients.ExistsByCode(ctx, supplied)
		if err != nil {
			return "", apperr.Persistence("check patient code", err)
		}
		if exists {
			return "", apperr.Validation("DUPLICATE_PATIENT_CODE", "patient code %s is already in use", supplied)
		}
		return supplied, nil
	}

	for range codeAttempts {
		code := s.newCode()
		exists, err := s.Patients.ExistsByCode(ctx, code)
		if err != nil {
			return "", apperr.Persistence("check patient code", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", apperr.Persistence("could not allocate a unique patient code", nil)
}

func validateUpload(up Upload) error {
	err := blobstore.Validate(up.ContentType, up.Data)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, blobstore.ErrEmptyObject):
		return apperr.Validation("EMPTY_FILE", "x-ray file is empty")
	default:
		return apperr.Validation("UNSUPPORTED_MEDIA_TYPE", "x-ray file must be PNG, JPEG or DICOM")
	}
}

// run executes the shared pipeline. It ignores caller cancellation; the
// gateway and inference timeouts bound it instead. The image row is committed
// before inference and survives an inference failure.
func (s *Service) run(ctx context.Context, entry string, principal *identity.Principal, patient *identity.Patient, up Upload) (*Assembled, error) {
	ctx = context.WithoutCancel(ctx)
	log := s.Logger.With().
		Str("entry", entry).
		Str("patient_id", patient.ID.String()).
		Logger()

	stop := s.Metrics.Stage(metrics.StageUpload)
	imageURL, err := s.Gateway.Upload(ctx, s.opts.ImagePrefix, up.FileName, up.ContentType, up.Data)
	stop()
	if err != nil {
		s.Metrics.UpstreamFailed("storage")
		log.Error().Err(err).Msg("image upload failed")
		return nil, apperr.Upstream("image storage is unavailable", err)
	}

	img := &imaging.XrayImage{
		PatientID:  patient.ID,
		UploaderID: principal.ID,
		ImageURL:   imageURL,
		FileName:   up.FileName,
		FileSize:   int64(len(up.Data)),
	}
	stop = s.Metrics.Stage(metrics.StageImageSave)
	err = s.Tx.InTx(ctx, func(ctx context.Context) error {
		return s.Images.Create(ctx, img)
	})
	stop()
	if err != nil {
		return nil, apperr.Persistence("save x-ray image", err)
	}
	log = log.With().Str("image_id", img.ID.String()).Logger()

	stop = s.Metrics.Stage(metrics.StageInference)
	raw, err := s.Predictor.Predict(ctx, imageURL)
	stop()
	if err != nil {
		s.Metrics.UpstreamFailed("inference")
		log.Error().Err(err).Msg("inference failed, image kept without result")
		return nil, apperr.Upstream("inference service is unavailable", err)
	}

	stop = s.Metrics.Stage(metrics.StageNormalize)
	canonical, err := s.Normalizer.Normalize(raw)
	stop()
	if err != nil {
		s.Metrics.UpstreamFailed("inference")
		log.Error().Err(err).Msg("inference response rejected")
		return nil, apperr.Upstream("inference service returned no prediction", err)
	}

	result := canonical.Result(img.ID)
	stop = s.Metrics.Stage(metrics.StageResult)
	err = s.Tx.InTx(ctx, func(ctx context.Context) error {
		return s.Results.Create(ctx, result)
	})
	stop()
	if err != nil {
		return nil, apperr.Persistence("save diagnosis result", err)
	}

	log.Info().
		Str("result_id", result.ID.String()).
		Str("predicted_disease", result.PredictedDisease).
		Float64("probability", result.Probability).
		Msg("diagnosis completed")

	return Assemble(patient, img, result), nil
}

// GetResult returns a stored result with its image and patient.
func (s *Service) GetResult(ctx context.Context, resultID uuid.UUID) (*Assembled, error) {
	result, err := s.getResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	img, err := s.Images.GetByID(ctx, result.ImageID)
	if err != nil {
		return nil, apperr.Persistence("load x-ray image", err)
	}
	patient, err := s.Patients.GetByID(ctx, img.PatientID)
	if err != nil {
		return nil, apperr.Persistence("load patient", err)
	}
	return Assemble(patient, img, result), nil
}

func (s *Service) getResult(ctx context.Context, resultID uuid.UUID) (*Result, error) {
	result, err := s.Results.GetByID(ctx, resultID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("diagnosis result")
	}
	if err != nil {
		return nil, apperr.Persistence("load diagnosis result", err)
	}
	return result, nil
}

// AddComment appends a note to a result. Any authenticated principal may comment.
func (s *Service) AddComment(ctx context.Context, principal *identity.Principal, resultID uuid.UUID, content string) (*Comment, error) {
	if principal == nil {
		return nil, apperr.Authorization("no authenticated session")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.Validation("", "content is required")
	}
	if _, err := s.getResult(ctx, resultID); err != nil {
		return nil, err
	}

	c := &Comment{ResultID: resultID, AuthorID: principal.ID, Content: content}
	if err := s.Comments.Create(ctx, c); err != nil {
		return nil, apperr.Persistence("save comment", err)
	}
	return c, nil
}

// ListComments returns the notes on a result, oldest first.
func (s *Service) ListComments(ctx context.Context, resultID uuid.UUID) ([]*Comment, error) {
	if _, err := s.getResult(ctx, resultID); err != nil {
		return nil, err
	}
	items, err := s.Comments.ListByResult(ctx, resultID)
	if err != nil {
		return nil, apperr.Persistence("list comments", err)
	}
	if items == nil {
		items = []*Comment{}
	}
	return items, nil
}

// DeleteResult removes a result and its comments. Only the principal who
// uploaded the image may delete it; the image itself is kept.
func (s *Service) DeleteResult(ctx context.Context, principal *identity.Principal, resultID uuid.UUID) error {
	err := s.Guard.RequireOwner(ctx, principal, func(ctx context.Context, ownerID uuid.UUID) error {
		_, err := s.Results.GetByIDForUploader(ctx, resultID, ownerID)
		return err
	})
	if err != nil {
		return err
	}

	var removed int64
	err = s.Tx.InTx(ctx, func(ctx context.Context) error {
		n, err := s.Comments.DeleteByResult(ctx, resultID)
		if err != nil {
			return err
		}
		removed = n
		return s.Results.Delete(ctx, resultID)
	})
	if err != nil {
		return apperr.Persistence("delete diagnosis result", err)
	}

	s.Logger.Info().
		Str("result_id", resultID.String()).
		Int64("comments_removed", removed).
		Msg("diagnosis result deleted")
	return nil
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, blobstore.ErrUploadFailed):
		return metrics.OutcomeUploadFailed
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return metrics.OutcomeValidation
	case apperr.KindNotFound:
		return metrics.OutcomeNotFound
	case apperr.KindAuthorization:
		return metrics.OutcomeUnauthorized
	case apperr.KindUpstream:
		return metrics.OutcomeInferenceFailed
	default:
		return metrics.OutcomePersistenceError
	}
}
