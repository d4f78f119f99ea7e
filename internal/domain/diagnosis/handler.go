package diagnosis

import (
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/eyesofbreath/xray-api/internal/domain/identity"
	"github.com/eyesofbreath/xray-api/internal/platform/apperr"
)

type Handler struct {
	svc   *Service
	guard *identity.Guard
}

func NewHandler(svc *Service, guard *identity.Guard) *Handler {
	return &Handler{svc: svc, guard: guard}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/diagnosis")
	g.POST("/start/new-patient", h.StartNewPatient)
	g.POST("/start/existing-patient", h.StartExistingPatient)
	g.GET("/:resultId", h.GetResult)
	g.DELETE("/:resultId", h.DeleteResult)
	g.POST("/:resultId/comments", h.AddComment)
	g.GET("/:resultId/comments", h.ListComments)
}

func (h *Handler) StartNewPatient(c echo.Context) error {
	ctx := c.Request().Context()
	principal, err := h.guard.ResolvePrincipal(ctx)
	if err != nil {
		return err
	}
	spec, err := patientSpecFromForm(c)
	if err != nil {
		return err
	}
	up, err := uploadFromForm(c)
	if err != nil {
		return err
	}
	out, err := h.svc.StartForNewPatient(ctx, principal, spec, up)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) StartExistingPatient(c echo.Context) error {
	ctx := c.Request().Context()
	principal, err := h.guard.ResolvePrincipal(ctx)
	if err != nil {
		return err
	}
	patientID, err := uuid.Parse(strings.TrimSpace(c.FormValue("patient_id")))
	if err != nil {
		return apperr.Validation("", "invalid patient_id")
	}
	up, err := uploadFromForm(c)
	if err != nil {
		return err
	}
	out, err := h.svc.StartForExisting(ctx, principal, patientID, up)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetResult(c echo.Context) error {
	id, err := resultID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.GetResult(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) DeleteResult(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := resultID(c)
	if err != nil {
		return err
	}
	principal, err := h.guard.ResolvePrincipal(ctx)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteResult(ctx, principal, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type commentRequest struct {
	Content string `json:"content"`
}

func (h *Handler) AddComment(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := resultID(c)
	if err != nil {
		return err
	}
	principal, err := h.guard.ResolvePrincipal(ctx)
	if err != nil {
		return err
	}
	var req commentRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("", "invalid request body")
	}
	comment, err := h.svc.AddComment(ctx, principal, id, req.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, comment)
}

func (h *Handler) ListComments(c echo.Context) error {
	id, err := resultID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListComments(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func resultID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("resultId"))
	if err != nil {
		return uuid.Nil, apperr.Validation("", "invalid result id")
	}
	return id, nil
}

// dateLayout is the accepted birth_date format.
const dateLayout = "2006-01-02"

func patientSpecFromForm(c echo.Context) (identity.PatientSpec, error) {
	spec := identity.PatientSpec{
		Code:      c.FormValue("patient_code"),
		Name:      c.FormValue("name"),
		Gender:    c.FormValue("gender"),
		BloodType: optionalString(c.FormValue("blood_type")),
		Country:   optionalString(c.FormValue("country")),
	}
	if raw := strings.TrimSpace(c.FormValue("birth_date")); raw != "" {
		d, err := time.Parse(dateLayout, raw)
		if err != nil {
			return spec, apperr.Validation("", "birth_date must be YYYY-MM-DD")
		}
		spec.BirthDate = d
	}
	var err error
	if spec.Height, err = optionalFloat(c.FormValue("height"), "height"); err != nil {
		return spec, err
	}
	if spec.Weight, err = optionalFloat(c.FormValue("weight"), "weight"); err != nil {
		return spec, err
	}
	return spec, nil
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func optionalFloat(v, field string) (*float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, apperr.Validation("", "%s must be a number", field)
	}
	return &f, nil
}

func uploadFromForm(c echo.Context) (Upload, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return Upload{}, apperr.Validation("", "file is required")
	}
	src, err := fh.Open()
	if err != nil {
		return Upload{}, apperr.Validation("", "failed to open uploaded file")
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return Upload{}, apperr.Validation("", "failed to read uploaded file")
	}
	return Upload{
		FileName:    fh.Filename,
		ContentType: detectContentType(fh.Header.Get(echo.HeaderContentType), fh.Filename, data),
		Data:        data,
	}, nil
}

// detectContentType trusts a specific declared type, otherwise sniffs the
// bytes. DICOM files are recognised by extension or their DICM preamble.
func detectContentType(declared, fileName string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != echo.MIMEOctetStream {
		return declared
	}
	if strings.EqualFold(filepath.Ext(fileName), ".dcm") || isDICOM(data) {
		return "application/dicom"
	}
	return http.DetectContentType(data)
}

func isDICOM(data []byte) bool {
	return len(data) >= 132 && string(data[128:132]) == "DICM"
}
