package records

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/eyesofbreath/xray-api/internal/domain/identity"
	"github.com/eyesofbreath/xray-api/internal/platform/apperr"
	"github.com/eyesofbreath/xray-api/pkg/pagination"
)

const dateLayout = "2006-01-02"

type Handler struct {
	svc   *Service
	guard *identity.Guard
}

func NewHandler(svc *Service, guard *identity.Guard) *Handler {
	return &Handler{svc: svc, guard: guard}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/patients")
	g.GET("", h.List)
	g.GET("/search", h.Search)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Search(c echo.Context) error {
	f := identity.PatientFilter{
		Name:   c.QueryParam("name"),
		Gender: c.QueryParam("gender"),
	}
	if raw := strings.TrimSpace(c.QueryParam("birth_date")); raw != "" {
		d, err := time.Parse(dateLayout, raw)
		if err != nil {
			return apperr.Validation("", "birth_date must be YYYY-MM-DD")
		}
		f.BirthDate = &d
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.Search(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

type patientRequest struct {
	Name              string   `json:"name"`
	BirthDate         string   `json:"birth_date"`
	Gender            string   `json:"gender"`
	BloodType         *string  `json:"blood_type"`
	Height            *float64 `json:"height"`
	Weight            *float64 `json:"weight"`
	Country           *string  `json:"country"`
	CurrentMedication *string  `json:"current_medication"`
	SpecialNotes      *string  `json:"special_notes"`
}

func (r patientRequest) spec() (identity.PatientSpec, error) {
	spec := identity.PatientSpec{
		Name:              r.Name,
		Gender:            r.Gender,
		BloodType:         r.BloodType,
		Height:            r.Height,
		Weight:            r.Weight,
		Country:           r.Country,
		CurrentMedication: r.CurrentMedication,
		SpecialNotes:      r.SpecialNotes,
	}
	if raw := strings.TrimSpace(r.BirthDate); raw != "" {
		d, err := time.Parse(dateLayout, raw)
		if err != nil {
			return spec, apperr.Validation("", "birth_date must be YYYY-MM-DD")
		}
		spec.BirthDate = d
	}
	return spec, nil
}

func (h *Handler) Update(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := patientID(c)
	if err != nil {
		return err
	}
	principal, err := h.guard.ResolvePrincipal(ctx)
	if err != nil {
		return err
	}
	var req patientRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("", "invalid request body")
	}
	spec, err := req.spec()
	if err != nil {
		return err
	}
	p, err := h.svc.Update(ctx, principal, id, spec)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := patientID(c)
	if err != nil {
		return err
	}
	principal, err := h.guard.ResolvePrincipal(ctx)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(ctx, principal, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func patientID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("", "invalid patient id")
	}
	return id, nil
}
