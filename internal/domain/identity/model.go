package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eyesofbreath/xray-api/internal/platform/apperr"
)

// Principal is an authenticated staff account (members table).
type Principal struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Nickname  string    `json:"nickname"`
	CreatedAt time.Time `json:"created_at"`
}

type Patient struct {
	ID                uuid.UUID `json:"id"`
	Code              string    `json:"patient_code"`
	Name              string    `json:"name"`
	BirthDate         time.Time `json:"birth_date"`
	Gender            string    `json:"gender"`
	BloodType         *string   `json:"blood_type,omitempty"`
	Height            *float64  `json:"height,omitempty"`
	Weight            *float64  `json:"weight,omitempty"`
	Country           *string   `json:"country,omitempty"`
	CurrentMedication *string   `json:"current_medication,omitempty"`
	SpecialNotes      *string   `json:"special_notes,omitempty"`
	OwnerID           uuid.UUID `json:"owner_id"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// PatientSpec is the caller-supplied part of a patient record.
type PatientSpec struct {
	Code              string
	Name              string
	BirthDate         time.Time
	Gender            string
	BloodType         *string
	Height            *float64
	Weight            *float64
	Country           *string
	CurrentMedication *string
	SpecialNotes      *string
}

// Normalize trims text fields and upper-cases the sex code.
func (s *PatientSpec) Normalize() {
	s.Code = strings.TrimSpace(s.Code)
	s.Name = strings.TrimSpace(s.Name)
	s.Gender = strings.ToUpper(strings.TrimSpace(s.Gender))
}

// Validate requires name, birth date and a sex code of M or F.
func (s *PatientSpec) Validate(now time.Time) error {
	if s.Name == "" {
		return apperr.Validation("", "name is required")
	}
	if s.BirthDate.IsZero() {
		return apperr.Validation("", "birth_date is required")
	}
	if s.BirthDate.After(now) {
		return apperr.Validation("", "birth_date cannot be in the future")
	}
	if s.Gender != "M" && s.Gender != "F" {
		return apperr.Validation("", "gender must be M or F")
	}
	if s.Height != nil && *s.Height < 0 {
		return apperr.Validation("", "height cannot be negative")
	}
	if s.Weight != nil && *s.Weight < 0 {
		return apperr.Validation("", "weight cannot be negative")
	}
	return nil
}

// NewPatient builds an unsaved patient owned by ownerID.
func (s *PatientSpec) NewPatient(code string, ownerID uuid.UUID) *Patient {
	return &Patient{
		Code:              code,
		Name:              s.Name,
		BirthDate:         s.BirthDate,
		Gender:            s.Gender,
		BloodType:         s.BloodType,
		Height:            s.Height,
		Weight:            s.Weight,
		Country:           s.Country,
		CurrentMedication: s.CurrentMedication,
		SpecialNotes:      s.SpecialNotes,
		OwnerID:           ownerID,
	}
}

// Apply overwrites the editable fields of p. The patient code and owner never change.
func (s *PatientSpec) Apply(p *Patient) {
	p.Name = s.Name
	p.BirthDate = s.BirthDate
	p.Gender = s.Gender
	p.BloodType = s.BloodType
	p.Height = s.Height
	p.Weight = s.Weight
	p.Country = s.Country
	p.CurrentMedication = s.CurrentMedication
	p.SpecialNotes = s.SpecialNotes
}

// PatientFilter narrows a patient search; zero values are ignored.
type PatientFilter struct {
	Name      string
	BirthDate *time.Time
	Gender    string
}
