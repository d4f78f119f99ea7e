package records

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eyesofbreath/xray-api/internal/domain/identity"
	"github.com/eyesofbreath/xray-api/internal/platform/apperr"
)

type fixture struct {
	svc      *Service
	guard    *identity.Guard
	chart    *chart
	tx       *recordingTx
	owner    *identity.Principal
	stranger *identity.Principal
}

func newFixture() *fixture {
	f := &fixture{
		chart:    newChart(),
		tx:       &recordingTx{},
		owner:    &identity.Principal{ID: uuid.New(), Email: "owner@example.com"},
		stranger: &identity.Principal{ID: uuid.New(), Email: "other@example.com"},
	}
	f.guard = identity.NewGuard(&mockPrincipalRepo{byEmail: map[string]*identity.Principal{
		f.owner.Email:    f.owner,
		f.stranger.Email: f.stranger,
	}}, time.Minute)
	f.svc = NewService(
		mockPatientRepo{f.chart},
		mockImageRepo{f.chart},
		mockResultRepo{f.chart},
		mockCommentRepo{f.chart},
		f.tx,
		f.guard,
		zerolog.Nop(),
	)
	return f
}

func TestService_Get(t *testing.T) {
	f := newFixture()
	p := f.chart.addPatient("Lee", f.owner.ID)
	f.chart.addImage(p.ID, true)
	f.chart.addImage(p.ID, false)

	rec, err := f.svc.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(rec.XrayImages) != 2 {
		t.Fatalf("expected 2 images, got %d", len(rec.XrayImages))
	}
	withResult := 0
	for _, iv := range rec.XrayImages {
		if iv.DiagnosisResult != nil {
			withResult++
		}
	}
	if withResult != 1 {
		t.Errorf("expected exactly one image with a result, got %d", withResult)
	}

	if _, err := f.svc.Get(context.Background(), uuid.New()); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_ListAndSearch(t *testing.T) {
	f := newFixture()
	f.chart.addPatient("A", f.owner.ID)
	f.chart.addPatient("B", f.stranger.ID)
	female := f.chart.addPatient("C", f.owner.ID)
	female.Gender = "F"

	items, total, err := f.svc.List(context.Background(), 2, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 3 || len(items) != 2 {
		t.Errorf("expected 2 of 3, got %d of %d", len(items), total)
	}

	items, total, err = f.svc.Search(context.Background(), identity.PatientFilter{Gender: "F"}, 20, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 1 || items[0].ID != female.ID {
		t.Errorf("expected only the female patient, got %d results", total)
	}
	if items[0].XrayImages == nil {
		t.Error("images should be an empty list, not null")
	}
}

func TestService_Update(t *testing.T) {
	f := newFixture()
	p := f.chart.addPatient("Lee", f.owner.ID)
	spec := identity.PatientSpec{Name: "Lee Jieun", BirthDate: time.Date(1985, 3, 2, 0, 0, 0, 0, time.UTC), Gender: "f"}

	if _, err := f.svc.Update(context.Background(), f.stranger, p.ID, spec); !apperr.Is(err, apperr.KindAuthorization) {
		t.Fatalf("expected authorization failure, got %v", err)
	}
	if f.chart.patients[p.ID].Name != "Lee" {
		t.Fatal("non-owner update must not change the patient")
	}

	updated, err := f.svc.Update(context.Background(), f.owner, p.ID, spec)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != "Lee Jieun" || updated.Gender != "F" || updated.Code != "P-Lee" {
		t.Errorf("unexpected patient %+v", updated)
	}

	bad := spec
	bad.Name = ""
	if _, err := f.svc.Update(context.Background(), f.owner, p.ID, bad); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation failure, got %v", err)
	}
}

func TestService_DeleteCascadesInOrder(t *testing.T) {
	f := newFixture()
	p := f.chart.addPatient("Lee", f.owner.ID)
	f.chart.addImage(p.ID, true)
	f.chart.addImage(p.ID, true)
	other := f.chart.addPatient("Kim", f.owner.ID)
	f.chart.addImage(other.ID, true)

	if err := f.svc.Delete(context.Background(), f.stranger, p.ID); !apperr.Is(err, apperr.KindAuthorization) {
		t.Fatalf("expected authorization failure, got %v", err)
	}
	if len(f.chart.deletes) != 0 {
		t.Fatal("non-owner delete must not touch any rows")
	}

	if err := f.svc.Delete(context.Background(), f.owner, p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if want := []string{"comments", "results", "images", "patient"}; !slices.Equal(f.chart.deletes, want) {
		t.Errorf("delete order = %v, want %v", f.chart.deletes, want)
	}
	if f.tx.calls != 1 {
		t.Errorf("expected one transaction, got %d", f.tx.calls)
	}
	if _, ok := f.chart.patients[p.ID]; ok {
		t.Error("patient should be gone")
	}
	if len(f.chart.images) != 1 || len(f.chart.results) != 1 || len(f.chart.comments) != 1 {
		t.Errorf("other patient's chart must survive: %d images, %d results, %d comments",
			len(f.chart.images), len(f.chart.results), len(f.chart.comments))
	}
}

func TestService_DeleteFailure(t *testing.T) {
	f := newFixture()
	p := f.chart.addPatient("Lee", f.owner.ID)
	f.chart.deleteErr = errors.New("deadlock detected")

	err := f.svc.Delete(context.Background(), f.owner, p.ID)
	if !apperr.Is(err, apperr.KindPersistence) {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	if slices.Contains(f.chart.deletes, "patient") {
		t.Error("patient delete must not run after a failed child delete")
	}
}
