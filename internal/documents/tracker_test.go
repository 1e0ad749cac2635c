package documents

import (
	"errors"
	"testing"

	"github.com/BTreeMap/CoverageNavigator/internal/models"
	"github.com/google/go-cmp/cmp"
)

func addDoc(t *testing.T, tr *Tracker, typ models.DocumentType) models.Document {
	t.Helper()
	doc, err := tr.Add(NewDocument{Name: string(typ) + ".pdf", Type: typ, Size: 10})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	return doc
}

func complete(t *testing.T, tr *Tracker, id string, extracted *models.ExtractedFields) {
	t.Helper()
	if _, err := tr.MarkProcessing(id); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}
	if _, err := tr.MarkCompleted(id, extracted); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
}

func TestTracker_Lifecycle(t *testing.T) {
	tr := NewTracker()
	doc := addDoc(t, tr, models.DocumentPaystub)
	if doc.Status != models.DocumentStatusUploaded || doc.ID == "" {
		t.Fatalf("unexpected new document %+v", doc)
	}

	if _, err := tr.MarkCompleted(doc.ID, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("uploaded -> completed should be rejected, got %v", err)
	}
	complete(t, tr, doc.ID, nil)
	if _, err := tr.MarkFailed(doc.ID, "late"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("completed is terminal, got %v", err)
	}
	if _, err := tr.MarkProcessing("missing"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
	if _, err := tr.Add(NewDocument{Type: "selfie"}); !errors.Is(err, ErrInvalidDocumentType) {
		t.Errorf("expected ErrInvalidDocumentType, got %v", err)
	}
}

func TestTracker_FailureIsIsolated(t *testing.T) {
	tr := NewTracker()
	bad := addDoc(t, tr, models.DocumentStateID)
	good := addDoc(t, tr, models.DocumentUtilityBill)

	if _, err := tr.MarkProcessing(bad.ID); err != nil {
		t.Fatal(err)
	}
	failed, err := tr.MarkFailed(bad.ID, "unreadable scan")
	if err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if failed.Status != models.DocumentStatusError || failed.Error != "unreadable scan" {
		t.Errorf("unexpected failed document %+v", failed)
	}
	complete(t, tr, good.ID, nil)

	want := []UploadProcessingError{{DocumentID: bad.ID, Name: bad.Name, Reason: "unreadable scan"}}
	if diff := cmp.Diff(want, tr.Failures()); diff != "" {
		t.Errorf("failures mismatch (-want +got):\n%s", diff)
	}
	if got, _ := tr.Get(good.ID); got.Status != models.DocumentStatusCompleted {
		t.Errorf("other document should complete, got %s", got.Status)
	}
}

func TestTracker_ChecklistAndReady(t *testing.T) {
	tr := NewTracker()
	if tr.Ready() {
		t.Fatal("empty tracker should not be ready")
	}
	for _, typ := range []models.DocumentType{models.DocumentUtilityBill, models.DocumentStateID} {
		complete(t, tr, addDoc(t, tr, typ).ID, nil)
	}
	pay := addDoc(t, tr, models.DocumentPaystub)
	if tr.Ready() {
		t.Error("paystub still uploaded, should not be ready")
	}
	if _, err := tr.MarkFailed(pay.ID, "blurry"); err != nil {
		t.Fatal(err)
	}
	if tr.Ready() {
		t.Error("failed paystub must not satisfy the checklist")
	}
	complete(t, tr, addDoc(t, tr, models.DocumentPaystub).ID, nil)
	if !tr.Ready() {
		t.Error("all required documents completed, should be ready")
	}

	items := tr.Checklist()
	if len(items) != len(models.DocumentRequirements) {
		t.Fatalf("expected %d checklist items, got %d", len(models.DocumentRequirements), len(items))
	}
	for _, item := range items {
		if item.Completed != item.Required {
			t.Errorf("%s: completed=%v required=%v", item.Type, item.Completed, item.Required)
		}
	}
}

func TestTracker_ApplyAndExtracted(t *testing.T) {
	tr := NewTracker()
	a := addDoc(t, tr, models.DocumentStateID)
	b := addDoc(t, tr, models.DocumentPaystub)
	income := 2100.0

	events := []struct {
		id string
		ev models.DocumentEvent
	}{
		{a.ID, models.DocumentEvent{Status: models.DocumentStatusProcessing}},
		{b.ID, models.DocumentEvent{Status: models.DocumentStatusProcessing}},
		{b.ID, models.DocumentEvent{Status: models.DocumentStatusCompleted, ExtractedFields: &models.ExtractedFields{MonthlyIncome: &income, FullName: "J. Doe"}}},
		{a.ID, models.DocumentEvent{Status: models.DocumentStatusCompleted, ExtractedFields: &models.ExtractedFields{FullName: "Jane Doe", DateOfBirth: "1990-01-01"}}},
	}
	for _, e := range events {
		if _, err := tr.Apply(e.id, e.ev); err != nil {
			t.Fatalf("Apply(%s, %s) failed: %v", e.id, e.ev.Status, err)
		}
	}
	if _, err := tr.Apply(a.ID, models.DocumentEvent{Status: models.DocumentStatusUploaded}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("reporting uploaded should be rejected, got %v", err)
	}

	got := tr.Extracted()
	if got.FullName != "Jane Doe" || got.DateOfBirth != "1990-01-01" || got.MonthlyIncome == nil || *got.MonthlyIncome != income {
		t.Errorf("unexpected merged fields %+v", got)
	}
}

func TestRestoreTracker(t *testing.T) {
	tr := NewTracker()
	doc := addDoc(t, tr, models.DocumentPaystub)
	restored := RestoreTracker(tr.Documents())
	if _, err := restored.MarkProcessing(doc.ID); err != nil {
		t.Errorf("restored tracker should accept events, got %v", err)
	}
	if got, _ := tr.Get(doc.ID); got.Status != models.DocumentStatusUploaded {
		t.Error("restored tracker must not alias the original")
	}
}
