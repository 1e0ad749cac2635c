package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/CoverageNavigator/internal/assistant"
	"github.com/BTreeMap/CoverageNavigator/internal/documents"
	"github.com/BTreeMap/CoverageNavigator/internal/models"
	"github.com/BTreeMap/CoverageNavigator/internal/screener"
	"github.com/BTreeMap/CoverageNavigator/internal/store"
	"github.com/google/go-cmp/cmp"
)

// stubAsker answers immediately or blocks until released.
type stubAsker struct {
	started chan struct{}
	release chan struct{}
	last    assistant.Request
}

func (a *stubAsker) Ask(ctx context.Context, req assistant.Request) (assistant.Reply, error) {
	a.last = req
	if a.started != nil {
		a.started <- struct{}{}
		<-a.release
	}
	return assistant.Reply{Text: "You may qualify for Healthy SF."}, nil
}

func newTestManager(t *testing.T, deps Deps, opts ...ManagerOption) *Manager {
	t.Helper()
	m, err := NewManager(store.NewInMemoryStore(), deps, opts...)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func newTestSession(t *testing.T, deps Deps) (*Manager, *Session) {
	t.Helper()
	m := newTestManager(t, deps)
	s, err := m.Create(context.Background())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return m, s
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// completeScreener walks the default schema with a low-income SF citizen.
func completeScreener(t *testing.T, s *Session) {
	t.Helper()
	must(t, s.Start())
	must(t, s.SetField("age", 40))
	must(t, s.SetField("zipCode", "94102"))
	must(t, s.Advance())
	must(t, s.SetField("employmentStatus", "unemployed"))
	must(t, s.SetField("monthlyIncome", "1000"))
	must(t, s.Advance())
	must(t, s.SetField("immigrationStatus", "citizen"))
	must(t, s.SetField("dependentsUnder14", 0))
	must(t, s.Advance())
	must(t, s.SetOption("medicalConditions", "diabetes", true))
	must(t, s.Advance())
}

func uploadCompleted(t *testing.T, s *Session, typ models.DocumentType) models.Document {
	t.Helper()
	doc, err := s.Upload(context.Background(), documents.Upload{
		Name: string(typ) + ".pdf", Type: typ, ContentType: "application/pdf", Size: 4, Body: strings.NewReader("data"),
	})
	must(t, err)
	_, err = s.ApplyDocumentEvent(doc.ID, models.DocumentEvent{Status: models.DocumentStatusProcessing})
	must(t, err)
	doc, err = s.ApplyDocumentEvent(doc.ID, models.DocumentEvent{Status: models.DocumentStatusCompleted})
	must(t, err)
	return doc
}

func TestSession_FullFlow(t *testing.T) {
	_, s := newTestSession(t, Deps{})
	if s.Step() != models.FlowStepLanding {
		t.Fatalf("new session should be on landing, got %s", s.Step())
	}
	completeScreener(t, s)
	if s.Step() != models.FlowStepUpload {
		t.Fatalf("completing the screener should move to upload, got %s", s.Step())
	}
	if err := s.SetField("age", 41); !errors.Is(err, ErrWrongStep) {
		t.Errorf("answers are frozen after the screener, got %v", err)
	}

	if err := s.ContinueToAssessment(); !errors.Is(err, ErrDocumentsIncomplete) {
		t.Errorf("expected ErrDocumentsIncomplete, got %v", err)
	}
	for _, typ := range []models.DocumentType{models.DocumentUtilityBill, models.DocumentStateID, models.DocumentPaystub} {
		uploadCompleted(t, s, typ)
	}
	det, err := s.Assess(context.Background())
	must(t, err)
	if s.Step() != models.FlowStepResults {
		t.Errorf("expected results, got %s", s.Step())
	}
	if diff := cmp.Diff([]string{"Federal Medicaid", "Healthy SF"}, det.Programs); diff != "" {
		t.Errorf("programs mismatch (-want +got):\n%s", diff)
	}

	ctx := s.Context()
	for _, want := range []string{"- Age: 40\n", "- Medical Conditions: Diabetes\n", "- Status: Eligible\n", "No previous messages"} {
		if !strings.Contains(ctx, want) {
			t.Errorf("context missing %q:\n%s", want, ctx)
		}
	}

	view := s.View()
	if !view.Ready || view.Determination == nil || len(view.Documents) != 3 || !view.Screener.Complete {
		t.Errorf("unexpected view %+v", view)
	}
}

func TestSession_BackFromUploadResumesLastStep(t *testing.T) {
	_, s := newTestSession(t, Deps{})
	completeScreener(t, s)
	frozen := s.Snapshot().Answers

	must(t, s.Back())
	if s.Step() != models.FlowStepScreener {
		t.Fatalf("expected screener, got %s", s.Step())
	}
	view := s.View()
	if view.Screener.Index != screener.DefaultSchema().StepCount()-1 {
		t.Errorf("expected last step, got %d", view.Screener.Index)
	}
	if diff := cmp.Diff(frozen, view.Screener.Answers); diff != "" {
		t.Errorf("answers should carry over (-want +got):\n%s", diff)
	}

	must(t, s.SetOption("medicalConditions", "pregnancy", true))
	must(t, s.Advance())
	got, _ := s.Snapshot().Answers["medicalConditions"]
	if diff := cmp.Diff([]string{"diabetes", "pregnancy"}, got.Set); diff != "" {
		t.Errorf("edited answers should be frozen again (-want +got):\n%s", diff)
	}
	if _, ok := frozen["medicalConditions"]; !ok || len(frozen["medicalConditions"].Set) != 1 {
		t.Error("earlier snapshot must not change")
	}
}

func TestSession_RetreatToLandingKeepsAnswers(t *testing.T) {
	_, s := newTestSession(t, Deps{})
	must(t, s.Start())
	must(t, s.SetField("age", 33))
	must(t, s.Retreat())
	if s.Step() != models.FlowStepLanding {
		t.Fatalf("retreat from first step should return to landing, got %s", s.Step())
	}
	if err := s.Advance(); !errors.Is(err, ErrWrongStep) {
		t.Errorf("expected ErrWrongStep on landing, got %v", err)
	}
	must(t, s.Start())
	if n, _ := s.View().Screener.Answers.Number("age"); n != 33 {
		t.Errorf("answers should survive leaving the screener, got %v", n)
	}
}

func TestSession_AdvanceBlockedByMissing(t *testing.T) {
	_, s := newTestSession(t, Deps{})
	must(t, s.Start())
	must(t, s.SetField("age", 40))
	var inc *screener.IncompleteStepError
	if err := s.Advance(); !errors.As(err, &inc) || inc.Missing[0] != "zipCode" {
		t.Errorf("expected IncompleteStepError for zipCode, got %v", err)
	}
	var ve *screener.ValidationError
	if err := s.SetField("zipCode", "9410"); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestSession_BackFromResults(t *testing.T) {
	_, s := newTestSession(t, Deps{})
	completeScreener(t, s)
	for _, typ := range []models.DocumentType{models.DocumentUtilityBill, models.DocumentStateID, models.DocumentPaystub} {
		uploadCompleted(t, s, typ)
	}
	_, err := s.Assess(context.Background())
	must(t, err)
	must(t, s.Back())
	if s.Step() != models.FlowStepUpload || s.View().Determination != nil {
		t.Errorf("back from results should clear the determination and return to upload")
	}
	if err := s.Start(); !errors.Is(err, ErrWrongStep) {
		t.Errorf("expected ErrWrongStep, got %v", err)
	}
}

func TestSession_Reset(t *testing.T) {
	_, s := newTestSession(t, Deps{Asker: &stubAsker{}})
	completeScreener(t, s)
	uploadCompleted(t, s, models.DocumentPaystub)
	s.OpenChat()
	_, err := s.SendChat(context.Background(), "hi")
	must(t, err)

	s.Reset()
	view := s.View()
	if view.CurrentStep != models.FlowStepLanding || len(view.Documents) != 0 || len(view.ChatHistory) != 0 || len(view.Screener.Answers) != 0 {
		t.Errorf("reset should clear everything, got %+v", view)
	}
}

func TestSession_ChatDoesNotBlockSession(t *testing.T) {
	asker := &stubAsker{started: make(chan struct{}), release: make(chan struct{})}
	_, s := newTestSession(t, Deps{Asker: asker})
	must(t, s.Start())
	must(t, s.SetField("age", 40))
	greeting := s.OpenChat()
	if len(greeting) != 1 {
		t.Fatalf("expected greeting, got %+v", greeting)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.SendChat(context.Background(), "What now?")
		done <- err
	}()
	<-asker.started

	edited := make(chan error, 1)
	go func() { edited <- s.SetField("zipCode", "94110") }()
	select {
	case err := <-edited:
		must(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session edits must not wait for the assistant")
	}
	if !s.View().ChatPending {
		t.Error("view should report the pending request")
	}
	if _, err := s.SendChat(context.Background(), "again"); !errors.Is(err, assistant.ErrRequestInFlight) {
		t.Errorf("expected ErrRequestInFlight, got %v", err)
	}

	close(asker.release)
	must(t, <-done)
	if !strings.Contains(asker.last.Context, "- Age: 40\n") || !strings.Contains(asker.last.Context, "Assistant: Hello!") {
		t.Errorf("context should include answers and prior history:\n%s", asker.last.Context)
	}
	if n := len(s.View().ChatHistory); n != 3 {
		t.Errorf("expected 3 chat messages, got %d", n)
	}
}
