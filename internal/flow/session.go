// Package flow sequences one user's journey from landing through the
// screener, document upload and assessment to the results, and manages the
// live sessions of the service.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/CoverageNavigator/internal/assistant"
	"github.com/BTreeMap/CoverageNavigator/internal/documents"
	"github.com/BTreeMap/CoverageNavigator/internal/eligibility"
	"github.com/BTreeMap/CoverageNavigator/internal/metrics"
	"github.com/BTreeMap/CoverageNavigator/internal/models"
	"github.com/BTreeMap/CoverageNavigator/internal/screener"
)

// Deps are the collaborators shared by every session.
type Deps struct {
	Schema     *screener.Schema
	Builder    *eligibility.ContextBuilder
	Determiner eligibility.Determiner
	Asker      assistant.Asker
	Intake     *documents.Intake
	Recorder   metrics.Recorder
	Now        func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Schema == nil {
		d.Schema = screener.DefaultSchema()
	}
	if d.Builder == nil {
		d.Builder = eligibility.NewContextBuilder(d.Schema.Steps())
	}
	if d.Determiner == nil {
		d.Determiner = eligibility.NewRulesEngine()
	}
	if d.Asker == nil {
		d.Asker = assistant.NewProxy(nil)
	}
	if d.Intake == nil {
		d.Intake = documents.NewIntake(nil, nil)
	}
	if d.Recorder == nil {
		d.Recorder = metrics.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Session is the state of one user. All methods are safe for concurrent use;
// chat sends do not hold the session lock while waiting for a reply.
type Session struct {
	deps Deps
	id   string

	mu            sync.Mutex
	step          models.FlowStep
	machine       *screener.Machine
	answers       models.Answers
	tracker       *documents.Tracker
	determination *models.Determination
	createdAt     time.Time
	updatedAt     time.Time

	chat *assistant.Chat
}

func newSession(deps Deps, id string) *Session {
	now := deps.Now()
	s := &Session{
		deps:      deps,
		id:        id,
		step:      models.FlowStepLanding,
		answers:   make(models.Answers),
		createdAt: now,
		updatedAt: now,
	}
	s.tracker = s.newTracker(nil)
	s.chat = s.newChat()
	return s
}

// restoreSession rebuilds a session from a snapshot. The chat starts empty.
func restoreSession(deps Deps, state models.FlowState) (*Session, error) {
	s := &Session{
		deps:          deps,
		id:            state.SessionID,
		step:          state.CurrentStep,
		answers:       state.Answers.Clone(),
		determination: state.Determination,
		createdAt:     state.CreatedAt,
		updatedAt:     state.UpdatedAt,
	}
	if s.answers == nil {
		s.answers = make(models.Answers)
	}
	s.tracker = s.newTracker(state.Documents)
	s.chat = s.newChat()

	switch state.CurrentStep {
	case models.FlowStepLanding, models.FlowStepUpload, models.FlowStepAssessment, models.FlowStepResults:
	case models.FlowStepScreener:
		m, err := screener.Restore(deps.Schema, state.ScreenerIndex, s.answers, s.machineOptions()...)
		if err != nil {
			return nil, fmt.Errorf("failed to restore screener for session %s: %w", state.SessionID, err)
		}
		s.machine = m
	default:
		return nil, fmt.Errorf("session %s has unknown step %q", state.SessionID, state.CurrentStep)
	}
	return s, nil
}

func (s *Session) newTracker(docs []models.Document) *documents.Tracker {
	return documents.RestoreTracker(docs,
		documents.WithTrackerClock(s.deps.Now),
		documents.WithTrackerRecorder(s.deps.Recorder))
}

func (s *Session) newChat() *assistant.Chat {
	return assistant.NewChat(s.deps.Asker, s.renderContext, assistant.WithClock(s.deps.Now))
}

// machineOptions wires the screener callbacks. They run inside Advance and
// Retreat, which are only called with s.mu held.
func (s *Session) machineOptions() []screener.Option {
	return []screener.Option{
		screener.WithOnComplete(func(answers models.Answers) {
			s.answers = answers
			s.step = models.FlowStepUpload
			s.deps.Recorder.IncScreener("complete")
			slog.Info("Session.screener: completed", "session", s.id)
		}),
		screener.WithOnExit(func() {
			s.answers = s.machine.Answers()
			s.machine = nil
			s.step = models.FlowStepLanding
			s.deps.Recorder.IncScreener("exit")
			slog.Debug("Session.screener: exited to landing", "session", s.id)
		}),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Step returns the current flow step.
func (s *Session) Step() models.FlowStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

func (s *Session) touch() { s.updatedAt = s.deps.Now() }

func (s *Session) requireStep(op string, allowed ...models.FlowStep) error {
	for _, st := range allowed {
		if s.step == st {
			return nil
		}
	}
	slog.Warn("Session.requireStep: rejected", "session", s.id, "op", op, "step", s.step)
	return fmt.Errorf("%w: cannot %s during %s", ErrWrongStep, op, s.step)
}

// Start leaves the landing page for the first screener step. Answers given
// before an earlier exit are kept.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireStep("start", models.FlowStepLanding); err != nil {
		return err
	}
	m, err := screener.Restore(s.deps.Schema, 0, s.answers, s.machineOptions()...)
	if err != nil {
		return err
	}
	s.machine = m
	s.step = models.FlowStepScreener
	s.touch()
	return nil
}

// SetField forwards a field edit to the screener.
func (s *Session) SetField(key string, raw any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireStep("edit answers", models.FlowStepScreener); err != nil {
		return err
	}
	if err := s.machine.SetField(key, raw); err != nil {
		return err
	}
	s.touch()
	return nil
}

// SetOption toggles one option of a multi-select field.
func (s *Session) SetOption(key, value string, selected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireStep("edit answers", models.FlowStepScreener); err != nil {
		return err
	}
	if err := s.machine.SetOption(key, value, selected); err != nil {
		return err
	}
	s.touch()
	return nil
}

// Advance moves the screener forward. Leaving the last step freezes the
// answers and moves the flow to upload.
func (s *Session) Advance() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireStep("advance", models.FlowStepScreener); err != nil {
		return err
	}
	if err := s.machine.Advance(); err != nil {
		return err
	}
	s.deps.Recorder.IncScreener("advance")
	s.touch()
	return nil
}

// Retreat moves the screener back. Retreating from the first step returns
// to landing.
func (s *Session) Retreat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireStep("retreat", models.FlowStepScreener); err != nil {
		return err
	}
	if err := s.machine.Retreat(); err != nil {
		return err
	}
	s.deps.Recorder.IncScreener("retreat")
	s.touch()
	return nil
}

// Back leaves upload for the last screener step with a copy of the frozen
// answers, or leaves results for upload.
func (s *Session) Back() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.step {
	case models.FlowStepUpload:
		m, err := screener.Restore(s.deps.Schema, s.deps.Schema.StepCount()-1, s.answers, s.machineOptions()...)
		if err != nil {
			return err
		}
		s.machine = m
		s.step = models.FlowStepScreener
	case models.FlowStepResults:
		s.determination = nil
		s.step = models.FlowStepUpload
	default:
		return s.requireStep("go back", models.FlowStepUpload, models.FlowStepResults)
	}
	s.touch()
	return nil
}

// Upload stores a document for this session.
func (s *Session) Upload(ctx context.Context, up documents.Upload) (models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireStep("upload documents", models.FlowStepUpload); err != nil {
		return models.Document{}, err
	}
	doc, err := s.deps.Intake.Receive(ctx, s.id, s.tracker, up)
	if err != nil {
		return models.Document{}, err
	}
	s.touch()
	return doc, nil
}

// ApplyDocumentEvent records a phase reported for one document. Events are
// accepted at any step so late results are not lost.
func (s *Session) ApplyDocumentEvent(docID string, ev models.DocumentEvent) (models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.tracker.Apply(docID, ev)
	if err != nil {
		return doc, err
	}
	s.touch()
	return doc, nil
}

// ContinueToAssessment leaves upload once every required document completed.
func (s *Session) ContinueToAssessment() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.continueToAssessment()
}

func (s *Session) continueToAssessment() error {
	if err := s.requireStep("continue to assessment", models.FlowStepUpload); err != nil {
		return err
	}
	if !s.tracker.Ready() {
		return ErrDocumentsIncomplete
	}
	s.step = models.FlowStepAssessment
	s.touch()
	return nil
}

// Assess runs the determination and moves to results. Called during upload
// it continues to assessment first.
func (s *Session) Assess(ctx context.Context) (models.Determination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step == models.FlowStepUpload {
		if err := s.continueToAssessment(); err != nil {
			return models.Determination{}, err
		}
	}
	if err := s.requireStep("assess", models.FlowStepAssessment); err != nil {
		return models.Determination{}, err
	}
	det, err := s.deps.Determiner.Determine(ctx, eligibility.Input{
		Answers:   s.answers.Clone(),
		Extracted: s.tracker.Extracted(),
		Checklist: s.tracker.Checklist(),
	})
	if err != nil {
		slog.Error("Session.Assess: determination failed", "session", s.id, "error", err)
		return models.Determination{}, fmt.Errorf("determination failed: %w", err)
	}
	s.determination = &det
	s.step = models.FlowStepResults
	s.touch()
	return det, nil
}

// Reset returns the session to landing with no answers, documents,
// determination or chat.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat.Close()
	s.step = models.FlowStepLanding
	s.machine = nil
	s.answers = make(models.Answers)
	s.tracker = s.newTracker(nil)
	s.determination = nil
	s.chat = s.newChat()
	s.touch()
	s.deps.Recorder.IncSession("reset")
}

// currentAnswers must be called with s.mu held.
func (s *Session) currentAnswers() models.Answers {
	if s.machine != nil && s.step == models.FlowStepScreener {
		return s.machine.Answers()
	}
	return s.answers.Clone()
}

func (s *Session) renderContext(history []models.ChatMessage) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deps.Builder.Build(s.currentAnswers(), s.determination, history)
}

// Context renders the assistant context for the current state and chat.
func (s *Session) Context() string {
	return s.renderContext(s.activeChat().History())
}

func (s *Session) activeChat() *assistant.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chat
}

// OpenChat opens the chat panel.
func (s *Session) OpenChat() []models.ChatMessage {
	c := s.activeChat()
	c.Open()
	return c.History()
}

// CloseChat closes the chat panel.
func (s *Session) CloseChat() { s.activeChat().Close() }

// SendChat asks the assistant. The session lock is not held while waiting.
func (s *Session) SendChat(ctx context.Context, text string) (models.ChatMessage, error) {
	return s.activeChat().Send(ctx, text)
}

// Snapshot returns the persisted form of the session.
func (s *Session) Snapshot() models.FlowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := models.FlowState{
		SessionID:     s.id,
		CurrentStep:   s.step,
		Answers:       s.currentAnswers(),
		Documents:     s.tracker.Documents(),
		Determination: s.determination,
		CreatedAt:     s.createdAt,
		UpdatedAt:     s.updatedAt,
	}
	if s.machine != nil {
		state.ScreenerIndex = s.machine.Index()
	}
	return state
}

// View returns everything a client needs to render the session.
func (s *Session) View() models.SessionView {
	chat := s.activeChat()
	history := chat.History()
	pending := chat.Pending()

	s.mu.Lock()
	defer s.mu.Unlock()
	view := models.SessionView{
		ID:            s.id,
		CurrentStep:   s.step,
		Screener:      s.screenerView(),
		Documents:     s.tracker.Documents(),
		Checklist:     s.tracker.Checklist(),
		Ready:         s.tracker.Ready(),
		Determination: s.determination,
		ChatPending:   pending,
		ChatHistory:   history,
	}
	return view
}

func (s *Session) screenerView() models.ScreenerView {
	v := models.ScreenerView{StepCount: s.deps.Schema.StepCount()}
	if s.machine == nil || s.step != models.FlowStepScreener {
		v.Index = screener.IndexBefore
		if s.step != models.FlowStepLanding {
			v.Index = v.StepCount
			v.Complete = true
		}
		v.Answers = s.answers.Clone()
		return v
	}
	v.Index = s.machine.Index()
	v.Answers = s.machine.Answers()
	v.Complete = s.machine.Complete()
	if st, ok := s.machine.Step(); ok {
		v.Title = st.Title
		v.Fields = s.machine.VisibleFields()
	}
	v.CanAdvance = s.machine.CanAdvance()
	v.Missing = s.machine.Missing()
	return v
}

// LastUpdated returns the time of the last state change.
func (s *Session) LastUpdated() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}
