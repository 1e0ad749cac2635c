// Package documents tracks uploaded verification documents through their
// processing phases and stores their contents.
package documents

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/CoverageNavigator/internal/metrics"
	"github.com/BTreeMap/CoverageNavigator/internal/models"
	"github.com/google/uuid"
)

// transitions lists the phases each phase may move to.
var transitions = map[models.DocumentStatus][]models.DocumentStatus{
	models.DocumentStatusUploaded:   {models.DocumentStatusProcessing, models.DocumentStatusError},
	models.DocumentStatusProcessing: {models.DocumentStatusCompleted, models.DocumentStatusError},
}

// CanTransition reports whether a document may move from one phase to another.
func CanTransition(from, to models.DocumentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NewDocument describes a file being added to a tracker.
type NewDocument struct {
	Name        string
	Type        models.DocumentType
	ObjectKey   string
	Size        int64
	ContentType string
}

// Tracker holds the documents of one session. Phases are applied in the order
// they are reported; nothing in the tracker depends on timing.
type Tracker struct {
	mu       sync.Mutex
	docs     []*models.Document
	byID     map[string]*models.Document
	now      func() time.Time
	recorder metrics.Recorder
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerClock overrides the timestamp source.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// WithTrackerRecorder counts phase changes.
func WithTrackerRecorder(r metrics.Recorder) TrackerOption {
	return func(t *Tracker) { t.recorder = r }
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		byID:     make(map[string]*models.Document),
		now:      time.Now,
		recorder: metrics.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RestoreTracker rebuilds a tracker from persisted documents.
func RestoreTracker(docs []models.Document, opts ...TrackerOption) *Tracker {
	t := NewTracker(opts...)
	for _, d := range docs {
		t.docs = append(t.docs, &d)
		t.byID[d.ID] = &d
	}
	return t
}

// Add registers a new document in the uploaded phase.
func (t *Tracker) Add(nd NewDocument) (models.Document, error) {
	if !models.IsValidDocumentType(nd.Type) {
		return models.Document{}, fmt.Errorf("%w: %q", ErrInvalidDocumentType, nd.Type)
	}
	doc := &models.Document{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(nd.Name),
		Type:        nd.Type,
		Status:      models.DocumentStatusUploaded,
		ObjectKey:   nd.ObjectKey,
		Size:        nd.Size,
		ContentType: nd.ContentType,
		UpdatedAt:   t.now(),
	}
	if doc.Name == "" {
		doc.Name = string(nd.Type)
	}

	t.mu.Lock()
	t.docs = append(t.docs, doc)
	t.byID[doc.ID] = doc
	t.mu.Unlock()

	t.recorder.IncDocument(string(models.DocumentStatusUploaded))
	slog.Debug("Tracker.Add: document added", "id", doc.ID, "type", doc.Type, "size", doc.Size)
	return *doc, nil
}

// MarkProcessing moves an uploaded document to processing.
func (t *Tracker) MarkProcessing(id string) (models.Document, error) {
	return t.transition(id, models.DocumentStatusProcessing, func(*models.Document) {})
}

// MarkCompleted moves a processing document to completed and records what
// was extracted from it.
func (t *Tracker) MarkCompleted(id string, extracted *models.ExtractedFields) (models.Document, error) {
	return t.transition(id, models.DocumentStatusCompleted, func(d *models.Document) {
		if extracted != nil {
			e := *extracted
			d.ExtractedFields = &e
		}
	})
}

// MarkFailed moves a document to error. The failure is terminal for this
// document and does not affect any other.
func (t *Tracker) MarkFailed(id, reason string) (models.Document, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "processing failed"
	}
	return t.transition(id, models.DocumentStatusError, func(d *models.Document) {
		d.Error = reason
	})
}

// Apply dispatches a reported event to the matching transition.
func (t *Tracker) Apply(id string, ev models.DocumentEvent) (models.Document, error) {
	switch ev.Status {
	case models.DocumentStatusProcessing:
		return t.MarkProcessing(id)
	case models.DocumentStatusCompleted:
		return t.MarkCompleted(id, ev.ExtractedFields)
	case models.DocumentStatusError:
		return t.MarkFailed(id, ev.Error)
	default:
		return models.Document{}, fmt.Errorf("%w: cannot report status %q", ErrInvalidTransition, ev.Status)
	}
}

func (t *Tracker) transition(id string, to models.DocumentStatus, apply func(*models.Document)) (models.Document, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	doc, ok := t.byID[id]
	if !ok {
		return models.Document{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if !CanTransition(doc.Status, to) {
		slog.Warn("Tracker.transition: rejected", "id", id, "from", doc.Status, "to", to)
		return *doc, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, doc.Status, to)
	}
	apply(doc)
	doc.Status = to
	doc.UpdatedAt = t.now()
	t.recorder.IncDocument(string(to))
	slog.Debug("Tracker.transition: document updated", "id", id, "status", to)
	return *doc, nil
}

// Get returns a copy of one document.
func (t *Tracker) Get(id string) (models.Document, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	doc, ok := t.byID[id]
	if !ok {
		return models.Document{}, false
	}
	return *doc, true
}

// Documents returns copies of all documents in upload order.
func (t *Tracker) Documents() []models.Document {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Document, 0, len(t.docs))
	for _, d := range t.docs {
		out = append(out, *d)
	}
	return out
}

// Failures lists the processing errors recorded so far.
func (t *Tracker) Failures() []UploadProcessingError {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []UploadProcessingError
	for _, d := range t.docs {
		if d.Status == models.DocumentStatusError {
			out = append(out, UploadProcessingError{DocumentID: d.ID, Name: d.Name, Reason: d.Error})
		}
	}
	return out
}

// Checklist reports, per requirement, whether a completed document of that
// type exists.
func (t *Tracker) Checklist() []models.ChecklistItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	done := make(map[models.DocumentType]bool)
	for _, d := range t.docs {
		if d.Status == models.DocumentStatusCompleted {
			done[d.Type] = true
		}
	}
	items := make([]models.ChecklistItem, 0, len(models.DocumentRequirements))
	for _, req := range models.DocumentRequirements {
		items = append(items, models.ChecklistItem{DocumentRequirement: req, Completed: done[req.Type]})
	}
	return items
}

// Ready reports whether every required document type has been completed.
func (t *Tracker) Ready() bool {
	for _, item := range t.Checklist() {
		if item.Required && !item.Completed {
			return false
		}
	}
	return true
}

// Extracted merges the fields of completed documents in upload order.
func (t *Tracker) Extracted() models.ExtractedFields {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out models.ExtractedFields
	for _, d := range t.docs {
		if d.Status == models.DocumentStatusCompleted && d.ExtractedFields != nil {
			out = out.Merge(*d.ExtractedFields)
		}
	}
	return out
}
