package documents

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CoverageNavigator/internal/models"
	"github.com/google/uuid"
)

// Ingestor hands a stored document to the external extraction service.
// Results come back later as phase events for the document.
type Ingestor interface {
	Submit(ctx context.Context, sessionID string, doc models.Document) error
}

// ManualIngestor accepts every submission and leaves the document in the
// uploaded phase. Phase events are reported over the API.
type ManualIngestor struct{}

// Submit logs the document and returns nil.
func (ManualIngestor) Submit(ctx context.Context, sessionID string, doc models.Document) error {
	slog.Info("ManualIngestor.Submit: awaiting phase events", "session", sessionID, "document", doc.ID, "type", doc.Type)
	return nil
}

// Upload is one file received from a client.
type Upload struct {
	Name        string
	Type        models.DocumentType
	ContentType string
	Size        int64
	Body        io.Reader
}

// Intake stores uploads, registers them with a tracker and submits them for
// extraction.
type Intake struct {
	blobs    BlobStore
	ingestor Ingestor
}

// NewIntake creates an Intake. Nil arguments select the in-memory store and
// the manual ingestor.
func NewIntake(blobs BlobStore, ingestor Ingestor) *Intake {
	if blobs == nil {
		blobs = NewMemoryBlobStore()
	}
	if ingestor == nil {
		ingestor = ManualIngestor{}
	}
	return &Intake{blobs: blobs, ingestor: ingestor}
}

// Blobs returns the underlying blob store.
func (in *Intake) Blobs() BlobStore { return in.blobs }

// Receive stores the upload and adds it to the tracker. A failed submission
// to the ingestor marks only this document as failed.
func (in *Intake) Receive(ctx context.Context, sessionID string, t *Tracker, up Upload) (models.Document, error) {
	if !models.IsValidDocumentType(up.Type) {
		return models.Document{}, fmt.Errorf("%w: %q", ErrInvalidDocumentType, up.Type)
	}
	if up.Body == nil || up.Size == 0 {
		return models.Document{}, ErrEmptyUpload
	}

	key := ObjectKey(sessionID, uuid.NewString(), up.Name)
	if err := in.blobs.Put(ctx, key, up.Body, up.Size, up.ContentType); err != nil {
		slog.Error("Intake.Receive: failed to store upload", "session", sessionID, "key", key, "error", err)
		return models.Document{}, fmt.Errorf("failed to store upload: %w", err)
	}
	doc, err := t.Add(NewDocument{
		Name:        up.Name,
		Type:        up.Type,
		ObjectKey:   key,
		Size:        up.Size,
		ContentType: strings.TrimSpace(up.ContentType),
	})
	if err != nil {
		return models.Document{}, err
	}
	if err := in.ingestor.Submit(ctx, sessionID, doc); err != nil {
		slog.Warn("Intake.Receive: ingestor rejected document", "session", sessionID, "document", doc.ID, "error", err)
		return t.MarkFailed(doc.ID, err.Error())
	}
	return doc, nil
}
