package documents

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned for a phase change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid document status transition")
	// ErrDocumentNotFound is returned for an unknown document id.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrInvalidDocumentType is returned for a type that is not on the checklist.
	ErrInvalidDocumentType = errors.New("invalid document type")
	// ErrEmptyUpload is returned for an upload with no content.
	ErrEmptyUpload = errors.New("uploaded file is empty")
	// ErrBlobNotFound is returned by a BlobStore for a missing key.
	ErrBlobNotFound = errors.New("blob not found")
)

// UploadProcessingError records why one document could not be processed.
// It belongs to that document only.
type UploadProcessingError struct {
	DocumentID string
	Name       string
	Reason     string
}

func (e *UploadProcessingError) Error() string {
	return fmt.Sprintf("processing of %s (%s) failed: %s", e.Name, e.DocumentID, e.Reason)
}
