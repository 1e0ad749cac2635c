package models

import "time"

// DocumentType classifies an uploaded document.
type DocumentType string

const (
	DocumentUtilityBill      DocumentType = "utility-bill"
	DocumentStateID          DocumentType = "state-id"
	DocumentPaystub          DocumentType = "paystub"
	DocumentRentAgreement    DocumentType = "rent-agreement"
	DocumentBirthCertificate DocumentType = "birth-certificate"
	DocumentApplicationForm  DocumentType = "application-form"
)

// DocumentRequirement describes one entry of the document checklist.
type DocumentRequirement struct {
	Type     DocumentType `json:"type"`
	Label    string       `json:"label"`
	Required bool         `json:"required"`
}

// DocumentRequirements is the checklist in display order.
var DocumentRequirements = []DocumentRequirement{
	{Type: DocumentUtilityBill, Label: "Utility Bill", Required: true},
	{Type: DocumentStateID, Label: "State ID / Driver's License", Required: true},
	{Type: DocumentPaystub, Label: "Paystub / W2", Required: true},
	{Type: DocumentRentAgreement, Label: "Rent Agreement", Required: false},
	{Type: DocumentBirthCertificate, Label: "Birth Certificate", Required: false},
	{Type: DocumentApplicationForm, Label: "Application Form", Required: false},
}

// IsValidDocumentType checks if the given document type is on the checklist.
func IsValidDocumentType(t DocumentType) bool {
	for _, r := range DocumentRequirements {
		if r.Type == t {
			return true
		}
	}
	return false
}

// DocumentStatus is the processing phase of an uploaded document.
type DocumentStatus string

const (
	DocumentStatusUploaded   DocumentStatus = "uploaded"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusError      DocumentStatus = "error"
)

// IsTerminal reports whether no further phase can follow.
func (s DocumentStatus) IsTerminal() bool {
	return s == DocumentStatusCompleted || s == DocumentStatusError
}

// Document is one uploaded file and what is known about it.
type Document struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Type            DocumentType     `json:"type"`
	Status          DocumentStatus   `json:"status"`
	Error           string           `json:"error,omitempty"`
	ExtractedFields *ExtractedFields `json:"extractedFields,omitempty"`
	ObjectKey       string           `json:"objectKey"`
	Size            int64            `json:"size"`
	ContentType     string           `json:"contentType,omitempty"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// DocumentEvent reports a processing phase for one document.
type DocumentEvent struct {
	Status          DocumentStatus   `json:"status"`
	Error           string           `json:"error,omitempty"`
	ExtractedFields *ExtractedFields `json:"extractedFields,omitempty"`
}

// ChecklistItem is a requirement together with whether it is satisfied.
type ChecklistItem struct {
	DocumentRequirement
	Completed bool `json:"completed"`
}
