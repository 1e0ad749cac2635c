package models

// ProgramStatus is the per-program outcome of an eligibility check.
type ProgramStatus string

const (
	ProgramEligible         ProgramStatus = "eligible"
	ProgramIneligible       ProgramStatus = "ineligible"
	ProgramMissingDocuments ProgramStatus = "missing-documents"
)

// ProgramResult explains the outcome for one program.
type ProgramResult struct {
	Program          string        `json:"program"`
	Status           ProgramStatus `json:"status"`
	Reason           string        `json:"reason"`
	MissingDocuments []string      `json:"missingDocuments,omitempty"`
	NextSteps        []string      `json:"nextSteps,omitempty"`
}

// Determination is the eligibility outcome produced by a determination engine.
type Determination struct {
	Eligible       bool            `json:"eligible"`
	Programs       []string        `json:"programs"`
	Message        string          `json:"message"`
	ProgramResults []ProgramResult `json:"programResults,omitempty"`
}

// ExtractedFields are the values an ingestion service read from a document.
// Every member is optional.
type ExtractedFields struct {
	FullName         string   `json:"fullName,omitempty"`
	DateOfBirth      string   `json:"dateOfBirth,omitempty"`
	Address          string   `json:"address,omitempty"`
	HouseholdSize    *int     `json:"householdSize,omitempty"`
	MonthlyIncome    *float64 `json:"monthlyIncome,omitempty"`
	EmploymentStatus string   `json:"employmentStatus,omitempty"`
	Citizenship      string   `json:"citizenship,omitempty"`
}

// Merge overlays the set members of other onto a copy of e.
func (e ExtractedFields) Merge(other ExtractedFields) ExtractedFields {
	if other.FullName != "" {
		e.FullName = other.FullName
	}
	if other.DateOfBirth != "" {
		e.DateOfBirth = other.DateOfBirth
	}
	if other.Address != "" {
		e.Address = other.Address
	}
	if other.HouseholdSize != nil {
		n := *other.HouseholdSize
		e.HouseholdSize = &n
	}
	if other.MonthlyIncome != nil {
		n := *other.MonthlyIncome
		e.MonthlyIncome = &n
	}
	if other.EmploymentStatus != "" {
		e.EmploymentStatus = other.EmploymentStatus
	}
	if other.Citizenship != "" {
		e.Citizenship = other.Citizenship
	}
	return e
}
