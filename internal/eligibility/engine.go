package eligibility

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CoverageNavigator/internal/models"
)

// Program names reported by the rules engine.
const (
	ProgramFederalMedicaid = "Federal Medicaid"
	ProgramHealthySF       = "Healthy SF"
)

// 2025 HHS poverty guidelines for the 48 contiguous states, annual dollars.
const (
	FPLBase           = 15650.0
	FPLPerExtraPerson = 5500.0

	// MedicaidFPLPercent is the exclusive income ceiling for expansion Medicaid.
	MedicaidFPLPercent = 138.0
	// HealthySFFPLPercent is the inclusive income ceiling for Healthy SF.
	HealthySFFPLPercent = 500.0

	// sfZipPrefix matches San Francisco ZIP codes (941xx).
	sfZipPrefix = "941"
)

// Input is everything a determination may look at.
type Input struct {
	Answers   models.Answers
	Extracted models.ExtractedFields
	Checklist []models.ChecklistItem
}

// Determiner produces a determination from screener answers and documents.
type Determiner interface {
	Determine(ctx context.Context, in Input) (models.Determination, error)
}

// RulesEngine applies the embedded federal Medicaid and Healthy SF rules.
type RulesEngine struct{}

// NewRulesEngine creates a RulesEngine.
func NewRulesEngine() *RulesEngine { return &RulesEngine{} }

// PovertyLine returns 100% FPL for a household of size n (minimum 1).
func PovertyLine(n int) float64 {
	if n < 1 {
		n = 1
	}
	return FPLBase + float64(n-1)*FPLPerExtraPerson
}

// Determine implements Determiner.
func (e *RulesEngine) Determine(ctx context.Context, in Input) (models.Determination, error) {
	if err := ctx.Err(); err != nil {
		return models.Determination{}, err
	}

	household := householdSize(in)
	annual, incomeKnown := annualIncome(in)
	fplPercent := 0.0
	if incomeKnown {
		fplPercent = annual / PovertyLine(household) * 100
	}
	missingDocs := missingRequired(in.Checklist)

	slog.Debug("RulesEngine.Determine: evaluating", "household", household, "income_known", incomeKnown, "fpl_percent", fplPercent, "missing_documents", len(missingDocs))

	results := []models.ProgramResult{
		medicaidResult(in.Answers, incomeKnown, fplPercent),
		healthySFResult(in.Answers, incomeKnown, fplPercent),
	}
	for i := range results {
		if results[i].Status == models.ProgramEligible && len(missingDocs) > 0 {
			results[i].Status = models.ProgramMissingDocuments
			results[i].MissingDocuments = missingDocs
			results[i].NextSteps = append([]string{"Upload the missing documents and resubmit for review"}, results[i].NextSteps...)
		}
	}

	det := models.Determination{ProgramResults: results, Programs: []string{}}
	for _, r := range results {
		if r.Status == models.ProgramEligible {
			det.Programs = append(det.Programs, r.Program)
		}
	}
	det.Eligible = len(det.Programs) > 0
	det.Message = summaryMessage(det, results)
	slog.Info("RulesEngine.Determine: determination complete", "eligible", det.Eligible, "programs", det.Programs)
	return det, nil
}

func householdSize(in Input) int {
	if n, ok := in.Answers.Number("dependentsUnder14"); ok {
		return 1 + int(n)
	}
	if in.Extracted.HouseholdSize != nil {
		return *in.Extracted.HouseholdSize
	}
	return 1
}

func annualIncome(in Input) (float64, bool) {
	if n, ok := in.Answers.Number("monthlyIncome"); ok {
		return n * 12, true
	}
	if in.Extracted.MonthlyIncome != nil {
		return *in.Extracted.MonthlyIncome * 12, true
	}
	return 0, false
}

func missingRequired(checklist []models.ChecklistItem) []string {
	var missing []string
	for _, item := range checklist {
		if item.Required && !item.Completed {
			missing = append(missing, item.Label)
		}
	}
	return missing
}

func medicaidResult(answers models.Answers, incomeKnown bool, fplPercent float64) models.ProgramResult {
	r := models.ProgramResult{Program: ProgramFederalMedicaid}
	status, _ := answers.Text("immigrationStatus")
	zip, _ := answers.Text("zipCode")

	switch {
	case !incomeKnown:
		r.Status = models.ProgramMissingDocuments
		r.Reason = "Income could not be verified."
		r.MissingDocuments = []string{"Paystub / W2"}
		r.NextSteps = []string{"Gather missing income documentation"}
	case fplPercent >= MedicaidFPLPercent:
		r.Status = models.ProgramIneligible
		r.Reason = fmt.Sprintf("Household income is %.0f%% of the Federal Poverty Level; Medicaid requires less than %.0f%%.", fplPercent, MedicaidFPLPercent)
		r.NextSteps = []string{"Explore Healthy SF as alternative", "Check employer health plans", "Look into healthcare.gov marketplace plans"}
	case zip == "":
		r.Status = models.ProgramMissingDocuments
		r.Reason = "US residency could not be verified."
		r.MissingDocuments = []string{"Utility Bill"}
		r.NextSteps = []string{"Provide proof of residency"}
	case status == "undocumented":
		r.Status = models.ProgramIneligible
		r.Reason = "Federal Medicaid is limited to US citizens, permanent residents and qualified immigrants."
		r.NextSteps = []string{"Explore Healthy SF as alternative", "Consider temporary coverage options"}
	case status == "" || status == "other":
		r.Status = models.ProgramMissingDocuments
		r.Reason = "Immigration status needs to be verified as a qualified status."
		r.MissingDocuments = []string{"Proof of immigration status"}
		r.NextSteps = []string{"Apply for immigration status changes if applicable"}
	default:
		r.Status = models.ProgramEligible
		r.Reason = fmt.Sprintf("Household income is %.0f%% of the Federal Poverty Level, below the %.0f%% limit.", fplPercent, MedicaidFPLPercent)
		r.NextSteps = []string{"Complete your Medicaid application online", "Bring original documents for verification"}
	}
	return r
}

func healthySFResult(answers models.Answers, incomeKnown bool, fplPercent float64) models.ProgramResult {
	r := models.ProgramResult{Program: ProgramHealthySF}
	zip, _ := answers.Text("zipCode")

	switch {
	case !strings.HasPrefix(zip, sfZipPrefix):
		r.Status = models.ProgramIneligible
		r.Reason = "Healthy SF requires San Francisco residency."
		r.NextSteps = []string{"Look into healthcare.gov marketplace plans"}
	case !incomeKnown:
		r.Status = models.ProgramMissingDocuments
		r.Reason = "Income could not be verified."
		r.MissingDocuments = []string{"Paystub / W2"}
		r.NextSteps = []string{"Gather missing income documentation"}
	case fplPercent > HealthySFFPLPercent:
		r.Status = models.ProgramIneligible
		r.Reason = fmt.Sprintf("Household income is %.0f%% of the Federal Poverty Level, above the %.0f%% limit.", fplPercent, HealthySFFPLPercent)
		r.NextSteps = []string{"Check employer health plans", "Look into healthcare.gov marketplace plans"}
	default:
		r.Status = models.ProgramEligible
		r.Reason = "You qualify for San Francisco's local health coverage program."
		r.NextSteps = []string{"Visit a Healthy SF enrollment site", "Bring proof of SF residency"}
	}
	return r
}

func summaryMessage(det models.Determination, results []models.ProgramResult) string {
	if det.Eligible {
		return "You may qualify for " + strings.Join(det.Programs, " and ") + "."
	}
	for _, r := range results {
		if r.Status == models.ProgramMissingDocuments {
			return "Additional documentation is needed before eligibility can be confirmed."
		}
	}
	return "You do not currently qualify for these programs. Marketplace or employer plans may be available."
}
