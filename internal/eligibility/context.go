package eligibility

import (
	"strconv"
	"strings"

	"github.com/BTreeMap/CoverageNavigator/internal/models"
)

// Placeholders used when there is nothing to render.
const (
	NotProvided        = "Not provided"
	NoneReported       = "None reported"
	NoPrograms         = "None"
	NoSpecificMessage  = "No specific message"
	NotYetDetermined   = "Not yet determined"
	NoPreviousMessages = "No previous messages"
)

// ContextBuilder renders answers, a determination and chat history into the
// text context given to the assistant. Every declared field is rendered, in
// schema order, whether or not it was answered or visible.
type ContextBuilder struct {
	fields []models.FieldSpec
}

// NewContextBuilder binds a builder to a step sequence.
func NewContextBuilder(steps []models.Step) *ContextBuilder {
	return &ContextBuilder{fields: models.Fields(steps)}
}

// Build renders the context. The output is plain text and depends only on its
// inputs.
func (b *ContextBuilder) Build(answers models.Answers, det *models.Determination, history []models.ChatMessage) string {
	var sb strings.Builder

	sb.WriteString("USER SCREENING DATA:\n")
	for _, f := range b.fields {
		sb.WriteString("- ")
		sb.WriteString(f.SummaryLabel())
		sb.WriteString(": ")
		sb.WriteString(renderAnswer(f, answers))
		sb.WriteString("\n")
	}

	sb.WriteString("\nELIGIBILITY RESULTS:\n")
	writeDetermination(&sb, det)

	sb.WriteString("\nCHAT HISTORY:\n")
	if len(history) == 0 {
		sb.WriteString(NoPreviousMessages)
		sb.WriteString("\n")
	}
	for _, msg := range history {
		if msg.IsFromUser {
			sb.WriteString("User: ")
		} else {
			sb.WriteString("Assistant: ")
		}
		sb.WriteString(flatten(msg.Text))
		sb.WriteString("\n")
	}
	return sb.String()
}

func renderAnswer(f models.FieldSpec, answers models.Answers) string {
	v, ok := answers[f.Key]
	ok = ok && v.Kind != ""
	if f.Kind == models.FieldKindMultiSelect {
		if !ok || len(v.Set) == 0 {
			return NoneReported
		}
		labels := make([]string, 0, len(v.Set))
		for _, item := range v.Set {
			labels = append(labels, f.OptionLabel(item))
		}
		return strings.Join(labels, ", ")
	}
	if !ok {
		return NotProvided
	}
	switch v.Kind {
	case models.ValueNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case models.ValueText:
		if f.Kind == models.FieldKindSelect {
			return f.OptionLabel(v.Text)
		}
		return flatten(v.Text)
	default:
		return strings.Join(v.Set, ", ")
	}
}

func writeDetermination(sb *strings.Builder, det *models.Determination) {
	if det == nil {
		sb.WriteString("- Status: ")
		sb.WriteString(NotYetDetermined)
		sb.WriteString("\n")
		return
	}
	status := "Not Eligible"
	if det.Eligible {
		status = "Eligible"
	}
	programs := NoPrograms
	if len(det.Programs) > 0 {
		programs = strings.Join(det.Programs, ", ")
	}
	message := NoSpecificMessage
	if strings.TrimSpace(det.Message) != "" {
		message = flatten(det.Message)
	}
	sb.WriteString("- Status: " + status + "\n")
	sb.WriteString("- Programs: " + programs + "\n")
	sb.WriteString("- Message: " + message + "\n")

	if len(det.ProgramResults) == 0 {
		return
	}
	sb.WriteString("- Program Details:\n")
	for _, pr := range det.ProgramResults {
		sb.WriteString("  - " + pr.Program + ": " + string(pr.Status))
		if pr.Reason != "" {
			sb.WriteString(" - " + flatten(pr.Reason))
		}
		sb.WriteString("\n")
		if len(pr.MissingDocuments) > 0 {
			sb.WriteString("    Missing documents: " + strings.Join(pr.MissingDocuments, ", ") + "\n")
		}
		if len(pr.NextSteps) > 0 {
			sb.WriteString("    Next steps: " + strings.Join(pr.NextSteps, "; ") + "\n")
		}
	}
}

// flatten keeps user-supplied text on one line so it cannot forge section
// headers.
func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
