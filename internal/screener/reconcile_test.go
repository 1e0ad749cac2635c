package screener

import (
	"errors"
	"testing"

	"github.com/BTreeMap/CoverageNavigator/internal/models"
	"github.com/google/go-cmp/cmp"
)

func TestReconcile(t *testing.T) {
	s := DefaultSchema()
	got, err := s.Reconcile(models.Answers{
		"age":               {},
		"zipCode":           models.NumberValue(94102),
		"monthlyIncome":     models.TextValue(" 2100 "),
		"medicalConditions": models.TextValue("diabetes"),
		"employmentStatus":  models.TextValue("employed"),
		"favouriteColour":   models.TextValue("blue"),
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	want := models.Answers{
		"zipCode":           models.TextValue("94102"),
		"monthlyIncome":     models.NumberValue(2100),
		"medicalConditions": models.SetValue("diabetes"),
		"employmentStatus":  models.TextValue("employed"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reconciled answers mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcile_Rejects(t *testing.T) {
	s := DefaultSchema()
	tests := []struct {
		name    string
		answers models.Answers
	}{
		{"list for number", models.Answers{"age": models.SetValue("40")}},
		{"list for text", models.Answers{"zipCode": models.SetValue("94102")}},
		{"number for multiselect", models.Answers{"medicalConditions": models.NumberValue(1)}},
		{"non-numeric text for number", models.Answers{"monthlyIncome": models.TextValue("a lot")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Reconcile(tt.answers)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestReconcile_DoesNotAliasInput(t *testing.T) {
	in := models.Answers{"medicalConditions": models.SetValue("asthma")}
	out, err := DefaultSchema().Reconcile(in)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	out["medicalConditions"].Set[0] = "changed"
	if in["medicalConditions"].Set[0] != "asthma" {
		t.Error("reconciled answers share storage with the input")
	}
}
