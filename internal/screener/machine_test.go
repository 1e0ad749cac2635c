package screener

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"testing/quick"

	"github.com/BTreeMap/CoverageNavigator/internal/models"
	"github.com/google/go-cmp/cmp"
)

func scenarioSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema([]models.Step{
		{
			Title: "Basics",
			Fields: []models.FieldSpec{
				{Key: "age", Label: "Age", Kind: models.FieldKindNumber, Required: true},
				{Key: "medicalConditions", Label: "Conditions", Kind: models.FieldKindMultiSelect, Options: []models.Option{
					{Value: "diabetes", Label: "Diabetes"},
					{Value: "pregnancy", Label: "Pregnancy"},
					{Value: "none", Label: "None"},
				}},
			},
		},
		{
			Title: "Income",
			Fields: []models.FieldSpec{
				{Key: "monthlyIncome", Label: "Monthly Income", Kind: models.FieldKindNumber, Required: true},
			},
		},
	})
	if err != nil {
		t.Fatalf("failed to build schema: %v", err)
	}
	return s
}

func TestAdvance_RequiredNumericField(t *testing.T) {
	m := NewMachine(scenarioSchema(t))

	if m.CanAdvance() {
		t.Fatal("expected CanAdvance to be false with age unanswered")
	}
	err := m.Advance()
	var incomplete *IncompleteStepError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteStepError, got %v", err)
	}
	if diff := cmp.Diff([]string{"age"}, incomplete.Missing); diff != "" {
		t.Errorf("missing keys mismatch (-want +got):\n%s", diff)
	}
	if m.Index() != 0 {
		t.Errorf("expected to stay on step 0, got %d", m.Index())
	}

	if err := m.SetField("age", "34"); err != nil {
		t.Fatalf("SetField failed: %v", err)
	}
	if !m.CanAdvance() {
		t.Fatal("expected CanAdvance once age is set")
	}
	if err := m.Advance(); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if m.Index() != 1 {
		t.Errorf("expected step 1, got %d", m.Index())
	}
	if n, _ := m.Answers().Number("age"); n != 34 {
		t.Errorf("expected age 34, got %v", n)
	}
}

func TestAdvance_FiresCompletionOnce(t *testing.T) {
	var snapshots []models.Answers
	m := NewMachine(scenarioSchema(t), WithOnComplete(func(a models.Answers) {
		snapshots = append(snapshots, a)
	}))
	mustSet(t, m, "age", 40)
	mustAdvance(t, m)
	mustSet(t, m, "monthlyIncome", "1200.50")
	mustAdvance(t, m)

	if !m.Complete() {
		t.Fatal("expected machine to be complete")
	}
	if len(snapshots) != 1 {
		t.Fatalf("expected one completion event, got %d", len(snapshots))
	}
	if n, _ := snapshots[0].Number("monthlyIncome"); n != 1200.5 {
		t.Errorf("unexpected income in snapshot: %v", n)
	}

	// Answers are frozen once complete.
	if err := m.SetField("age", 41); !errors.Is(err, ErrScreenerComplete) {
		t.Errorf("expected ErrScreenerComplete from SetField, got %v", err)
	}
	if err := m.Advance(); !errors.Is(err, ErrScreenerComplete) {
		t.Errorf("expected ErrScreenerComplete from Advance, got %v", err)
	}
	if err := m.Retreat(); !errors.Is(err, ErrScreenerComplete) {
		t.Errorf("expected ErrScreenerComplete from Retreat, got %v", err)
	}

	// Mutating the snapshot must not leak into the machine.
	snapshots[0]["age"] = models.NumberValue(99)
	if n, _ := m.Answers().Number("age"); n != 40 {
		t.Errorf("snapshot aliases machine answers, age=%v", n)
	}
}

func TestRetreat_ExitsBeforeFirstStep(t *testing.T) {
	exits := 0
	m := NewMachine(scenarioSchema(t), WithOnExit(func() { exits++ }))

	if err := m.Retreat(); err != nil {
		t.Fatalf("Retreat failed: %v", err)
	}
	if m.Index() != IndexBefore || exits != 1 {
		t.Fatalf("expected Before with one exit, got index=%d exits=%d", m.Index(), exits)
	}
	if err := m.Retreat(); err != nil || m.Index() != IndexBefore || exits != 1 {
		t.Fatalf("Retreat from Before should be a no-op, got index=%d exits=%d err=%v", m.Index(), exits, err)
	}
	if err := m.Advance(); err != nil || m.Index() != 0 {
		t.Fatalf("Advance from Before should re-enter step 0, got index=%d err=%v", m.Index(), err)
	}
}

func TestRetreatThenAdvance_PreservesAnswers(t *testing.T) {
	m := NewMachine(scenarioSchema(t))
	mustSet(t, m, "age", 52)
	if err := m.SetOption("medicalConditions", "diabetes", true); err != nil {
		t.Fatalf("SetOption failed: %v", err)
	}
	mustAdvance(t, m)

	before := m.Answers()
	if err := m.Retreat(); err != nil {
		t.Fatalf("Retreat failed: %v", err)
	}
	mustAdvance(t, m)

	if m.Index() != 1 {
		t.Errorf("expected step 1, got %d", m.Index())
	}
	if diff := cmp.Diff(before, m.Answers()); diff != "" {
		t.Errorf("answers changed across retreat/advance (-before +after):\n%s", diff)
	}
}

func TestSetOption_Idempotent(t *testing.T) {
	m := NewMachine(scenarioSchema(t))

	if got := m.Answers()["medicalConditions"]; got.Kind != models.ValueSet || len(got.Set) != 0 {
		t.Fatalf("expected empty set default, got %+v", got)
	}

	for i := 0; i < 2; i++ {
		if err := m.SetOption("medicalConditions", "pregnancy", true); err != nil {
			t.Fatalf("add #%d failed: %v", i, err)
		}
	}
	if err := m.SetOption("medicalConditions", "diabetes", true); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if diff := cmp.Diff([]string{"diabetes", "pregnancy"}, m.Answers()["medicalConditions"].Set); diff != "" {
		t.Errorf("set mismatch after double add (-want +got):\n%s", diff)
	}

	for i := 0; i < 2; i++ {
		if err := m.SetOption("medicalConditions", "pregnancy", false); err != nil {
			t.Fatalf("remove #%d failed: %v", i, err)
		}
	}
	if diff := cmp.Diff([]string{"diabetes"}, m.Answers()["medicalConditions"].Set); diff != "" {
		t.Errorf("set mismatch after double remove (-want +got):\n%s", diff)
	}

	var verr *ValidationError
	if err := m.SetOption("medicalConditions", "asthma", true); !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for unknown option, got %v", err)
	}
}

func TestSetField_RejectsInvalidValues(t *testing.T) {
	m := NewMachine(DefaultSchema())

	tests := []struct {
		key string
		raw any
	}{
		{"age", "thirty"},
		{"age", -1},
		{"age", 200.0},
		{"zipCode", "941"},
		{"zipCode", 94102},
		{"employmentStatus", "astronaut"},
		{"medicalConditions", []any{"diabetes", "asthma"}},
		{"medicalConditions", []any{1}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s=%v", tt.key, tt.raw), func(t *testing.T) {
			before := m.Answers()
			var verr *ValidationError
			if err := m.SetField(tt.key, tt.raw); !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if diff := cmp.Diff(before, m.Answers()); diff != "" {
				t.Errorf("rejected value was stored (-before +after):\n%s", diff)
			}
		})
	}

	if err := m.SetField("favouriteColour", "blue"); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
}

func TestSetField_ClearsAndNormalises(t *testing.T) {
	m := NewMachine(DefaultSchema())
	mustSet(t, m, "zipCode", " 94102 ")
	if s, _ := m.Answers().Text("zipCode"); s != "94102" {
		t.Errorf("expected trimmed zip, got %q", s)
	}
	mustSet(t, m, "zipCode", "")
	if m.Answers().Has("zipCode") {
		t.Error("expected empty string to clear zipCode")
	}

	mustSet(t, m, "medicalConditions", []any{"none", "diabetes", "diabetes"})
	if diff := cmp.Diff([]string{"diabetes", "none"}, m.Answers()["medicalConditions"].Set); diff != "" {
		t.Errorf("multi-select not deduplicated into option order (-want +got):\n%s", diff)
	}
	mustSet(t, m, "medicalConditions", nil)
	if got := m.Answers()["medicalConditions"]; got.Kind != models.ValueSet || len(got.Set) != 0 {
		t.Errorf("expected nil to reset multi-select to empty set, got %+v", got)
	}
}

func TestVisibleIf_HidesConditionalField(t *testing.T) {
	schema, err := NewSchema([]models.Step{{
		Title: "Employment",
		Fields: []models.FieldSpec{
			{Key: "employmentStatus", Label: "Employment", Kind: models.FieldKindSelect, Required: true, Options: []models.Option{
				{Value: "employed", Label: "Employed"},
				{Value: "retired", Label: "Retired"},
			}},
			{Key: "monthlyHours", Label: "Hours", Kind: models.FieldKindNumber, Required: true, VisibleIf: &models.Condition{
				DependsOn: []string{"employmentStatus"},
				Expr:      `employmentStatus == "employed"`,
			}},
		},
	}})
	if err != nil {
		t.Fatalf("failed to build schema: %v", err)
	}
	m := NewMachine(schema)

	mustSet(t, m, "employmentStatus", "retired")
	if len(m.VisibleFields()) != 1 {
		t.Errorf("expected hours to be hidden, got %d visible fields", len(m.VisibleFields()))
	}
	if !m.CanAdvance() {
		t.Error("hidden required field must not block advancing")
	}

	mustSet(t, m, "employmentStatus", "employed")
	if len(m.VisibleFields()) != 2 {
		t.Errorf("expected hours to be visible, got %d visible fields", len(m.VisibleFields()))
	}
	if diff := cmp.Diff([]string{"monthlyHours"}, m.Missing()); diff != "" {
		t.Errorf("missing mismatch (-want +got):\n%s", diff)
	}
}

func TestMultiSelect_AlwaysSatisfiesRequired(t *testing.T) {
	schema, err := NewSchema([]models.Step{{
		Title: "Conditions",
		Fields: []models.FieldSpec{
			{Key: "conditions", Label: "Conditions", Kind: models.FieldKindMultiSelect, Required: true, Options: []models.Option{
				{Value: "a", Label: "A"},
			}},
		},
	}})
	if err != nil {
		t.Fatalf("failed to build schema: %v", err)
	}
	m := NewMachine(schema)
	if err := m.Advance(); err != nil {
		t.Errorf("required multi-select with empty set should not block: %v", err)
	}
}

func TestRestore(t *testing.T) {
	schema := scenarioSchema(t)
	m, err := Restore(schema, 1, models.Answers{"age": models.NumberValue(30)})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if m.Index() != 1 {
		t.Errorf("expected index 1, got %d", m.Index())
	}
	if !m.Answers().Has("medicalConditions") {
		t.Error("expected multi-select default after restore")
	}

	if _, err := Restore(schema, 5, nil); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("expected ErrInvalidIndex, got %v", err)
	}
	if _, err := Restore(schema, 0, models.Answers{"nope": models.TextValue("x")}); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
	var verr *ValidationError
	if _, err := Restore(schema, 0, models.Answers{"age": models.TextValue("x")}); !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for kind mismatch, got %v", err)
	}
}

// randomSchema builds a schema whose conditions are all of the form
// `<earlier key> != nil`, so visibility can be recomputed independently.
func randomSchema(r *rand.Rand) ([]models.Step, models.Answers) {
	kinds := []models.FieldKind{models.FieldKindNumber, models.FieldKindText, models.FieldKindSelect, models.FieldKindMultiSelect}
	var steps []models.Step
	var keys []string
	answers := make(models.Answers)
	for s := 0; s < 1+r.Intn(4); s++ {
		step := models.Step{Title: fmt.Sprintf("step %d", s)}
		for i := 0; i < 1+r.Intn(4); i++ {
			key := fmt.Sprintf("f%d", len(keys))
			f := models.FieldSpec{Key: key, Label: key, Kind: kinds[r.Intn(len(kinds))], Required: r.Intn(2) == 0}
			if f.Kind.IsSelect() {
				f.Options = []models.Option{{Value: "a", Label: "A"}, {Value: "b", Label: "B"}}
			}
			if len(keys) > 0 && r.Intn(3) == 0 {
				dep := keys[r.Intn(len(keys))]
				f.VisibleIf = &models.Condition{DependsOn: []string{dep}, Expr: dep + " != nil"}
			}
			if r.Intn(2) == 0 {
				switch f.Kind {
				case models.FieldKindNumber:
					answers[key] = models.NumberValue(float64(r.Intn(100)))
				case models.FieldKindText:
					answers[key] = models.TextValue("x")
				case models.FieldKindSelect:
					answers[key] = models.TextValue("b")
				case models.FieldKindMultiSelect:
					answers[key] = models.SetValue("a")
				}
			}
			keys = append(keys, key)
			step.Fields = append(step.Fields, f)
		}
		steps = append(steps, step)
	}
	return steps, answers
}

func TestAdvanceGatingProperty(t *testing.T) {
	prop := func(seed int64) bool {
		r := rand.New(rand.NewSource(seed))
		steps, answers := randomSchema(r)
		schema, err := NewSchema(steps)
		if err != nil {
			t.Logf("seed %d: schema rejected: %v", seed, err)
			return false
		}
		i := r.Intn(len(steps))
		m, err := Restore(schema, i, answers)
		if err != nil {
			t.Logf("seed %d: restore failed: %v", seed, err)
			return false
		}
		current := m.Answers()

		want := true
		for _, f := range steps[i].Fields {
			if !f.Required || f.Kind == models.FieldKindMultiSelect {
				continue
			}
			visible := f.VisibleIf == nil || current.Has(f.VisibleIf.DependsOn[0])
			if visible && !current.Has(f.Key) {
				want = false
			}
		}

		if m.CanAdvance() != want {
			t.Logf("seed %d: CanAdvance=%v want %v", seed, m.CanAdvance(), want)
			return false
		}
		err = m.Advance()
		if (err == nil) != want {
			t.Logf("seed %d: Advance err=%v want success=%v", seed, err, want)
			return false
		}
		wantIndex := i
		if want {
			wantIndex = i + 1
		}
		return m.Index() == wantIndex && cmp.Equal(current, m.Answers())
	}
	if err := quick.Check(prop, &quick.Config{MaxCount: 300}); err != nil {
		t.Error(err)
	}
}

func mustSet(t *testing.T, m *Machine, key string, raw any) {
	t.Helper()
	if err := m.SetField(key, raw); err != nil {
		t.Fatalf("SetField(%s, %v) failed: %v", key, raw, err)
	}
}

func mustAdvance(t *testing.T, m *Machine) {
	t.Helper()
	if err := m.Advance(); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
}
