package screener

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/CoverageNavigator/internal/models"
)

// Reconcile fits client-supplied answers to the schema. Unknown keys and
// empty values are dropped. Lossless conversions are applied: numbers for
// text fields become text, numeric text for number fields becomes a number
// and a single option for a multi-select becomes a one-item set. Any other
// mismatch is a *ValidationError.
func (s *Schema) Reconcile(answers models.Answers) (models.Answers, error) {
	out := make(models.Answers, len(answers))
	for key, v := range answers {
		f, ok := s.Field(key)
		if !ok {
			slog.Debug("Schema.Reconcile: dropping unknown key", "key", key)
			continue
		}
		if v.Kind == "" {
			continue
		}
		fitted, err := fitValue(f, v)
		if err != nil {
			return nil, err
		}
		out[key] = fitted
	}
	return out, nil
}

func fitValue(f models.FieldSpec, v models.Value) (models.Value, error) {
	want := kindOf(f.Kind)
	if v.Kind == want {
		if v.Kind == models.ValueSet {
			return models.SetValue(v.Set...), nil
		}
		return v, nil
	}
	switch {
	case want == models.ValueText && v.Kind == models.ValueNumber:
		return models.TextValue(v.String()), nil
	case want == models.ValueNumber && v.Kind == models.ValueText:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.Text), 64)
		if err != nil {
			return models.Value{}, &ValidationError{Key: f.Key, Reason: "not a number"}
		}
		return models.NumberValue(n), nil
	case want == models.ValueSet && v.Kind == models.ValueText:
		if strings.TrimSpace(v.Text) == "" {
			return models.SetValue(), nil
		}
		return models.SetValue(v.Text), nil
	}
	return models.Value{}, &ValidationError{Key: f.Key, Reason: fmt.Sprintf("%s value for %s field", v.Kind, f.Kind)}
}
