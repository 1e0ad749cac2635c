package screener

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/BTreeMap/CoverageNavigator/internal/models"
)

// Position values outside the step range.
const (
	// IndexBefore is the virtual position before the first step (back to landing).
	IndexBefore = -1
)

// Option configures a Machine.
type Option func(*Machine)

// WithOnComplete registers a callback that receives a snapshot of the answers
// when the machine leaves the last step.
func WithOnComplete(fn func(models.Answers)) Option {
	return func(m *Machine) { m.onComplete = fn }
}

// WithOnExit registers a callback invoked when retreating from the first step.
func WithOnExit(fn func()) Option {
	return func(m *Machine) { m.onExit = fn }
}

// Machine holds the current step index and the accumulated answers of one
// user. It performs no I/O and is not safe for concurrent use.
type Machine struct {
	schema     *Schema
	index      int
	answers    models.Answers
	onComplete func(models.Answers)
	onExit     func()
}

// NewMachine starts a machine at the first step with every multi-select field
// initialised to the empty set.
func NewMachine(schema *Schema, opts ...Option) *Machine {
	m := &Machine{schema: schema, answers: make(models.Answers)}
	for _, opt := range opts {
		opt(m)
	}
	m.fillSetDefaults()
	return m
}

// Restore rebuilds a machine at index with a copy of answers. Every answer
// must belong to a declared field and match its kind.
func Restore(schema *Schema, index int, answers models.Answers, opts ...Option) (*Machine, error) {
	if index < IndexBefore || index > schema.StepCount() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}
	for key, v := range answers {
		f, ok := schema.Field(key)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, key)
		}
		if kindOf(f.Kind) != v.Kind {
			return nil, &ValidationError{Key: key, Reason: fmt.Sprintf("stored %s value for %s field", v.Kind, f.Kind)}
		}
	}
	m := NewMachine(schema, opts...)
	for k, v := range answers.Clone() {
		m.answers[k] = v
	}
	m.index = index
	return m, nil
}

func kindOf(k models.FieldKind) models.ValueKind {
	switch k {
	case models.FieldKindNumber:
		return models.ValueNumber
	case models.FieldKindMultiSelect:
		return models.ValueSet
	default:
		return models.ValueText
	}
}

func (m *Machine) fillSetDefaults() {
	for _, f := range models.Fields(m.schema.Steps()) {
		if f.Kind == models.FieldKindMultiSelect && !m.answers.Has(f.Key) {
			m.answers[f.Key] = models.SetValue()
		}
	}
}

// Schema returns the schema the machine walks.
func (m *Machine) Schema() *Schema { return m.schema }

// Index returns the current position: IndexBefore, a step index, or
// StepCount() once complete.
func (m *Machine) Index() int { return m.index }

// Complete reports whether the machine has moved past the last step.
func (m *Machine) Complete() bool { return m.index >= m.schema.StepCount() }

// Step returns the current step, if the machine is on one.
func (m *Machine) Step() (models.Step, bool) {
	if m.index < 0 || m.Complete() {
		return models.Step{}, false
	}
	return m.schema.Steps()[m.index], true
}

// Answers returns a copy of the accumulated answers.
func (m *Machine) Answers() models.Answers { return m.answers.Clone() }

// VisibleFields returns the fields of the current step whose condition holds.
func (m *Machine) VisibleFields() []models.FieldSpec {
	st, ok := m.Step()
	if !ok {
		return nil
	}
	var out []models.FieldSpec
	for _, f := range st.Fields {
		if m.schema.Visible(f, m.answers) {
			out = append(out, f)
		}
	}
	return out
}

// Missing lists the required, visible fields of the current step that have no
// value yet.
func (m *Machine) Missing() []string {
	return m.schema.RequiredMissing(m.index, m.answers)
}

// CanAdvance reports whether Advance would move forward.
func (m *Machine) CanAdvance() bool {
	if m.Complete() {
		return false
	}
	return len(m.Missing()) == 0
}

// Advance moves to the next step. It changes nothing and returns an
// *IncompleteStepError while required, visible fields are unanswered.
// Leaving the last step fires the completion callback.
func (m *Machine) Advance() error {
	if m.Complete() {
		return ErrScreenerComplete
	}
	if missing := m.Missing(); len(missing) > 0 {
		slog.Debug("Machine.Advance: step incomplete", "step", m.index, "missing", missing)
		return &IncompleteStepError{Step: m.index, Missing: missing}
	}
	m.index++
	slog.Debug("Machine.Advance: moved forward", "step", m.index)
	if m.Complete() && m.onComplete != nil {
		m.onComplete(m.answers.Clone())
	}
	return nil
}

// Retreat moves to the previous step, or to IndexBefore from the first step.
func (m *Machine) Retreat() error {
	if m.Complete() {
		return ErrScreenerComplete
	}
	if m.index == IndexBefore {
		return nil
	}
	m.index--
	slog.Debug("Machine.Retreat: moved back", "step", m.index)
	if m.index == IndexBefore && m.onExit != nil {
		m.onExit()
	}
	return nil
}

// SetField validates raw against the field's kind and stores it. An empty
// string or nil clears a scalar field and empties a multi-select. Numeric
// fields accept numbers and numeric strings; select fields must match an
// option; multi-select fields take a list that replaces the whole set.
func (m *Machine) SetField(key string, raw any) error {
	if m.Complete() {
		return ErrScreenerComplete
	}
	f, ok := m.schema.Field(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, key)
	}
	v, clear, err := m.coerce(f, raw)
	if err != nil {
		slog.Debug("Machine.SetField: rejected value", "key", key, "error", err)
		return err
	}
	if clear {
		if f.Kind == models.FieldKindMultiSelect {
			m.answers[key] = models.SetValue()
		} else {
			delete(m.answers, key)
		}
		return nil
	}
	m.answers[key] = v
	return nil
}

// SetOption adds or removes one option of a multi-select field. Adding a
// present option or removing an absent one changes nothing.
func (m *Machine) SetOption(key, value string, selected bool) error {
	if m.Complete() {
		return ErrScreenerComplete
	}
	f, ok := m.schema.Field(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, key)
	}
	if f.Kind != models.FieldKindMultiSelect {
		return &ValidationError{Key: key, Reason: "not a multi-select field"}
	}
	if !f.HasOption(value) {
		return &ValidationError{Key: key, Reason: fmt.Sprintf("unknown option %q", value)}
	}
	current := m.answers[key].Set
	has := slices.Contains(current, value)
	switch {
	case selected && !has:
		current = append(slices.Clone(current), value)
	case !selected && has:
		current = slices.DeleteFunc(slices.Clone(current), func(s string) bool { return s == value })
	default:
		return nil
	}
	m.answers[key] = models.SetValue(orderByOptions(f, current)...)
	return nil
}

func (m *Machine) coerce(f models.FieldSpec, raw any) (models.Value, bool, error) {
	if raw == nil {
		return models.Value{}, true, nil
	}
	switch f.Kind {
	case models.FieldKindNumber:
		return m.coerceNumber(f, raw)
	case models.FieldKindText:
		s, ok := raw.(string)
		if !ok {
			return models.Value{}, false, &ValidationError{Key: f.Key, Reason: "expected text"}
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return models.Value{}, true, nil
		}
		if re, ok := m.schema.patterns[f.Key]; ok && !re.MatchString(s) {
			return models.Value{}, false, &ValidationError{Key: f.Key, Reason: "does not match the expected format"}
		}
		return models.TextValue(s), false, nil
	case models.FieldKindSelect:
		s, ok := raw.(string)
		if !ok {
			return models.Value{}, false, &ValidationError{Key: f.Key, Reason: "expected an option value"}
		}
		if s == "" {
			return models.Value{}, true, nil
		}
		if !f.HasOption(s) {
			return models.Value{}, false, &ValidationError{Key: f.Key, Reason: fmt.Sprintf("unknown option %q", s)}
		}
		return models.TextValue(s), false, nil
	case models.FieldKindMultiSelect:
		items, err := toStrings(raw)
		if err != nil {
			return models.Value{}, false, &ValidationError{Key: f.Key, Reason: err.Error()}
		}
		var set []string
		for _, it := range items {
			if !f.HasOption(it) {
				return models.Value{}, false, &ValidationError{Key: f.Key, Reason: fmt.Sprintf("unknown option %q", it)}
			}
			if !slices.Contains(set, it) {
				set = append(set, it)
			}
		}
		return models.SetValue(orderByOptions(f, set)...), false, nil
	}
	return models.Value{}, false, &ValidationError{Key: f.Key, Reason: "unsupported field kind"}
}

func (m *Machine) coerceNumber(f models.FieldSpec, raw any) (models.Value, bool, error) {
	var n float64
	switch v := raw.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return models.Value{}, false, &ValidationError{Key: f.Key, Reason: "not a number"}
		}
		n = parsed
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return models.Value{}, true, nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return models.Value{}, false, &ValidationError{Key: f.Key, Reason: "not a number"}
		}
		n = parsed
	default:
		return models.Value{}, false, &ValidationError{Key: f.Key, Reason: "expected a number"}
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return models.Value{}, false, &ValidationError{Key: f.Key, Reason: "not a finite number"}
	}
	if f.Min != nil && n < *f.Min {
		return models.Value{}, false, &ValidationError{Key: f.Key, Reason: fmt.Sprintf("must be at least %g", *f.Min)}
	}
	if f.Max != nil && n > *f.Max {
		return models.Value{}, false, &ValidationError{Key: f.Key, Reason: fmt.Sprintf("must be at most %g", *f.Max)}
	}
	return models.NumberValue(n), false, nil
}

func toStrings(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, it := range v {
			s, ok := it.(string)
			if !ok {
				return nil, fmt.Errorf("expected a list of option values")
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		if v == "" {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("expected a list of option values")
}

// orderByOptions sorts set members into the field's option order.
func orderByOptions(f models.FieldSpec, set []string) []string {
	out := make([]string, 0, len(set))
	for _, opt := range f.Options {
		if slices.Contains(set, opt.Value) {
			out = append(out, opt.Value)
		}
	}
	return out
}
