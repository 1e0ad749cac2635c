// Package screener implements the multi-step eligibility questionnaire: the
// declarative field schema and the state machine that walks a user through it.
package screener

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"github.com/BTreeMap/CoverageNavigator/internal/models"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"
)

//go:embed screener.yaml
var defaultSchemaYAML []byte

// Schema is a validated, immutable step sequence with its visibility
// conditions compiled.
type Schema struct {
	steps      []models.Step
	fields     map[string]models.FieldSpec
	conditions map[string]*vm.Program
	patterns   map[string]*regexp.Regexp
}

type schemaFile struct {
	Steps []models.Step `yaml:"steps"`
}

// DefaultSchema returns the built-in Medicaid / Healthy SF screener.
func DefaultSchema() *Schema {
	s, err := ParseSchema(defaultSchemaYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded screener schema is invalid: %v", err))
	}
	return s
}

// LoadSchemaFile reads and validates a YAML schema from disk.
func LoadSchemaFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read screener schema %s: %w", path, err)
	}
	slog.Debug("Schema.LoadSchemaFile: read schema", "path", path, "bytes", len(data))
	return ParseSchema(data)
}

// ParseSchema decodes YAML and validates it.
func ParseSchema(data []byte) (*Schema, error) {
	var f schemaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return NewSchema(f.Steps)
}

// NewSchema validates steps and compiles their conditions. Keys must be
// unique across steps, select kinds need options, and a condition may only
// read keys it lists in DependsOn.
func NewSchema(steps []models.Step) (*Schema, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: no steps", ErrInvalidSchema)
	}
	s := &Schema{
		steps:      steps,
		fields:     make(map[string]models.FieldSpec),
		conditions: make(map[string]*vm.Program),
		patterns:   make(map[string]*regexp.Regexp),
	}
	for i, st := range steps {
		if len(st.Fields) == 0 {
			return nil, fmt.Errorf("%w: step %d (%q) has no fields", ErrInvalidSchema, i, st.Title)
		}
		for _, f := range st.Fields {
			if err := s.addField(f); err != nil {
				return nil, err
			}
		}
	}
	// Conditions are compiled once every key is known.
	for _, f := range models.Fields(steps) {
		if f.VisibleIf == nil {
			continue
		}
		prog, err := compileCondition(f, s.fields)
		if err != nil {
			return nil, err
		}
		s.conditions[f.Key] = prog
	}
	slog.Debug("Schema.NewSchema: schema ready", "steps", len(steps), "fields", len(s.fields), "conditions", len(s.conditions))
	return s, nil
}

func (s *Schema) addField(f models.FieldSpec) error {
	if f.Key == "" {
		return fmt.Errorf("%w: field with empty key", ErrInvalidSchema)
	}
	if _, dup := s.fields[f.Key]; dup {
		return fmt.Errorf("%w: duplicate key %q", ErrInvalidSchema, f.Key)
	}
	if !models.IsValidFieldKind(f.Kind) {
		return fmt.Errorf("%w: field %q has unknown kind %q", ErrInvalidSchema, f.Key, f.Kind)
	}
	if f.Kind.IsSelect() && len(f.Options) == 0 {
		return fmt.Errorf("%w: select field %q has no options", ErrInvalidSchema, f.Key)
	}
	if !f.Kind.IsSelect() && len(f.Options) > 0 {
		return fmt.Errorf("%w: field %q of kind %s cannot have options", ErrInvalidSchema, f.Key, f.Kind)
	}
	seen := make(map[string]bool, len(f.Options))
	for _, opt := range f.Options {
		if opt.Value == "" || seen[opt.Value] {
			return fmt.Errorf("%w: field %q has an empty or duplicate option %q", ErrInvalidSchema, f.Key, opt.Value)
		}
		seen[opt.Value] = true
	}
	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		return fmt.Errorf("%w: field %q has min greater than max", ErrInvalidSchema, f.Key)
	}
	if f.Pattern != "" {
		if f.Kind != models.FieldKindText {
			return fmt.Errorf("%w: pattern on non-text field %q", ErrInvalidSchema, f.Key)
		}
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			return fmt.Errorf("%w: field %q pattern: %v", ErrInvalidSchema, f.Key, err)
		}
		s.patterns[f.Key] = re
	}
	s.fields[f.Key] = f
	return nil
}

func compileCondition(f models.FieldSpec, fields map[string]models.FieldSpec) (*vm.Program, error) {
	if f.VisibleIf.Expr == "" {
		return nil, fmt.Errorf("%w: field %q has an empty condition", ErrInvalidSchema, f.Key)
	}
	env := make(map[string]any, len(f.VisibleIf.DependsOn))
	for _, dep := range f.VisibleIf.DependsOn {
		if _, ok := fields[dep]; !ok {
			return nil, fmt.Errorf("%w: condition of %q depends on unknown key %q", ErrInvalidSchema, f.Key, dep)
		}
		if dep == f.Key {
			return nil, fmt.Errorf("%w: condition of %q depends on itself", ErrInvalidSchema, f.Key)
		}
		env[dep] = nil
	}
	prog, err := expr.Compile(f.VisibleIf.Expr, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: condition of %q: %v", ErrInvalidSchema, f.Key, err)
	}
	return prog, nil
}

// Steps returns the step sequence. Callers must not modify it.
func (s *Schema) Steps() []models.Step { return s.steps }

// StepCount returns the number of steps.
func (s *Schema) StepCount() int { return len(s.steps) }

// Field looks up a field by key.
func (s *Schema) Field(key string) (models.FieldSpec, bool) {
	f, ok := s.fields[key]
	return f, ok
}

// Keys returns every field key in declaration order.
func (s *Schema) Keys() []string {
	var keys []string
	for _, f := range models.Fields(s.steps) {
		keys = append(keys, f.Key)
	}
	return keys
}

// Visible evaluates the field's condition against answers. Fields without a
// condition are always visible; an evaluation error counts as hidden.
func (s *Schema) Visible(f models.FieldSpec, answers models.Answers) bool {
	prog, ok := s.conditions[f.Key]
	if !ok {
		return true
	}
	out, err := expr.Run(prog, answers.Env(f.VisibleIf.DependsOn))
	if err != nil {
		slog.Debug("Schema.Visible: condition evaluation failed, treating as hidden", "key", f.Key, "error", err)
		return false
	}
	visible, _ := out.(bool)
	return visible
}

// RequiredMissing lists the keys of step i that are required, visible and
// unanswered. Multi-select fields always count as answered.
func (s *Schema) RequiredMissing(i int, answers models.Answers) []string {
	if i < 0 || i >= len(s.steps) {
		return nil
	}
	var missing []string
	for _, f := range s.steps[i].Fields {
		if !f.Required || f.Kind == models.FieldKindMultiSelect {
			continue
		}
		if !s.Visible(f, answers) {
			continue
		}
		if !answers.Has(f.Key) {
			missing = append(missing, f.Key)
		}
	}
	return missing
}
