package models

// FieldKind is the input type of a screener question.
type FieldKind string

const (
	// FieldKindNumber accepts a number, or a string that parses as one.
	FieldKindNumber FieldKind = "number"
	// FieldKindText accepts free text.
	FieldKindText FieldKind = "text"
	// FieldKindSelect accepts exactly one declared option value.
	FieldKindSelect FieldKind = "select"
	// FieldKindMultiSelect holds a set of declared option values.
	FieldKindMultiSelect FieldKind = "multiselect"
)

// IsValidFieldKind checks if the given field kind is supported.
func IsValidFieldKind(k FieldKind) bool {
	switch k {
	case FieldKindNumber, FieldKindText, FieldKindSelect, FieldKindMultiSelect:
		return true
	default:
		return false
	}
}

// IsSelect reports whether the kind draws its values from declared options.
func (k FieldKind) IsSelect() bool {
	return k == FieldKindSelect || k == FieldKindMultiSelect
}

// Option is one selectable value of a select or multi-select field.
type Option struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label" yaml:"label"`
}

// Condition makes a field visible only when Expr evaluates to true against the
// current answers. Expr may read only the keys listed in DependsOn.
type Condition struct {
	DependsOn []string `json:"dependsOn" yaml:"dependsOn"`
	Expr      string   `json:"expr" yaml:"expr"`
}

// FieldSpec declares one screener question.
type FieldSpec struct {
	Key          string     `json:"key" yaml:"key"`
	Label        string     `json:"label" yaml:"label"`
	ContextLabel string     `json:"contextLabel,omitempty" yaml:"contextLabel,omitempty"` // short label for the assistant context
	Kind         FieldKind  `json:"kind" yaml:"kind"`
	Placeholder  string     `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Options      []Option   `json:"options,omitempty" yaml:"options,omitempty"`
	Required     bool       `json:"required" yaml:"required"`
	VisibleIf    *Condition `json:"visibleIf,omitempty" yaml:"visibleIf,omitempty"`
	Min          *float64   `json:"min,omitempty" yaml:"min,omitempty"`
	Max          *float64   `json:"max,omitempty" yaml:"max,omitempty"`
	Pattern      string     `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// SummaryLabel returns the label used when the field is rendered into text.
func (f FieldSpec) SummaryLabel() string {
	if f.ContextLabel != "" {
		return f.ContextLabel
	}
	return f.Label
}

// OptionLabel returns the label of the option with the given value, or the
// value itself when it is not declared.
func (f FieldSpec) OptionLabel(value string) string {
	for _, opt := range f.Options {
		if opt.Value == value {
			return opt.Label
		}
	}
	return value
}

// HasOption reports whether value is one of the field's declared options.
func (f FieldSpec) HasOption(value string) bool {
	for _, opt := range f.Options {
		if opt.Value == value {
			return true
		}
	}
	return false
}

// Step is one page of the screener.
type Step struct {
	Title  string      `json:"title" yaml:"title"`
	Fields []FieldSpec `json:"fields" yaml:"fields"`
}

// Fields flattens steps into their fields in declaration order.
func Fields(steps []Step) []FieldSpec {
	var fields []FieldSpec
	for _, st := range steps {
		fields = append(fields, st.Fields...)
	}
	return fields
}
