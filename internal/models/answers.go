package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
)

// ValueKind tags which member of a Value is set.
type ValueKind string

const (
	ValueNumber ValueKind = "number"
	ValueText   ValueKind = "text"
	ValueSet    ValueKind = "set"
)

// ErrUnsupportedValue is returned when JSON cannot be mapped onto a Value.
var ErrUnsupportedValue = errors.New("unsupported answer value")

// Value is a single answer: a number, a text (also used by single selects) or
// a set of option values. It marshals to the natural JSON form of its member.
type Value struct {
	Kind   ValueKind
	Number float64
	Text   string
	Set    []string
}

// NumberValue wraps a number.
func NumberValue(n float64) Value { return Value{Kind: ValueNumber, Number: n} }

// TextValue wraps a string.
func TextValue(s string) Value { return Value{Kind: ValueText, Text: s} }

// SetValue wraps a set of option values. The slice is copied.
func SetValue(items ...string) Value {
	return Value{Kind: ValueSet, Set: append([]string{}, items...)}
}

// String renders the raw value without any label lookup.
func (v Value) String() string {
	switch v.Kind {
	case ValueNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case ValueText:
		return v.Text
	case ValueSet:
		return fmt.Sprint(v.Set)
	default:
		return ""
	}
}

// Contains reports whether a set value holds item.
func (v Value) Contains(item string) bool {
	return v.Kind == ValueSet && slices.Contains(v.Set, item)
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueNumber:
		return json.Marshal(v.Number)
	case ValueText:
		return json.Marshal(v.Text)
	case ValueSet:
		if v.Set == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.Set)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ErrUnsupportedValue
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = TextValue(s)
	case '[':
		var items []string
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		*v = SetValue(items...)
	case 'n':
		*v = Value{}
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		*v = NumberValue(n)
	}
	return nil
}

// Answers maps field keys to values. A key that is absent is unanswered.
type Answers map[string]Value

// UnmarshalJSON implements json.Unmarshaler. Keys holding null are dropped,
// so a null answer reads as unanswered.
func (a *Answers) UnmarshalJSON(data []byte) error {
	var raw map[string]Value
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*a = nil
		return nil
	}
	out := make(Answers, len(raw))
	for k, v := range raw {
		if v.Kind == "" {
			continue
		}
		out[k] = v
	}
	*a = out
	return nil
}

// Has reports whether key has a value.
func (a Answers) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// Clone returns a deep copy.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		if v.Kind == ValueSet {
			v.Set = append([]string{}, v.Set...)
		}
		out[k] = v
	}
	return out
}

// Number returns the numeric value for key, if answered with a number.
func (a Answers) Number(key string) (float64, bool) {
	v, ok := a[key]
	if !ok || v.Kind != ValueNumber {
		return 0, false
	}
	return v.Number, true
}

// Text returns the text value for key, if answered with text.
func (a Answers) Text(key string) (string, bool) {
	v, ok := a[key]
	if !ok || v.Kind != ValueText {
		return "", false
	}
	return v.Text, true
}

// Env exposes the given keys to an expression evaluator. Unanswered keys map
// to nil so that conditions can test for their absence.
func (a Answers) Env(keys []string) map[string]any {
	env := make(map[string]any, len(keys))
	for _, k := range keys {
		v, ok := a[k]
		if !ok {
			env[k] = nil
			continue
		}
		switch v.Kind {
		case ValueNumber:
			env[k] = v.Number
		case ValueText:
			env[k] = v.Text
		case ValueSet:
			env[k] = append([]string{}, v.Set...)
		default:
			env[k] = nil
		}
	}
	return env
}
