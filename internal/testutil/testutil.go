// Package testutil provides common test utilities and helpers for CoverageNavigator tests.
package testutil

import (
	"encoding/json"
	"testing"

	"github.com/BTreeMap/CoverageNavigator/internal/assistant"
	"github.com/BTreeMap/CoverageNavigator/internal/flow"
	"github.com/BTreeMap/CoverageNavigator/internal/store"
)

// Envelope is the decoded form of models.APIResponse with the result left raw.
type Envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// NewTestManager creates a session manager over an in-memory store with the
// default schema and rules engine.
func NewTestManager(t *testing.T, asker assistant.Asker) *flow.Manager {
	t.Helper()
	m, err := flow.NewManager(store.NewInMemoryStore(), flow.Deps{Asker: asker})
	if err != nil {
		t.Fatalf("failed to create session manager: %v", err)
	}
	return m
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeEnvelope decodes an API envelope and, when result is non-nil and the
// envelope carries one, the result payload.
func DecodeEnvelope(t *testing.T, data []byte, result interface{}) Envelope {
	t.Helper()
	var env Envelope
	MustUnmarshalJSON(t, data, &env)
	if result != nil && len(env.Result) > 0 {
		MustUnmarshalJSON(t, env.Result, result)
	}
	return env
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON %s: %v", data, err)
	}
}
