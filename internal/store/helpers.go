package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/BTreeMap/CoverageNavigator/internal/models"
)

// ErrMissingSessionID is returned when saving a snapshot without a session id.
var ErrMissingSessionID = errors.New("flow state has no session id")

// encodeFlowState serializes the snapshot stored in the state_data column.
func encodeFlowState(state models.FlowState) ([]byte, error) {
	if state.SessionID == "" {
		return nil, ErrMissingSessionID
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal flow state %s: %w", state.SessionID, err)
	}
	return data, nil
}

func decodeFlowState(sessionID string, data []byte) (*models.FlowState, error) {
	var state models.FlowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode flow state %s: %w", sessionID, err)
	}
	return &state, nil
}
