package models

import "time"

// FlowStep is the coarse position of a user in the overall flow.
type FlowStep string

const (
	FlowStepLanding    FlowStep = "landing"
	FlowStepScreener   FlowStep = "screener"
	FlowStepUpload     FlowStep = "upload"
	FlowStepAssessment FlowStep = "assessment"
	FlowStepResults    FlowStep = "results"
)

// FlowState is the persisted snapshot of one session. Chat history is not part
// of it.
type FlowState struct {
	SessionID     string         `json:"session_id"`
	CurrentStep   FlowStep       `json:"current_step"`
	ScreenerIndex int            `json:"screener_index"`
	Answers       Answers        `json:"answers"`
	Documents     []Document     `json:"documents,omitempty"`
	Determination *Determination `json:"determination,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// SessionView is what the API returns for a session.
type SessionView struct {
	ID            string          `json:"id"`
	CurrentStep   FlowStep        `json:"currentStep"`
	Screener      ScreenerView    `json:"screener"`
	Documents     []Document      `json:"documents"`
	Checklist     []ChecklistItem `json:"checklist"`
	Ready         bool            `json:"ready"`
	Determination *Determination  `json:"determination,omitempty"`
	ChatPending   bool            `json:"chatPending"`
	ChatHistory   []ChatMessage   `json:"chatHistory"`
}

// ScreenerView describes the screener position and what the UI should show.
type ScreenerView struct {
	Index      int         `json:"index"`
	StepCount  int         `json:"stepCount"`
	Title      string      `json:"title,omitempty"`
	Fields     []FieldSpec `json:"fields"`
	Answers    Answers     `json:"answers"`
	CanAdvance bool        `json:"canAdvance"`
	Missing    []string    `json:"missing,omitempty"`
	Complete   bool        `json:"complete"`
}
