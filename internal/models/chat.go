package models

import "time"

// ChatMessage is one entry of the assistant conversation.
type ChatMessage struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	IsFromUser bool      `json:"isFromUser"`
	Timestamp  time.Time `json:"timestamp"`
}

// HistoryEntry is the reduced chat message accepted at the proxy boundary.
type HistoryEntry struct {
	Text       string `json:"text"`
	IsFromUser bool   `json:"isFromUser"`
}

// EligibilityChatRequest is the payload of the stateless chat endpoint.
type EligibilityChatRequest struct {
	Message            string         `json:"message"`
	EligibilityResults *Determination `json:"eligibilityResults,omitempty"`
	ScreenerData       Answers        `json:"screenerData"`
	ChatHistory        []HistoryEntry `json:"chatHistory"`
}

// EligibilityChatResponse is the successful reply of the stateless chat endpoint.
type EligibilityChatResponse struct {
	Response string `json:"response"`
}

// EligibilityChatError is the failure body of the stateless chat endpoint.
type EligibilityChatError struct {
	Error string `json:"error"`
}

// ChatSendRequest is the payload for sending a message in a session chat.
type ChatSendRequest struct {
	Message string `json:"message"`
}
