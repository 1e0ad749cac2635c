package assistant

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyMessage is returned when the trimmed message is empty. No
	// network call is made.
	ErrEmptyMessage = errors.New("message cannot be empty")
	// ErrAssistantUnavailable matches every failure of the completion
	// collaborator. Its text is the only failure detail shown to users.
	ErrAssistantUnavailable = errors.New("the assistant is unavailable right now, please try again later")
	// ErrRequestInFlight is returned when a chat already waits for a reply.
	ErrRequestInFlight = errors.New("a message is already being answered")
	// ErrChatClosed is returned when a reply arrives after the chat closed.
	ErrChatClosed = errors.New("chat is closed")
)

// ConfigurationError reports a missing or rejected credential.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("assistant misconfigured: %s: %v", e.Reason, e.Err)
	}
	return "assistant misconfigured: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Is makes every ConfigurationError match ErrAssistantUnavailable.
func (e *ConfigurationError) Is(target error) bool { return target == ErrAssistantUnavailable }

// UpstreamError reports a non-success response or a transport failure.
// Status is zero when no response was received.
type UpstreamError struct {
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("assistant upstream unreachable: %v", e.Err)
	}
	return fmt.Sprintf("assistant upstream returned status %d: %v", e.Status, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrAssistantUnavailable }

// ProtocolError reports a response without usable text.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("assistant returned an unusable response: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool { return target == ErrAssistantUnavailable }
