// Package assistant forwards eligibility questions to a chat-completion
// service and owns the per-session chat history.
package assistant

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/CoverageNavigator/internal/eligibility"
	"github.com/BTreeMap/CoverageNavigator/internal/genai"
	"github.com/BTreeMap/CoverageNavigator/internal/metrics"
	"github.com/BTreeMap/CoverageNavigator/internal/models"
)

const preamble = "You are a helpful eligibility assistant for Medicaid and health coverage programs."

const guidance = `Based on the user's screening data and eligibility results, provide personalized guidance on:
1. Why they may not be eligible for certain programs
2. What specific documents or steps they need
3. Alternative programs they should consider (especially Healthy SF)
4. Concrete next steps with contact information when possible

Be empathetic, clear, and actionable. Focus on solutions and alternatives. If they're not eligible for federal Medicaid, emphasize Healthy SF as a great option for San Francisco residents.`

const closing = "Keep responses concise but helpful. Provide specific guidance based on their situation."

// Completer runs one chat completion. genai.Client implements it.
type Completer interface {
	GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Request is one question for the assistant. Context is the rendered output
// of eligibility.ContextBuilder, which already includes the chat history.
type Request struct {
	Message string
	Context string
	History []models.ChatMessage
}

// Reply is the assistant's answer.
type Reply struct {
	Text string
}

// Proxy turns a Request into a single completion call.
type Proxy struct {
	completer Completer
	ruleset   string
	recorder  metrics.Recorder
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithRecorder records call outcomes.
func WithRecorder(r metrics.Recorder) Option {
	return func(p *Proxy) { p.recorder = r }
}

// WithRuleset replaces the embedded ruleset document.
func WithRuleset(text string) Option {
	return func(p *Proxy) { p.ruleset = text }
}

// NewProxy creates a Proxy. A nil completer is allowed; every Ask then fails
// with a ConfigurationError.
func NewProxy(completer Completer, opts ...Option) *Proxy {
	p := &Proxy{
		completer: completer,
		ruleset:   eligibility.Ruleset(),
		recorder:  metrics.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SystemPrompt assembles the system instruction for a rendered context.
func (p *Proxy) SystemPrompt(userContext string) string {
	var sb strings.Builder
	sb.WriteString(preamble)
	sb.WriteString("\n\n")
	sb.WriteString(p.ruleset)
	sb.WriteString("\n\n")
	sb.WriteString(guidance)
	sb.WriteString("\n\nUSER CONTEXT:\n")
	sb.WriteString(userContext)
	sb.WriteString("\n\n")
	sb.WriteString(closing)
	return sb.String()
}

// Ask sends req to the completion service. Every failure other than
// ErrEmptyMessage matches ErrAssistantUnavailable.
func (p *Proxy) Ask(ctx context.Context, req Request) (Reply, error) {
	start := time.Now()
	message := strings.TrimSpace(req.Message)
	if message == "" {
		p.recorder.ObserveAssistant(metrics.OutcomeInvalid, time.Since(start))
		return Reply{}, ErrEmptyMessage
	}
	if !chronological(req.History) {
		slog.Warn("Proxy.Ask: chat history is not in chronological order", "messages", len(req.History))
	}
	if p.completer == nil {
		err := &ConfigurationError{Reason: "no completion client configured"}
		slog.Error("Proxy.Ask: assistant unavailable", "error", err)
		p.recorder.ObserveAssistant(metrics.OutcomeConfiguration, time.Since(start))
		return Reply{}, err
	}

	slog.Debug("Proxy.Ask: forwarding message", "message_chars", len(message), "context_chars", len(req.Context), "history", len(req.History))
	text, err := p.completer.GeneratePromptWithContext(ctx, p.SystemPrompt(req.Context), message)
	if err != nil {
		classified, outcome := classify(err)
		slog.Error("Proxy.Ask: assistant unavailable", "outcome", outcome, "error", classified)
		p.recorder.ObserveAssistant(outcome, time.Since(start))
		return Reply{}, classified
	}
	if strings.TrimSpace(text) == "" {
		p.recorder.ObserveAssistant(metrics.OutcomeProtocol, time.Since(start))
		return Reply{}, &ProtocolError{Err: genai.ErrEmptyContent}
	}
	p.recorder.ObserveAssistant(metrics.OutcomeSuccess, time.Since(start))
	return Reply{Text: text}, nil
}

func classify(err error) (error, string) {
	switch {
	case errors.Is(err, genai.ErrMissingAPIKey):
		return &ConfigurationError{Reason: "missing API key", Err: err}, metrics.OutcomeConfiguration
	case errors.Is(err, genai.ErrNoChoicesReturned), errors.Is(err, genai.ErrEmptyContent),
		errors.Is(err, genai.ErrMalformedResponse):
		return &ProtocolError{Err: err}, metrics.OutcomeProtocol
	}
	status, ok := genai.StatusCode(err)
	if ok && (status == http.StatusUnauthorized || status == http.StatusForbidden) {
		return &ConfigurationError{Reason: "credential rejected", Err: err}, metrics.OutcomeConfiguration
	}
	return &UpstreamError{Status: status, Err: err}, metrics.OutcomeUpstream
}

func chronological(history []models.ChatMessage) bool {
	for i := 1; i < len(history); i++ {
		if history[i].Timestamp.Before(history[i-1].Timestamp) {
			return false
		}
	}
	return true
}
