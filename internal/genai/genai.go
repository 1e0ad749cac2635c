// Package genai provides GenAI-enhanced operations using OpenAI API.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default settings for chat completions.
const (
	DefaultModel       = string(openai.ChatModelGPT4oMini)
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 500
)

var (
	// ErrMissingAPIKey is returned by NewClient when no API key was configured.
	ErrMissingAPIKey = errors.New("OpenAI API key not set")
	// ErrNoChoicesReturned is returned when a completion has no choices.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrEmptyContent is returned when the first choice has no text.
	ErrEmptyContent = errors.New("empty completion content")
	// ErrMalformedResponse is returned when a response body cannot be decoded.
	ErrMalformedResponse = errors.New("malformed completion response")
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openaiChatAdapter adapts the SDK's completion service to chatService.
type openaiChatAdapter struct {
	client openai.Client
}

func (a openaiChatAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	if resp == nil {
		return openai.ChatCompletion{}, ErrNoChoicesReturned
	}
	return *resp, nil
}

// Client wraps the OpenAI ChatCompletion service for generating responses.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int
	debugMode   bool
	stateDir    string
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	DebugMode   bool
	StateDir    string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey overrides the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens bounds the length of each completion.
func WithMaxTokens(n int) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithDebugMode enables request/response dumps under the state directory.
func WithDebugMode(enabled bool) Option {
	return func(o *Opts) { o.DebugMode = enabled }
}

// WithStateDir sets the directory that receives debug dumps.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// NewClient initializes a new GenAI client. Automatic retries are disabled so
// every failure surfaces to the caller.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	slog.Debug("genai.NewClient: creating client", "model", cfg.Model, "base_url_set", cfg.BaseURL != "", "debug", cfg.DebugMode)

	return &Client{
		chat:        openaiChatAdapter{client: openai.NewClient(reqOpts...)},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// GeneratePrompt generates a response based on the provided system and user prompts.
func (c *Client) GeneratePrompt(systemPrompt, userPrompt string) (string, error) {
	return c.GeneratePromptWithContext(context.Background(), systemPrompt, userPrompt)
}

// GeneratePromptWithContext runs one non-streaming completion with a system
// and a user message and returns the first choice's text.
func (c *Client) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		if isDecodeError(err) {
			slog.Error("Client.GeneratePromptWithContext: response body could not be decoded", "model", c.model, "error", err)
			return "", fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
		slog.Error("Client.GeneratePromptWithContext: completion failed", "model", c.model, "status", statusOf(err), "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	c.writeDebugLog("GeneratePromptWithContext", params, resp)

	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}
	slog.Debug("Client.GeneratePromptWithContext: completion received", "model", c.model, "chars", len(content), "elapsed", time.Since(start))
	return content, nil
}

// StatusCode extracts the HTTP status of a failed API call. It reports false
// for failures that never got a response, such as transport errors.
func StatusCode(err error) (int, bool) {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, true
	}
	return 0, false
}

// isDecodeError reports a successful response whose JSON body was unusable.
func isDecodeError(err error) bool {
	if _, ok := StatusCode(err); ok {
		return false
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func statusOf(err error) int {
	code, _ := StatusCode(err)
	return code
}

type debugEntry struct {
	Timestamp time.Time                      `json:"timestamp"`
	Method    string                         `json:"method"`
	Model     string                         `json:"model"`
	Params    openai.ChatCompletionNewParams `json:"params"`
	Response  openai.ChatCompletion          `json:"response"`
}

// writeDebugLog dumps one call to <stateDir>/debug when debug mode is on.
// Failures are logged and otherwise ignored.
func (c *Client) writeDebugLog(method string, params openai.ChatCompletionNewParams, resp openai.ChatCompletion) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("Client.writeDebugLog: failed to create debug directory", "dir", dir, "error", err)
		return
	}
	entry := debugEntry{Timestamp: time.Now(), Method: method, Model: c.model, Params: params, Response: resp}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("Client.writeDebugLog: failed to marshal debug entry", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", entry.Timestamp.Format("20060102T150405.000000000"), method)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		slog.Warn("Client.writeDebugLog: failed to write debug entry", "file", name, "error", err)
	}
}
