package assistant

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/CoverageNavigator/internal/models"
	"github.com/google/uuid"
)

// Greeting is the first message of every chat.
const Greeting = "Hello! I'm here to help you understand your eligibility results and guide you on next steps. What would you like to know about your Medicaid or health coverage options?"

// Asker answers one request. Proxy implements it.
type Asker interface {
	Ask(ctx context.Context, req Request) (Reply, error)
}

// ContextFunc renders the assistant context for the given prior history.
type ContextFunc func(history []models.ChatMessage) string

// Chat is the append-only conversation of one session. At most one request
// is outstanding at a time, and a reply that arrives after Close is dropped.
type Chat struct {
	asker   Asker
	context ContextFunc
	now     func() time.Time

	mu         sync.Mutex
	history    []models.ChatMessage
	open       bool
	pending    bool
	generation uint64
}

// ChatOption configures a Chat.
type ChatOption func(*Chat)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) ChatOption {
	return func(c *Chat) { c.now = now }
}

// NewChat creates a closed, empty chat.
func NewChat(asker Asker, contextFn ContextFunc, opts ...ChatOption) *Chat {
	c := &Chat{asker: asker, context: contextFn, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open shows the chat, seeding the greeting on first open.
func (c *Chat) Open() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	if len(c.history) == 0 {
		c.history = append(c.history, c.message(Greeting, false))
	}
}

// Close hides the chat. A reply still in flight will be discarded.
func (c *Chat) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.generation++
}

// IsOpen reports whether the chat is open.
func (c *Chat) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Pending reports whether a request is in flight.
func (c *Chat) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// History returns a copy of the conversation in order.
func (c *Chat) History() []models.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ChatMessage, len(c.history))
	copy(out, c.history)
	return out
}

// Send appends the user's message and asks for a reply. The context is built
// from the history before this message. On failure the user message stays and
// no reply is appended. The lock is not held during the outbound call.
func (c *Chat) Send(ctx context.Context, text string) (models.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ChatMessage{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return models.ChatMessage{}, ErrChatClosed
	}
	if c.pending {
		c.mu.Unlock()
		slog.Warn("Chat.Send: rejected, request already in flight")
		return models.ChatMessage{}, ErrRequestInFlight
	}
	prior := make([]models.ChatMessage, len(c.history))
	copy(prior, c.history)
	c.history = append(c.history, c.message(text, true))
	c.pending = true
	gen := c.generation
	c.mu.Unlock()

	var rendered string
	if c.context != nil {
		rendered = c.context(prior)
	}
	reply, err := c.asker.Ask(ctx, Request{Message: text, Context: rendered, History: prior})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = false
	if err != nil {
		return models.ChatMessage{}, err
	}
	if gen != c.generation {
		slog.Debug("Chat.Send: discarding reply received after close")
		return models.ChatMessage{}, ErrChatClosed
	}
	msg := c.message(reply.Text, false)
	c.history = append(c.history, msg)
	return msg, nil
}

func (c *Chat) message(text string, fromUser bool) models.ChatMessage {
	return models.ChatMessage{
		ID:         uuid.NewString(),
		Text:       text,
		IsFromUser: fromUser,
		Timestamp:  c.now(),
	}
}
