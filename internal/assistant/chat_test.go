package assistant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/CoverageNavigator/internal/models"
)

// blockingAsker holds each request until released.
type blockingAsker struct {
	started chan Request
	release chan struct{}
	reply   Reply
	err     error
}

func newBlockingAsker(reply string, err error) *blockingAsker {
	return &blockingAsker{
		started: make(chan Request, 1),
		release: make(chan struct{}),
		reply:   Reply{Text: reply},
		err:     err,
	}
}

func (b *blockingAsker) Ask(ctx context.Context, req Request) (Reply, error) {
	b.started <- req
	<-b.release
	return b.reply, b.err
}

// instantAsker answers immediately.
type instantAsker struct {
	reply string
	err   error
	reqs  []Request
}

func (a *instantAsker) Ask(ctx context.Context, req Request) (Reply, error) {
	a.reqs = append(a.reqs, req)
	return Reply{Text: a.reply}, a.err
}

type sendResult struct {
	msg models.ChatMessage
	err error
}

func sendAsync(c *Chat, text string) <-chan sendResult {
	out := make(chan sendResult, 1)
	go func() {
		msg, err := c.Send(context.Background(), text)
		out <- sendResult{msg, err}
	}()
	return out
}

func TestChat_OpenSeedsGreetingOnce(t *testing.T) {
	c := NewChat(&instantAsker{}, nil)
	if len(c.History()) != 0 {
		t.Fatal("new chat should be empty")
	}
	c.Open()
	c.Close()
	c.Open()
	h := c.History()
	if len(h) != 1 || h[0].Text != Greeting || h[0].IsFromUser {
		t.Errorf("expected a single greeting, got %+v", h)
	}
}

func TestChat_SingleRequestInFlight(t *testing.T) {
	asker := newBlockingAsker("Healthy SF may cover you.", nil)
	c := NewChat(asker, nil)
	c.Open()

	first := sendAsync(c, "What are my options?")
	<-asker.started

	if !c.Pending() {
		t.Error("expected chat to be pending")
	}
	if _, err := c.Send(context.Background(), "Hello again"); !errors.Is(err, ErrRequestInFlight) {
		t.Errorf("expected ErrRequestInFlight, got %v", err)
	}
	if n := len(c.History()); n != 2 {
		t.Errorf("rejected send must not append, history has %d messages", n)
	}

	close(asker.release)
	res := <-first
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	if c.Pending() {
		t.Error("pending should clear after the reply")
	}
	h := c.History()
	if len(h) != 3 {
		t.Fatalf("expected greeting, question and reply, got %d messages", len(h))
	}
	if !h[1].IsFromUser || h[1].Text != "What are my options?" {
		t.Errorf("unexpected user message %+v", h[1])
	}
	if h[2].IsFromUser || h[2].Text != "Healthy SF may cover you." || h[2].ID != res.msg.ID {
		t.Errorf("unexpected reply %+v", h[2])
	}
}

func TestChat_ContextUsesPriorHistory(t *testing.T) {
	asker := &instantAsker{reply: "ok"}
	var seen []int
	c := NewChat(asker, func(history []models.ChatMessage) string {
		seen = append(seen, len(history))
		return "ctx"
	})
	c.Open()

	if _, err := c.Send(context.Background(), "one"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Send(context.Background(), "two"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 3 {
		t.Errorf("context should see history before each message, got %v", seen)
	}
	last := asker.reqs[1]
	if last.Message != "two" || last.Context != "ctx" || len(last.History) != 3 {
		t.Errorf("unexpected request %+v", last)
	}
}

func TestChat_FailureKeepsUserMessage(t *testing.T) {
	asker := &instantAsker{err: &UpstreamError{Status: 503, Err: errors.New("down")}}
	c := NewChat(asker, nil)
	c.Open()

	_, err := c.Send(context.Background(), "Am I eligible?")
	if !errors.Is(err, ErrAssistantUnavailable) {
		t.Fatalf("expected ErrAssistantUnavailable, got %v", err)
	}
	h := c.History()
	if len(h) != 2 || !h[1].IsFromUser {
		t.Errorf("expected greeting and user message only, got %+v", h)
	}
	if c.Pending() {
		t.Error("pending should clear after failure")
	}

	asker.err = nil
	asker.reply = "Yes."
	if _, err := c.Send(context.Background(), "Retry"); err != nil {
		t.Errorf("send after failure should succeed, got %v", err)
	}
}

func TestChat_LateReplyDiscarded(t *testing.T) {
	asker := newBlockingAsker("too late", nil)
	c := NewChat(asker, nil)
	c.Open()

	res := sendAsync(c, "question")
	<-asker.started
	c.Close()
	close(asker.release)

	if r := <-res; !errors.Is(r.err, ErrChatClosed) {
		t.Errorf("expected ErrChatClosed, got %v", r.err)
	}
	for _, m := range c.History() {
		if m.Text == "too late" {
			t.Error("late reply must not be appended")
		}
	}
}

func TestChat_SendRejections(t *testing.T) {
	c := NewChat(&instantAsker{reply: "x"}, nil)
	if _, err := c.Send(context.Background(), "hi"); !errors.Is(err, ErrChatClosed) {
		t.Errorf("closed chat: expected ErrChatClosed, got %v", err)
	}
	c.Open()
	if _, err := c.Send(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
	if len(c.History()) != 1 {
		t.Error("rejected sends must not change history")
	}
}

func TestChat_ConcurrentSendsOneWins(t *testing.T) {
	asker := newBlockingAsker("done", nil)
	c := NewChat(asker, nil, WithClock(func() time.Time { return time.Unix(0, 0) }))
	c.Open()

	first := sendAsync(c, "first")
	<-asker.started

	var wg sync.WaitGroup
	var mu sync.Mutex
	rejected := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Send(context.Background(), "more"); errors.Is(err, ErrRequestInFlight) {
				mu.Lock()
				rejected++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(asker.release)
	<-first

	if rejected != 8 {
		t.Errorf("expected all concurrent sends rejected, got %d", rejected)
	}
	if n := len(c.History()); n != 3 {
		t.Errorf("expected 3 messages, got %d", n)
	}
}
