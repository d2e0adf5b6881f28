package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// spySender records delivered messages and optionally fails.
type spySender struct {
	name     string
	messages []string
	err      error
}

func (s *spySender) Send(ctx context.Context, text string) error {
	s.messages = append(s.messages, text)
	return s.err
}

func (s *spySender) Name() string { return s.name }

func TestNotifyFiltersEvents(t *testing.T) {
	spy := &spySender{name: "spy"}
	n := NewNotifier([]Sender{spy}, []string{"order_executed", "error"}, nil)

	if err := n.Notify(context.Background(), "order_executed", "filled"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := n.Notify(context.Background(), "order_placed", "ignored"); err != nil {
		t.Fatalf("filtered event must not error: %v", err)
	}
	if len(spy.messages) != 1 || spy.messages[0] != "filled" {
		t.Fatalf("got %v, want the allowed event only", spy.messages)
	}
}

func TestNotifyEmptyFilterAllowsEverything(t *testing.T) {
	spy := &spySender{name: "spy"}
	n := NewNotifier([]Sender{spy}, nil, nil)

	if err := n.Notify(context.Background(), "anything", "msg"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(spy.messages) != 1 {
		t.Fatalf("got %v", spy.messages)
	}
}

func TestSendBlockBypassesFilter(t *testing.T) {
	spy := &spySender{name: "spy"}
	n := NewNotifier([]Sender{spy}, []string{"error"}, nil)

	if err := n.SendBlock(context.Background(), []string{"block one", "block two"}); err != nil {
		t.Fatalf("SendBlock: %v", err)
	}
	if len(spy.messages) != 2 || spy.messages[1] != "block two" {
		t.Fatalf("blocks not delivered in order: %v", spy.messages)
	}
}

func TestDispatchSurvivesSenderFailure(t *testing.T) {
	broken := &spySender{name: "broken", err: errors.New("boom")}
	healthy := &spySender{name: "healthy"}
	n := NewNotifier([]Sender{broken, healthy}, nil, nil)

	err := n.Notify(context.Background(), "any", "msg")
	if err == nil || !strings.Contains(err.Error(), "broken: boom") {
		t.Fatalf("failure not reported: %v", err)
	}
	if len(healthy.messages) != 1 {
		t.Fatal("healthy sender skipped after a peer failed")
	}
}

func TestNotifyWithoutSenders(t *testing.T) {
	n := NewNotifier(nil, nil, nil)
	if err := n.Notify(context.Background(), "any", "msg"); err != nil {
		t.Fatalf("no-op notifier must not error: %v", err)
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("short", 100); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short message split: %v", got)
	}

	// Prefer newline boundaries when one exists inside the limit.
	text := "line one\nline two\nline three"
	chunks := splitMessage(text, 12)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks: %q", len(chunks), chunks)
	}
	for i, c := range chunks {
		if len(c) > 12 {
			t.Fatalf("chunk %d over the limit: %q", i, c)
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("separator newline kept: %q", c)
		}
	}
	if joined := strings.Join(chunks, "\n"); joined != text {
		t.Fatalf("content lost: %q", joined)
	}

	// Without newlines the cut is a hard one at the limit.
	hard := splitMessage(strings.Repeat("a", 25), 10)
	if len(hard) != 3 || len(hard[0]) != 10 || len(hard[2]) != 5 {
		t.Fatalf("hard split wrong: %v", hard)
	}
}

func TestLastNewline(t *testing.T) {
	if got := lastNewline("ab\ncd\nef"); got != 5 {
		t.Fatalf("got %d, want 5", got)
	}
	if got := lastNewline("abcdef"); got != -1 {
		t.Fatalf("got %d, want -1", got)
	}
}
