// Package notify delivers operator-facing messages to one or more channels
// (Telegram, Discord). Messages are plain text; the UI log renders its own
// layout and no channel markup may rewrite it.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Sender is one notification channel.
type Sender interface {
	// Send delivers one plain-text message.
	Send(ctx context.Context, text string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches messages to every configured sender. A set of allowed
// event types filters Notify calls; SendBlock bypasses the filter, it carries
// the UI log which is always wanted.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only events
// whose type appears in events pass the Notify filter; an empty list allows
// everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends one message when its event type passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, text string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, text)
}

// SendBlock delivers a batch of pre-formatted text blocks, one message per
// block, in order.
func (n *Notifier) SendBlock(ctx context.Context, lines []string) error {
	var errs []string
	for _, line := range lines {
		if err := n.dispatch(ctx, line); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: block delivery: %s", strings.Join(errs, "; "))
	}
	return nil
}

// dispatch fans one message out to every sender. A single sender failure
// does not prevent delivery to the rest.
func (n *Notifier) dispatch(ctx context.Context, text string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, text); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
