// Package notify delivers ledger notifications (executed orders, triggered
// alerts, keeper trouble) to operator and user channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// Message is one notification.
type Message struct {
	Event string    `json:"event"`
	Title string    `json:"title"`
	Body  string    `json:"body"`
	At    time.Time `json:"at"`
}

// Sender delivers a message on one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier fans a message out to every sender concurrently. When an event
// allow-list is configured, other events are dropped.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Notify sends title and message for event to all senders. One sender
// failing does not stop the others; the failures are joined.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	if len(n.senders) == 0 {
		return nil
	}

	msg := Message{Event: event, Title: title, Body: message, At: time.Now().UTC()}
	p := pool.New().WithErrors().WithMaxGoroutines(len(n.senders))
	for _, s := range n.senders {
		p.Go(func() error {
			if err := s.Send(ctx, msg); err != nil {
				n.logger.ErrorContext(ctx, "sender failed",
					slog.String("sender", s.Name()),
					slog.String("event", event),
					slog.String("error", err.Error()),
				)
				return fmt.Errorf("%s: %w", s.Name(), err)
			}
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("event", event),
			)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return errors.Join(errors.New("notify: delivery failed"), err)
	}
	return nil
}
