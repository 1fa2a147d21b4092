// Package notify delivers operator alarms to chat channels. Alarms carry an
// event name; a notifier forwards only the events it was configured for.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Config selects the channels and events. A channel with no credentials is
// skipped. An empty Events list forwards everything.
type Config struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// Node is prefixed to every title so alarms from several nodes can
	// share a channel.
	Node string `toml:"node"`
}

// Senders builds the senders for every configured channel.
func (c Config) Senders() []Sender {
	var out []Sender
	if c.TelegramToken != "" && c.TelegramChatID != "" {
		out = append(out, NewTelegramSender(c.TelegramToken, c.TelegramChatID))
	}
	if c.DiscordWebhookURL != "" {
		out = append(out, NewDiscordSender(c.DiscordWebhookURL))
	}
	return out
}

// Notifier fans an alarm out to its senders.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	node    string
	logger  *slog.Logger
}

// New returns a notifier for cfg's channels.
func New(cfg Config, logger *slog.Logger) *Notifier {
	return NewNotifier(cfg.Senders(), cfg.Events, cfg.Node, logger)
}

// NewNotifier returns a notifier over explicit senders.
func NewNotifier(senders []Sender, events []string, node string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		node:    node,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether event would be forwarded to at least one sender.
func (n *Notifier) Enabled(event string) bool {
	if len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

// Notify forwards the alarm if event is enabled. Every sender is tried; the
// returned error joins the failures.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled(event) {
		n.logger.DebugContext(ctx, "event not forwarded", slog.String("event", event))
		return nil
	}
	if n.node != "" {
		title = fmt.Sprintf("[%s] %s", n.node, title)
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "send failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		n.logger.DebugContext(ctx, "alarm sent", slog.String("sender", s.Name()), slog.String("event", event))
	}
	return errors.Join(errs...)
}
