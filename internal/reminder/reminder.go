// Package reminder delivers streak reminders outside the live connection.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/devhub-community/reputation-engine/internal/config"
	"github.com/devhub-community/reputation-engine/internal/mattermost"
	"github.com/devhub-community/reputation-engine/pkg/logger"
)

// Backend names.
const (
	BackendNone     = "none"
	BackendSendGrid = "sendgrid"
	BackendWebhook  = "webhook"
)

// ErrNoAddress is returned when the recipient has no address for the backend.
var ErrNoAddress = errors.New("recipient has no address")

// Reminder is one streak reminder.
type Reminder struct {
	UserID    string
	Username  string
	Email     string
	Streak    int
	NextBonus int64
}

// Sender delivers reminders.
type Sender interface {
	Name() string
	Send(ctx context.Context, r Reminder) error
}

// New returns the sender selected in cfg, or nil when reminders are disabled.
func New(cfg *config.RemindersConfig, log *logger.Logger) (Sender, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendNone:
		return nil, nil
	case BackendSendGrid:
		return NewSendGridSender(&cfg.SendGrid, log), nil
	case BackendWebhook:
		return NewWebhookSender(mattermost.NewClient(&cfg.Webhook, log)), nil
	default:
		return nil, fmt.Errorf("unknown reminder backend %q", cfg.Backend)
	}
}

// WebhookSender mentions users through a chat webhook.
type WebhookSender struct {
	client *mattermost.Client
}

// NewWebhookSender creates a webhook sender.
func NewWebhookSender(client *mattermost.Client) *WebhookSender {
	return &WebhookSender{client: client}
}

// Name implements Sender.
func (s *WebhookSender) Name() string { return BackendWebhook }

// Send implements Sender.
func (s *WebhookSender) Send(ctx context.Context, r Reminder) error {
	if r.Username == "" {
		return ErrNoAddress
	}
	return s.client.SendStreakReminder(ctx, r.Username, r.Streak, r.NextBonus)
}
