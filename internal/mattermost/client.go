// Package mattermost provides a webhook client for Mattermost-compatible incoming webhooks.
package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/devhub-community/reputation-engine/internal/config"
	"github.com/devhub-community/reputation-engine/pkg/logger"
)

const defaultTimeout = 10 * time.Second

// Client posts messages to an incoming webhook.
type Client struct {
	webhookURL string
	channel    string
	username   string
	httpClient *http.Client
	log        *logger.Logger
}

// NewClient creates a new webhook client.
func NewClient(cfg *config.WebhookConfig, log *logger.Logger) *Client {
	return &Client{
		webhookURL: cfg.URL,
		channel:    cfg.Channel,
		username:   "Reputation Bot",
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        log,
	}
}

// Message represents a Mattermost message payload.
type Message struct {
	Channel     string       `json:"channel,omitempty"`
	Username    string       `json:"username,omitempty"`
	Text        string       `json:"text,omitempty"`
	IconURL     string       `json:"icon_url,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment represents a message attachment.
type Attachment struct {
	Fallback string  `json:"fallback,omitempty"`
	Color    string  `json:"color,omitempty"`
	Title    string  `json:"title,omitempty"`
	Text     string  `json:"text,omitempty"`
	Fields   []Field `json:"fields,omitempty"`
	Footer   string  `json:"footer,omitempty"`
}

// Field represents a message field.
type Field struct {
	Short bool   `json:"short"`
	Title string `json:"title"`
	Value string `json:"value"`
}

// SendMessage posts msg to the webhook. The configured channel is used when msg has none.
func (c *Client) SendMessage(ctx context.Context, msg *Message) error {
	if msg.Channel == "" {
		msg.Channel = c.channel
	}
	if msg.Username == "" {
		msg.Username = c.username
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message to webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	c.log.Debug().
		Str("channel", msg.Channel).
		Msg("Sent message to webhook")

	return nil
}

// SendStreakReminder mentions username with a reminder to keep their streak.
func (c *Client) SendStreakReminder(ctx context.Context, username string, streak int, nextBonus int64) error {
	text := fmt.Sprintf("🔥 @%s your **%d day** streak ends at midnight. Log in today to keep it and earn **+%d** points.",
		username, streak, nextBonus)

	return c.SendMessage(ctx, &Message{
		Text: text,
		Attachments: []Attachment{{
			Fallback: fmt.Sprintf("%d day streak at risk", streak),
			Color:    "#f97316",
			Fields: []Field{
				{Short: true, Title: "Current streak", Value: fmt.Sprintf("%d days", streak)},
				{Short: true, Title: "Next bonus", Value: fmt.Sprintf("+%d", nextBonus)},
			},
		}},
	})
}
