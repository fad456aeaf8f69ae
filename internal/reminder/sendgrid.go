package reminder

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/devhub-community/reputation-engine/internal/config"
	"github.com/devhub-community/reputation-engine/pkg/logger"
)

type mailClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridSender e-mails reminders through SendGrid.
type SendGridSender struct {
	client mailClient
	from   *mail.Email
	log    *logger.Logger
}

// NewSendGridSender creates a SendGrid sender.
func NewSendGridSender(cfg *config.SendGridConfig, log *logger.Logger) *SendGridSender {
	return newSendGridSender(sendgrid.NewSendClient(cfg.APIKey), cfg, log)
}

func newSendGridSender(client mailClient, cfg *config.SendGridConfig, log *logger.Logger) *SendGridSender {
	name := cfg.FromName
	if name == "" {
		name = "DevHub"
	}
	return &SendGridSender{
		client: client,
		from:   mail.NewEmail(name, cfg.FromEmail),
		log:    log,
	}
}

// Name implements Sender.
func (s *SendGridSender) Name() string { return BackendSendGrid }

// Send implements Sender.
func (s *SendGridSender) Send(ctx context.Context, r Reminder) error {
	if r.Email == "" {
		return ErrNoAddress
	}

	name := r.Username
	if name == "" {
		name = r.UserID
	}

	subject := fmt.Sprintf("Keep your %d day streak going", r.Streak)
	plain := fmt.Sprintf("Hi %s,\n\nYou are on a %d day streak. Log in today to keep it and earn %d bonus points.\n",
		name, r.Streak, r.NextBonus)
	html := fmt.Sprintf("<p>Hi %s,</p><p>You are on a <strong>%d day</strong> streak. Log in today to keep it and earn <strong>+%d</strong> bonus points.</p>",
		name, r.Streak, r.NextBonus)

	msg := mail.NewSingleEmail(s.from, subject, mail.NewEmail(name, r.Email), plain, html)

	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
	}

	s.log.Debug().Str("user_id", r.UserID).Int("status", resp.StatusCode).Msg("Sent streak reminder email")
	return nil
}
