// Package notify delivers customer communications (reminders, payment links).
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strconv"

	"github.com/jordan-wright/email"
	"go.uber.org/zap"
)

// Message is one outbound communication.
type Message struct {
	To      string
	Subject string
	Body    string
	// Reference ties the message to the record that caused it, e.g. a PTP number.
	Reference string
}

// Messenger sends messages to customers.
type Messenger interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig is the relay the email messenger sends through.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailMessenger sends messages as plain-text email over SMTP.
type EmailMessenger struct {
	cfg  SMTPConfig
	log  *zap.Logger
	send func(e *email.Email, addr string, auth smtp.Auth) error
}

// NewEmailMessenger creates a messenger for cfg.
func NewEmailMessenger(cfg SMTPConfig, log *zap.Logger) *EmailMessenger {
	if log == nil {
		log = zap.NewNop()
	}
	return &EmailMessenger{
		cfg: cfg,
		log: log.Named("email"),
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

func (m *EmailMessenger) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("message %q has no recipient", msg.Subject)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e := email.NewEmail()
	e.From = m.cfg.From
	e.To = []string{msg.To}
	e.Subject = msg.Subject
	e.Text = []byte(msg.Body)

	addr := m.cfg.Host + ":" + strconv.Itoa(m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	if err := m.send(e, addr, auth); err != nil {
		m.log.Error("failed to send email", zap.String("to", msg.To), zap.String("reference", msg.Reference), zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}
	m.log.Info("email sent", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

// LogMessenger writes messages to the log instead of delivering them.
type LogMessenger struct {
	log *zap.Logger
}

// NewLogMessenger creates a messenger that only logs.
func NewLogMessenger(log *zap.Logger) *LogMessenger {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogMessenger{log: log.Named("notify")}
}

func (m *LogMessenger) Send(_ context.Context, msg Message) error {
	m.log.Info("message",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("reference", msg.Reference))
	return nil
}
