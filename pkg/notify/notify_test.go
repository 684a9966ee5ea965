package notify

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestEmailMessenger_Send(t *testing.T) {
	m := NewEmailMessenger(SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p", From: "collections@example.com"}, nil)

	var gotAddr string
	var got *email.Email
	m.send = func(e *email.Email, addr string, auth smtp.Auth) error {
		gotAddr, got = addr, e
		assert.NotNil(t, auth)
		return nil
	}

	err := m.Send(context.Background(), Message{To: "asha@example.com", Subject: "Payment reminder", Body: "due soon"})
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"asha@example.com"}, got.To)
	assert.Equal(t, "collections@example.com", got.From)
	assert.Equal(t, "due soon", string(got.Text))
}

func TestEmailMessenger_Failures(t *testing.T) {
	m := NewEmailMessenger(SMTPConfig{Host: "localhost", Port: 25}, nil)
	m.send = func(*email.Email, string, smtp.Auth) error { return errors.New("connection refused") }

	err := m.Send(context.Background(), Message{To: "asha@example.com", Subject: "x"})
	assert.ErrorContains(t, err, "connection refused")

	err = m.Send(context.Background(), Message{Subject: "x"})
	assert.ErrorContains(t, err, "no recipient")
}

func TestLogMessenger_Send(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := NewLogMessenger(zap.New(core))

	require.NoError(t, m.Send(context.Background(), Message{To: "+919800000000", Subject: "PTP reminder", Reference: "PTP202403000001"}))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "PTP202403000001", logs.All()[0].ContextMap()["reference"])
}
