package smtp

import (
	"errors"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessage_Headers(t *testing.T) {
	msg := string(buildMessage("noreply@clinic.test", "a@b.com", "Your code", "123456", time.Unix(0, 0)))
	assert.Contains(t, msg, "From: noreply@clinic.test\r\n")
	assert.Contains(t, msg, "To: a@b.com\r\n")
	assert.Contains(t, msg, "Subject: Your code\r\n")
	assert.Contains(t, msg, "Content-Type: text/plain")
	assert.Contains(t, msg, "\r\n\r\n123456")
}

func TestSendEmail_RejectsHeaderInjection(t *testing.T) {
	m := &mailer{send: func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send must not be called")
		return nil
	}}
	err := m.SendEmail("a@b.com\r\nBcc: evil@x.com", "s", "b")
	assert.Error(t, err)
}

func TestSendEmail_PropagatesFailure(t *testing.T) {
	m := &mailer{host: "localhost", port: "25", from: "f@x.com",
		send: func(string, smtp.Auth, string, []string, []byte) error { return errors.New("conn refused") }}
	err := m.SendEmail("a@b.com", "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conn refused")
}

func TestSendEmail_UsesAuthWhenConfigured(t *testing.T) {
	var gotAuth smtp.Auth
	var gotTo []string
	m := &mailer{host: "mail", port: "587", from: "f@x.com", username: "u", password: "p",
		send: func(_ string, a smtp.Auth, _ string, to []string, _ []byte) error {
			gotAuth, gotTo = a, to
			return nil
		}}
	require.NoError(t, m.SendEmail("a@b.com", "s", "b"))
	assert.NotNil(t, gotAuth)
	assert.Equal(t, []string{"a@b.com"}, gotTo)
}
