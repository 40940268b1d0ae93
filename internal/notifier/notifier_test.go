package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeTransport struct {
	mu       sync.Mutex
	messages []*mail.Msg
	err      error
	deadline bool
}

func (f *fakeTransport) DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, f.deadline = ctx.Deadline()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, messages...)
	return nil
}

func testOptions() Options {
	return Options{
		FromName:    "CRM",
		FromAddress: "noreply@example.com",
		FrontendURL: "https://crm.example.com",
		Timeout:     time.Second,
		ResetTTL:    time.Hour,
	}
}

func TestSend_Unconfigured(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	n := NewWithTransport(nil, testOptions(), zap.New(core))

	res := n.Send(context.Background(), "a@b.com", "hi", "<p>hi</p>", "hi")
	assert.False(t, n.Configured())
	assert.False(t, res.Success)
	assert.Equal(t, "email service not configured", res.Error)
	assert.Equal(t, 1, logs.FilterMessage("Email skipped, service not configured").Len())
}

func TestSend_Success(t *testing.T) {
	tr := &fakeTransport{}
	n := NewWithTransport(tr, testOptions(), zap.NewNop())

	res := n.Send(context.Background(), "a@b.com", "Hello", "<p>hi</p>", "hi")
	require.True(t, res.Success)
	assert.NotEmpty(t, res.MessageID)
	assert.True(t, tr.deadline, "delivery must run under a deadline")

	require.Len(t, tr.messages, 1)
	msg := tr.messages[0]
	to := msg.GetToString()
	require.Len(t, to, 1)
	assert.Equal(t, "<a@b.com>", to[0])
	assert.Equal(t, []string{"Hello"}, msg.GetGenHeader(mail.HeaderSubject))
}

func TestSend_TransportFailureIsReported(t *testing.T) {
	tr := &fakeTransport{err: errors.New("connection refused")}
	n := NewWithTransport(tr, testOptions(), zap.NewNop())

	var res Result
	assert.NotPanics(t, func() {
		res = n.Send(context.Background(), "a@b.com", "Hello", "<p>hi</p>", "hi")
	})
	assert.False(t, res.Success)
	assert.Equal(t, "connection refused", res.Error)
}

func TestSend_InvalidRecipient(t *testing.T) {
	tr := &fakeTransport{}
	n := NewWithTransport(tr, testOptions(), zap.NewNop())

	res := n.Send(context.Background(), "not an address", "Hello", "", "")
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Empty(t, tr.messages)
}

func TestResetTemplate_EmbedsLink(t *testing.T) {
	html, text, err := resetTemplate.render(emailData{
		Name:      "Ada",
		Link:      "https://crm.example.com/reset-password?token=abc123",
		ExpiresIn: "1 hour",
	})
	require.NoError(t, err)
	assert.Contains(t, html, `href="https://crm.example.com/reset-password?token=abc123"`)
	assert.Contains(t, text, "https://crm.example.com/reset-password?token=abc123")
	assert.Contains(t, text, "Hi Ada,")
	assert.Contains(t, text, "1 hour")
}

func TestWelcomeTemplate_EscapesName(t *testing.T) {
	html, text, err := welcomeTemplate.render(emailData{Name: "<b>Ada</b>", Link: "https://crm.example.com/login"})
	require.NoError(t, err)
	assert.NotContains(t, html, "<b>Ada</b>")
	assert.Contains(t, text, "<b>Ada</b>")
}

func TestSendPasswordResetEmail(t *testing.T) {
	tr := &fakeTransport{}
	n := NewWithTransport(tr, testOptions(), zap.NewNop())

	res := n.SendPasswordResetEmail(context.Background(), "a@b.com", "tok", "Ada")
	require.True(t, res.Success)
	require.Len(t, tr.messages, 1)
	assert.Equal(t, []string{"Reset your CRM password"}, tr.messages[0].GetGenHeader(mail.HeaderSubject))
}

func TestSendWelcomeEmail_Unconfigured(t *testing.T) {
	n := NewWithTransport(nil, testOptions(), zap.NewNop())
	res := n.SendWelcomeEmail(context.Background(), "a@b.com", "")
	assert.False(t, res.Success)
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "1 hour", humanDuration(time.Hour))
	assert.Equal(t, "2 hours", humanDuration(2*time.Hour))
	assert.Equal(t, "30 minutes", humanDuration(30*time.Minute))
	assert.True(t, strings.HasSuffix(humanDuration(90*time.Second), "s"))
}
