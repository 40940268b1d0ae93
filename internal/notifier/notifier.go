// Package notifier sends transactional email over SMTP. Delivery is best
// effort: every failure is reported in the returned Result and logged, never
// returned as an error.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"crm-auth-service/pkg/config"
	metrics "crm-auth-service/prometheus"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// ErrNotConfigured is reported when SMTP credentials are missing or placeholders
var ErrNotConfigured = errors.New("email service not configured")

// Result describes one delivery attempt
type Result struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Transport delivers composed messages; *mail.Client satisfies it
type Transport interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Options configures addresses, links and deadlines
type Options struct {
	FromName    string
	FromAddress string
	FrontendURL string
	Timeout     time.Duration
	ResetTTL    time.Duration
}

// Notifier formats and delivers password-reset and welcome emails
type Notifier struct {
	transport Transport
	opts      Options
	log       *zap.Logger
}

// New builds a Notifier from configuration. When SMTP credentials look
// unconfigured the notifier is created without a transport and skips every
// delivery with a warning.
func New(cfg *config.Config, log *zap.Logger) (*Notifier, error) {
	opts := Options{
		FromName:    cfg.SMTP.FromName,
		FromAddress: cfg.SMTP.FromAddress,
		FrontendURL: cfg.Server.FrontendURL,
		Timeout:     cfg.SMTP.Timeout,
		ResetTTL:    cfg.Auth.ResetTokenTTL,
	}
	if !cfg.SMTP.EmailConfigured() {
		log.Warn("SMTP credentials not configured; emails will be skipped")
		return NewWithTransport(nil, opts, log), nil
	}

	mailOpts := []mail.Option{
		mail.WithPort(cfg.SMTP.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.SMTP.User),
		mail.WithPassword(cfg.SMTP.Pass),
		mail.WithTimeout(cfg.SMTP.Timeout),
	}
	if cfg.SMTP.Secure {
		mailOpts = append(mailOpts, mail.WithSSL())
	} else {
		mailOpts = append(mailOpts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	client, err := mail.NewClient(cfg.SMTP.Host, mailOpts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}

	log.Info("Email service configured",
		zap.String("host", cfg.SMTP.Host),
		zap.Int("port", cfg.SMTP.Port),
		zap.Bool("secure", cfg.SMTP.Secure))
	return NewWithTransport(client, opts, log), nil
}

// NewWithTransport builds a Notifier over an explicit transport; a nil
// transport means unconfigured.
func NewWithTransport(t Transport, opts Options, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{transport: t, opts: opts, log: log.Named("notifier")}
}

// Configured reports whether deliveries are attempted
func (n *Notifier) Configured() bool {
	return n.transport != nil
}

// Send delivers one message with an HTML body and a plain-text alternative
func (n *Notifier) Send(ctx context.Context, to, subject, html, text string) Result {
	log := n.log.With(zap.String("to", to), zap.String("subject", subject))
	if !n.Configured() {
		log.Warn("Email skipped, service not configured")
		return Result{Error: ErrNotConfigured.Error()}
	}

	msg := mail.NewMsg()
	if err := msg.FromFormat(n.opts.FromName, n.opts.FromAddress); err != nil {
		log.Error("Invalid sender address", zap.Error(err))
		return Result{Error: err.Error()}
	}
	if err := msg.To(to); err != nil {
		log.Error("Invalid recipient address", zap.Error(err))
		return Result{Error: err.Error()}
	}
	msg.Subject(subject)
	msg.SetMessageID()
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, text)
	msg.AddAlternativeString(mail.TypeTextHTML, html)

	if n.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.opts.Timeout)
		defer cancel()
	}

	if err := n.transport.DialAndSendWithContext(ctx, msg); err != nil {
		log.Error("Email delivery failed", zap.Error(err))
		return Result{Error: err.Error()}
	}

	var messageID string
	if ids := msg.GetGenHeader(mail.HeaderMessageID); len(ids) > 0 {
		messageID = ids[0]
	}
	log.Info("Email sent", zap.String("message_id", messageID))
	return Result{Success: true, MessageID: messageID}
}

// SendPasswordResetEmail sends the link that carries a reset token
func (n *Notifier) SendPasswordResetEmail(ctx context.Context, email, token, userName string) Result {
	link := n.opts.FrontendURL + "/reset-password?token=" + url.QueryEscape(token)
	return n.sendTemplate(ctx, "password_reset", resetTemplate, email, emailData{
		Name:      displayName(userName),
		Link:      link,
		ExpiresIn: humanDuration(n.opts.ResetTTL),
	})
}

// SendWelcomeEmail greets a newly registered user
func (n *Notifier) SendWelcomeEmail(ctx context.Context, email, userName string) Result {
	return n.sendTemplate(ctx, "welcome", welcomeTemplate, email, emailData{
		Name: displayName(userName),
		Link: n.opts.FrontendURL + "/login",
	})
}

func (n *Notifier) sendTemplate(ctx context.Context, name string, t template, to string, data emailData) Result {
	html, text, err := t.render(data)
	if err != nil {
		n.log.Error("Failed to render email template", zap.String("template", name), zap.Error(err))
		metrics.RecordEmail(name, "failed")
		return Result{Error: err.Error()}
	}

	res := n.Send(ctx, to, t.subject, html, text)
	switch {
	case res.Success:
		metrics.RecordEmail(name, "sent")
	case !n.Configured():
		metrics.RecordEmail(name, "skipped")
	default:
		metrics.RecordEmail(name, "failed")
	}
	return res
}

func displayName(name string) string {
	if name == "" {
		return "there"
	}
	return name
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0, d == time.Hour:
		return "1 hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	case d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	default:
		return d.String()
	}
}
