package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/dock-tor/dock-tor/pkg/config"
	"github.com/dock-tor/dock-tor/pkg/types"
)

// ErrSendFailed is returned when the mail transport rejects a message.
var ErrSendFailed = errors.New("failed to send notification")

// Message is a rendered notification addressed to its recipients.
type Message struct {
	From        string
	To          []string
	Subject     string
	Text        string
	HTML        string
	Attachments []types.Attachment
}

// Sender delivers notifications.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// sendTimeout bounds connect and each SMTP command.
const sendTimeout = 30 * time.Second

// SMTPSender delivers messages over SMTP. With UseSSL set the connection must
// be upgraded with STARTTLS; otherwise it stays in plain text.
type SMTPSender struct {
	cfg config.SMTP
}

// NewSMTPSender returns a sender for cfg.
func NewSMTPSender(cfg config.SMTP) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send delivers msg once. Failures are not retried.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m, err := BuildMessage(msg)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	slog.Info("sending notification", "host", s.cfg.Host, "port", s.cfg.Port, "recipients", len(msg.To), "attachments", len(msg.Attachments))
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("%w via %s:%d: %w", ErrSendFailed, s.cfg.Host, s.cfg.Port, err)
	}
	return nil
}

func (s *SMTPSender) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(sendTimeout),
	}
	if s.cfg.UseSSL {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if s.cfg.User != "" {
		auth := mail.SMTPAuthPlain
		if !s.cfg.UseSSL {
			auth = mail.SMTPAuthPlainNoEnc
		}
		opts = append(opts,
			mail.WithSMTPAuth(auth),
			mail.WithUsername(s.cfg.User),
			mail.WithPassword(s.cfg.Pass),
		)
	}
	return opts
}

// BuildMessage assembles a multipart message: a plain-text body, an HTML
// alternative when msg.HTML is set, and one part per attachment.
func BuildMessage(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", msg.From, err)
	}
	if len(msg.To) == 0 {
		return nil, errors.New("no recipients")
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("invalid recipients %v: %w", msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetMessageID()

	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	for _, a := range msg.Attachments {
		opts := []mail.FileOption{mail.WithFileName(a.Filename)}
		if a.ContentType != "" {
			opts = append(opts, mail.WithFileContentType(mail.ContentType(a.ContentType)))
		}
		m.AttachFile(a.Path, opts...)
	}
	return m, nil
}
