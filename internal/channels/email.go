package channels

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EmailSender delivers a rendered email and returns the provider-assigned
// message id used for threading on subsequent replies.
type EmailSender interface {
	Send(ctx context.Context, out *EmailOutbound) (externalID string, err error)
}

// SMTPConfig holds the SMTP settings for an organization's sending identity.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Validate checks if the configuration is valid.
func (c *SMTPConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("SMTP host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("SMTP port must be between 1 and 65535")
	}
	return nil
}

// Address returns the SMTP server address in the format "host:port".
func (c *SMTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SMTPSender sends email over plain SMTP with an auth identity.
type SMTPSender struct {
	config SMTPConfig
	domain string // Message-ID domain, derived from the from address
}

// NewSMTPSender creates an SMTP-backed email sender.
func NewSMTPSender(config SMTPConfig) (*SMTPSender, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &SMTPSender{config: config}, nil
}

// Send composes the MIME message and hands it to the SMTP server. The
// returned external id is the Message-ID header we stamped, which the
// customer's reply will carry in In-Reply-To.
func (s *SMTPSender) Send(ctx context.Context, out *EmailOutbound) (string, error) {
	if out.To == "" {
		return "", ErrNoRecipient
	}

	domain := s.domain
	if domain == "" {
		if at := strings.LastIndex(out.FromAddress, "@"); at >= 0 {
			domain = out.FromAddress[at+1:]
		} else {
			domain = "replydesk.local"
		}
	}
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), domain)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\r\n", out.FromName, out.FromAddress)
	fmt.Fprintf(&b, "To: %s\r\n", out.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", out.Subject)
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	if out.InReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", out.InReplyTo)
	}
	if out.References != "" {
		fmt.Fprintf(&b, "References: %s\r\n", out.References)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(out.HTMLBody)

	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	if err := smtp.SendMail(s.config.Address(), auth, out.FromAddress, []string{out.To}, []byte(b.String())); err != nil {
		log.Error().
			Str("to", out.To).
			Str("subject", out.Subject).
			Err(err).
			Msg("SMTP send failed")
		return "", &ChannelError{Code: "SEND_FAILED", Message: "smtp delivery failed", Err: err}
	}

	return messageID, nil
}
