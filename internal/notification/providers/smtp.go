package providers

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/docflowhq/docflow/internal/notification/domain"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPProvider sends through a plain SMTP relay. One recipient per send;
// most relays under this provider reject long RCPT lists.
type SMTPProvider struct {
	cfg SMTPConfig
}

func NewSMTP(cfg SMTPConfig) *SMTPProvider {
	return &SMTPProvider{cfg: cfg}
}

func (p *SMTPProvider) Name() string { return "smtp" }

func (p *SMTPProvider) MaxBatchSize() int { return 1 }

func (p *SMTPProvider) Send(ctx context.Context, msg domain.Message) error {
	if len(msg.To) == 0 {
		return domain.ErrNoRecipients
	}

	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	body := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n%s\r\n%s",
		strings.Join(msg.To, ", "), msg.Subject, mime, msg.HTMLBody))

	return smtp.SendMail(addr, auth, p.cfg.From, msg.To, body)
}
