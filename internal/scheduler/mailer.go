// Package scheduler delivers emails now, at scheduled times with optional
// recurrence, and as daily LLM-composed digests. Tasks persist across
// restarts.
package scheduler

import (
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"deskmate/internal/config"
	"deskmate/internal/logging"
)

// Mailer sends one message. Implementations must be safe for concurrent
// use.
type Mailer interface {
	Send(to []string, subject, body string) error
}

// SMTPMailer speaks authenticated SMTP, with implicit TLS for SSL ports
// like 465.
type SMTPMailer struct {
	cfg    config.EmailConfig
	logger logging.Logger
}

func NewSMTPMailer(cfg config.EmailConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, logger: logging.NewComponentLogger("mailer")}
}

func (m *SMTPMailer) sender() string {
	if m.cfg.DefaultSender != "" {
		return m.cfg.DefaultSender
	}
	return m.cfg.SMTPUser
}

func (m *SMTPMailer) Send(to []string, subject, body string) error {
	if m.cfg.SMTPServer == "" || m.cfg.SMTPUser == "" {
		return fmt.Errorf("邮件配置不完整：缺少 SMTP 服务器或账号")
	}
	if len(to) == 0 {
		if m.cfg.DefaultRecipient == "" {
			return fmt.Errorf("未指定收件人")
		}
		to = []string{m.cfg.DefaultRecipient}
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.SMTPServer, m.cfg.SMTPPort)
	from := m.sender()

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)

	client, err := m.dial(addr)
	if err != nil {
		return fmt.Errorf("连接邮件服务器失败: %w", err)
	}
	defer func() { _ = client.Close() }()

	auth := smtp.PlainAuth("", m.cfg.SMTPUser, m.cfg.SMTPAuthCode, m.cfg.SMTPServer)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("邮件认证失败: %w", err)
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(b.String())); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	m.logger.Info("sent mail to %s: %s", strings.Join(to, ","), subject)
	return client.Quit()
}

func (m *SMTPMailer) dial(addr string) (*smtp.Client, error) {
	if m.cfg.SMTPSSL {
		conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: m.cfg.SMTPServer})
		if err != nil {
			return nil, err
		}
		return smtp.NewClient(conn, m.cfg.SMTPServer)
	}
	conn, err := net.DialTimeout("tcp", addr, 15*time.Second)
	if err != nil {
		return nil, err
	}
	client, err := smtp.NewClient(conn, m.cfg.SMTPServer)
	if err != nil {
		return nil, err
	}
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.cfg.SMTPServer}); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	return client, nil
}
