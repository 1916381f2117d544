// Package mail 提供了通过 SMTP 发送邮件的功能。
package mail

import (
	"fmt"
	"net/smtp"

	"regulus-go/internal/config"
)

// Sender 定义了邮件发送接口。
type Sender interface {
	Send(to, subject, body string) error
}

type smtpSender struct {
	cfg config.SMTPConfig
}

// NewSender 创建一个新的 SMTP 邮件发送器。
func NewSender(cfg config.SMTPConfig) Sender {
	return &smtpSender{cfg: cfg}
}

// Send 通过 SMTP（STARTTLS）发送一封纯文本邮件。
func (s *smtpSender) Send(to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		s.cfg.From, to, subject, body)

	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", to, err)
	}
	return nil
}
