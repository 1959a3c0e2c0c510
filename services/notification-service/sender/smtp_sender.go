package sender

import (
	"context"
	"fmt"
	"net/smtp"
	"time"
)

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

type SMTPSender struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP_HOST not set")
	}
	if cfg.Port == "" {
		return nil, fmt.Errorf("SMTP_PORT not set")
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("SMTP_FROM or SMTP_USER must be set")
	}
	return &SMTPSender{cfg: cfg, send: smtp.SendMail}, nil
}

func (s *SMTPSender) SendEmail(ctx context.Context, to, subject, body string) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}
	addr := fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	msg := []byte(
		"From: " + s.cfg.From + "\r\n" +
			"To: " + to + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n" +
			"\r\n" +
			body,
	)

	if err := s.send(addr, auth, s.cfg.From, []string{to}, msg); err != nil {
		return SendResult{}, fmt.Errorf("smtp send failed: %w", err)
	}

	return SendResult{
		MessageID: fmt.Sprintf("smtp-%d", time.Now().UnixNano()),
		SentAt:    time.Now(),
	}, nil
}
