package email

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type gomailService struct {
	dialer *gomail.Dialer
	from   string
}

// NewGomailService returns an SMTP-backed email service
func NewGomailService(cfg Config) Service {
	return &gomailService{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *gomailService) SendCode(_ context.Context, to, code string, expiresIn time.Duration) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", "Your appointment verification code")
	m.SetBody("text/plain", fmt.Sprintf(
		"Your verification code is %s. It expires in %d minutes.\n\nIf you did not request an appointment, you can ignore this message.",
		code, int(expiresIn.Minutes()),
	))

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send verification code email: %w", err)
	}
	return nil
}
