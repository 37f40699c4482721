package email

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strconv"
	"time"

	"github.com/bookforge/internal/config"
)

// Sender отправляет приветственное письмо после регистрации.
// Без настроенного SMTP письма не отправляются (сервис передаёт nil-sender).
type Sender struct {
	cfg *config.SMTPConfig
}

func NewSender(cfg *config.SMTPConfig) *Sender {
	return &Sender{cfg: cfg}
}

// Configured сообщает, заданы ли SMTP-учётные данные.
func Configured(cfg *config.SMTPConfig) bool {
	return cfg.Host != "" && cfg.Username != "" && cfg.Password != ""
}

// SendWelcome шлёт письмо новому читателю. Отправка ограничена ctx:
// smtp.SendMail не принимает context, поэтому ждём в select.
func (s *Sender) SendWelcome(ctx context.Context, to, displayName string) error {
	if !Configured(s.cfg) {
		return fmt.Errorf("email: SMTP не настроен")
	}
	from := s.cfg.FromEmail
	if from == "" {
		from = s.cfg.Username
	}
	body := fmt.Sprintf("Здравствуйте, %s!\n\nВаш аккаунт создан. Теперь вы можете собирать персональные книги и выгружать их в PDF/EPUB.\n", displayName)
	var buf bytes.Buffer
	buf.WriteString("From: " + s.cfg.FromName + " <" + from + ">\r\n")
	buf.WriteString("To: " + to + "\r\n")
	buf.WriteString("Subject: Добро пожаловать\r\n")
	buf.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	buf.WriteString(body)

	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, from, []string{to}, buf.Bytes())
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("email: send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("email: send: %w", ctx.Err())
	}
}
