package utils

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"leadflow/config"
	"leadflow/engine"
	"leadflow/models"
)

// SMTPMailer sends sequence emails through the owner's SMTP account. A
// nil sender uses the process-wide fallback account, and only when the
// deployment allows that.
type SMTPMailer struct {
	// Timeout bounds one SMTP dial-and-send.
	Timeout time.Duration
}

func NewSMTPMailer() *SMTPMailer {
	return &SMTPMailer{Timeout: 30 * time.Second}
}

// Send implements engine.Mailer. It returns the generated Message-ID so
// the attempt history can reference the exact message.
func (m *SMTPMailer) Send(ctx context.Context, sender *models.Sender, msg engine.OutboundMessage) (string, error) {
	var host, username, password, fromEmail, fromName string
	var port int

	if sender != nil {
		host = sender.SMTPHost
		port = sender.SMTPPort
		username = sender.SMTPUsername
		fromEmail = sender.FromEmail
		fromName = sender.FromName

		decrypted, err := Decrypt(sender.SMTPPassword)
		if err != nil {
			return "", fmt.Errorf("failed to decrypt sender credentials: %w", err)
		}
		password = decrypted
	} else {
		if !config.AppConfig.AllowFallback {
			return "", engine.ErrNoSender
		}
		host = config.AppConfig.SMTPHost
		port = config.AppConfig.SMTPPort
		username = config.AppConfig.SMTPUsername
		password = config.AppConfig.SMTPPassword
		fromEmail = config.AppConfig.FromEmail
		fromName = config.AppConfig.FromName
	}

	if host == "" || fromEmail == "" {
		return "", fmt.Errorf("incomplete SMTP configuration for %s", msg.To)
	}

	if msg.FromEmail != "" {
		fromEmail = msg.FromEmail
	}
	if msg.FromName != "" {
		fromName = msg.FromName
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), domainOf(fromEmail))

	gm := gomail.NewMessage()
	gm.SetHeader("From", gm.FormatAddress(fromEmail, fromName))
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetHeader("Message-ID", messageID)
	for k, v := range msg.Headers {
		gm.SetHeader(k, v)
	}
	if msg.TextBody != "" {
		gm.SetBody("text/plain", msg.TextBody)
		gm.AddAlternative("text/html", msg.HTMLBody)
	} else {
		gm.SetBody("text/html", msg.HTMLBody)
	}

	dialer := gomail.NewDialer(host, port, username, password)
	// Port 465 means implicit TLS; other ports negotiate STARTTLS.
	dialer.SSL = port == 465

	// gomail has no context support, so the dial-and-send runs in its own
	// goroutine and the caller's deadline is enforced here.
	sendCtx := ctx
	if m.Timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, m.Timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- dialer.DialAndSend(gm)
	}()

	select {
	case <-sendCtx.Done():
		return "", fmt.Errorf("smtp send to %s timed out: %w", msg.To, sendCtx.Err())
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("smtp send to %s failed: %w", msg.To, err)
		}
	}

	return messageID, nil
}

func domainOf(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 && i < len(email)-1 {
		return email[i+1:]
	}
	return "localhost"
}
