// Package mail defines the message-delivery collaborator used to send
// challenge codes. Transport mechanics stay behind the Sender interface.
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// Message is a single outbound mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers messages. Errors propagate synchronously to the caller;
// there is no retry inside the core.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers mail over plain SMTP with optional AUTH.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
	fromName string
}

// NewSMTPSender constructs an SMTPSender. Credentials may be empty for
// unauthenticated relays.
func NewSMTPSender(host string, port int, username, password, from, fromName string) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		fromName: fromName,
	}
}

// Send delivers the message, honoring context cancellation before dialing.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return fmt.Errorf("mail: recipient is required")
	}
	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}
	from := s.from
	if from == "" {
		from = s.username
	}
	var b strings.Builder
	if s.fromName != "" {
		fmt.Fprintf(&b, "From: %s <%s>\r\n", s.fromName, from)
	} else {
		fmt.Fprintf(&b, "From: %s\r\n", from)
	}
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	if err := smtp.SendMail(addr, auth, from, []string{to}, []byte(b.String())); err != nil {
		return fmt.Errorf("mail: send to %s: %w", to, err)
	}
	return nil
}
