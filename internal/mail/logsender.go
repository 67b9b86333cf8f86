package mail

import (
	"context"
	"encoding/json"
	"log"
)

// LogSender writes messages to a logger instead of delivering them. Used in
// development when no SMTP relay is configured.
type LogSender struct {
	Logger *log.Logger
}

// Send logs the message as a JSON line.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	entry, err := json.Marshal(map[string]any{
		"type":    "mail",
		"to":      msg.To,
		"subject": msg.Subject,
		"body":    msg.Body,
	})
	if err != nil {
		return err
	}
	if s.Logger != nil {
		s.Logger.Println(string(entry))
	} else {
		log.Println(string(entry))
	}
	return nil
}
