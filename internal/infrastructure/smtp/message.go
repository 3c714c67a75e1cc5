package smtp

import (
	"bytes"
	"fmt"

	"github.com/go-mail-verifier/internal/domain"
	"gopkg.in/gomail.v2"
)

// NewMessage builds the MIME message for a probe.
func NewMessage(p domain.ProbeMessage) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", p.From)
	m.SetHeader("To", p.To)
	m.SetHeader("Subject", p.Subject)
	if p.MessageID != "" {
		m.SetHeader("Message-ID", "<"+p.MessageID+">")
	}
	m.SetHeader(domain.ProbeTokenHeader, p.Token)
	m.SetHeader("Auto-Submitted", "auto-generated")
	m.SetBody("text/plain", p.Body)
	return m
}

// Render returns the probe as raw RFC 5322 bytes.
func Render(p domain.ProbeMessage) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := NewMessage(p).WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("render probe message: %w", err)
	}
	return buf.Bytes(), nil
}
