package smtp

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/go-mail-verifier/internal/config"
	"github.com/go-mail-verifier/internal/domain"
	"gopkg.in/gomail.v2"
)

// Sender delivers a gomail message. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Transport hands probes to an SMTP relay.
type Transport struct {
	dialer Sender
}

func NewTransport(cfg config.SMTPConfig) *Transport {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.SSL
	if !cfg.SSL {
		d.TLSConfig = &tls.Config{ServerName: cfg.Host}
	}
	return &Transport{dialer: d}
}

// Send delivers p and returns its Message-ID. gomail has no context support,
// so the dial runs in a goroutine and ctx only bounds the wait.
func (t *Transport) Send(ctx context.Context, p domain.ProbeMessage) (string, error) {
	if p.MessageID == "" {
		return "", fmt.Errorf("smtp probe to %s has no message id", p.To)
	}
	m := NewMessage(p)
	errCh := make(chan error, 1)
	go func() { errCh <- t.dialer.DialAndSend(m) }()

	select {
	case err := <-errCh:
		if err != nil {
			return "", fmt.Errorf("smtp send: %w", err)
		}
		return p.MessageID, nil
	case <-ctx.Done():
		return "", fmt.Errorf("smtp send: %w", ctx.Err())
	}
}
