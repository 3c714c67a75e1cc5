package probe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-mail-verifier/internal/domain"
	"github.com/go-mail-verifier/internal/metrics"
)

const defaultSendTimeout = 10 * time.Second

// Transport hands a rendered probe to a mail provider and returns the
// provider's message id.
type Transport interface {
	Send(ctx context.Context, p domain.ProbeMessage) (string, error)
}

type Config struct {
	From        string
	Subject     string
	Body        string
	SendTimeout time.Duration
}

type Sender interface {
	Send(ctx context.Context, address, token string) (messageID string, err error)
}

type sender struct {
	cfg       Config
	transport Transport
}

func NewSender(cfg Config, transport Transport) Sender {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	return &sender{cfg: cfg, transport: transport}
}

// Send delivers one probe carrying token. Once started the send is detached
// from ctx cancellation and bounded by the send timeout only. Every failure
// wraps domain.ErrSend; there is no retry.
func (s *sender) Send(ctx context.Context, address, token string) (string, error) {
	msg := s.Message(address, token)

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SendTimeout)
	defer cancel()

	start := time.Now()
	messageID, err := s.transport.Send(sendCtx, msg)
	metrics.ProbeSendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProbesTotal.WithLabelValues("error").Inc()
		slog.Warn("probe send failed", "address", address, "token", token, "err", err)
		return "", fmt.Errorf("send probe to %s: %v: %w", address, err, domain.ErrSend)
	}
	metrics.ProbesTotal.WithLabelValues("sent").Inc()
	slog.Info("probe sent", "address", address, "token", token, "message_id", messageID)
	return messageID, nil
}

// Message builds the probe for address. The token appears in the subject,
// the X-Probe-Token header and the Message-ID so any bounce format that
// quotes one of them can be correlated.
func (s *sender) Message(address, token string) domain.ProbeMessage {
	subject := s.cfg.Subject
	if subject == "" {
		subject = "Address verification"
	}
	return domain.ProbeMessage{
		From:      s.cfg.From,
		To:        address,
		Subject:   fmt.Sprintf("%s [%s]", subject, token),
		Body:      s.cfg.Body,
		Token:     token,
		MessageID: token + "@" + messageIDHost(s.cfg.From),
	}
}

func messageIDHost(from string) string {
	if d := domain.DomainOf(from); d != "" {
		return strings.TrimRight(d, "> ")
	}
	return "localhost"
}
