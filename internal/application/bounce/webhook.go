package bounce

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-mail-verifier/internal/domain"
)

// EnvelopeVerifier authenticates an SNS envelope.
type EnvelopeVerifier interface {
	Verify(ctx context.Context, env *domain.SNSEnvelope) error
}

// SubscriptionConfirmer completes the SNS subscription handshake.
type SubscriptionConfirmer interface {
	Confirm(ctx context.Context, topicARN, token string) error
}

// Archiver keeps raw payloads for replay.
type Archiver interface {
	Store(ctx context.Context, kind, name string, payload []byte) (string, error)
}

// NotificationDecoder turns a notification message body into evidences.
type NotificationDecoder func(message string) ([]domain.BounceEvidence, error)

type WebhookConfig struct {
	// TopicARNs restricts accepted topics; empty accepts any.
	TopicARNs []string
}

// WebhookResult summarises one delivery from SNS.
type WebhookResult struct {
	Type     string
	Evidence int
	Resolved int
}

// WebhookIntake processes SNS deliveries. verifier, confirmer and archive are
// optional.
type WebhookIntake struct {
	sink      EvidenceSink
	decode    NotificationDecoder
	verifier  EnvelopeVerifier
	confirmer SubscriptionConfirmer
	archive   Archiver
	topics    map[string]struct{}
}

func NewWebhookIntake(cfg WebhookConfig, sink EvidenceSink, decode NotificationDecoder, verifier EnvelopeVerifier, confirmer SubscriptionConfirmer, archive Archiver) *WebhookIntake {
	topics := make(map[string]struct{}, len(cfg.TopicARNs))
	for _, t := range cfg.TopicARNs {
		if t = strings.TrimSpace(t); t != "" {
			topics[t] = struct{}{}
		}
	}
	return &WebhookIntake{
		sink:      sink,
		decode:    decode,
		verifier:  verifier,
		confirmer: confirmer,
		archive:   archive,
		topics:    topics,
	}
}

// Handle processes one envelope. raw is the request body as received and is
// only used for archiving. Errors wrap domain.ErrForbidden, ErrUnauthorized or
// ErrBadRequest for caller mistakes; anything else should make SNS retry.
func (w *WebhookIntake) Handle(ctx context.Context, env *domain.SNSEnvelope, raw []byte) (*WebhookResult, error) {
	if len(w.topics) > 0 {
		if _, ok := w.topics[env.TopicArn]; !ok {
			return nil, fmt.Errorf("topic %q is not subscribed: %w", env.TopicArn, domain.ErrForbidden)
		}
	}
	if w.verifier != nil {
		if err := w.verifier.Verify(ctx, env); err != nil {
			slog.Warn("rejected sns envelope", "message_id", env.MessageID, "topic", env.TopicArn, "err", err)
			return nil, err
		}
	}
	if w.archive != nil && len(raw) > 0 {
		if _, err := w.archive.Store(ctx, strings.ToLower(env.Type), env.MessageID, raw); err != nil {
			slog.Warn("could not archive sns payload", "message_id", env.MessageID, "err", err)
		}
	}

	res := &WebhookResult{Type: env.Type}
	switch env.Type {
	case domain.SNSSubscriptionConfirmation:
		if w.confirmer == nil {
			slog.Info("sns subscription pending manual confirmation", "topic", env.TopicArn, "subscribe_url", env.SubscribeURL)
			return res, nil
		}
		if err := w.confirmer.Confirm(ctx, env.TopicArn, env.Token); err != nil {
			return nil, err
		}
		return res, nil

	case domain.SNSUnsubscribeConfirmation:
		slog.Info("sns unsubscribe confirmation ignored", "topic", env.TopicArn)
		return res, nil

	case domain.SNSNotification:
		evidences, err := w.decode(env.Message)
		if err != nil {
			return nil, err
		}
		for _, ev := range evidences {
			ev.Source = domain.SourceWebhook
			corr, err := w.sink.Accept(ctx, ev)
			if err != nil {
				return nil, fmt.Errorf("correlate evidence for %s: %w", ev.RecipientAddress, err)
			}
			res.Evidence++
			if corr.Result == ResultResolved {
				res.Resolved++
			}
		}
		return res, nil
	}
	return nil, fmt.Errorf("unknown sns message type %q: %w", env.Type, domain.ErrBadRequest)
}
