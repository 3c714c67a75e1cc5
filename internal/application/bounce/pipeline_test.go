package bounce_test

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-mail-verifier/internal/application/bounce"
	"github.com/go-mail-verifier/internal/application/probe"
	"github.com/go-mail-verifier/internal/application/verification"
	"github.com/go-mail-verifier/internal/check"
	"github.com/go-mail-verifier/internal/domain"
	"github.com/go-mail-verifier/internal/infrastructure/memory"
	"github.com/go-mail-verifier/internal/infrastructure/ses"
	"github.com/go-mail-verifier/internal/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sesAssignedID = "0100018e-ses-assigned-000000"

// recordingTransport keeps the last probe and answers with the message id the
// configured transport would report.
type recordingTransport struct {
	mu        sync.Mutex
	last      domain.ProbeMessage
	messageID func(domain.ProbeMessage) string
}

func (r *recordingTransport) Send(_ context.Context, p domain.ProbeMessage) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = p
	return r.messageID(p), nil
}

func (r *recordingTransport) sent() domain.ProbeMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

type sesHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// sesBounce renders the SES notification for a permanent bounce of p, the
// way SES reports it whichever transport submitted the message.
func sesBounce(t *testing.T, p domain.ProbeMessage, withHeaders bool) string {
	t.Helper()
	mail := map[string]any{"messageId": sesAssignedID}
	if withHeaders {
		mail["headers"] = []sesHeader{
			{Name: "Message-ID", Value: "<" + p.MessageID + ">"},
			{Name: domain.ProbeTokenHeader, Value: p.Token},
		}
	}
	b, err := json.Marshal(map[string]any{
		"notificationType": "Bounce",
		"bounce": map[string]any{
			"bounceType":    "Permanent",
			"bounceSubType": "General",
			"bouncedRecipients": []map[string]string{
				{"emailAddress": p.To, "status": "5.1.1", "diagnosticCode": "smtp; 550 5.1.1 user unknown"},
			},
		},
		"mail": mail,
	})
	require.NoError(t, err)
	return string(b)
}

func TestPipeline_SubmitThenWebhookBounce(t *testing.T) {
	tests := []struct {
		name        string
		messageID   func(domain.ProbeMessage) string
		withHeaders bool
	}{
		{
			name:        "smtp transport keeps our message id",
			messageID:   func(p domain.ProbeMessage) string { return p.MessageID },
			withHeaders: true,
		},
		{
			name:        "ses transport reports its own id",
			messageID:   func(domain.ProbeMessage) string { return sesAssignedID },
			withHeaders: true,
		},
		{
			name:      "smtp transport without original headers",
			messageID: func(p domain.ProbeMessage) string { return p.MessageID },
		},
		{
			name:      "ses transport without original headers",
			messageID: func(domain.ProbeMessage) string { return sesAssignedID },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			clk := clock.NewFake(time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC))
			store := memory.NewRecordStore()
			lookup := func(context.Context, string) ([]*net.MX, error) {
				return []*net.MX{{Host: "gmail-smtp-in.l.google.com.", Pref: 5}}, nil
			}
			transport := &recordingTransport{messageID: tt.messageID}
			svc := verification.NewService(
				verification.Config{TimeoutPolicy: domain.TimeoutUnknown, ResubmitPolicy: domain.ResubmitReuse},
				store,
				check.NewAllowList([]string{"gmail.com"}),
				check.NewMXResolver(check.MXConfig{Timeout: time.Second}, lookup, nil),
				probe.NewSender(probe.Config{From: "Verifier <probe@verifier.example>", SendTimeout: time.Second}, transport),
				nil,
				clk,
			)
			intake := bounce.NewWebhookIntake(bounce.WebhookConfig{}, bounce.NewCorrelator(store, clk), ses.DecodeNotification, nil, nil, nil)

			sub, err := svc.Submit(ctx, "user@gmail.com")
			require.NoError(t, err)
			require.True(t, sub.Dispatched)
			assert.Equal(t, domain.VerdictPending, sub.Verdict)

			clk.Advance(2 * time.Minute)
			env := &domain.SNSEnvelope{
				Type:      domain.SNSNotification,
				MessageID: "sns-1",
				TopicArn:  "arn:aws:sns:us-east-1:123456789012:ses-bounces",
				Message:   sesBounce(t, transport.sent(), tt.withHeaders),
			}
			res, err := intake.Handle(ctx, env, nil)
			require.NoError(t, err)
			assert.Equal(t, 1, res.Evidence)
			assert.Equal(t, 1, res.Resolved)

			view, err := svc.Lookup(ctx, "user@gmail.com")
			require.NoError(t, err)
			assert.Equal(t, domain.StageConfirmedBouncing, view.Record.Stage)
			assert.Equal(t, domain.SourceWebhook, view.Record.EvidenceSource)
			assert.Equal(t, domain.VerdictUndeliverable, view.Verdict)
			assert.Contains(t, view.Record.Detail, "5.1.1")

			env.MessageID = "sns-2"
			res, err = intake.Handle(ctx, env, nil)
			require.NoError(t, err)
			assert.Equal(t, 1, res.Evidence)
			assert.Equal(t, 0, res.Resolved)

			again, err := svc.Submit(ctx, "user@gmail.com")
			require.NoError(t, err)
			assert.False(t, again.Dispatched)
			assert.Equal(t, domain.VerdictUndeliverable, again.Verdict)
		})
	}
}
