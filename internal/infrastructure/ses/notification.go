package ses

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-mail-verifier/internal/domain"
	"github.com/go-mail-verifier/internal/pkg/id"
)

// notification is the SES event document carried in an SNS Message. Identity
// notifications use notificationType, configuration-set events use eventType.
type notification struct {
	NotificationType string `json:"notificationType"`
	EventType        string `json:"eventType"`
	Mail             struct {
		MessageID string `json:"messageId"`
		Headers   []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
		Tags map[string][]string `json:"tags"`
	} `json:"mail"`
	Bounce *struct {
		BounceType        string `json:"bounceType"`
		BounceSubType     string `json:"bounceSubType"`
		BouncedRecipients []struct {
			EmailAddress   string `json:"emailAddress"`
			Status         string `json:"status"`
			DiagnosticCode string `json:"diagnosticCode"`
		} `json:"bouncedRecipients"`
	} `json:"bounce"`
	Delivery *struct {
		Recipients   []string `json:"recipients"`
		SMTPResponse string   `json:"smtpResponse"`
	} `json:"delivery"`
	Complaint *struct {
		ComplainedRecipients []struct {
			EmailAddress string `json:"emailAddress"`
		} `json:"complainedRecipients"`
	} `json:"complaint"`
}

// DecodeNotification turns one SES notification into evidences, one per
// recipient. Transient bounces produce none: the mailbox may still accept a
// later message, so the record is left for the timeout sweep.
func DecodeNotification(message string) ([]domain.BounceEvidence, error) {
	var n notification
	if err := json.Unmarshal([]byte(message), &n); err != nil {
		return nil, fmt.Errorf("decode ses notification: %v: %w", err, domain.ErrBadRequest)
	}
	kind := n.NotificationType
	if kind == "" {
		kind = n.EventType
	}
	messageID := n.Mail.MessageID
	token := n.probeToken()

	evidence := func(addr, signal string, k domain.EvidenceKind) domain.BounceEvidence {
		return domain.BounceEvidence{
			RecipientAddress: domain.NormalizeAddress(stripAngles(addr)),
			RawSignal:        signal,
			Source:           domain.SourceWebhook,
			Kind:             k,
			ProbeMessageID:   messageID,
			ProbeToken:       token,
		}
	}

	var out []domain.BounceEvidence
	switch kind {
	case "Bounce":
		if n.Bounce == nil {
			return nil, fmt.Errorf("ses bounce notification without bounce object: %w", domain.ErrBadRequest)
		}
		if n.Bounce.BounceType == "Transient" {
			slog.Info("ignoring transient bounce", "message_id", messageID, "sub_type", n.Bounce.BounceSubType)
			return nil, nil
		}
		for _, r := range n.Bounce.BouncedRecipients {
			signal := strings.TrimSpace(strings.Join([]string{n.Bounce.BounceType, n.Bounce.BounceSubType, r.Status, r.DiagnosticCode}, " "))
			out = append(out, evidence(r.EmailAddress, signal, domain.EvidenceBounce))
		}
	case "Delivery":
		if n.Delivery == nil {
			return nil, fmt.Errorf("ses delivery notification without delivery object: %w", domain.ErrBadRequest)
		}
		for _, r := range n.Delivery.Recipients {
			out = append(out, evidence(r, n.Delivery.SMTPResponse, domain.EvidenceDelivery))
		}
	case "Complaint":
		// A complaint proves the message reached the mailbox.
		if n.Complaint != nil {
			for _, r := range n.Complaint.ComplainedRecipients {
				out = append(out, evidence(r.EmailAddress, "complaint", domain.EvidenceDelivery))
			}
		}
	default:
		slog.Info("ignoring ses notification", "type", kind, "message_id", messageID)
	}
	return out, nil
}

// probeToken reads the token from the probe header, the send tag or the local
// part of our Message-ID, in that order.
func (n *notification) probeToken() string {
	var fromMessageID string
	for _, h := range n.Mail.Headers {
		switch {
		case strings.EqualFold(h.Name, domain.ProbeTokenHeader):
			return strings.TrimSpace(h.Value)
		case strings.EqualFold(h.Name, "Message-ID"):
			local, _, _ := strings.Cut(strings.Trim(strings.TrimSpace(h.Value), "<>"), "@")
			if t := strings.ToUpper(local); id.Valid(t) {
				fromMessageID = t
			}
		}
	}
	if v := n.Mail.Tags["probe_token"]; len(v) > 0 {
		return v[0]
	}
	return fromMessageID
}

func stripAngles(addr string) string {
	addr = strings.TrimSpace(addr)
	if i := strings.LastIndex(addr, "<"); i >= 0 {
		if j := strings.Index(addr[i:], ">"); j > 0 {
			return addr[i+1 : i+j]
		}
	}
	return addr
}
