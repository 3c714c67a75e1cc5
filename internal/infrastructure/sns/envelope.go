// Package sns handles the SNS side of the bounce webhook: envelope parsing,
// message signature verification and subscription confirmation.
package sns

import (
	"encoding/json"
	"fmt"

	"github.com/go-mail-verifier/internal/domain"
)

// ParseEnvelope decodes an SNS HTTP payload. headerType is the value of the
// x-amz-sns-message-type header; when both are present they must agree.
func ParseEnvelope(body []byte, headerType string) (*domain.SNSEnvelope, error) {
	var env domain.SNSEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode sns envelope: %v: %w", err, domain.ErrBadRequest)
	}
	switch {
	case env.Type == "" && headerType == "":
		return nil, fmt.Errorf("sns message type missing: %w", domain.ErrBadRequest)
	case env.Type == "":
		env.Type = headerType
	case headerType != "" && headerType != env.Type:
		return nil, fmt.Errorf("sns message type header %q does not match body %q: %w", headerType, env.Type, domain.ErrBadRequest)
	}
	return &env, nil
}
