// Package ses sends probes through Amazon SES v2 and decodes the SES
// notifications SNS forwards back to us.
package ses

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/go-mail-verifier/internal/config"
	"github.com/go-mail-verifier/internal/domain"
	"github.com/go-mail-verifier/internal/infrastructure/awsconf"
	"github.com/go-mail-verifier/internal/infrastructure/smtp"
)

// SendEmailAPI is the subset of *sesv2.Client the transport uses.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Transport sends probes as raw MIME so the token header survives.
type Transport struct {
	client           SendEmailAPI
	configurationSet string
}

// NewClient creates an SES v2 client in cfg.Probe.SESRegion (falling back to AWSRegion).
func NewClient(ctx context.Context, cfg *config.Config) (*sesv2.Client, error) {
	awsCfg, err := awsconf.Load(ctx, cfg, cfg.Probe.SESRegion)
	if err != nil {
		return nil, err
	}
	endpoint := awsconf.Endpoint(cfg)
	return sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if endpoint != nil {
			o.BaseEndpoint = endpoint
		}
	}), nil
}

// NewTransport builds a Transport. configurationSet routes bounce and delivery
// events to the SNS topic; empty relies on identity-level notifications.
func NewTransport(client SendEmailAPI, configurationSet string) *Transport {
	return &Transport{client: client, configurationSet: configurationSet}
}

// Send returns the SES message id, which SES notifications echo in mail.messageId.
func (t *Transport) Send(ctx context.Context, p domain.ProbeMessage) (string, error) {
	raw, err := smtp.Render(p)
	if err != nil {
		return "", err
	}
	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(p.From),
		Destination:      &types.Destination{ToAddresses: []string{p.To}},
		Content:          &types.EmailContent{Raw: &types.RawMessage{Data: raw}},
		EmailTags: []types.MessageTag{
			{Name: aws.String("probe_token"), Value: aws.String(p.Token)},
		},
	}
	if t.configurationSet != "" {
		in.ConfigurationSetName = aws.String(t.configurationSet)
	}
	out, err := t.client.SendEmail(ctx, in)
	if err != nil {
		return "", fmt.Errorf("ses send email: %w", err)
	}
	if aws.ToString(out.MessageId) == "" {
		return "", fmt.Errorf("ses send email: empty message id")
	}
	return aws.ToString(out.MessageId), nil
}
