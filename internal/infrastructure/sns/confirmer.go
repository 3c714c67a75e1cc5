package sns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/go-mail-verifier/internal/config"
	"github.com/go-mail-verifier/internal/infrastructure/awsconf"
)

// ConfirmAPI is the subset of *sns.Client the confirmer uses.
type ConfirmAPI interface {
	ConfirmSubscription(ctx context.Context, in *sns.ConfirmSubscriptionInput, optFns ...func(*sns.Options)) (*sns.ConfirmSubscriptionOutput, error)
}

// Confirmer acknowledges SubscriptionConfirmation messages through the SNS API.
type Confirmer struct {
	client ConfirmAPI
}

// NewClient creates an SNS client in cfg.SNSRegion (falling back to AWSRegion).
func NewClient(ctx context.Context, cfg *config.Config) (*sns.Client, error) {
	awsCfg, err := awsconf.Load(ctx, cfg, cfg.SNSRegion)
	if err != nil {
		return nil, err
	}
	endpoint := awsconf.Endpoint(cfg)
	return sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if endpoint != nil {
			o.BaseEndpoint = endpoint
		}
	}), nil
}

func NewConfirmer(client ConfirmAPI) *Confirmer {
	return &Confirmer{client: client}
}

// Confirm calls sns:ConfirmSubscription in the topic's own region.
func (c *Confirmer) Confirm(ctx context.Context, topicARN, token string) error {
	parsed, err := arn.Parse(topicARN)
	if err != nil {
		return fmt.Errorf("parse topic arn %q: %w", topicARN, err)
	}
	out, err := c.client.ConfirmSubscription(ctx, &sns.ConfirmSubscriptionInput{
		TopicArn: aws.String(topicARN),
		Token:    aws.String(token),
	}, func(o *sns.Options) { o.Region = parsed.Region })
	if err != nil {
		return fmt.Errorf("confirm sns subscription: %w", err)
	}
	slog.Info("sns subscription confirmed", "topic", topicARN, "subscription", aws.ToString(out.SubscriptionArn))
	return nil
}
