package bounce

import (
	"context"
	"errors"
	"testing"

	"github.com/go-mail-verifier/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSink struct{ mock.Mock }

func (m *mockSink) Accept(ctx context.Context, ev domain.BounceEvidence) (*Correlation, error) {
	args := m.Called(ctx, ev)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Correlation), args.Error(1)
}

type mockVerifier struct{ mock.Mock }

func (m *mockVerifier) Verify(ctx context.Context, env *domain.SNSEnvelope) error {
	return m.Called(ctx, env).Error(0)
}

type mockConfirmer struct{ mock.Mock }

func (m *mockConfirmer) Confirm(ctx context.Context, topicARN, token string) error {
	return m.Called(ctx, topicARN, token).Error(0)
}

type mockArchiver struct{ mock.Mock }

func (m *mockArchiver) Store(ctx context.Context, kind, name string, payload []byte) (string, error) {
	args := m.Called(ctx, kind, name, payload)
	return args.String(0), args.Error(1)
}

const topic = "arn:aws:sns:us-east-1:123456789012:ses-bounces"

func decodeTwo(string) ([]domain.BounceEvidence, error) {
	return []domain.BounceEvidence{
		{RecipientAddress: "a@gmail.com", Kind: domain.EvidenceBounce},
		{RecipientAddress: "b@gmail.com", Kind: domain.EvidenceBounce},
	}, nil
}

func TestHandle_NotificationFeedsEachEvidence(t *testing.T) {
	sink := new(mockSink)
	sink.On("Accept", mock.Anything, mock.MatchedBy(func(ev domain.BounceEvidence) bool {
		return ev.RecipientAddress == "a@gmail.com" && ev.Source == domain.SourceWebhook
	})).Return(&Correlation{Result: ResultResolved}, nil)
	sink.On("Accept", mock.Anything, mock.MatchedBy(func(ev domain.BounceEvidence) bool {
		return ev.RecipientAddress == "b@gmail.com"
	})).Return(&Correlation{Result: ResultMismatch}, nil)

	w := NewWebhookIntake(WebhookConfig{TopicARNs: []string{topic}}, sink, decodeTwo, nil, nil, nil)
	res, err := w.Handle(context.Background(), &domain.SNSEnvelope{Type: domain.SNSNotification, TopicArn: topic, Message: "{}"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Evidence)
	assert.Equal(t, 1, res.Resolved)
	sink.AssertExpectations(t)
}

func TestHandle_UnknownTopicIsForbidden(t *testing.T) {
	sink := new(mockSink)
	w := NewWebhookIntake(WebhookConfig{TopicARNs: []string{topic}}, sink, decodeTwo, nil, nil, nil)

	_, err := w.Handle(context.Background(), &domain.SNSEnvelope{Type: domain.SNSNotification, TopicArn: "arn:aws:sns:us-east-1:1:other"}, nil)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	sink.AssertNotCalled(t, "Accept", mock.Anything, mock.Anything)
}

func TestHandle_BadSignatureStopsProcessing(t *testing.T) {
	sink := new(mockSink)
	verifier := new(mockVerifier)
	verifier.On("Verify", mock.Anything, mock.Anything).Return(domain.ErrUnauthorized)
	w := NewWebhookIntake(WebhookConfig{}, sink, decodeTwo, verifier, nil, nil)

	_, err := w.Handle(context.Background(), &domain.SNSEnvelope{Type: domain.SNSNotification}, nil)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	sink.AssertNotCalled(t, "Accept", mock.Anything, mock.Anything)
}

func TestHandle_SubscriptionConfirmation(t *testing.T) {
	confirmer := new(mockConfirmer)
	confirmer.On("Confirm", mock.Anything, topic, "tok").Return(nil)
	w := NewWebhookIntake(WebhookConfig{}, new(mockSink), decodeTwo, nil, confirmer, nil)

	res, err := w.Handle(context.Background(), &domain.SNSEnvelope{Type: domain.SNSSubscriptionConfirmation, TopicArn: topic, Token: "tok"}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SNSSubscriptionConfirmation, res.Type)
	confirmer.AssertExpectations(t)
}

func TestHandle_SubscriptionConfirmationWithoutConfirmer(t *testing.T) {
	w := NewWebhookIntake(WebhookConfig{}, new(mockSink), decodeTwo, nil, nil, nil)

	_, err := w.Handle(context.Background(), &domain.SNSEnvelope{Type: domain.SNSSubscriptionConfirmation, SubscribeURL: "https://sns.example/confirm"}, nil)
	assert.NoError(t, err)
}

func TestHandle_UnsubscribeIsIgnored(t *testing.T) {
	sink := new(mockSink)
	w := NewWebhookIntake(WebhookConfig{}, sink, decodeTwo, nil, nil, nil)

	_, err := w.Handle(context.Background(), &domain.SNSEnvelope{Type: domain.SNSUnsubscribeConfirmation}, nil)
	assert.NoError(t, err)
	sink.AssertNotCalled(t, "Accept", mock.Anything, mock.Anything)
}

func TestHandle_UnknownTypeIsBadRequest(t *testing.T) {
	w := NewWebhookIntake(WebhookConfig{}, new(mockSink), decodeTwo, nil, nil, nil)

	_, err := w.Handle(context.Background(), &domain.SNSEnvelope{Type: "Mystery"}, nil)
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestHandle_DecodeErrorIsReturned(t *testing.T) {
	bad := func(string) ([]domain.BounceEvidence, error) {
		return nil, errors.Join(domain.ErrBadRequest, errors.New("not json"))
	}
	w := NewWebhookIntake(WebhookConfig{}, new(mockSink), bad, nil, nil, nil)

	_, err := w.Handle(context.Background(), &domain.SNSEnvelope{Type: domain.SNSNotification, Message: "<xml/>"}, nil)
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestHandle_StoreFailureIsRetryable(t *testing.T) {
	sink := new(mockSink)
	boom := errors.New("dynamo unavailable")
	sink.On("Accept", mock.Anything, mock.Anything).Return(nil, boom)
	w := NewWebhookIntake(WebhookConfig{}, sink, decodeTwo, nil, nil, nil)

	_, err := w.Handle(context.Background(), &domain.SNSEnvelope{Type: domain.SNSNotification}, nil)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, domain.ErrBadRequest)
}

func TestHandle_ArchiveFailureDoesNotBlock(t *testing.T) {
	sink := new(mockSink)
	sink.On("Accept", mock.Anything, mock.Anything).Return(&Correlation{Result: ResultNoop}, nil)
	archive := new(mockArchiver)
	raw := []byte(`{"Type":"Notification"}`)
	archive.On("Store", mock.Anything, "notification", "m-1", raw).Return("", errors.New("s3 down"))
	w := NewWebhookIntake(WebhookConfig{}, sink, decodeTwo, nil, nil, archive)

	res, err := w.Handle(context.Background(), &domain.SNSEnvelope{Type: domain.SNSNotification, MessageID: "m-1"}, raw)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Evidence)
	archive.AssertExpectations(t)
}
