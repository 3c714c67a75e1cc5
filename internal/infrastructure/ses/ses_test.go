package ses

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/go-mail-verifier/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSES struct{ mock.Mock }

func (m *mockSES) SendEmail(ctx context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*sesv2.SendEmailOutput)
	return out, args.Error(1)
}

var probe = domain.ProbeMessage{
	From: "verify@example.com", To: "user@gmail.com", Subject: "Address verification",
	Body: "hello", Token: "01HX", MessageID: "01HX@example.com",
}

func TestTransport_SendRaw(t *testing.T) {
	api := new(mockSES)
	tr := NewTransport(api, "probes")
	api.On("SendEmail", mock.Anything, mock.MatchedBy(func(in *sesv2.SendEmailInput) bool {
		return aws.ToString(in.ConfigurationSetName) == "probes" &&
			in.Content.Raw != nil && len(in.Content.Raw.Data) > 0 &&
			in.Destination.ToAddresses[0] == "user@gmail.com"
	})).Return(&sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil)

	id, err := tr.Send(context.Background(), probe)
	require.NoError(t, err)
	assert.Equal(t, "ses-1", id)
	api.AssertExpectations(t)
}

func TestTransport_SendError(t *testing.T) {
	api := new(mockSES)
	tr := NewTransport(api, "")
	api.On("SendEmail", mock.Anything, mock.MatchedBy(func(in *sesv2.SendEmailInput) bool {
		return in.ConfigurationSetName == nil
	})).Return(nil, errors.New("MessageRejected"))

	_, err := tr.Send(context.Background(), probe)
	assert.ErrorContains(t, err, "MessageRejected")
}

const permanentBounce = `{
  "notificationType": "Bounce",
  "bounce": {
    "bounceType": "Permanent",
    "bounceSubType": "General",
    "bouncedRecipients": [
      {"emailAddress": "user@GMAIL.com", "status": "5.1.1", "diagnosticCode": "smtp; 550 5.1.1 user unknown"},
      {"emailAddress": "Other <other@gmail.com>"}
    ]
  },
  "mail": {
    "messageId": "ses-1",
    "headers": [{"name": "X-Probe-Token", "value": "01HX"}]
  }
}`

func TestDecodeNotification_PermanentBounce(t *testing.T) {
	ev, err := DecodeNotification(permanentBounce)
	require.NoError(t, err)
	require.Len(t, ev, 2)
	assert.Equal(t, "user@gmail.com", ev[0].RecipientAddress)
	assert.Equal(t, domain.EvidenceBounce, ev[0].Kind)
	assert.Equal(t, domain.SourceWebhook, ev[0].Source)
	assert.Equal(t, "ses-1", ev[0].ProbeMessageID)
	assert.Equal(t, "01HX", ev[0].ProbeToken)
	assert.Contains(t, ev[0].RawSignal, "550 5.1.1")
	assert.Equal(t, "other@gmail.com", ev[1].RecipientAddress)
}

func TestDecodeNotification_TokenFromMessageIDHeader(t *testing.T) {
	ev, err := DecodeNotification(`{"notificationType":"Bounce","bounce":{"bounceType":"Permanent","bouncedRecipients":[{"emailAddress":"a@x.com"}]},` +
		`"mail":{"messageId":"0100018e-ses-assigned","headers":[{"name":"Message-ID","value":"<01arz3ndektsv4rrffq69g5fav@probe.example.com>"}]}}`)
	require.NoError(t, err)
	require.Len(t, ev, 1)
	assert.Equal(t, "0100018e-ses-assigned", ev[0].ProbeMessageID)
	assert.Equal(t, "01ARZ3NDEKTSV4RRFFQ69G5FAV", ev[0].ProbeToken)
}

func TestDecodeNotification_ForeignMessageIDHasNoToken(t *testing.T) {
	ev, err := DecodeNotification(`{"notificationType":"Bounce","bounce":{"bounceType":"Permanent","bouncedRecipients":[{"emailAddress":"a@x.com"}]},` +
		`"mail":{"messageId":"m","headers":[{"name":"Message-ID","value":"<CAF1234@mail.gmail.com>"}]}}`)
	require.NoError(t, err)
	require.Len(t, ev, 1)
	assert.Empty(t, ev[0].ProbeToken)
}

func TestDecodeNotification_TransientBounceIgnored(t *testing.T) {
	ev, err := DecodeNotification(`{"notificationType":"Bounce","bounce":{"bounceType":"Transient","bouncedRecipients":[{"emailAddress":"a@x.com"}]},"mail":{"messageId":"m"}}`)
	require.NoError(t, err)
	assert.Empty(t, ev)
}

func TestDecodeNotification_Delivery(t *testing.T) {
	ev, err := DecodeNotification(`{"eventType":"Delivery","delivery":{"recipients":["a@x.com"],"smtpResponse":"250 2.0.0 OK"},"mail":{"messageId":"m","tags":{"probe_token":["tok"]}}}`)
	require.NoError(t, err)
	require.Len(t, ev, 1)
	assert.Equal(t, domain.EvidenceDelivery, ev[0].Kind)
	assert.Equal(t, "tok", ev[0].ProbeToken)
	assert.Equal(t, "250 2.0.0 OK", ev[0].RawSignal)
}

func TestDecodeNotification_Complaint(t *testing.T) {
	ev, err := DecodeNotification(`{"notificationType":"Complaint","complaint":{"complainedRecipients":[{"emailAddress":"a@x.com"}]},"mail":{"messageId":"m"}}`)
	require.NoError(t, err)
	require.Len(t, ev, 1)
	assert.Equal(t, domain.EvidenceDelivery, ev[0].Kind)
}

func TestDecodeNotification_UnknownTypeIgnored(t *testing.T) {
	ev, err := DecodeNotification(`{"notificationType":"Open","mail":{"messageId":"m"}}`)
	require.NoError(t, err)
	assert.Empty(t, ev)
}

func TestDecodeNotification_Malformed(t *testing.T) {
	_, err := DecodeNotification(`{`)
	assert.ErrorIs(t, err, domain.ErrBadRequest)

	_, err = DecodeNotification(`{"notificationType":"Bounce","mail":{}}`)
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}
