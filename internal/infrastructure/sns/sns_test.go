package sns

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/go-mail-verifier/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const certURL = "https://sns.us-east-1.amazonaws.com/SimpleNotificationService-abc.pem"

func TestParseEnvelope(t *testing.T) {
	body := []byte(`{"Type":"Notification","MessageId":"m1","TopicArn":"arn:aws:sns:us-east-1:123:bounces","Message":"{}"}`)

	env, err := ParseEnvelope(body, "")
	require.NoError(t, err)
	assert.Equal(t, domain.SNSNotification, env.Type)
	assert.Equal(t, "m1", env.MessageID)

	_, err = ParseEnvelope(body, domain.SNSSubscriptionConfirmation)
	assert.ErrorIs(t, err, domain.ErrBadRequest)

	env, err = ParseEnvelope([]byte(`{"MessageId":"m2"}`), domain.SNSNotification)
	require.NoError(t, err)
	assert.Equal(t, domain.SNSNotification, env.Type)

	_, err = ParseEnvelope([]byte(`{"MessageId":"m2"}`), "")
	assert.ErrorIs(t, err, domain.ErrBadRequest)

	_, err = ParseEnvelope([]byte(`not json`), "")
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestValidateCertURL(t *testing.T) {
	tests := []struct {
		url string
		ok  bool
	}{
		{certURL, true},
		{"https://sns.cn-north-1.amazonaws.com.cn/cert.pem", true},
		{"http://sns.us-east-1.amazonaws.com/cert.pem", false},
		{"https://sns.us-east-1.amazonaws.com.evil.io/cert.pem", false},
		{"https://evil.io/sns.us-east-1.amazonaws.com/cert.pem", false},
		{"https://sns.us-east-1.amazonaws.com/cert.txt", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateCertURL(tt.url)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, domain.ErrUnauthorized)
			}
		})
	}
}

func TestStringToSign_Notification(t *testing.T) {
	env := &domain.SNSEnvelope{
		Type: domain.SNSNotification, MessageID: "m1", Message: "hello",
		Timestamp: "2026-01-01T00:00:00.000Z", TopicArn: "arn:t",
	}
	got, err := StringToSign(env)
	require.NoError(t, err)
	assert.Equal(t, "Message\nhello\nMessageId\nm1\nTimestamp\n2026-01-01T00:00:00.000Z\nTopicArn\narn:t\nType\nNotification\n", string(got))

	env.Subject = "subj"
	got, err = StringToSign(env)
	require.NoError(t, err)
	assert.Contains(t, string(got), "MessageId\nm1\nSubject\nsubj\nTimestamp\n")
}

func TestStringToSign_UnknownType(t *testing.T) {
	_, err := StringToSign(&domain.SNSEnvelope{Type: "Bogus"})
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func signedEnvelope(t *testing.T, key *rsa.PrivateKey, version string) *domain.SNSEnvelope {
	t.Helper()
	env := &domain.SNSEnvelope{
		Type:             domain.SNSSubscriptionConfirmation,
		MessageID:        "m1",
		Token:            "tok",
		TopicArn:         "arn:aws:sns:us-east-1:123:bounces",
		Message:          "You have chosen to subscribe",
		Timestamp:        "2026-01-01T00:00:00.000Z",
		SubscribeURL:     "https://sns.us-east-1.amazonaws.com/?Action=ConfirmSubscription",
		SignatureVersion: version,
		SigningCertURL:   certURL,
	}
	payload, err := StringToSign(env)
	require.NoError(t, err)
	hash := crypto.SHA1
	if version == "2" {
		hash = crypto.SHA256
	}
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, hash, digest(hash, payload))
	require.NoError(t, err)
	env.Signature = base64.StdEncoding.EncodeToString(sig)
	return env
}

func selfSigned(t *testing.T, key *rsa.PrivateKey) *x509.Certificate {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "sns.amazonaws.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestSignatureVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	cert := selfSigned(t, key)
	fetches := 0
	v := newSignatureVerifier(func(_ context.Context, u string) (*x509.Certificate, error) {
		fetches++
		assert.Equal(t, certURL, u)
		return cert, nil
	})
	ctx := context.Background()

	assert.NoError(t, v.Verify(ctx, signedEnvelope(t, key, "1")))
	assert.NoError(t, v.Verify(ctx, signedEnvelope(t, key, "2")))
	assert.Equal(t, 1, fetches, "certificate is cached")

	tampered := signedEnvelope(t, key, "2")
	tampered.Token = "other"
	assert.ErrorIs(t, v.Verify(ctx, tampered), domain.ErrUnauthorized)

	unsupported := signedEnvelope(t, key, "1")
	unsupported.SignatureVersion = "3"
	assert.ErrorIs(t, v.Verify(ctx, unsupported), domain.ErrUnauthorized)

	foreign := signedEnvelope(t, key, "1")
	foreign.SigningCertURL = "https://example.com/cert.pem"
	assert.ErrorIs(t, v.Verify(ctx, foreign), domain.ErrUnauthorized)
}

func TestSignatureVerifier_FetchFailure(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := newSignatureVerifier(func(context.Context, string) (*x509.Certificate, error) {
		return nil, errors.New("connection refused")
	})
	assert.ErrorIs(t, v.Verify(context.Background(), signedEnvelope(t, key, "1")), domain.ErrUnauthorized)
}

type mockConfirmAPI struct{ mock.Mock }

func (m *mockConfirmAPI) ConfirmSubscription(ctx context.Context, in *sns.ConfirmSubscriptionInput, optFns ...func(*sns.Options)) (*sns.ConfirmSubscriptionOutput, error) {
	opts := sns.Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	args := m.Called(ctx, in, opts.Region)
	out, _ := args.Get(0).(*sns.ConfirmSubscriptionOutput)
	return out, args.Error(1)
}

func TestConfirmer_UsesTopicRegion(t *testing.T) {
	api := new(mockConfirmAPI)
	c := NewConfirmer(api)
	api.On("ConfirmSubscription", mock.Anything, mock.MatchedBy(func(in *sns.ConfirmSubscriptionInput) bool {
		return *in.Token == "tok" && *in.TopicArn == "arn:aws:sns:eu-west-1:123:bounces"
	}), "eu-west-1").Return(&sns.ConfirmSubscriptionOutput{SubscriptionArn: aws.String("arn:sub")}, nil)

	require.NoError(t, c.Confirm(context.Background(), "arn:aws:sns:eu-west-1:123:bounces", "tok"))
	api.AssertExpectations(t)
}

func TestConfirmer_RejectsBadARN(t *testing.T) {
	c := NewConfirmer(new(mockConfirmAPI))
	assert.Error(t, c.Confirm(context.Background(), "not-an-arn", "tok"))
}
