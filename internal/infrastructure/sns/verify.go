package sns

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-mail-verifier/internal/domain"
)

var certHost = regexp.MustCompile(`^sns\.[a-z0-9-]+\.amazonaws\.com(\.cn)?$`)

// CertFetcher loads the signing certificate named by an envelope.
type CertFetcher func(ctx context.Context, certURL string) (*x509.Certificate, error)

// SignatureVerifier checks SNS message signatures (SignatureVersion 1 and 2).
// Certificates are cached by URL.
type SignatureVerifier struct {
	fetch CertFetcher
	mu    sync.Mutex
	certs map[string]*x509.Certificate
}

// NewSignatureVerifier builds a verifier that downloads certificates with
// client. A nil client uses a 10s-timeout default.
func NewSignatureVerifier(client *http.Client) *SignatureVerifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return newSignatureVerifier(httpCertFetcher(client))
}

func newSignatureVerifier(fetch CertFetcher) *SignatureVerifier {
	return &SignatureVerifier{fetch: fetch, certs: make(map[string]*x509.Certificate)}
}

// Verify returns an error wrapping domain.ErrUnauthorized when env was not
// signed by SNS.
func (v *SignatureVerifier) Verify(ctx context.Context, env *domain.SNSEnvelope) error {
	var hash crypto.Hash
	switch env.SignatureVersion {
	case "1":
		hash = crypto.SHA1
	case "2":
		hash = crypto.SHA256
	default:
		return fmt.Errorf("unsupported sns signature version %q: %w", env.SignatureVersion, domain.ErrUnauthorized)
	}
	if err := ValidateCertURL(env.SigningCertURL); err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return fmt.Errorf("decode sns signature: %w", domain.ErrUnauthorized)
	}
	payload, err := StringToSign(env)
	if err != nil {
		return err
	}
	cert, err := v.cert(ctx, env.SigningCertURL)
	if err != nil {
		return err
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("sns signing certificate is not RSA: %w", domain.ErrUnauthorized)
	}
	if err := rsa.VerifyPKCS1v15(pub, hash, digest(hash, payload), sig); err != nil {
		return fmt.Errorf("sns signature mismatch: %w", domain.ErrUnauthorized)
	}
	return nil
}

func (v *SignatureVerifier) cert(ctx context.Context, certURL string) (*x509.Certificate, error) {
	v.mu.Lock()
	c, ok := v.certs[certURL]
	v.mu.Unlock()
	if ok {
		return c, nil
	}
	c, err := v.fetch(ctx, certURL)
	if err != nil {
		return nil, fmt.Errorf("fetch sns signing certificate: %v: %w", err, domain.ErrUnauthorized)
	}
	v.mu.Lock()
	v.certs[certURL] = c
	v.mu.Unlock()
	return c, nil
}

// ValidateCertURL accepts only https URLs on an SNS regional host.
func ValidateCertURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || !certHost.MatchString(u.Hostname()) || !strings.HasSuffix(u.Path, ".pem") {
		return fmt.Errorf("untrusted sns signing certificate url %q: %w", raw, domain.ErrUnauthorized)
	}
	return nil
}

// StringToSign builds the canonical text SNS signs for env.
func StringToSign(env *domain.SNSEnvelope) ([]byte, error) {
	type field struct{ key, value string }
	var fields []field
	switch env.Type {
	case domain.SNSNotification:
		fields = []field{{"Message", env.Message}, {"MessageId", env.MessageID}}
		if env.Subject != "" {
			fields = append(fields, field{"Subject", env.Subject})
		}
		fields = append(fields, field{"Timestamp", env.Timestamp}, field{"TopicArn", env.TopicArn}, field{"Type", env.Type})
	case domain.SNSSubscriptionConfirmation, domain.SNSUnsubscribeConfirmation:
		fields = []field{
			{"Message", env.Message}, {"MessageId", env.MessageID}, {"SubscribeURL", env.SubscribeURL},
			{"Timestamp", env.Timestamp}, {"Token", env.Token}, {"TopicArn", env.TopicArn}, {"Type", env.Type},
		}
	default:
		return nil, fmt.Errorf("unknown sns message type %q: %w", env.Type, domain.ErrBadRequest)
	}
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f.key)
		b.WriteByte('\n')
		b.WriteString(f.value)
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

func digest(hash crypto.Hash, payload []byte) []byte {
	if hash == crypto.SHA1 {
		sum := sha1.Sum(payload)
		return sum[:]
	}
	sum := sha256.Sum256(payload)
	return sum[:]
}

func httpCertFetcher(client *http.Client) CertFetcher {
	return func(ctx context.Context, certURL string) (*x509.Certificate, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, certURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("certificate download returned %d", resp.StatusCode)
		}
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return nil, err
		}
		block, _ := pem.Decode(raw)
		if block == nil {
			return nil, fmt.Errorf("certificate is not PEM encoded")
		}
		return x509.ParseCertificate(block.Bytes)
	}
}
