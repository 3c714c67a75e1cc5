package http

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-mail-verifier/internal/application/bounce"
	"github.com/go-mail-verifier/internal/application/verification"
	"github.com/go-mail-verifier/internal/config"
	"github.com/go-mail-verifier/internal/domain"
	jwtinfra "github.com/go-mail-verifier/internal/infrastructure/jwt"
	"github.com/go-mail-verifier/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerification struct{}

func (stubVerification) Submit(_ context.Context, address string) (*verification.Submission, error) {
	rec := domain.NewPendingRecord("rid", address, time.Now())
	return &verification.Submission{Record: rec, Dispatched: true, Verdict: domain.VerdictPending}, nil
}

func (stubVerification) Lookup(context.Context, string) (*verification.RecordView, error) {
	return nil, domain.ErrNotFound
}

type stubSweeper struct{}

func (stubSweeper) SweepOnce(context.Context) (int, error) { return 0, nil }

type stubIntake struct{}

func (stubIntake) Handle(_ context.Context, env *domain.SNSEnvelope, _ []byte) (*bounce.WebhookResult, error) {
	return &bounce.WebhookResult{Type: env.Type}, nil
}

func newTestRouter(t *testing.T, verifier *jwtinfra.Provider) http.Handler {
	t.Helper()
	return newRouterWithConfig(t, &config.Config{AllowedOrigins: []string{"*"}, RateLimitRPS: 100, RateLimitBurst: 100}, verifier)
}

func newRouterWithConfig(t *testing.T, cfg *config.Config, verifier *jwtinfra.Provider) http.Handler {
	t.Helper()
	metrics.Register()
	deps := &Deps{
		Verification: stubVerification{},
		Bounces:      stubIntake{},
		Sweeper:      stubSweeper{},
	}
	if verifier != nil {
		deps.TokenVerifier = verifier
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewRouter(ctx, cfg, deps)
}

func serve(h http.Handler, method, path, body, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouter_PublicRoutes(t *testing.T) {
	h := newTestRouter(t, nil)

	assert.Equal(t, http.StatusAccepted, serve(h, http.MethodPost, "/v1/verifications", `{"email":"a@gmail.com"}`, "").Code)
	assert.Equal(t, http.StatusAccepted, serve(h, http.MethodPost, "/validate-email", `{"email":"a@gmail.com"}`, "").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/sns-bounce", `{"Type":"UnsubscribeConfirmation"}`, "").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/v1/health-check/ping", "", "").Code)

	rr := serve(h, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "http_requests_total")
}

func TestRouter_OperatorRoutesWithoutKeys(t *testing.T) {
	h := newTestRouter(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, serve(h, http.MethodPost, "/v1/admin/sweep", "", "").Code)
}

func TestRouter_OperatorRoutes(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	p := jwtinfra.NewProviderFromKeys(key, &key.PublicKey, time.Hour)
	h := newTestRouter(t, p)

	operator, err := p.Sign("ops", domain.RoleOperator)
	require.NoError(t, err)
	viewer, err := p.Sign("someone", "viewer")
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodPost, "/v1/admin/sweep", "", "").Code)
	assert.Equal(t, http.StatusForbidden, serve(h, http.MethodPost, "/v1/admin/sweep", "", viewer).Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/v1/admin/sweep", "", operator).Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodPost, "/v1/admin/scan", "", operator).Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/v1/verifications/a@gmail.com", "", operator).Code)
}

func submitFrom(h http.Handler, remoteAddr, forwardedFor string) int {
	req := httptest.NewRequest(http.MethodPost, "/v1/verifications", bytes.NewBufferString(`{"email":"a@gmail.com"}`))
	req.RemoteAddr = remoteAddr
	req.Header.Set("X-Forwarded-For", forwardedFor)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Code
}

func TestRouter_SubmitLimitIgnoresForwardingHeadersByDefault(t *testing.T) {
	h := newRouterWithConfig(t, &config.Config{AllowedOrigins: []string{"*"}, RateLimitRPS: 0.001, RateLimitBurst: 1}, nil)

	assert.Equal(t, http.StatusAccepted, submitFrom(h, "203.0.113.9:5555", "10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, submitFrom(h, "203.0.113.9:5555", "10.0.0.2"))
}

func TestRouter_SubmitLimitUsesForwardedClientBehindTrustedProxy(t *testing.T) {
	h := newRouterWithConfig(t, &config.Config{AllowedOrigins: []string{"*"}, RateLimitRPS: 0.001, RateLimitBurst: 1, TrustProxy: true}, nil)

	assert.Equal(t, http.StatusAccepted, submitFrom(h, "10.1.1.1:5555", "198.51.100.1"))
	assert.Equal(t, http.StatusAccepted, submitFrom(h, "10.1.1.1:5555", "198.51.100.2"))
	assert.Equal(t, http.StatusTooManyRequests, submitFrom(h, "10.1.1.1:5555", "198.51.100.1"))
}
