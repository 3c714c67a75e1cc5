package config

import (
	"testing"
	"time"

	"github.com/go-mail-verifier/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TIMEOUT_POLICY", "unknown")
	t.Setenv("PROBE_FROM", "probe@verifier.example")

	cfg := Load()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "3000", cfg.AppPort)
	assert.Equal(t, domain.ResubmitReuse, cfg.ResubmitPolicy)
	assert.Equal(t, 30*time.Minute, cfg.WaitWindow)
	assert.Equal(t, []string{"gmail.com", "yahoo.com", "outlook.com", "hotmail.com"}, cfg.AllowedDomains)
	assert.Contains(t, cfg.BounceMarkers, "Undelivered Mail Returned to Sender")
	assert.Empty(t, cfg.SNSTopicARNs)
	assert.True(t, cfg.SNSVerifySignatures)
	assert.False(t, cfg.TrustProxy)
	assert.Equal(t, "mx", cfg.RedisKeyPrefix)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ALLOWED_DOMAINS", " example.com, ,corp.example ")
	t.Setenv("WAIT_WINDOW", "90")
	t.Setenv("SWEEP_INTERVAL", "15s")
	t.Setenv("RATE_LIMIT_RPS", "0.5")
	t.Setenv("SMTP_SSL", "true")
	t.Setenv("IMAP_ENCRYPTION", "STARTTLS")
	t.Setenv("BOUNCE_MARKERS", "bounced,failed")
	t.Setenv("TRUST_PROXY", "true")
	t.Setenv("REDIS_KEY_PREFIX", "verifier:mx")

	cfg := Load()
	assert.Equal(t, []string{"example.com", "corp.example"}, cfg.AllowedDomains)
	assert.Equal(t, 90*time.Second, cfg.WaitWindow)
	assert.Equal(t, 15*time.Second, cfg.SweepInterval)
	assert.Equal(t, 0.5, cfg.RateLimitRPS)
	assert.True(t, cfg.SMTP.SSL)
	assert.Equal(t, "starttls", cfg.IMAP.Encryption)
	assert.Equal(t, []string{"bounced", "failed"}, cfg.BounceMarkers)
	assert.True(t, cfg.TrustProxy)
	assert.Equal(t, "verifier:mx", cfg.RedisKeyPrefix)
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	t.Setenv("WAIT_WINDOW", "soon")
	t.Setenv("REDIS_DB", "one")

	cfg := Load()
	assert.Equal(t, 30*time.Minute, cfg.WaitWindow)
	assert.Equal(t, 0, cfg.RedisDB)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	t.Setenv("PROBE_TRANSPORT", "carrier-pigeon")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("RESUBMIT_POLICY", "sometimes")
	t.Setenv("IMAP_HOST", "imap.example.com")

	err := Load().Validate()
	require.Error(t, err)
	for _, want := range []string{"TIMEOUT_POLICY", "RESUBMIT_POLICY", "PROBE_FROM", "PROBE_TRANSPORT", "STORE_BACKEND", "IMAP_USERNAME"} {
		assert.ErrorContains(t, err, want)
	}
}
