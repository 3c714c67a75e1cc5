package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-mail-verifier/internal/domain"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string
	AppEnv  string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string

	StoreBackend    string // "dynamo" | "memory"
	DynamoTables    DynamoTables
	RecordRetention time.Duration
	S3ArchiveBucket string // empty disables archiving of raw webhook payloads
	S3ArchivePrefix string

	JWTPublicKeyPath  string
	JWTPrivateKeyPath string
	JWTExpiry         time.Duration

	AllowedDomains []string
	MXTimeout      time.Duration
	MXCacheTTL     time.Duration
	RedisAddr      string // empty uses the in-process MX cache
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	Probe ProbeConfig
	SMTP  SMTPConfig

	SNSRegion           string
	SNSTopicARNs        []string // empty accepts any topic
	SNSVerifySignatures bool

	IMAP          IMAPConfig
	BounceMarkers []string
	ScanInterval  time.Duration // 0 disables periodic scans
	ScanDelay     time.Duration // delay after a dispatch before a scan; 0 disables

	WaitWindow     time.Duration
	SweepInterval  time.Duration
	TimeoutPolicy  domain.TimeoutPolicy
	ResubmitPolicy domain.ResubmitPolicy

	AllowedOrigins []string // CORS allowed origins
	RateLimitRPS   float64
	RateLimitBurst int

	// TrustProxy takes the client address from forwarding headers. Enable
	// only behind a proxy that overwrites them.
	TrustProxy bool
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Records string
}

// ProbeConfig describes the test message and how it leaves the building.
type ProbeConfig struct {
	Transport           string // "ses" | "smtp"
	From                string
	Subject             string
	Body                string
	SendTimeout         time.Duration
	SESRegion           string
	SESConfigurationSet string
}

// SMTPConfig is used when Probe.Transport is "smtp".
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	SSL      bool
}

// IMAPConfig describes the dedicated bounce mailbox. An empty Host disables scanning.
type IMAPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	Mailbox    string
	Encryption string // "tls" | "starttls" | "none"
	Timeout    time.Duration
}

var defaultBounceMarkers = []string{
	"Delivery Status Notification",
	"mail delivery failed",
	"Undelivered Mail Returned to Sender",
	"Delivery has failed",
	"Undeliverable",
	"Mail delivery failed",
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort: getEnv("APP_PORT", "3000"),
		AppEnv:  getEnv("APP_ENV", "development"),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),

		StoreBackend: getEnv("STORE_BACKEND", "dynamo"),
		DynamoTables: DynamoTables{
			Records: getEnv("DYNAMO_TABLE_RECORDS", "verification_records"),
		},
		RecordRetention:   getEnvDuration("RECORD_RETENTION", 30*24*time.Hour),
		S3ArchiveBucket:   getEnv("S3_ARCHIVE_BUCKET", ""),
		S3ArchivePrefix:   getEnv("S3_ARCHIVE_PREFIX", "sns"),
		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         getEnvDuration("JWT_EXPIRY", 24*time.Hour),

		AllowedDomains: getEnvList("ALLOWED_DOMAINS", "gmail.com,yahoo.com,outlook.com,hotmail.com"),
		MXTimeout:      getEnvDuration("MX_TIMEOUT", 5*time.Second),
		MXCacheTTL:     getEnvDuration("MX_CACHE_TTL", 5*time.Minute),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "mx"),

		Probe: ProbeConfig{
			Transport:           getEnv("PROBE_TRANSPORT", "ses"),
			From:                getEnv("PROBE_FROM", ""),
			Subject:             getEnv("PROBE_SUBJECT", "Address verification"),
			Body:                getEnv("PROBE_BODY", "This message verifies that your address can receive mail. No action is needed."),
			SendTimeout:         getEnvDuration("PROBE_SEND_TIMEOUT", 10*time.Second),
			SESRegion:           getEnv("SES_REGION", ""),
			SESConfigurationSet: getEnv("SES_CONFIGURATION_SET", ""),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "localhost"),
			Port:     getEnvInt("SMTP_PORT", 1025),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			SSL:      getEnvBool("SMTP_SSL", false),
		},

		SNSRegion:           getEnv("SNS_REGION", ""),
		SNSTopicARNs:        getEnvList("SNS_TOPIC_ARNS", ""),
		SNSVerifySignatures: getEnvBool("SNS_VERIFY_SIGNATURES", true),

		IMAP: IMAPConfig{
			Host:       getEnv("IMAP_HOST", ""),
			Port:       getEnvInt("IMAP_PORT", 993),
			Username:   getEnv("IMAP_USERNAME", ""),
			Password:   getEnv("IMAP_PASSWORD", ""),
			Mailbox:    getEnv("IMAP_MAILBOX", "INBOX"),
			Encryption: strings.ToLower(getEnv("IMAP_ENCRYPTION", "tls")),
			Timeout:    getEnvDuration("IMAP_TIMEOUT", 30*time.Second),
		},
		BounceMarkers: getEnvListOr("BOUNCE_MARKERS", defaultBounceMarkers),
		ScanInterval:  getEnvDuration("SCAN_INTERVAL", 5*time.Minute),
		ScanDelay:     getEnvDuration("SCAN_DELAY", 5*time.Second),

		WaitWindow:     getEnvDuration("WAIT_WINDOW", 30*time.Minute),
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", time.Minute),
		TimeoutPolicy:  domain.TimeoutPolicy(getEnv("TIMEOUT_POLICY", "")),
		ResubmitPolicy: domain.ResubmitPolicy(getEnv("RESUBMIT_POLICY", string(domain.ResubmitReuse))),

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 10),
		TrustProxy:     getEnvBool("TRUST_PROXY", false),
	}
}

// Validate reports every missing or malformed setting at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := domain.ParseTimeoutPolicy(string(c.TimeoutPolicy)); err != nil {
		errs = append(errs, fmt.Errorf("TIMEOUT_POLICY: %w", err))
	}
	if _, err := domain.ParseResubmitPolicy(string(c.ResubmitPolicy)); err != nil {
		errs = append(errs, fmt.Errorf("RESUBMIT_POLICY: %w", err))
	}
	if c.Probe.From == "" {
		errs = append(errs, errors.New("PROBE_FROM is required"))
	}
	switch c.Probe.Transport {
	case "ses", "smtp":
	default:
		errs = append(errs, fmt.Errorf("PROBE_TRANSPORT %q must be ses or smtp", c.Probe.Transport))
	}
	switch c.StoreBackend {
	case "dynamo", "memory":
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q must be dynamo or memory", c.StoreBackend))
	}
	if c.WaitWindow <= 0 {
		errs = append(errs, errors.New("WAIT_WINDOW must be positive"))
	}
	if c.IMAP.Host != "" && c.IMAP.Username == "" {
		errs = append(errs, errors.New("IMAP_USERNAME is required when IMAP_HOST is set"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnvList(key, fallback string) []string {
	return splitList(getEnv(key, fallback))
}

func getEnvListOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		return splitList(v)
	}
	return append([]string(nil), fallback...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
