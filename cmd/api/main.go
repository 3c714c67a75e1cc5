package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-mail-verifier/internal/application/bounce"
	"github.com/go-mail-verifier/internal/application/probe"
	"github.com/go-mail-verifier/internal/application/verification"
	"github.com/go-mail-verifier/internal/check"
	"github.com/go-mail-verifier/internal/config"
	"github.com/go-mail-verifier/internal/domain"
	"github.com/go-mail-verifier/internal/infrastructure/dynamo"
	imapinfra "github.com/go-mail-verifier/internal/infrastructure/imap"
	jwtinfra "github.com/go-mail-verifier/internal/infrastructure/jwt"
	"github.com/go-mail-verifier/internal/infrastructure/memory"
	redisinfra "github.com/go-mail-verifier/internal/infrastructure/redis"
	s3infra "github.com/go-mail-verifier/internal/infrastructure/s3"
	"github.com/go-mail-verifier/internal/infrastructure/ses"
	"github.com/go-mail-verifier/internal/infrastructure/smtp"
	"github.com/go-mail-verifier/internal/infrastructure/sns"
	"github.com/go-mail-verifier/internal/metrics"
	"github.com/go-mail-verifier/internal/pkg/clock"
	transporthttp "github.com/go-mail-verifier/internal/transport/http"
	"github.com/joho/godotenv"
)

// recordStore is everything the services need from a record backend.
type recordStore interface {
	Reserve(ctx context.Context, rec *domain.VerificationRecord, supersede bool) (*domain.VerificationRecord, bool, error)
	AttachProbe(ctx context.Context, address, recordID, messageID string) error
	Release(ctx context.Context, address, recordID string) error
	Resolve(ctx context.Context, address, recordID string, res domain.Resolution) (*domain.VerificationRecord, bool, error)
	Get(ctx context.Context, address string) (*domain.VerificationRecord, error)
	GetByID(ctx context.Context, recordID string) (*domain.VerificationRecord, error)
	GetByProbeMessageID(ctx context.Context, messageID string) (*domain.VerificationRecord, error)
	ListPending(ctx context.Context, createdBefore time.Time) ([]domain.VerificationRecord, error)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration:\n%v", err)
	}
	setupLogger(cfg)
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	clk := clock.Real()

	store, err := newRecordStore(ctx, cfg)
	if err != nil {
		log.Fatalf("record store: %v", err)
	}
	mx := check.NewMXResolver(check.MXConfig{Timeout: cfg.MXTimeout}, nil, newMXCache(ctx, cfg))
	transport, err := newProbeTransport(ctx, cfg)
	if err != nil {
		log.Fatalf("probe transport: %v", err)
	}
	sender := probe.NewSender(probe.Config{
		From:        cfg.Probe.From,
		Subject:     cfg.Probe.Subject,
		Body:        cfg.Probe.Body,
		SendTimeout: cfg.Probe.SendTimeout,
	}, transport)

	correlator := bounce.NewCorrelator(store, clk)
	deps := &transporthttp.Deps{
		Bounces: bounce.NewWebhookIntake(
			bounce.WebhookConfig{TopicARNs: cfg.SNSTopicARNs},
			correlator,
			ses.DecodeNotification,
			newEnvelopeVerifier(cfg),
			newConfirmer(ctx, cfg),
			newArchive(ctx, cfg),
		),
	}

	// Mailbox scanning is optional; without it the webhook and the sweeper
	// still resolve every record.
	var trigger interface{ Trigger() }
	if cfg.IMAP.Host != "" {
		scanner := bounce.NewMailboxScanner(bounce.ScannerConfig{
			Markers:     cfg.BounceMarkers,
			Interval:    cfg.ScanInterval,
			Delay:       cfg.ScanDelay,
			ProbeFrom:   cfg.Probe.From,
			MaxTokenAge: cfg.RecordRetention,
		}, imapinfra.NewMailbox(cfg.IMAP), correlator, clk)
		go scanner.Run(ctx)
		trigger = scanner
		deps.Scanner = scanner
	} else {
		slog.Info("bounce mailbox not configured, scanning disabled")
	}

	deps.Verification = verification.NewService(verification.Config{
		TimeoutPolicy:  cfg.TimeoutPolicy,
		ResubmitPolicy: cfg.ResubmitPolicy,
	}, store, check.NewAllowList(cfg.AllowedDomains), mx, sender, trigger, clk)

	sweeper := verification.NewSweeper(store, cfg.WaitWindow, cfg.SweepInterval, clk)
	go sweeper.Run(ctx)
	deps.Sweeper = sweeper

	// Operator routes answer 503 without a JWT key pair.
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		deps.TokenVerifier = p
	} else {
		log.Printf("WARN: JWT provider not available: %v", err)
	}

	router := transporthttp.NewRouter(ctx, cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second + cfg.Probe.SendTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s)", cfg.AppPort, cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}

func setupLogger(cfg *config.Config) {
	if cfg.AppEnv == "development" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))
		return
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
}

func newRecordStore(ctx context.Context, cfg *config.Config) (recordStore, error) {
	if cfg.StoreBackend == "memory" {
		slog.Warn("using in-memory record store, records are lost on restart")
		return memory.NewRecordStore(), nil
	}
	client, err := dynamo.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamo.Bootstrap(ctx, client, cfg.DynamoTables)
	return dynamo.NewRecordRepo(client, cfg.DynamoTables.Records, cfg.RecordRetention), nil
}

func newMXCache(ctx context.Context, cfg *config.Config) check.MXCache {
	if cfg.MXCacheTTL <= 0 {
		return nil
	}
	if cfg.RedisAddr == "" {
		return check.NewMemoryMXCache(cfg.MXCacheTTL)
	}
	rdb, err := redisinfra.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Printf("WARN: redis not available, using in-process MX cache: %v", err)
		return check.NewMemoryMXCache(cfg.MXCacheTTL)
	}
	return redisinfra.NewMXCache(rdb, redisinfra.WithPrefix(cfg.RedisKeyPrefix), redisinfra.WithTTL(cfg.MXCacheTTL))
}

func newProbeTransport(ctx context.Context, cfg *config.Config) (probe.Transport, error) {
	if cfg.Probe.Transport == "smtp" {
		return smtp.NewTransport(cfg.SMTP), nil
	}
	client, err := ses.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return ses.NewTransport(client, cfg.Probe.SESConfigurationSet), nil
}

func newEnvelopeVerifier(cfg *config.Config) bounce.EnvelopeVerifier {
	if !cfg.SNSVerifySignatures {
		slog.Warn("sns signature verification disabled")
		return nil
	}
	return sns.NewSignatureVerifier(&http.Client{Timeout: 10 * time.Second})
}

func newConfirmer(ctx context.Context, cfg *config.Config) bounce.SubscriptionConfirmer {
	client, err := sns.NewClient(ctx, cfg)
	if err != nil {
		log.Printf("WARN: SNS client not available, subscriptions need manual confirmation: %v", err)
		return nil
	}
	return sns.NewConfirmer(client)
}

func newArchive(ctx context.Context, cfg *config.Config) bounce.Archiver {
	if cfg.S3ArchiveBucket == "" {
		return nil
	}
	client, err := s3infra.NewClient(ctx, cfg)
	if err != nil {
		log.Printf("WARN: S3 client not available, webhook payloads are not archived: %v", err)
		return nil
	}
	return s3infra.NewArchive(client, cfg.S3ArchiveBucket, cfg.S3ArchivePrefix)
}
