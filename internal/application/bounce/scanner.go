package bounce

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-mail-verifier/internal/domain"
	"github.com/go-mail-verifier/internal/metrics"
	"github.com/go-mail-verifier/internal/pkg/clock"
	"github.com/go-mail-verifier/internal/pkg/id"
)

// Mailbox yields messages that have not been scanned yet.
type Mailbox interface {
	Fetch(ctx context.Context) iter.Seq2[domain.MailMessage, error]
}

type ScannerConfig struct {
	// Markers are matched case-insensitively against subject and body.
	Markers []string
	// Interval between periodic scans; 0 disables them.
	Interval time.Duration
	// Delay between a Trigger and the scan it schedules; 0 ignores triggers.
	Delay time.Duration
	// ProbeFrom is our own sender address, never taken as the failed recipient.
	ProbeFrom string
	// MaxTokenAge drops reports whose probe token was minted longer ago; the
	// record is gone by then. 0 keeps every report.
	MaxTokenAge time.Duration
}

// ScanReport summarises one pass over the mailbox.
type ScanReport struct {
	Scanned  int `json:"scanned"`
	Matched  int `json:"matched"`
	Resolved int `json:"resolved"`
}

// MailboxScanner reads bounce reports from the probe mailbox and feeds them
// to an EvidenceSink. Scans never overlap.
type MailboxScanner struct {
	cfg     ScannerConfig
	mailbox Mailbox
	sink    EvidenceSink
	clock   clock.Clock
	markers []string
	self    string

	mu   sync.Mutex
	kick chan struct{}
}

func NewMailboxScanner(cfg ScannerConfig, mailbox Mailbox, sink EvidenceSink, clk clock.Clock) *MailboxScanner {
	if clk == nil {
		clk = clock.Real()
	}
	markers := make([]string, 0, len(cfg.Markers))
	for _, m := range cfg.Markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			markers = append(markers, m)
		}
	}
	return &MailboxScanner{
		cfg:     cfg,
		mailbox: mailbox,
		sink:    sink,
		clock:   clk,
		markers: markers,
		self:    bareAddress(cfg.ProbeFrom),
		kick:    make(chan struct{}, 1),
	}
}

// Trigger asks Run for a scan after the configured delay. Triggers that
// arrive while one is already scheduled are merged into it.
func (s *MailboxScanner) Trigger() {
	if s.cfg.Delay <= 0 {
		return
	}
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run scans periodically and after triggers until ctx is cancelled.
func (s *MailboxScanner) Run(ctx context.Context) {
	var periodic, delayed <-chan time.Time
	if s.cfg.Interval > 0 {
		periodic = s.clock.After(s.cfg.Interval)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-periodic:
			s.runScan(ctx, "periodic")
			periodic = s.clock.After(s.cfg.Interval)
		case <-s.kick:
			if delayed == nil {
				delayed = s.clock.After(s.cfg.Delay)
			}
		case <-delayed:
			delayed = nil
			s.runScan(ctx, "delayed")
		}
	}
}

func (s *MailboxScanner) runScan(ctx context.Context, reason string) {
	report, err := s.ScanOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("mailbox scan failed", "reason", reason, "err", err)
		}
		return
	}
	if report.Matched > 0 {
		slog.Info("mailbox scan finished", "reason", reason, "scanned", report.Scanned, "matched", report.Matched, "resolved", report.Resolved)
	}
}

// ScanOnce reads every new message once. A fetch error stops the scan and is
// returned together with what was processed so far.
func (s *MailboxScanner) ScanOnce(ctx context.Context) (ScanReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report ScanReport
	for msg, err := range s.mailbox.Fetch(ctx) {
		if err != nil {
			metrics.ScansTotal.WithLabelValues("error").Inc()
			return report, fmt.Errorf("fetch mailbox: %w", err)
		}
		report.Scanned++
		ev, ok := s.Extract(msg)
		if !ok {
			continue
		}
		report.Matched++
		corr, err := s.sink.Accept(ctx, ev)
		if err != nil {
			// The message is already flagged seen; the sweeper covers the record.
			slog.Error("failed to correlate mailbox evidence", "uid", msg.UID, "recipient", ev.RecipientAddress, "err", err)
			continue
		}
		if corr.Result == ResultResolved {
			report.Resolved++
		}
	}
	metrics.ScansTotal.WithLabelValues("ok").Inc()
	return report, nil
}

var (
	finalRecipientRe    = regexp.MustCompile(`(?im)^Final-Recipient:\s*(?:rfc822\s*;)?\s*<?([^\s<>;]+@[^\s<>;]+?)>?\s*$`)
	originalRecipientRe = regexp.MustCompile(`(?im)^Original-Recipient:\s*(?:rfc822\s*;)?\s*<?([^\s<>;]+@[^\s<>;]+?)>?\s*$`)
	failedRecipientsRe  = regexp.MustCompile(`(?im)^X-Failed-Recipients:\s*<?([^\s,<>]+@[^\s,<>]+?)>?\s*(?:,|$)`)
	anyAddressRe        = regexp.MustCompile(`[A-Za-z0-9._%+'\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	tokenHeaderRe       = regexp.MustCompile(`(?im)^X-Probe-Token:\s*([0-9A-Za-z]{26})\b`)
	tokenBracketRe      = regexp.MustCompile(`\[([0-9A-Za-z]{26})\]`)
	diagnosticRe        = regexp.MustCompile(`(?im)^Diagnostic-Code:\s*(.+)$`)
	statusRe            = regexp.MustCompile(`(?im)^Status:\s*([245]\.\d{1,3}\.\d{1,3})`)
)

// Extract turns a mailbox message into bounce evidence. It reports false when
// the message carries no failure marker, names an expired probe or no
// recipient can be found.
func (s *MailboxScanner) Extract(msg domain.MailMessage) (domain.BounceEvidence, bool) {
	text := msg.Subject + "\n" + msg.Body
	if !s.hasMarker(text) {
		return domain.BounceEvidence{}, false
	}
	tok := token(text)
	if tok != "" && s.cfg.MaxTokenAge > 0 {
		if minted := id.Time(tok); s.clock.Now().Sub(minted) > s.cfg.MaxTokenAge {
			slog.Debug("bounce report for expired probe", "uid", msg.UID, "token", tok, "minted_at", minted)
			return domain.BounceEvidence{}, false
		}
	}
	recipient := s.recipient(msg)
	if recipient == "" {
		slog.Debug("bounce report without recipient", "uid", msg.UID, "subject", msg.Subject)
		return domain.BounceEvidence{}, false
	}
	return domain.BounceEvidence{
		RecipientAddress: recipient,
		RawSignal:        signal(msg),
		Source:           domain.SourceMailboxScan,
		Kind:             domain.EvidenceBounce,
		ProbeToken:       tok,
	}, true
}

func (s *MailboxScanner) hasMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range s.markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func (s *MailboxScanner) recipient(msg domain.MailMessage) string {
	for _, re := range []*regexp.Regexp{finalRecipientRe, originalRecipientRe, failedRecipientsRe} {
		if m := re.FindStringSubmatch(msg.Body); m != nil {
			return m[1]
		}
	}
	sender := bareAddress(msg.From)
	for _, addr := range anyAddressRe.FindAllString(msg.Body, -1) {
		lower := strings.ToLower(addr)
		if lower == s.self || lower == sender || systemMailbox(lower) {
			continue
		}
		return addr
	}
	return ""
}

func systemMailbox(addr string) bool {
	local := addr[:strings.LastIndex(addr, "@")]
	return local == "mailer-daemon" || local == "postmaster"
}

func token(text string) string {
	for _, re := range []*regexp.Regexp{tokenHeaderRe, tokenBracketRe} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if t := strings.ToUpper(m[1]); id.Valid(t) {
				return t
			}
		}
	}
	return ""
}

func signal(msg domain.MailMessage) string {
	var parts []string
	if m := statusRe.FindStringSubmatch(msg.Body); m != nil {
		parts = append(parts, m[1])
	}
	if m := diagnosticRe.FindStringSubmatch(msg.Body); m != nil {
		parts = append(parts, strings.TrimSpace(m[1]))
	}
	if len(parts) == 0 {
		return msg.Subject
	}
	return strings.Join(parts, " ")
}

func bareAddress(s string) string {
	if s == "" {
		return ""
	}
	if a, err := mail.ParseAddress(s); err == nil {
		return strings.ToLower(a.Address)
	}
	return strings.ToLower(strings.Trim(strings.TrimSpace(s), "<>"))
}
