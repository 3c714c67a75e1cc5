package check

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/go-mail-verifier/internal/domain"
	"golang.org/x/sync/singleflight"
)

// LookupMXFunc resolves MX records. net.Resolver.LookupMX satisfies it.
type LookupMXFunc func(ctx context.Context, name string) ([]*net.MX, error)

// MXCache stores positive MX answers. Misses and failures are never cached.
type MXCache interface {
	Get(ctx context.Context, domain string) ([]string, bool)
	Set(ctx context.Context, domain string, hosts []string)
}

// MXConfig is the MX resolver configuration.
type MXConfig struct {
	Timeout time.Duration
}

// MXResolver looks up the mail exchangers of a domain. Concurrent lookups for
// the same domain share one DNS query.
type MXResolver struct {
	cfg    MXConfig
	lookup LookupMXFunc
	cache  MXCache
	group  singleflight.Group
}

// NewMXResolver builds a resolver. A nil lookup uses the system resolver; a
// nil cache disables caching.
func NewMXResolver(cfg MXConfig, lookup LookupMXFunc, cache MXCache) *MXResolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if lookup == nil {
		lookup = (&net.Resolver{}).LookupMX
	}
	return &MXResolver{cfg: cfg, lookup: lookup, cache: cache}
}

// Resolve returns MX hosts ordered by preference, trailing dots trimmed.
// It fails with domain.ErrNoMXRecords when the domain has none and with
// domain.ErrResolutionUnavailable when DNS could not answer in time.
func (r *MXResolver) Resolve(ctx context.Context, d string) ([]string, error) {
	d = strings.ToLower(strings.TrimSuffix(d, "."))
	if r.cache != nil {
		if hosts, ok := r.cache.Get(ctx, d); ok && len(hosts) > 0 {
			return hosts, nil
		}
	}

	ch := r.group.DoChan(d, func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Timeout)
		defer cancel()
		return r.lookup(lctx, d)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("lookup %s: %v: %w", d, ctx.Err(), domain.ErrResolutionUnavailable)
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, classifyLookupError(d, res.Err)
	}

	records, _ := res.Val.([]*net.MX)
	hosts := sortedHosts(records)
	if len(hosts) == 0 {
		return nil, fmt.Errorf("domain %s has no mail exchangers: %w", d, domain.ErrNoMXRecords)
	}
	if r.cache != nil {
		r.cache.Set(ctx, d, hosts)
	}
	return hosts, nil
}

func sortedHosts(records []*net.MX) []string {
	sorted := make([]*net.MX, 0, len(records))
	for _, mx := range records {
		if mx != nil {
			sorted = append(sorted, mx)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Pref < sorted[j].Pref })

	hosts := make([]string, 0, len(sorted))
	for _, mx := range sorted {
		h := strings.TrimSuffix(mx.Host, ".")
		// RFC 7505 null MX: the domain accepts no mail.
		if h == "" {
			continue
		}
		hosts = append(hosts, h)
	}
	return hosts
}

func classifyLookupError(d string, err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return fmt.Errorf("domain %s does not exist: %w", d, domain.ErrNoMXRecords)
		}
		if dnsErr.IsTimeout || dnsErr.IsTemporary {
			return fmt.Errorf("lookup %s: %v: %w", d, err, domain.ErrResolutionUnavailable)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("lookup %s: %v: %w", d, err, domain.ErrResolutionUnavailable)
	}
	slog.Debug("mx lookup failed", "domain", d, "err", err)
	return fmt.Errorf("lookup %s: %v: %w", d, err, domain.ErrNoMXRecords)
}
