package check

import (
	"fmt"
	"strings"

	"github.com/go-mail-verifier/internal/domain"
)

// AllowList restricts probing to configured provider domains.
// An empty list disables the check.
type AllowList struct {
	domains map[string]struct{}
}

// NewAllowList normalises entries; blanks are ignored.
func NewAllowList(domains []string) *AllowList {
	a := &AllowList{domains: make(map[string]struct{}, len(domains))}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			a.domains[d] = struct{}{}
		}
	}
	return a
}

// Enabled reports whether the list constrains anything.
func (a *AllowList) Enabled() bool { return len(a.domains) > 0 }

// Allowed reports membership, case-insensitively. Always true when the list is empty.
func (a *AllowList) Allowed(d string) bool {
	if !a.Enabled() {
		return true
	}
	_, ok := a.domains[strings.ToLower(strings.TrimSpace(d))]
	return ok
}

// Check returns an error wrapping domain.ErrDomainPolicy for rejected domains.
func (a *AllowList) Check(d string) error {
	if a.Allowed(d) {
		return nil
	}
	return fmt.Errorf("domain %q is not in the list of supported providers: %w", d, domain.ErrDomainPolicy)
}
