// Package check holds the synchronous pipeline stages: address syntax,
// domain allow-list and MX resolution.
package check

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"

	"github.com/go-mail-verifier/internal/domain"
	"golang.org/x/net/idna"
)

const (
	maxAddressLen = 254
	maxLocalLen   = 64
	maxLabelLen   = 63
	localSpecials = "!#$%&'*+/=?^_`{|}~-."
)

// ValidateFormat checks that raw is a bare addr-spec (local-part@domain).
// Anything ambiguous is rejected. The returned error wraps domain.ErrInvalidInput.
func ValidateFormat(raw string) error {
	if reason := formatProblem(raw); reason != "" {
		return fmt.Errorf("%s: %w", reason, domain.ErrInvalidInput)
	}
	return nil
}

func formatProblem(raw string) string {
	if raw == "" {
		return "email address is empty"
	}
	if len(raw) > maxAddressLen {
		return "email address exceeds 254 characters"
	}
	for _, ch := range raw {
		if unicode.IsSpace(ch) || unicode.IsControl(ch) {
			return "email address contains whitespace or control characters"
		}
	}

	at := strings.LastIndex(raw, "@")
	if at < 0 {
		return "email address is missing '@'"
	}
	local, host := raw[:at], raw[at+1:]
	if local == "" {
		return "local part is empty"
	}
	if host == "" {
		return "domain is empty"
	}

	// net/mail accepts display names and comments; a bare address must parse
	// back to itself.
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Name != "" || addr.Address != raw {
		if !hasNonASCII(raw) {
			return "email address is not a bare addr-spec"
		}
	}

	if reason := localProblem(local); reason != "" {
		return reason
	}
	return domainProblem(host)
}

func localProblem(local string) string {
	if len(local) > maxLocalLen {
		return "local part exceeds 64 characters"
	}
	if strings.HasPrefix(local, `"`) {
		return "quoted local parts are not accepted"
	}
	for _, ch := range local {
		switch {
		case ch > unicode.MaxASCII:
			// SMTPUTF8 local parts; control characters were rejected above.
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case strings.ContainsRune(localSpecials, ch):
		default:
			return "local part contains invalid character: " + string(ch)
		}
	}
	if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") {
		return "local part cannot start or end with a dot"
	}
	if strings.Contains(local, "..") {
		return "local part cannot contain consecutive dots"
	}
	return ""
}

func domainProblem(host string) string {
	if strings.HasPrefix(host, "[") {
		return "address literals are not accepted"
	}
	ascii, err := idna.Lookup.ToASCII(strings.ToLower(host))
	if err != nil {
		return "domain is not a valid hostname"
	}
	labels := strings.Split(ascii, ".")
	if len(labels) < 2 {
		return "domain must contain a dot"
	}
	for _, label := range labels {
		if label == "" {
			return "domain contains an empty label"
		}
		if len(label) > maxLabelLen {
			return "domain label exceeds 63 characters"
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return "domain label cannot start or end with a hyphen"
		}
		for _, ch := range label {
			if !(ch >= 'a' && ch <= 'z') && !(ch >= '0' && ch <= '9') && ch != '-' {
				return "domain label contains invalid character: " + string(ch)
			}
		}
	}
	tld := labels[len(labels)-1]
	if strings.Trim(tld, "0123456789") == "" {
		return "top-level domain cannot be numeric"
	}
	return ""
}

func hasNonASCII(s string) bool {
	for _, ch := range s {
		if ch > unicode.MaxASCII {
			return true
		}
	}
	return false
}

// ASCIIDomain returns the punycode form of the address's domain for DNS use.
// Callers must have validated the address first.
func ASCIIDomain(address string) string {
	d := domain.DomainOf(address)
	if a, err := idna.Lookup.ToASCII(d); err == nil {
		return a
	}
	return d
}
