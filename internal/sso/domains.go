// Package sso implements the identity-federation core: the OIDC login flow,
// account linking and role synchronization, and the supporting primitives.
package sso

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxAllowedDomains caps the allow-list size per config.
const MaxAllowedDomains = 20

var (
	ErrDomainInvalid  = errors.New("invalid domain")
	ErrTooManyDomains = fmt.Errorf("at most %d allowed domains per config", MaxAllowedDomains)
)

// dnsLabel matches one label of a DNS name.
var dnsLabel = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// NormalizeDomain lowercases and validates an email domain.
// Accepts a leading "@" for convenience ("@acme.com" → "acme.com").
func NormalizeDomain(domain string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "@")
	if d == "" || len(d) > 253 {
		return "", ErrDomainInvalid
	}
	labels := strings.Split(d, ".")
	if len(labels) < 2 {
		return "", ErrDomainInvalid
	}
	for _, label := range labels {
		if !dnsLabel.MatchString(label) {
			return "", ErrDomainInvalid
		}
	}
	return d, nil
}

// ValidateAllowedDomains normalizes a full allow-list, rejecting duplicates
// and enforcing the per-config cap. Returns the normalized list.
func ValidateAllowedDomains(domains []string) ([]string, error) {
	if len(domains) > MaxAllowedDomains {
		return nil, ErrTooManyDomains
	}
	seen := make(map[string]bool, len(domains))
	normalized := make([]string, 0, len(domains))
	for _, d := range domains {
		nd, err := NormalizeDomain(d)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrDomainInvalid, d)
		}
		if seen[nd] {
			return nil, fmt.Errorf("%w: duplicate %q", ErrDomainInvalid, nd)
		}
		seen[nd] = true
		normalized = append(normalized, nd)
	}
	return normalized, nil
}

// EmailDomain extracts the normalized domain of an email address.
func EmailDomain(email string) (string, error) {
	at := strings.LastIndex(email, "@")
	if at < 1 || at == len(email)-1 {
		return "", ErrDomainInvalid
	}
	return NormalizeDomain(email[at+1:])
}

// DomainAllowed checks an email's domain against a config's allow-list,
// case-insensitively.
func DomainAllowed(email string, allowedDomains []string) bool {
	domain, err := EmailDomain(email)
	if err != nil {
		return false
	}
	for _, d := range allowedDomains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}
