package core

import (
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"

	"github.com/leozw/custom-domains/internal/apperr"
)

const maxHostnameLength = 253

// NormalizeHostname lowercases, trims and punycode-encodes a hostname.
func NormalizeHostname(raw string) (string, error) {
	host := strings.TrimSpace(strings.ToLower(raw))
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", apperr.Validation("normalize hostname", "domain is required")
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", apperr.Validation("normalize hostname", "domain is not a valid hostname")
	}
	return ascii, nil
}

// ValidateCustomHostname normalizes raw and checks it is a single-level
// subdomain of a registrable domain that does not contain brand.
func ValidateCustomHostname(raw, brand string) (string, error) {
	const op = "validate hostname"

	host, err := NormalizeHostname(raw)
	if err != nil {
		return "", err
	}
	if len(host) > maxHostnameLength {
		return "", apperr.Validation(op, "domain must be under 253 characters")
	}

	labels := strings.Split(host, ".")
	for _, l := range labels {
		if !validLabel(l) {
			return "", apperr.Validation(op, "domain is not a valid hostname")
		}
	}
	if len(labels) < 3 {
		return "", apperr.Validation(op, "apex domains are not allowed, use a subdomain such as links.example.com")
	}

	apex, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", apperr.Validation(op, "domain is not under a registrable domain")
	}
	if apex == host {
		return "", apperr.Validation(op, "apex domains are not allowed, use a subdomain such as links.example.com")
	}
	if len(labels)-len(strings.Split(apex, ".")) != 1 {
		return "", apperr.Validation(op, "only single-level subdomains are allowed")
	}

	if brand != "" && strings.Contains(host, strings.ToLower(brand)) {
		return "", apperr.Validation(op, "domain must not contain "+brand)
	}

	return host, nil
}

func validLabel(l string) bool {
	if len(l) == 0 || len(l) > 63 {
		return false
	}
	if l[0] == '-' || l[len(l)-1] == '-' {
		return false
	}
	for i := 0; i < len(l); i++ {
		c := l[i]
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-') {
			return false
		}
	}
	return true
}
