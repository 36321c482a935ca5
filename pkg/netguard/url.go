package netguard

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"

	"github.com/polisai/ogis/pkg/domain"
)

// URLPolicy holds the static rules a remote image URL must satisfy.
type URLPolicy struct {
	// AllowHTTP permits plain http in addition to https.
	AllowHTTP bool
	// AllowedHosts restricts fetchable hosts. Empty means any host.
	// Patterns: "*", "*.example.com", "example.com".
	AllowedHosts []string
}

// ParsedURL is a URL that passed static validation.
type ParsedURL struct {
	Raw    string
	Scheme string
	Host   string
	URL    *url.URL
}

// ValidateURL applies the static checks that need no network access: absolute
// URL with a host, scheme allow-list, no embedded credentials, literal IP
// classification and the host allow-list.
func ValidateURL(raw string, policy URLPolicy) (ParsedURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ParsedURL{}, fmt.Errorf("netguard: parse url: %v: %w", err, domain.ErrMalformedURL)
	}
	if !u.IsAbs() || u.Opaque != "" {
		return ParsedURL{}, fmt.Errorf("netguard: url is not absolute: %w", domain.ErrMalformedURL)
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "https":
	case "http":
		if !policy.AllowHTTP {
			return ParsedURL{}, fmt.Errorf("netguard: scheme http not allowed: %w", domain.ErrMalformedURL)
		}
	default:
		return ParsedURL{}, fmt.Errorf("netguard: scheme %q not allowed: %w", u.Scheme, domain.ErrMalformedURL)
	}

	if u.User != nil {
		return ParsedURL{}, fmt.Errorf("netguard: credentials in url: %w", domain.ErrMalformedURL)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ParsedURL{}, fmt.Errorf("netguard: url has no host: %w", domain.ErrMalformedURL)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if !IsGlobal(addr) {
			return ParsedURL{}, fmt.Errorf("netguard: address %s: %w", addr, domain.ErrPrivateAddressBlocked)
		}
	}

	if !HostAllowed(host, policy.AllowedHosts) {
		return ParsedURL{}, fmt.Errorf("netguard: host %q not allowed: %w", host, domain.ErrMalformedURL)
	}

	return ParsedURL{Raw: raw, Scheme: scheme, Host: host, URL: u}, nil
}

// HostAllowed reports whether host matches one of the patterns. An empty
// pattern list allows every host.
func HostAllowed(host string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for _, pattern := range patterns {
		pattern = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(pattern)), ".")
		if pattern == "" {
			continue
		}
		if pattern == "*" {
			return true
		}
		if strings.HasPrefix(pattern, "*.") {
			if strings.HasSuffix(host, pattern[1:]) {
				return true
			}
			continue
		}
		if pattern == host {
			return true
		}
	}
	return false
}
