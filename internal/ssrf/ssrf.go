// Package ssrf implements the outbound URL allow-list check every analysis
// worker runs against a media URL before fetching it, per spec §4.2 step 2.
package ssrf

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrRejected wraps every rejection reason so callers can classify it as a
// policy error (spec §7's "SSRF/policy reject" error class) with errors.As.
type ErrRejected struct {
	Reason string
}

func (e *ErrRejected) Error() string {
	return fmt.Sprintf("ssrf: rejected: %s", e.Reason)
}

// Validator checks candidate media URLs against the allow-list policy.
type Validator struct {
	AllowedDomains []string
	resolver       func(host string) ([]net.IP, error)
}

// NewValidator builds a Validator. allowedDomains may be empty, meaning any
// non-private host is accepted.
func NewValidator(allowedDomains []string) *Validator {
	return &Validator{
		AllowedDomains: allowedDomains,
		resolver:       net.LookupIP,
	}
}

// Check parses rawURL and rejects it unless: the scheme is http or https,
// a hostname is present, the hostname is on the allow-list (when one is
// configured), and every IP the hostname resolves to is public and
// non-reserved.
func (v *Validator) Check(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &ErrRejected{Reason: fmt.Sprintf("invalid url: %v", err)}
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return &ErrRejected{Reason: fmt.Sprintf("scheme %q not allowed", u.Scheme)}
	}

	host := u.Hostname()
	if host == "" {
		return &ErrRejected{Reason: "missing hostname"}
	}

	if len(v.AllowedDomains) > 0 && !domainAllowed(host, v.AllowedDomains) {
		return &ErrRejected{Reason: fmt.Sprintf("host %q not in allow-list", host)}
	}

	if ip := net.ParseIP(host); ip != nil {
		if !isPublicIP(ip) {
			return &ErrRejected{Reason: fmt.Sprintf("host %q resolves to a disallowed address", host)}
		}
		return nil
	}

	ips, err := v.resolver(host)
	if err != nil {
		return &ErrRejected{Reason: fmt.Sprintf("dns lookup failed for %q: %v", host, err)}
	}
	if len(ips) == 0 {
		return &ErrRejected{Reason: fmt.Sprintf("host %q did not resolve", host)}
	}
	for _, ip := range ips {
		if !isPublicIP(ip) {
			return &ErrRejected{Reason: fmt.Sprintf("host %q resolves to a disallowed address %s", host, ip)}
		}
	}
	return nil
}

func domainAllowed(host string, allowed []string) bool {
	host = strings.ToLower(host)
	for _, d := range allowed {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// isPublicIP rejects loopback, private, link-local, multicast and
// unspecified addresses, plus the IPv4 carrier-grade NAT, "this network",
// IETF protocol assignment, benchmarking and reserved (240.0.0.0/4) ranges.
func isPublicIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast() {
		return false
	}
	if ip4 := ip.To4(); ip4 != nil {
		// 100.64.0.0/10 carrier-grade NAT
		if ip4[0] == 100 && ip4[1]&0xc0 == 64 {
			return false
		}
		// 0.0.0.0/8 "this network" and 240.0.0.0/4 reserved (incl. broadcast)
		if ip4[0] == 0 || ip4[0] >= 240 {
			return false
		}
		// 192.0.0.0/24 IETF protocol assignments
		if ip4[0] == 192 && ip4[1] == 0 && ip4[2] == 0 {
			return false
		}
		// 198.18.0.0/15 benchmarking
		if ip4[0] == 198 && ip4[1]&0xfe == 18 {
			return false
		}
	}
	return true
}
