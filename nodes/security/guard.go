// Package security screens outbound request targets for workflow nodes.
//
// Workflows are user-authored, so a URL reaching the http.request node is
// untrusted input: without screening it could be pointed at loopback
// services, cloud metadata endpoints, or anything else on the private
// network the engine runs in. The Guard rejects such targets before a
// connection is attempted.
package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Guard validates outbound URLs. The zero value is not usable; construct
// with NewGuard.
type Guard struct {
	allowedSchemes   map[string]bool
	blockedHostnames map[string]bool
}

// NewGuard builds a guard with the default rules: http/https only, loopback
// and private address space blocked.
func NewGuard() *Guard {
	return &Guard{
		allowedSchemes: map[string]bool{
			"http":  true,
			"https": true,
		},
		blockedHostnames: map[string]bool{
			"localhost":                true,
			"127.0.0.1":                true,
			"::1":                      true,
			"0.0.0.0":                  true,
			"::":                       true,
			"::ffff:127.0.0.1":         true,
			"[::1]":                    true,
			"[::ffff:127.0.0.1]":       true,
			"metadata.google.internal": true,
		},
	}
}

// CheckURL validates a full URL: scheme, hostname, and every address the
// hostname resolves to.
func (g *Guard) CheckURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if err := g.checkScheme(u.Scheme); err != nil {
		return err
	}
	return g.checkHost(u.Hostname())
}

func (g *Guard) checkScheme(scheme string) error {
	s := strings.ToLower(strings.TrimSpace(scheme))
	if s == "" {
		return fmt.Errorf("url scheme is required")
	}
	if !g.allowedSchemes[s] {
		return fmt.Errorf("scheme %q is not allowed, only http and https are", scheme)
	}
	return nil
}

func (g *Guard) checkHost(hostname string) error {
	if hostname == "" {
		return fmt.Errorf("url host is required")
	}
	host := strings.ToLower(strings.TrimSpace(hostname))
	if g.blockedHostnames[host] {
		return fmt.Errorf("host %q is blocked", hostname)
	}

	// Literal IPs resolve to themselves without touching DNS. A failed DNS
	// lookup is allowed through: the request itself will fail with a clearer
	// error than a screening rejection.
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil
	}
	for _, ip := range ips {
		if err := g.checkIP(ip); err != nil {
			return err
		}
	}
	return nil
}

// checkIP rejects every address class that points inside the network the
// engine runs in: loopback, RFC 1918 and ULA ranges, link-local (cloud
// metadata services live there), multicast, and unspecified.
func (g *Guard) checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("address %s is blocked: loopback", ip)
	case ip.IsPrivate():
		return fmt.Errorf("address %s is blocked: private network", ip)
	case ip.IsLinkLocalUnicast():
		return fmt.Errorf("address %s is blocked: link-local", ip)
	case ip.IsMulticast():
		return fmt.Errorf("address %s is blocked: multicast", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("address %s is blocked: unspecified", ip)
	}
	return nil
}
