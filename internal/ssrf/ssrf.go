// Package ssrf implements the outbound-request SSRF filter of spec §4.C:
// URL classification, private/loopback/link-local address blocking, and
// HTTPS policy enforcement before any user-supplied URL is dialed.
package ssrf

import (
	"net"
	"net/url"
	"strings"
)

// Reason is a stable failure-reason string returned by Check.
type Reason string

const (
	ReasonOK                Reason = ""
	ReasonBadScheme         Reason = "unsupported scheme"
	ReasonUserinfo          Reason = "url carries userinfo"
	ReasonHTTPDisallowed    Reason = "http scheme disallowed by policy"
	ReasonHTTPToPrivate     Reason = "http to private address always blocked"
	ReasonUnresolvableHost  Reason = "host did not resolve"
	ReasonPrivateAddress    Reason = "destination resolves to a private or reserved address"
	ReasonLoopbackHost      Reason = "host is a loopback alias"
)

// Policy controls whether plain HTTP is permitted at all (spec:
// ALLOW_HTTP_WEBHOOKS). Even when AllowHTTP is true, HTTP to private
// destinations is still blocked.
type Policy struct {
	AllowHTTP bool
}

// Resolver abstracts host -> IP resolution so callers can inject a fake
// resolver in tests without touching DNS.
type Resolver interface {
	LookupIP(host string) ([]net.IP, error)
}

type netResolver struct{}

func (netResolver) LookupIP(host string) ([]net.IP, error) {
	return net.LookupIP(host)
}

// DefaultResolver resolves via the system resolver.
var DefaultResolver Resolver = netResolver{}

var loopbackAliases = map[string]bool{
	"localhost":  true,
	"localhost.": true,
}

var privateCIDRs = mustParseCIDRs(
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

// Destination is the classified target of an outbound request that passed
// the filter.
type Destination struct {
	URL  *url.URL
	IPs  []net.IP
	Host string
}

// Check parses rawURL, rejects disallowed schemes/userinfo/private
// destinations per policy, and resolves the host to verify every returned
// address is public. It returns the classified Destination on success or a
// stable Reason on failure.
func Check(rawURL string, policy Policy, resolver Resolver) (*Destination, Reason) {
	if resolver == nil {
		resolver = DefaultResolver
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, ReasonBadScheme
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ReasonBadScheme
	}
	if u.User != nil {
		return nil, ReasonUserinfo
	}
	host := u.Hostname()
	if host == "" {
		return nil, ReasonBadScheme
	}
	if isLoopbackAlias(host) {
		return nil, ReasonLoopbackHost
	}

	if u.Scheme == "http" {
		if !policy.AllowHTTP {
			return nil, ReasonHTTPDisallowed
		}
	}

	ips, reason := resolveAndClassify(host, resolver)
	if reason != ReasonOK {
		return nil, reason
	}
	if u.Scheme == "http" {
		// Even with ALLOW_HTTP_WEBHOOKS on, private destinations stay blocked.
		for _, ip := range ips {
			if isPrivate(ip) {
				return nil, ReasonHTTPToPrivate
			}
		}
	}
	return &Destination{URL: u, IPs: ips, Host: host}, ReasonOK
}

func resolveAndClassify(host string, resolver Resolver) ([]net.IP, Reason) {
	if ip := net.ParseIP(stripBrackets(host)); ip != nil {
		if isPrivate(ip) {
			return nil, ReasonPrivateAddress
		}
		return []net.IP{ip}, ReasonOK
	}
	ips, err := resolver.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return nil, ReasonUnresolvableHost
	}
	for _, ip := range ips {
		if isPrivate(ip) {
			return nil, ReasonPrivateAddress
		}
	}
	return ips, ReasonOK
}

func stripBrackets(host string) string {
	return strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
}

func isLoopbackAlias(host string) bool {
	return loopbackAliases[strings.ToLower(host)]
}

// isPrivate classifies ip against the blocked ranges of spec §4.C,
// including IPv4-mapped IPv6 forms (::ffff:10.0.0.1) mapping into a
// private IPv4 range.
func isPrivate(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		if ip4.IsLoopback() || ip4.Equal(net.IPv4zero) {
			return true
		}
		for _, n := range privateCIDRs {
			if n.IP.To4() != nil && n.Contains(ip4) {
				return true
			}
		}
		return false
	}
	// Pure IPv6 (not representable as 4-byte).
	if ip.Equal(net.IPv6loopback) || ip.Equal(net.IPv6unspecified) {
		return true
	}
	for _, n := range privateCIDRs {
		if n.IP.To4() == nil && n.Contains(ip) {
			return true
		}
	}
	return ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}
