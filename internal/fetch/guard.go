// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package fetch

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"
)

// =============================================================================
// SSRF PROTECTION
// =============================================================================

// blockedCIDRs are private and reserved ranges a page fetch may not reach.
var blockedCIDRs = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"100.64.0.0/10",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",

	"::1/128",
	"::/128",
	"64:ff9b::/96",
	"2001:db8::/32",
	"fc00::/7",
	"fe80::/10",
	"ff00::/8",
	// ::ffff:0:0/96 is left out: net.ParseCIDR turns it into 0.0.0.0/0.
	// IPv4-mapped addresses are normalized to IPv4 and caught above.
}

// blockedHosts are cloud metadata and loopback names.
var blockedHosts = []string{
	"metadata.google.internal",
	"metadata.google.com",
	"metadata",
	"instance-data",
	"localhost",
}

var blockedNetworks = func() []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(blockedCIDRs))
	for _, cidr := range blockedCIDRs {
		if _, n, err := net.ParseCIDR(cidr); err == nil {
			nets = append(nets, n)
		}
	}
	return nets
}()

// Guard validates fetch targets.
type Guard struct {
	// AllowPrivate disables the address checks (tests, intranet use).
	AllowPrivate bool
}

// ValidateURL parses rawURL and rejects schemes other than http(s) and
// blocked hosts or literal addresses.
func (g Guard) ValidateURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, ErrInvalidURL
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, ErrInvalidScheme
	}

	host := u.Hostname()
	if host == "" {
		return nil, ErrInvalidURL
	}
	if g.AllowPrivate {
		return u, nil
	}

	lower := strings.ToLower(host)
	for _, blocked := range blockedHosts {
		if lower == blocked || strings.HasSuffix(lower, "."+blocked) {
			return nil, ErrBlockedHost
		}
	}
	if ip := net.ParseIP(host); ip != nil && IsBlockedIP(ip) {
		return nil, ErrBlockedIP
	}
	return u, nil
}

// ValidateResolved is ValidateURL plus a lookup of the host, rejecting names
// that resolve to a blocked address. It checks targets the fetcher does not
// dial itself, such as pages loaded by a browser.
func (g Guard) ValidateResolved(ctx context.Context, rawURL string) (*url.URL, error) {
	u, err := g.ValidateURL(rawURL)
	if err != nil || g.AllowPrivate {
		return u, err
	}
	if _, err := g.resolve(ctx, u.Hostname()); err != nil {
		return nil, err
	}
	return u, nil
}

// resolve looks host up and fails when any answer is a blocked address.
func (g Guard) resolve(ctx context.Context, host string) ([]net.IP, error) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, errors.New("no IP addresses resolved")
	}
	for _, ip := range ips {
		if IsBlockedIP(ip) {
			return nil, ErrBlockedIP
		}
	}
	return ips, nil
}

// IsBlockedIP checks if an IP address is in a blocked range.
func IsBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// dialContext resolves the host itself and refuses to connect to a blocked
// address, so a DNS answer cannot point a public name at a private host.
func (g Guard) dialContext(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if g.AllowPrivate {
			return dialer.DialContext(ctx, network, addr)
		}

		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ips, err := g.resolve(ctx, host)
		if err != nil {
			return nil, err
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
	}
}

func newDialer() *net.Dialer {
	return &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
}
