package api

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ClientIPResolver decides which address identifies a connection. Client ids,
// bans, and the upgrade rate limit all key on this address, so forwarding
// headers are honored only when the immediate peer is a configured trusted
// proxy; a direct client cannot mint fresh identities by spoofing
// X-Forwarded-For.
type ClientIPResolver struct {
	trusted []*net.IPNet
}

// NewClientIPResolver parses the trusted proxy list. Each entry is a CIDR or
// a bare IP, which counts as a host network. Blank entries are skipped.
func NewClientIPResolver(entries []string) (*ClientIPResolver, error) {
	resolver := &ClientIPResolver{}
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("parsing trusted proxy %q: not an IP or CIDR", entry)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			entry = fmt.Sprintf("%s/%d", ip, bits)
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("parsing trusted proxy %q: %w", entry, err)
		}
		resolver.trusted = append(resolver.trusted, network)
	}
	return resolver, nil
}

// Resolve returns the address the identity service hashes: the first
// parseable X-Forwarded-For hop (or X-Real-IP) when the peer is a trusted
// proxy, the peer address otherwise. Nil means the request carried no
// parseable address at all.
func (r *ClientIPResolver) Resolve(req *http.Request) net.IP {
	peer := peerIP(req.RemoteAddr)
	if peer == nil {
		return nil
	}
	if !r.isTrustedProxy(peer) {
		return peer
	}

	for _, hop := range strings.Split(req.Header.Get("X-Forwarded-For"), ",") {
		if ip := net.ParseIP(strings.Trim(strings.TrimSpace(hop), `"`)); ip != nil {
			return ip
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(req.Header.Get("X-Real-IP"))); ip != nil {
		return ip
	}
	return peer
}

func (r *ClientIPResolver) isTrustedProxy(ip net.IP) bool {
	for _, network := range r.trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// peerIP extracts the IP from a RemoteAddr, which carries a port on a real
// connection but may be bare in tests.
func peerIP(remoteAddr string) net.IP {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return net.ParseIP(host)
	}
	return net.ParseIP(remoteAddr)
}
