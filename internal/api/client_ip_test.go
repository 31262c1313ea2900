package api

import (
	"net/http/httptest"
	"testing"
)

func TestResolveHonorsTrustedProxiesOnly(t *testing.T) {
	tests := []struct {
		name       string
		trusted    []string
		remoteAddr string
		forwarded  string
		realIP     string
		want       string
	}{
		{
			name:       "direct_connection_ignores_headers",
			remoteAddr: "203.0.113.7:40312",
			forwarded:  "198.51.100.5",
			realIP:     "198.51.100.6",
			want:       "203.0.113.7",
		},
		{
			name:       "trusted_cidr_uses_first_forwarded_hop",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.1.2.3:443",
			forwarded:  "198.51.100.5, 10.1.2.3",
			want:       "198.51.100.5",
		},
		{
			name:       "bare_ip_entry_counts_as_host_network",
			trusted:    []string{"172.30.0.10"},
			remoteAddr: "172.30.0.10:12345",
			forwarded:  "198.51.100.8",
			want:       "198.51.100.8",
		},
		{
			name:       "untrusted_peer_keeps_own_address",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "203.0.113.7:40312",
			forwarded:  "198.51.100.5",
			want:       "203.0.113.7",
		},
		{
			name:       "real_ip_fallback_behind_trusted_proxy",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.1.2.3:443",
			realIP:     "198.51.100.6",
			want:       "198.51.100.6",
		},
		{
			name:       "garbage_forwarded_falls_back_to_peer",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.1.2.3:443",
			forwarded:  "not-an-ip",
			want:       "10.1.2.3",
		},
		{
			name:       "ipv6_peer",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
		{
			name:       "quoted_ipv6_forwarded_hop",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.1.2.3:443",
			forwarded:  `"2001:db8::2"`,
			want:       "2001:db8::2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver, err := NewClientIPResolver(tt.trusted)
			if err != nil {
				t.Fatalf("NewClientIPResolver(%v) error = %v", tt.trusted, err)
			}

			req := httptest.NewRequest("GET", "http://localhost/ws", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}

			got := resolver.Resolve(req)
			if got == nil || got.String() != tt.want {
				t.Fatalf("Resolve() = %v, want %s", got, tt.want)
			}
		})
	}
}

func TestNewClientIPResolverRejectsInvalidEntry(t *testing.T) {
	if _, err := NewClientIPResolver([]string{"not-a-cidr"}); err == nil {
		t.Fatal("NewClientIPResolver with an invalid entry succeeded, want error")
	}
}

func TestNewClientIPResolverSkipsBlankEntries(t *testing.T) {
	resolver, err := NewClientIPResolver([]string{"", "  "})
	if err != nil {
		t.Fatalf("NewClientIPResolver() error = %v", err)
	}

	req := httptest.NewRequest("GET", "http://localhost/ws", nil)
	req.RemoteAddr = "203.0.113.7:40312"
	if got := resolver.Resolve(req); got == nil || got.String() != "203.0.113.7" {
		t.Fatalf("Resolve() = %v, want 203.0.113.7", got)
	}
}

func TestResolveUnparseableRemoteAddr(t *testing.T) {
	resolver, err := NewClientIPResolver(nil)
	if err != nil {
		t.Fatalf("NewClientIPResolver() error = %v", err)
	}

	req := httptest.NewRequest("GET", "http://localhost/ws", nil)
	req.RemoteAddr = "bogus"
	if got := resolver.Resolve(req); got != nil {
		t.Fatalf("Resolve() = %v, want nil for unparseable peer", got)
	}
}
