package util

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.5"})
	if err != nil {
		t.Fatalf("parse trusted proxies: %v", err)
	}
	cases := []struct {
		name    string
		remote  string
		xff     string
		realIP  string
		trusted *TrustedProxies
		want    string
	}{
		{name: "direct peer", remote: "203.0.113.7:5123", want: "203.0.113.7"},
		{name: "untrusted peer ignores headers", remote: "203.0.113.7:5123", xff: "1.2.3.4", trusted: trusted, want: "203.0.113.7"},
		{name: "trusted proxy forwards", remote: "10.1.2.3:80", xff: "198.51.100.9", trusted: trusted, want: "198.51.100.9"},
		{name: "skips trusted hops", remote: "10.1.2.3:80", xff: "198.51.100.9, 192.168.1.5", trusted: trusted, want: "198.51.100.9"},
		{name: "spoofed left entry ignored", remote: "10.1.2.3:80", xff: "6.6.6.6, 198.51.100.9", trusted: trusted, want: "198.51.100.9"},
		{name: "all hops trusted", remote: "10.1.2.3:80", xff: "10.9.9.9", trusted: trusted, want: "10.9.9.9"},
		{name: "real ip fallback", remote: "192.168.1.5:80", realIP: "198.51.100.10", trusted: trusted, want: "198.51.100.10"},
		{name: "mapped ipv4", remote: "[::ffff:203.0.113.8]:1", want: "203.0.113.8"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	if tp, err := NewTrustedProxies([]string{" ", ""}); err != nil || tp != nil {
		t.Fatalf("empty input = %v, %v; want nil, nil", tp, err)
	}
	if _, err := NewTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Fatalf("expected parse error")
	}
}
