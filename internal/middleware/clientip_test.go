// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClientIPResolver_Invalid(t *testing.T) {
	for _, bad := range []string{"not-an-ip", "10.0.0.0/99"} {
		if _, err := NewClientIPResolver([]string{bad}); err == nil {
			t.Errorf("NewClientIPResolver(%q) error = nil", bad)
		}
	}
}

func TestClientIPResolver_ClientIP(t *testing.T) {
	resolver, err := NewClientIPResolver([]string{"10.0.0.0/8", "192.0.2.1", " "})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		remote string
		xff    string
		realIP string
		want   string
	}{
		{"direct_connection", "203.0.113.9:5555", "", "", "203.0.113.9"},
		{"untrusted_peer_ignores_xff", "203.0.113.9:5555", "198.51.100.7", "", "203.0.113.9"},
		{"trusted_peer_uses_xff", "10.1.2.3:443", "198.51.100.7", "", "198.51.100.7"},
		{"rightmost_untrusted_hop", "10.1.2.3:443", "1.1.1.1, 198.51.100.7, 10.9.9.9", "", "198.51.100.7"},
		{"trusted_single_address", "192.0.2.1:80", "198.51.100.7", "", "198.51.100.7"},
		{"falls_back_to_real_ip", "10.1.2.3:443", "", "198.51.100.8", "198.51.100.8"},
		{"garbage_headers", "10.1.2.3:443", "nope", "also-nope", "10.1.2.3"},
		{"ipv6_remote", "[2001:db8::1]:443", "", "", "2001:db8::1"},
		{"mapped_ipv4", "[::ffff:203.0.113.9]:443", "", "", "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := resolver.ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIPResolver_NoProxies(t *testing.T) {
	resolver, err := NewClientIPResolver(nil)
	if err != nil {
		t.Fatal(err)
	}
	if resolver.TrustsProxies() {
		t.Error("TrustsProxies() = true with no proxies")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:1234"
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	if got := resolver.ClientIP(req); got != "10.1.2.3" {
		t.Errorf("ClientIP() = %q, want 10.1.2.3", got)
	}
}
