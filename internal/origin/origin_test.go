package origin

import (
	"net/http/httptest"
	"testing"
)

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantOrigin string
		wantHost   string
		wantOK     bool
	}{
		{name: "simple http", header: "http://example.com", wantOrigin: "http://example.com", wantHost: "example.com", wantOK: true},
		{name: "uppercase normalized", header: "HTTP://EXAMPLE.com", wantOrigin: "http://example.com", wantHost: "example.com", wantOK: true},
		{name: "default http port stripped", header: "http://example.com:80", wantOrigin: "http://example.com", wantHost: "example.com", wantOK: true},
		{name: "default https port stripped", header: "https://example.com:443", wantOrigin: "https://example.com", wantHost: "example.com", wantOK: true},
		{name: "non-default port kept", header: "http://example.com:3001", wantOrigin: "http://example.com:3001", wantHost: "example.com:3001", wantOK: true},
		{name: "ipv6 literal", header: "http://[::1]:3001", wantOrigin: "http://[::1]:3001", wantHost: "[::1]:3001", wantOK: true},
		{name: "null origin", header: "null", wantOrigin: "null", wantHost: "", wantOK: true},
		{name: "trailing slash ok", header: "http://example.com/", wantOrigin: "http://example.com", wantHost: "example.com", wantOK: true},
		{name: "empty", header: "", wantOK: false},
		{name: "no scheme", header: "example.com", wantOK: false},
		{name: "non-http scheme", header: "ftp://example.com", wantOK: false},
		{name: "path rejected", header: "http://example.com/chat", wantOK: false},
		{name: "userinfo rejected", header: "http://user@example.com", wantOK: false},
		{name: "query rejected", header: "http://example.com?x=1", wantOK: false},
		{name: "zero port rejected", header: "http://example.com:0", wantOK: false},
		{name: "unclosed ipv6 bracket", header: "http://[::1", wantOK: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gotOrigin, gotHost, ok := NormalizeHeader(tc.header)
			if ok != tc.wantOK {
				t.Fatalf("NormalizeHeader(%q) ok = %v, want %v", tc.header, ok, tc.wantOK)
			}
			if !tc.wantOK {
				return
			}
			if gotOrigin != tc.wantOrigin || gotHost != tc.wantHost {
				t.Fatalf("NormalizeHeader(%q) = (%q, %q), want (%q, %q)", tc.header, gotOrigin, gotHost, tc.wantOrigin, tc.wantHost)
			}
		})
	}
}

func TestIsAllowed_SameHostDefault(t *testing.T) {
	tests := []struct {
		name        string
		origin      string
		requestHost string
		want        bool
	}{
		{name: "same host", origin: "http://example.com:3001", requestHost: "example.com:3001", want: true},
		{name: "different host", origin: "http://evil.example:3001", requestHost: "example.com:3001", want: false},
		{name: "different port", origin: "http://example.com:4000", requestHost: "example.com:3001", want: false},
		{name: "default port equivalence", origin: "http://example.com", requestHost: "example.com:80", want: true},
		{name: "null never matches", origin: "null", requestHost: "example.com", want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			normalized, host, ok := NormalizeHeader(tc.origin)
			if !ok && tc.origin != "null" {
				t.Fatalf("NormalizeHeader(%q) rejected", tc.origin)
			}
			if got := IsAllowed(normalized, host, tc.requestHost, nil); got != tc.want {
				t.Fatalf("IsAllowed(%q, host %q) = %v, want %v", tc.origin, tc.requestHost, got, tc.want)
			}
		})
	}
}

func TestIsAllowed_Allowlist(t *testing.T) {
	allowed := []string{"https://chat.example.com", "http://localhost:3000"}

	if !IsAllowed("https://chat.example.com", "chat.example.com", "relay.internal:3001", allowed) {
		t.Fatalf("expected allowlisted origin to pass")
	}
	if IsAllowed("https://other.example.com", "other.example.com", "relay.internal:3001", allowed) {
		t.Fatalf("expected non-listed origin to fail")
	}
	if !IsAllowed("https://anything.example", "anything.example", "relay.internal:3001", []string{"*"}) {
		t.Fatalf("expected wildcard to allow any origin")
	}
}

func TestCheckRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "http://example.com:3001/chat", nil)
	if !CheckRequest(r, nil) {
		t.Fatalf("expected request without Origin to be allowed")
	}

	r.Header.Set("Origin", "http://example.com:3001")
	if !CheckRequest(r, nil) {
		t.Fatalf("expected same-host origin to be allowed")
	}

	r.Header.Set("Origin", "http://evil.example")
	if CheckRequest(r, nil) {
		t.Fatalf("expected cross-host origin to be rejected")
	}

	r.Header.Set("Origin", "not a url")
	if CheckRequest(r, nil) {
		t.Fatalf("expected malformed origin to be rejected")
	}
}
