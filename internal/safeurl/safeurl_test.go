package safeurl

import (
	"net/url"
	"testing"
)

func TestIsHTTPOrHTTPS(t *testing.T) {
	tests := []struct {
		url   string
		allow bool
	}{
		{"http://example.com/", true},
		{"https://example.com/path", true},
		{"HTTP://x", true},
		{"HTTPS://x", true},
		{"file:///etc/passwd", false},
		{"ftp://example.com", false},
		{"", false},
		{"not-a-url", false},
		{"javascript:alert(1)", false},
	}
	for _, tt := range tests {
		got := IsHTTPOrHTTPS(tt.url)
		if got != tt.allow {
			t.Errorf("IsHTTPOrHTTPS(%q) = %v, want %v", tt.url, got, tt.allow)
		}
	}
}

func TestOrigin(t *testing.T) {
	tests := map[string]string{
		"http://Panel.Example.com:8080/player_api.php?username=u": "http://panel.example.com:8080",
		"https://x.tv/get.php":                                    "https://x.tv",
		"/relative/path":                                          "",
	}
	for in, want := range tests {
		u, err := url.Parse(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got := Origin(u); got != want {
			t.Errorf("Origin(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://h:8080/get.php?username=u&password=secret", "http://h:8080/get.php?password=xxxxx&username=u"},
		{"http://h/live/u/secret/10.ts", "http://h/live/u/xxxxx/10.ts"},
		{"http://user:secret@h/", "http://user:xxxxx@h/"},
		{"http://h/player_api.php", "http://h/player_api.php"},
	}
	for _, tt := range tests {
		if got := Redact(tt.in); got != tt.want {
			t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
