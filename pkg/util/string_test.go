package util

import "testing"

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "****"},
		{"abcd", "****"},
		{"sk-abcdef1234", "****1234"},
		{"pässwörd", "****wörd"},
	}
	for _, tt := range tests {
		if got := MaskSecret(tt.in); got != tt.want {
			t.Errorf("MaskSecret(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"hello", 2, "he"},
		{"hello", 0, ""},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q; want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestNormalizePlatform(t *testing.T) {
	tests := map[string]string{
		"Twitter":  "twitter",
		" X ":      "twitter",
		"bsky":     "bluesky",
		"LinkedIn": "linkedin",
		"mastodon": "mastodon",
	}
	for in, want := range tests {
		if got := NormalizePlatform(in); got != want {
			t.Errorf("NormalizePlatform(%q) = %q; want %q", in, got, want)
		}
	}
}
