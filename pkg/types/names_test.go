package types

import (
	"strings"
	"testing"
	"time"
)

func TestValidatePodName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"simple", "alice", true},
		{"with digits", "pod42", true},
		{"internal hyphen", "my-pod", true},
		{"single char", "a", true},
		{"empty", "", false},
		{"leading hyphen", "-pod", false},
		{"trailing hyphen", "pod-", false},
		{"uppercase", "Alice", false},
		{"underscore", "my_pod", false},
		{"dot", "my.pod", false},
		{"too long", strings.Repeat("a", 64), false},
		{"max length", strings.Repeat("a", 63), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidatePodName(tt.input); got != tt.want {
				t.Errorf("ValidatePodName(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateStreamSegment(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"blog", true},
		{".config", true},
		{"My_Stream-2.0", true},
		{"", false},
		{".", false},
		{"..", false},
		{"has space", false},
		{"sla/sh", false},
	}

	for _, tt := range tests {
		if got := ValidateStreamSegment(tt.input); got != tt.want {
			t.Errorf("ValidateStreamSegment(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestValidateRecordName(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"home.html", true},
		{"x", true},
		{"x.deleted.1700000000000", true},
		{"", false},
		{".hidden", false},
		{"trailing.", false},
		{"with/slash", false},
		{"query?x", false},
		{strings.Repeat("n", 256), true},
		{strings.Repeat("n", 257), false},
	}

	for _, tt := range tests {
		if got := ValidateRecordName(tt.input); got != tt.want {
			t.Errorf("ValidateRecordName(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestIsSystemPath(t *testing.T) {
	if !IsSystemPath("/.config") || !IsSystemPath("/.config/owner") {
		t.Error("config paths not detected as system")
	}
	if IsSystemPath("/blog") || IsSystemPath("/blog/.config") {
		t.Error("non-root config path misdetected as system")
	}
}

func TestSplitJoinPath(t *testing.T) {
	segments := SplitPath("/a/b/c")
	if len(segments) != 3 || segments[0] != "a" || segments[2] != "c" {
		t.Errorf("SplitPath() = %v", segments)
	}
	if got := JoinPath(segments); got != "/a/b/c" {
		t.Errorf("JoinPath() = %v", got)
	}
	if got := SplitPath("/"); got != nil {
		t.Errorf("SplitPath(/) = %v, want nil", got)
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 678_000_000, time.FixedZone("X", 3600))
	got := FormatTimestamp(ts)
	if got != "2025-01-02T02:04:05.678Z" {
		t.Errorf("FormatTimestamp() = %v", got)
	}

	// Round trip through the canonical layout is lossless at millisecond
	// precision
	parsed, err := time.Parse(TimestampFormat, got)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if FormatTimestamp(parsed) != got {
		t.Error("timestamp did not round-trip")
	}
}
