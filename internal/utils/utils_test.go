package utils

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Simple ASCII", "track42", "track42"},
		{"Dashes and underscores kept", "abc-def_01", "abc-def_01"},
		{"Spaces to underscores", "my track", "my_track"},
		{"Consecutive specials collapsed", "a!!!b", "a_b"},
		{"Slashes replaced", "../../etc/passwd", "_etc_passwd"},
		{"Dots replaced", "file.name", "file_name"},
		{"Empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeFileName(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestTrackFileName(t *testing.T) {
	tests := []struct {
		name     string
		trackID  string
		ext      string
		expected string
		wantErr  bool
	}{
		{"Default extension", "t1", "", "t1.audio", false},
		{"Extension without dot", "t1", "mp3", "t1.mp3", false},
		{"Extension with dot", "t1", ".flac", "t1.flac", false},
		{"Blank id", "  ", ".mp3", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := TrackFileName(tt.trackID, tt.ext)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTrackID) {
					t.Fatalf("TrackFileName(%q) error = %v, want ErrInvalidTrackID", tt.trackID, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("TrackFileName(%q) unexpected error: %v", tt.trackID, err)
			}
			if result != tt.expected {
				t.Errorf("TrackFileName(%q, %q) = %q, want %q", tt.trackID, tt.ext, result, tt.expected)
			}
		})
	}
}

func TestTrackFileName_UnsafeIDsDoNotCollide(t *testing.T) {
	first, err := TrackFileName("a/b", ".mp3")
	if err != nil {
		t.Fatal(err)
	}
	second, err := TrackFileName("a_b", ".mp3")
	if err != nil {
		t.Fatal(err)
	}
	third, err := TrackFileName("a b", ".mp3")
	if err != nil {
		t.Fatal(err)
	}

	if second != "a_b.mp3" {
		t.Errorf("safe id changed: %q", second)
	}
	if first == second || first == third {
		t.Errorf("collision: %q %q %q", first, second, third)
	}
	if !strings.HasPrefix(first, "a_b-") || !strings.HasSuffix(first, ".mp3") {
		t.Errorf("unexpected name %q", first)
	}
}

func TestWrapError(t *testing.T) {
	base := errors.New("disk full")
	wrapped := WrapError(WrapError(base, "inner", nil), "outer", map[string]any{"k": 1})

	if !errors.Is(wrapped, base) {
		t.Error("errors.Is should find the base error through WrappedError")
	}
	if got := wrapped.Error(); got != "outer: inner: disk full" {
		t.Errorf("Error() = %q, want %q", got, "outer: inner: disk full")
	}
	var we *WrappedError
	if !errors.As(wrapped, &we) || we.Context["k"] != 1 {
		t.Errorf("outer WrappedError context = %+v", we)
	}
}
