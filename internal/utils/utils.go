package utils

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
)

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// SanitizeFileName collapses every run of characters that are unsafe in a file name into "_".
func SanitizeFileName(name string) string {
	return unsafeFileChars.ReplaceAllString(name, "_")
}

// TrackFileName maps a track ID to the file name used for its offline copy. IDs that
// needed sanitizing get a hash suffix so distinct IDs never share a file.
func TrackFileName(trackID, ext string) (string, error) {
	trackID = strings.TrimSpace(trackID)
	if trackID == "" {
		return "", ErrInvalidTrackID
	}
	if ext == "" {
		ext = ".audio"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	base := SanitizeFileName(trackID)
	if base != trackID {
		h := fnv.New32a()
		h.Write([]byte(trackID))
		base = fmt.Sprintf("%s-%08x", base, h.Sum32())
	}
	return base + ext, nil
}

// NormalizeEnum returns a lower-cased, trimmed enum value as typed by a user or env var.
func NormalizeEnum(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
