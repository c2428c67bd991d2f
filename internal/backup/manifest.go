package backup

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// AckPhrase precedes the manifest line in the server's save query response.
const AckPhrase = "Data saved. Files are now ready to be copied."

var manifestToken = regexp.MustCompile(`(\w[\w\s/.-]*):(\d+)`)

// ManifestEntry is one world file the server reported safe to copy, with the
// number of bytes that are valid in it.
type ManifestEntry struct {
	Path   string `json:"path"` // relative to the worlds directory, slash separated
	Length uint64 `json:"length"`
}

// NewManifestEntry validates a manifest entry. The path must stay inside the
// worlds directory.
func NewManifestEntry(p string, length int64) (ManifestEntry, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return ManifestEntry{}, fmt.Errorf("%w: empty path", ErrManifestParse)
	}
	if length < 0 {
		return ManifestEntry{}, fmt.Errorf("%w: negative length %d for %s", ErrManifestParse, length, p)
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return ManifestEntry{}, fmt.Errorf("%w: path %q is not relative", ErrManifestParse, p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return ManifestEntry{}, fmt.Errorf("%w: path %q escapes the worlds directory", ErrManifestParse, p)
	}

	return ManifestEntry{Path: cleaned, Length: uint64(length)}, nil
}

// ParseManifest extracts path:length tokens from a manifest line, in order.
func ParseManifest(line string) ([]ManifestEntry, error) {
	matches := manifestToken.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no files in %q", ErrManifestParse, truncateForError(line))
	}

	entries := make([]ManifestEntry, 0, len(matches))
	for _, match := range matches {
		length, err := strconv.ParseInt(match[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad length for %s: %v", ErrManifestParse, match[1], err)
		}
		entry, err := NewManifestEntry(match[1], length)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// LevelName is the first entry's path up to its first slash.
func LevelName(manifest []ManifestEntry) string {
	if len(manifest) == 0 {
		return ""
	}
	level, _, _ := strings.Cut(manifest[0].Path, "/")
	return level
}

// TotalBytes sums the valid lengths of a manifest.
func TotalBytes(manifest []ManifestEntry) int64 {
	var total int64
	for _, entry := range manifest {
		total += int64(entry.Length)
	}
	return total
}

func truncateForError(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
