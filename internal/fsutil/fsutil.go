// Package fsutil provides path, directory and display helpers shared by the
// timeline tools.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

const (
	envCacheDir           = "TIMELINE_CACHE_DIR"
	appName               = "voice-timeline"
	defaultDirPermissions = 0o750
	nameReplacement       = '_'
)

// ErrUnsafeName indicates a name that cannot be used as a single path element.
var ErrUnsafeName = errors.New("name cannot be used as a file name")

// CacheDir returns the root directory for cached timelines: TIMELINE_CACHE_DIR
// when set, otherwise voice-timeline under the user cache directory, otherwise
// under the system temp directory.
func CacheDir() string {
	if dir := os.Getenv(envCacheDir); dir != "" {
		return dir
	}

	userCache, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appName)
	}

	return filepath.Join(userCache, appName)
}

// EnsureDir creates path and its parents when missing. An existing file at path
// is an error.
func EnsureDir(path string) error {
	err := os.MkdirAll(path, defaultDirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	return nil
}

// FormatSamples renders a sample count at rate as a wall-clock duration with
// millisecond precision, e.g. "1m2.5s".
func FormatSamples(samples int64, rate int) string {
	if rate <= 0 {
		return fmt.Sprintf("%d samples", samples)
	}

	seconds := float64(samples) / float64(rate)

	return time.Duration(seconds * float64(time.Second)).Round(time.Millisecond).String()
}

var sizeUnits = []string{"B", "KiB", "MiB", "GiB", "TiB"}

// FormatFileSize renders a byte count with binary units, e.g. "1.5 KiB".
func FormatFileSize(bytes int64) string {
	if bytes < 1024 {
		return fmt.Sprintf("%d B", bytes)
	}

	size := float64(bytes)
	unit := 0

	for size >= 1024 && unit < len(sizeUnits)-1 {
		size /= 1024
		unit++
	}

	return fmt.Sprintf("%.1f %s", size, sizeUnits[unit])
}

// HasExtension reports whether filename ends with one of exts, compared
// case-insensitively. Extensions include the leading dot.
func HasExtension(filename string, exts []string) bool {
	ext := filepath.Ext(filename)

	return slices.ContainsFunc(exts, func(candidate string) bool {
		return strings.EqualFold(candidate, ext)
	})
}

// Basename returns the file name without directory and extension.
func Basename(path string) string {
	base := filepath.Base(path)

	return strings.TrimSuffix(base, filepath.Ext(base))
}

// SafeName maps name to a single path element: every rune outside letters,
// digits, '.', '-' and '_' becomes '_'. Names that would still resolve to a
// directory ("", "." or "..") fail with ErrUnsafeName.
func SafeName(name string) (string, error) {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return nameReplacement
		}
	}, name)

	if safe == "" || safe == "." || safe == ".." {
		return "", fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}

	return safe, nil
}
