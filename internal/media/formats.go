package media

import (
	"path/filepath"
	"strings"
)

// SampleRate is the fixed rate the enhancement model expects.
const SampleRate = 44100

// allowed upload containers
var allowedExtensions = map[string]string{
	".mp4": "video/mp4",
	".mov": "video/quicktime",
}

// IsAllowedVideo reports whether the filename has a supported container extension.
func IsAllowedVideo(filename string) bool {
	_, ok := allowedExtensions[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Ext returns the lowercased extension of filename without the dot.
func Ext(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

// ContentType returns the MIME type for a supported container, or
// application/octet-stream for anything else.
func ContentType(filename string) string {
	if ct, ok := allowedExtensions[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// EnhancedName returns the download filename for an enhanced artifact,
// matching the original upload name with an enhanced_ prefix.
func EnhancedName(original string) string {
	return "enhanced_" + filepath.Base(original)
}

// SanitizeFilename strips path separators and control characters from an
// uploaded filename so it is safe to echo back in headers and paths.
func SanitizeFilename(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, name)
}
