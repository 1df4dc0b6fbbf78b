// Package source classifies input references before any network or
// filesystem work happens. Validation is purely syntactic.
package source

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// Kind describes how a validated reference should be acquired.
type Kind int

const (
	// KindPlatformURL is a URL on an allow-listed video platform.
	KindPlatformURL Kind = iota
	// KindDirectURL is an http(s) URL pointing straight at a media file.
	KindDirectURL
	// KindUpload is a user-supplied file that bypasses acquisition.
	KindUpload
)

func (k Kind) String() string {
	switch k {
	case KindPlatformURL:
		return "platform-url"
	case KindDirectURL:
		return "direct-url"
	case KindUpload:
		return "upload"
	}
	return "unknown"
}

// Reference is a validated input reference.
type Reference struct {
	Raw  string
	Kind Kind
	URL  *url.URL // nil for uploads
}

// InvalidReferenceError reports an unsupported or malformed reference.
// The message is user-facing and names what is supported.
type InvalidReferenceError struct {
	Reference  string
	Reason     string
	Platforms  []string
	Extensions []string
}

func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("invalid reference: %s (supported platforms: %s; supported files: %s)",
		e.Reason, strings.Join(e.Platforms, ", "), strings.Join(e.Extensions, ", "))
}

// Validate checks a URL reference against the platform allow-list and the
// supported direct-file extensions. No network access occurs.
func Validate(ref string, platforms, extensions []string) (*Reference, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, &InvalidReferenceError{
			Reference: ref, Reason: "empty reference",
			Platforms: platforms, Extensions: extensions,
		}
	}

	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &InvalidReferenceError{
			Reference: ref, Reason: "not a valid URL",
			Platforms: platforms, Extensions: extensions,
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &InvalidReferenceError{
			Reference: ref, Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme),
			Platforms: platforms, Extensions: extensions,
		}
	}

	host := strings.ToLower(u.Host)
	for _, p := range platforms {
		if host == p || strings.HasSuffix(host, "."+p) || strings.Contains(host, p) {
			return &Reference{Raw: ref, Kind: KindPlatformURL, URL: u}, nil
		}
	}

	if hasSupportedExtension(u.Path, extensions) {
		return &Reference{Raw: ref, Kind: KindDirectURL, URL: u}, nil
	}

	return nil, &InvalidReferenceError{
		Reference: ref, Reason: "host is not a supported platform and the URL is not a supported media file",
		Platforms: platforms, Extensions: extensions,
	}
}

// ValidateUpload checks a user-supplied filename for a supported media
// extension.
func ValidateUpload(filename string, platforms, extensions []string) (*Reference, error) {
	name := strings.TrimSpace(filename)
	if name == "" || !hasSupportedExtension(name, extensions) {
		return nil, &InvalidReferenceError{
			Reference: filename, Reason: "uploaded file has an unsupported extension",
			Platforms: platforms, Extensions: extensions,
		}
	}
	return &Reference{Raw: filename, Kind: KindUpload}, nil
}

func hasSupportedExtension(path string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	for _, e := range extensions {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

var unsafeFilenameRE = regexp.MustCompile(`[<>:"/\\|?*]`)

// SanitizeFilename replaces characters that are unsafe in filenames and
// caps the length, matching what acquisition strategies do with media
// titles.
func SanitizeFilename(name string) string {
	name = unsafeFilenameRE.ReplaceAllString(name, "_")
	if len(name) > 100 {
		name = name[:100]
	}
	return name
}
