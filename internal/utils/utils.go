// internal/utils/utils.go
package utils

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ErrRelativeURL is returned when a relative link has no base to resolve
// against.
var ErrRelativeURL = errors.New("relative URL without base")

var invalidFileChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// BaseContext returns scheme://host of rawURL, the default base for
// resolving links found on a page.
func BaseContext(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%q is not an absolute URL", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

// ResolveURL resolves href against base. Absolute links pass through
// unchanged. An empty base only accepts absolute links.
func ResolveURL(base, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("invalid link %q: %w", href, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if base == "" {
		return "", fmt.Errorf("%w: %q", ErrRelativeURL, href)
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base %q: %w", base, err)
	}
	return b.ResolveReference(ref).String(), nil
}

// IsValidURL checks if a string is an absolute http(s) URL
func IsValidURL(str string) bool {
	u, err := url.Parse(str)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ExtractDomain extracts the host from a URL
func ExtractDomain(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}

// CleanFileName removes invalid characters from a filename
func CleanFileName(name string) string {
	cleaned := invalidFileChars.ReplaceAllString(name, "_")
	cleaned = strings.Trim(strings.TrimSpace(cleaned), ".")
	if len(cleaned) > 200 {
		cleaned = cleaned[:200]
	}
	if cleaned == "" {
		cleaned = "output"
	}
	return cleaned
}

// GenerateOutputFileName generates a filename based on URL and timestamp
func GenerateOutputFileName(rawURL string, ext string, now time.Time) string {
	domain, err := ExtractDomain(rawURL)
	if err != nil || domain == "" {
		domain = "output"
	}
	return fmt.Sprintf("%s_%s.%s", CleanFileName(domain), now.Format("20060102_150405"), ext)
}

// TruncateString truncates a string to a maximum length
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
