// internal/scraper/types.go
package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tycho01/parsz/internal/parselet"
	"github.com/tycho01/parsz/internal/pipeline"
)

// Page is a fetched document.
type Page struct {
	URL         string // final URL after redirects
	StatusCode  int
	ContentType string
	Body        []byte // UTF-8
}

// Fetcher retrieves remote documents. Implementations must be safe for
// concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) (*Page, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url string) (*Page, error) { return f(ctx, url) }

// ErrNotHTML is wrapped by FetchError when a response body is not markup.
var ErrNotHTML = errors.New("response is not an HTML document")

// FetchError reports a failed remote fetch. StatusCode is zero when no
// response was received.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Options is the traversal state threaded through extraction. It is passed
// by value; changing a field affects only the subtree it is passed to.
type Options struct {
	// Context is the base URL relative links are resolved against.
	Context string
	// Transforms resolves transform specifiers. Nil means the default set.
	Transforms pipeline.Registry
	// Optional suppresses missing-value diagnostics and downgrades fetch
	// and transform errors to diagnostics.
	Optional bool
	// AllowExpressions enables sandboxed transform expressions.
	AllowExpressions bool
}

// Diagnostic reasons.
const (
	ReasonMissing        = "missing"
	ReasonEmpty          = "empty"
	ReasonNoLink         = "no_link"
	ReasonFetchFailed    = "fetch_failed"
	ReasonTransformError = "transform_error"
)

// Diagnostic describes a value that could not be extracted. Diagnostics do
// not abort extraction.
type Diagnostic struct {
	Path      string `json:"path"`
	Selector  string `json:"selector,omitempty"`
	Attribute string `json:"attribute,omitempty"`
	URL       string `json:"url,omitempty"`
	Reason    string `json:"reason"`
	Message   string `json:"message,omitempty"`
	Optional  bool   `json:"optional,omitempty"`
}

func (d Diagnostic) String() string {
	s := fmt.Sprintf("%s: %s", d.Path, d.Reason)
	if d.Selector != "" {
		s += fmt.Sprintf(" (selector %q", d.Selector)
		if d.Attribute != "" {
			s += fmt.Sprintf(", attribute %q", d.Attribute)
		}
		s += ")"
	}
	if d.Message != "" {
		s += ": " + d.Message
	}
	return s
}

// Result is the output of one extraction.
type Result struct {
	Data          *parselet.Object `json:"data"`
	Diagnostics   []Diagnostic     `json:"diagnostics,omitempty"`
	RemoteFetches int64            `json:"remote_fetches,omitempty"`
}

// ScrapingResult is the result of extracting a parselet from a URL or an
// HTML string.
type ScrapingResult struct {
	URL         string           `json:"url"`
	StatusCode  int              `json:"status_code,omitempty"`
	Data        *parselet.Object `json:"data"`
	Diagnostics []Diagnostic     `json:"diagnostics,omitempty"`
	Metadata    ScrapingMetadata `json:"metadata"`
}

// ScrapingMetadata contains metadata about the scraping operation
type ScrapingMetadata struct {
	RequestDuration    time.Duration `json:"request_duration"`
	ExtractionDuration time.Duration `json:"extraction_duration"`
	ResponseSize       int64         `json:"response_size"`
	RemoteFetches      int64         `json:"remote_fetches"`
	Timestamp          time.Time     `json:"timestamp"`
}
