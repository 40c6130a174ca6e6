// pkg/types/types.go
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/tycho01/parsz/internal/parselet"
	"github.com/tycho01/parsz/internal/scraper"
)

// OutputFormat represents supported output formats
type OutputFormat string

const (
	FormatJSON     OutputFormat = "json"
	FormatYAML     OutputFormat = "yaml"
	FormatExcel    OutputFormat = "excel"
	FormatSQLite   OutputFormat = "sqlite"
	FormatPostgres OutputFormat = "postgres"
	FormatMySQL    OutputFormat = "mysql"
	FormatMSSQL    OutputFormat = "mssql"
	FormatMongoDB  OutputFormat = "mongodb"
)

// ValidOutputFormats returns all valid output format values
func ValidOutputFormats() []OutputFormat {
	return []OutputFormat{
		FormatJSON, FormatYAML, FormatExcel,
		FormatSQLite, FormatPostgres, FormatMySQL, FormatMSSQL,
		FormatMongoDB,
	}
}

// IsValid checks if the output format is valid
func (of OutputFormat) IsValid() bool {
	for _, valid := range ValidOutputFormats() {
		if of == valid {
			return true
		}
	}
	return false
}

// IsFile reports whether the format writes to a local file.
func (of OutputFormat) IsFile() bool {
	switch of {
	case FormatJSON, FormatYAML, FormatExcel:
		return true
	}
	return false
}

// GetFileExtension returns the appropriate file extension for the format
func (of OutputFormat) GetFileExtension() string {
	switch of {
	case FormatJSON:
		return ".json"
	case FormatYAML:
		return ".yaml"
	case FormatExcel:
		return ".xlsx"
	case FormatSQLite:
		return ".db"
	default:
		return ""
	}
}

// FormatFromFileName guesses the output format from a file extension.
// It returns false for unknown extensions.
func FormatFromFileName(name string) (OutputFormat, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".xlsx":
		return FormatExcel, true
	case ".db", ".sqlite", ".sqlite3":
		return FormatSQLite, true
	}
	return "", false
}

// Duration represents a time duration with JSON marshaling support
type Duration time.Duration

// MarshalJSON implements json.Marshaler interface
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler interface
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	duration, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration format: %s", s)
	}

	*d = Duration(duration)
	return nil
}

// String returns the string representation of the duration
func (d Duration) String() string {
	return time.Duration(d).String()
}

// ExtractRequest is the body of POST /api/v1/extract. Exactly one of URL
// and HTML is set.
type ExtractRequest struct {
	// Parselet is a JSON object; key order is significant.
	Parselet json.RawMessage `json:"parselet"`
	URL      string          `json:"url,omitempty"`
	HTML     string          `json:"html,omitempty"`
	Context  string          `json:"context,omitempty"`
	Optional bool            `json:"optional,omitempty"`
}

// Validate checks the request shape. The parselet itself is checked when
// it is parsed.
func (r *ExtractRequest) Validate() error {
	var errs []error
	if len(r.Parselet) == 0 || string(r.Parselet) == "null" {
		errs = append(errs, errors.New("parselet is required"))
	}
	switch {
	case r.URL == "" && r.HTML == "":
		errs = append(errs, errors.New("one of url or html is required"))
	case r.URL != "" && r.HTML != "":
		errs = append(errs, errors.New("url and html are mutually exclusive"))
	case r.URL != "":
		if u, err := url.Parse(r.URL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("invalid url %q", r.URL))
		}
	}
	return errors.Join(errs...)
}

// ExtractResponse is the result of a successful extraction.
type ExtractResponse struct {
	URL         string               `json:"url,omitempty"`
	Data        *parselet.Object     `json:"data"`
	Diagnostics []scraper.Diagnostic `json:"diagnostics"`
	Fetches     int64                `json:"fetches"`
	Duration    Duration             `json:"duration"`
}

// NewExtractResponse converts an engine result.
func NewExtractResponse(res *scraper.ScrapingResult) *ExtractResponse {
	diags := res.Diagnostics
	if diags == nil {
		diags = []scraper.Diagnostic{}
	}
	return &ExtractResponse{
		URL:         res.URL,
		Data:        res.Data,
		Diagnostics: diags,
		Fetches:     res.Metadata.RemoteFetches,
		Duration:    Duration(res.Metadata.RequestDuration + res.Metadata.ExtractionDuration),
	}
}

// ErrorResponse is returned with every non-2xx API status.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
