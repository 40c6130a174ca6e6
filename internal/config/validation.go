// internal/config/validation.go
package config

import (
	"fmt"
	"strings"

	"github.com/tycho01/parsz/internal/proxy"
	"github.com/tycho01/parsz/internal/utils"
)

// ValidationError represents a detailed validation error
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ve.Field, ve.Message)
}

var outputFormats = []string{
	FormatJSON, FormatYAML, FormatExcel,
	FormatSQLite, FormatPostgres, FormatMySQL, FormatMSSQL,
	FormatMongoDB,
}

// Validate checks the configuration. The returned error wraps
// ErrInvalidConfig and lists every problem found.
func (c *Config) Validate() error {
	errs := ValidateConfig(c)
	if len(errs) == 0 {
		return nil
	}

	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// ValidateConfig validates a configuration and returns detailed error information
func ValidateConfig(c *Config) []ValidationError {
	if c == nil {
		return []ValidationError{{Field: "config", Message: "configuration cannot be nil"}}
	}

	var errs []ValidationError
	add := func(field, value, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if _, err := utils.ParseLevel(c.LogLevel); err != nil {
		add("log_level", c.LogLevel, "must be one of debug, info, warn, error")
	}
	if c.Context != "" && !utils.IsValidURL(c.Context) {
		add("context", c.Context, "must be an absolute http(s) URL")
	}

	h := c.HTTP
	if h.Timeout < 0 {
		add("http.timeout", h.Timeout.String(), "cannot be negative")
	}
	if h.RetryAttempts < 0 {
		add("http.retry_attempts", fmt.Sprint(h.RetryAttempts), "cannot be negative")
	}
	if h.RateLimit < 0 {
		add("http.rate_limit", fmt.Sprint(h.RateLimit), "cannot be negative")
	}
	if h.Burst < 0 {
		add("http.burst", fmt.Sprint(h.Burst), "cannot be negative")
	}
	if h.MaxConcurrency < 0 {
		add("http.max_concurrency", fmt.Sprint(h.MaxConcurrency), "cannot be negative")
	}
	if h.MaxBodyBytes < 0 {
		add("http.max_body_bytes", fmt.Sprint(h.MaxBodyBytes), "cannot be negative")
	}

	if err := proxy.ValidateConfig(h.Proxy); err != nil {
		add("http.proxy", "", err.Error())
	}
	if c.Security.MaxURLLength < 0 {
		add("security.max_url_length", fmt.Sprint(c.Security.MaxURLLength), "cannot be negative")
	}

	if c.Browser.Timeout < 0 {
		add("browser.timeout", c.Browser.Timeout.String(), "cannot be negative")
	}

	o := c.Output
	switch {
	case !contains(outputFormats, o.Format):
		add("output.format", o.Format, "must be one of "+strings.Join(outputFormats, ", "))
	case o.Format == FormatExcel && o.File == "":
		add("output.file", "", "excel output requires a file")
	case o.IsDatabase() && o.DSN == "":
		add("output.dsn", "", o.Format+" output requires a dsn")
	case o.Format == FormatMongoDB && (o.URI == "" || o.Database == ""):
		add("output.uri", o.URI, "mongodb output requires uri and database")
	}
	if o.IsDatabase() && !isIdentifier(o.Table) {
		add("output.table", o.Table, "must be a plain SQL identifier")
	}

	if c.Server.RateLimit < 0 {
		add("server.rate_limit", fmt.Sprint(c.Server.RateLimit), "cannot be negative")
	}
	if c.Server.MaxBodyBytes < 0 {
		add("server.max_body_bytes", fmt.Sprint(c.Server.MaxBodyBytes), "cannot be negative")
	}

	return errs
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
