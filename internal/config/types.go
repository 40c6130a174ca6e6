// internal/config/types.go

// Package config provides the runtime configuration for parsz: how documents
// are fetched, how extraction behaves, where results are written and what the
// service exposes. Configuration is read from YAML and may be overridden by
// PARSZ_* environment variables.
package config

import (
	"time"

	"github.com/tycho01/parsz/internal/proxy"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "PARSZ"

// Output formats.
const (
	FormatJSON     = "json"
	FormatYAML     = "yaml"
	FormatExcel    = "excel"
	FormatSQLite   = "sqlite"
	FormatPostgres = "postgres"
	FormatMySQL    = "mysql"
	FormatMSSQL    = "mssql"
	FormatMongoDB  = "mongodb"
)

// Config is the top-level configuration.
type Config struct {
	// Context is the base URL relative links are resolved against. Empty
	// means the scheme and host of the target URL.
	Context string `yaml:"context,omitempty" json:"context,omitempty" envconfig:"CONTEXT"`

	LogLevel string `yaml:"log_level" json:"log_level" envconfig:"LOG_LEVEL"`

	// Optional treats every key as optional.
	Optional bool `yaml:"optional,omitempty" json:"optional,omitempty" envconfig:"OPTIONAL"`

	// AllowExpressions enables sandboxed transform expressions.
	AllowExpressions bool `yaml:"allow_expressions,omitempty" json:"allow_expressions,omitempty" envconfig:"ALLOW_EXPRESSIONS"`

	HTTP    HTTPConfig    `yaml:"http" json:"http" envconfig:"HTTP"`
	Browser BrowserConfig `yaml:"browser" json:"browser" envconfig:"BROWSER"`
	Output  OutputConfig  `yaml:"output" json:"output" envconfig:"OUTPUT"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics" envconfig:"METRICS"`
	Server  ServerConfig  `yaml:"server" json:"server" envconfig:"SERVER"`

	Security SecurityConfig `yaml:"security" json:"security" envconfig:"SECURITY"`
}

// HTTPConfig configures the HTTP fetcher.
type HTTPConfig struct {
	Timeout        time.Duration     `yaml:"timeout" json:"timeout" envconfig:"TIMEOUT"`
	RetryAttempts  int               `yaml:"retry_attempts" json:"retry_attempts" envconfig:"RETRY_ATTEMPTS"`
	RetryWait      time.Duration     `yaml:"retry_wait" json:"retry_wait" envconfig:"RETRY_WAIT"`
	RateLimit      float64           `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty" envconfig:"RATE_LIMIT"`
	Burst          int               `yaml:"burst" json:"burst" envconfig:"BURST"`
	MaxConcurrency int64             `yaml:"max_concurrency" json:"max_concurrency" envconfig:"MAX_CONCURRENCY"`
	MaxBodyBytes   int64             `yaml:"max_body_bytes" json:"max_body_bytes" envconfig:"MAX_BODY_BYTES"`
	UserAgents     []string          `yaml:"user_agents,omitempty" json:"user_agents,omitempty" envconfig:"USER_AGENTS"`
	Headers        map[string]string `yaml:"headers,omitempty" json:"headers,omitempty" envconfig:"HEADERS"`
	Cookies        map[string]string `yaml:"cookies,omitempty" json:"cookies,omitempty" envconfig:"COOKIES"`

	Proxy proxy.ProxyConfig `yaml:"proxy,omitempty" json:"proxy,omitempty" envconfig:"PROXY"`
}

// BrowserConfig configures the headless browser fetcher.
type BrowserConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled" envconfig:"ENABLED"`
	Headless     bool          `yaml:"headless" json:"headless" envconfig:"HEADLESS"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout" envconfig:"TIMEOUT"`
	WaitSelector string        `yaml:"wait_selector,omitempty" json:"wait_selector,omitempty" envconfig:"WAIT_SELECTOR"`
	UserAgent    string        `yaml:"user_agent,omitempty" json:"user_agent,omitempty" envconfig:"USER_AGENT"`
	ExecPath     string        `yaml:"exec_path,omitempty" json:"exec_path,omitempty" envconfig:"EXEC_PATH"`
}

// OutputConfig selects where records are written. File is used by the json,
// yaml and excel formats, DSN by the SQL formats, and URI, Database and
// Collection by mongodb.
type OutputConfig struct {
	Format     string `yaml:"format" json:"format" envconfig:"FORMAT"`
	File       string `yaml:"file,omitempty" json:"file,omitempty" envconfig:"FILE"`
	DSN        string `yaml:"dsn,omitempty" json:"dsn,omitempty" envconfig:"DSN"`
	Table      string `yaml:"table,omitempty" json:"table,omitempty" envconfig:"TABLE"`
	URI        string `yaml:"uri,omitempty" json:"uri,omitempty" envconfig:"URI"`
	Database   string `yaml:"database,omitempty" json:"database,omitempty" envconfig:"DATABASE"`
	Collection string `yaml:"collection,omitempty" json:"collection,omitempty" envconfig:"COLLECTION"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled" envconfig:"ENABLED"`
	Namespace string `yaml:"namespace" json:"namespace" envconfig:"NAMESPACE"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string        `yaml:"addr" json:"addr" envconfig:"ADDR"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" json:"max_body_bytes" envconfig:"MAX_BODY_BYTES"`
	// APIKey, when set, is required as a bearer token on /api routes.
	APIKey string `yaml:"api_key,omitempty" json:"-" envconfig:"API_KEY"`
	// RateLimit caps API requests per second. Zero disables the limit.
	RateLimit float64 `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty" envconfig:"RATE_LIMIT"`
	Burst     int     `yaml:"burst,omitempty" json:"burst,omitempty" envconfig:"BURST"`
}

// SecurityConfig restricts which URLs may be fetched, including the targets
// of remote keys found in fetched pages.
type SecurityConfig struct {
	BlockPrivateNetworks bool     `yaml:"block_private_networks" json:"block_private_networks" envconfig:"BLOCK_PRIVATE_NETWORKS"`
	BlockedDomains       []string `yaml:"blocked_domains,omitempty" json:"blocked_domains,omitempty" envconfig:"BLOCKED_DOMAINS"`
	MaxURLLength         int      `yaml:"max_url_length,omitempty" json:"max_url_length,omitempty" envconfig:"MAX_URL_LENGTH"`
}

// Enabled reports whether any restriction is configured.
func (s SecurityConfig) Enabled() bool {
	return s.BlockPrivateNetworks || len(s.BlockedDomains) > 0 || s.MaxURLLength > 0
}

// IsDatabase reports whether the format writes to a SQL database.
func (o OutputConfig) IsDatabase() bool {
	switch o.Format {
	case FormatSQLite, FormatPostgres, FormatMySQL, FormatMSSQL:
		return true
	}
	return false
}
