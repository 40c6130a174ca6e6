// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/tycho01/parsz/internal/browser"
	"github.com/tycho01/parsz/internal/proxy"
	"github.com/tycho01/parsz/internal/scraper"
	"github.com/tycho01/parsz/internal/utils"
)

// ErrInvalidConfig is wrapped by every load and validation error.
var ErrInvalidConfig = errors.New("invalid configuration")

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := Config{Browser: BrowserConfig{Headless: true}}
	applyDefaults(&c)
	return &c
}

// Load reads configuration from filename, applies defaults and environment
// overrides, and validates the result. An empty filename loads the defaults.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return finish(Default())
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvironmentVariables(string(data))

	// headless unless the file says otherwise
	config := Config{Browser: BrowserConfig{Headless: true}}
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidConfig, err)
	}

	applyDefaults(&config)
	return finish(&config)
}

// LoadFromReader loads configuration from an io.Reader
func LoadFromReader(reader io.Reader) (*Config, error) {
	if reader == nil {
		return nil, fmt.Errorf("%w: reader cannot be nil", ErrInvalidConfig)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read: %v", ErrInvalidConfig, err)
	}
	return LoadFromBytes(data)
}

func finish(config *Config) (*Config, error) {
	if err := envconfig.Process(EnvPrefix, config); err != nil {
		return nil, fmt.Errorf("%w: environment: %v", ErrInvalidConfig, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveToFile writes configuration as YAML, creating parent directories.
func SaveToFile(config *Config, filename string) error {
	if config == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(filename, data, 0644)
}

// ApplyDefaults fills unset fields. Call it after overriding fields of a
// loaded configuration, before Validate.
func (c *Config) ApplyDefaults() {
	applyDefaults(c)
}

// ClientConfig converts the HTTP section for the fetcher, building the
// proxy pool and TLS settings it names.
func (c *Config) ClientConfig(logger utils.Logger) (*scraper.HTTPClientConfig, error) {
	cc := &scraper.HTTPClientConfig{
		Timeout:        c.HTTP.Timeout,
		RetryAttempts:  c.HTTP.RetryAttempts,
		RetryWaitMin:   c.HTTP.RetryWait,
		RetryWaitMax:   30 * c.HTTP.RetryWait,
		RateLimit:      c.HTTP.RateLimit,
		RateBurst:      c.HTTP.Burst,
		MaxConcurrency: c.HTTP.MaxConcurrency,
		MaxBodyBytes:   c.HTTP.MaxBodyBytes,
		UserAgents:     c.HTTP.UserAgents,
		Headers:        c.HTTP.Headers,
		Cookies:        c.HTTP.Cookies,
	}

	px := c.HTTP.Proxy
	if !px.TLS.IsZero() {
		tc, err := proxy.BuildTLSConfig(px.TLS, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: http.proxy.tls: %v", ErrInvalidConfig, err)
		}
		cc.TLS = tc
	}
	if px.Enabled {
		pm, err := proxy.NewProxyManager(px, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: http.proxy: %v", ErrInvalidConfig, err)
		}
		cc.Proxies = pm
	}
	return cc, nil
}

// BrowserFetcherConfig converts the browser section for the chromedp fetcher.
func (c *Config) BrowserFetcherConfig() *browser.BrowserConfig {
	bc := browser.DefaultBrowserConfig()
	bc.Headless = c.Browser.Headless
	bc.ExecPath = c.Browser.ExecPath
	bc.WaitSelector = c.Browser.WaitSelector
	bc.UserAgent = c.Browser.UserAgent
	if c.Browser.Timeout > 0 {
		bc.Timeout = c.Browser.Timeout
	}
	if c.HTTP.MaxConcurrency > 0 {
		bc.MaxTabs = c.HTTP.MaxConcurrency
	}
	return bc
}

// EngineConfig converts the extraction settings for the engine.
func (c *Config) EngineConfig() scraper.EngineConfig {
	return scraper.EngineConfig{
		Context:          c.Context,
		Optional:         c.Optional,
		AllowExpressions: c.AllowExpressions,
	}
}

// expandEnvironmentVariables substitutes ${VAR} references.
func expandEnvironmentVariables(content string) string {
	return os.ExpandEnv(content)
}

// applyDefaults applies default values to the configuration
func applyDefaults(config *Config) {
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	if config.HTTP.Timeout == 0 {
		config.HTTP.Timeout = 30 * time.Second
	}
	if config.HTTP.RetryAttempts == 0 {
		config.HTTP.RetryAttempts = 3
	}
	if config.HTTP.RetryWait == 0 {
		config.HTTP.RetryWait = time.Second
	}
	if config.HTTP.Burst == 0 {
		config.HTTP.Burst = 5
	}
	if config.HTTP.MaxConcurrency == 0 {
		config.HTTP.MaxConcurrency = 8
	}
	if config.HTTP.MaxBodyBytes == 0 {
		config.HTTP.MaxBodyBytes = scraper.DefaultMaxBodyBytes
	}

	if config.Browser.Enabled && config.Browser.Timeout == 0 {
		config.Browser.Timeout = 30 * time.Second
	}

	if config.Output.Format == "" {
		config.Output.Format = FormatJSON
	}
	if config.Output.IsDatabase() && config.Output.Table == "" {
		config.Output.Table = "records"
	}
	if config.Output.Format == FormatMongoDB && config.Output.Collection == "" {
		config.Output.Collection = "records"
	}

	if config.Metrics.Namespace == "" {
		config.Metrics.Namespace = "parsz"
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Server.ReadTimeout == 0 {
		config.Server.ReadTimeout = 30 * time.Second
	}
	if config.Server.WriteTimeout == 0 {
		config.Server.WriteTimeout = 2 * time.Minute
	}
	if config.Server.RateLimit > 0 && config.Server.Burst == 0 {
		config.Server.Burst = int(config.Server.RateLimit) + 1
	}
	if config.Server.MaxBodyBytes == 0 {
		config.Server.MaxBodyBytes = 5 << 20
	}
}
