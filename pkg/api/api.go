// pkg/api/api.go
package api

import (
	"context"
	"fmt"
	"io"

	"github.com/tycho01/parsz/internal/browser"
	"github.com/tycho01/parsz/internal/config"
	"github.com/tycho01/parsz/internal/monitoring"
	"github.com/tycho01/parsz/internal/parselet"
	"github.com/tycho01/parsz/internal/pipeline"
	"github.com/tycho01/parsz/internal/scraper"
	"github.com/tycho01/parsz/internal/security"
	"github.com/tycho01/parsz/internal/utils"
)

// Re-export types from internal packages for public API
type (
	Config        = config.Config
	Schema        = parselet.Node
	Object        = parselet.Object
	Result        = scraper.ScrapingResult
	Diagnostic    = scraper.Diagnostic
	Fetcher       = scraper.Fetcher
	Page          = scraper.Page
	TransformFunc = pipeline.Func
	Logger        = utils.Logger
	Metrics       = monitoring.Metrics
)

// Client evaluates parselets against URLs or HTML.
type Client struct {
	config  *Config
	ec      scraper.EngineConfig
	engine  *scraper.ScrapingEngine
	fetcher Fetcher
	logger  Logger
	metrics *Metrics
	closers []io.Closer
}

// Option configures a Client.
type Option func(*options)

type options struct {
	fetcher    Fetcher
	logger     Logger
	metrics    *Metrics
	transforms map[string]TransformFunc
}

// WithFetcher replaces the HTTP or browser fetcher.
func WithFetcher(f Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records fetches and extractions in m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTransform registers an extra named transform.
func WithTransform(name string, fn TransformFunc) Option {
	return func(o *options) {
		if o.transforms == nil {
			o.transforms = make(map[string]TransformFunc)
		}
		o.transforms[name] = fn
	}
}

// NewClient creates a client. A nil cfg uses config.Default(). The fetcher
// is a headless browser when cfg.Browser.Enabled, an HTTP client otherwise.
func NewClient(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = utils.NewNopLogger()
	}

	c := &Client{config: cfg, logger: o.logger, metrics: o.metrics}

	var guard *security.SecurityValidator
	if cfg.Security.Enabled() {
		guard = security.NewSecurityValidator(&security.SecurityConfig{
			BlockedDomains:       cfg.Security.BlockedDomains,
			MaxURLLength:         cfg.Security.MaxURLLength,
			BlockPrivateNetworks: cfg.Security.BlockPrivateNetworks,
		})
	}

	switch {
	case o.fetcher != nil:
		c.fetcher = o.fetcher
	case cfg.Browser.Enabled:
		bf := browser.NewFetcher(cfg.BrowserFetcherConfig(), o.logger)
		c.fetcher = bf
		c.closers = append(c.closers, bf)
	default:
		cc, err := cfg.ClientConfig(o.logger)
		if err != nil {
			return nil, err
		}
		if guard != nil {
			cc.CheckURL = guard.ValidateURL
			if guard.BlocksPrivateNetworks() {
				cc.DialControl = guard.DialControl
			}
		}
		hc := scraper.NewHTTPClient(cc)
		hc.SetLogger(o.logger)
		hc.SetMetrics(o.metrics)
		c.fetcher = hc
	}
	if guard != nil {
		c.fetcher = security.GuardFetcher(c.fetcher, guard)
	}

	ec := cfg.EngineConfig()
	ec.Transforms = pipeline.DefaultRegistry()
	for name, fn := range o.transforms {
		if err := ec.Transforms.Register(name, fn); err != nil {
			c.Close()
			return nil, fmt.Errorf("register transform %q: %w", name, err)
		}
	}

	c.ec = ec
	c.engine = scraper.NewScrapingEngine(ec, c.fetcher, o.logger, o.metrics)
	return c, nil
}

// ExtractOptions overrides client settings for some calls.
type ExtractOptions struct {
	// Context replaces the base URL when set.
	Context string
	// Optional treats every key as optional.
	Optional bool
}

// WithOptions returns a client sharing c's fetcher with opts applied.
// Closing the returned client is a no-op.
func (c *Client) WithOptions(opts ExtractOptions) *Client {
	ec := c.ec
	if opts.Context != "" {
		ec.Context = opts.Context
	}
	ec.Optional = ec.Optional || opts.Optional

	cp := *c
	cp.ec = ec
	cp.closers = nil
	cp.engine = scraper.NewScrapingEngine(ec, c.fetcher, c.logger, c.metrics)
	return &cp
}

// ExtractURL fetches url and evaluates schema against it.
func (c *Client) ExtractURL(ctx context.Context, schema *Schema, url string) (*Result, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return c.engine.Scrape(ctx, schema, url)
}

// ExtractHTML evaluates schema against an HTML document. baseURL resolves
// relative links of remote keys.
func (c *Client) ExtractHTML(ctx context.Context, schema *Schema, html, baseURL string) (*Result, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return c.engine.ScrapeHTML(ctx, schema, html, baseURL)
}

// LoadParselet reads a YAML or JSON parselet file.
func (c *Client) LoadParselet(path string) (*Schema, error) {
	return LoadParselet(path)
}

// Config returns the client's configuration.
func (c *Client) Config() *Config {
	return c.config
}

// Close releases the browser if one was started.
func (c *Client) Close() error {
	var firstErr error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}

// LoadParselet reads a YAML or JSON parselet file and validates it.
func LoadParselet(path string) (*Schema, error) {
	return parselet.Load(path)
}

// ParseParselet parses a YAML or JSON parselet document and validates it.
func ParseParselet(data []byte) (*Schema, error) {
	return parselet.Parse(data)
}
