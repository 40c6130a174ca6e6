// internal/scraper/client.go
package scraper

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"

	"github.com/tycho01/parsz/internal/monitoring"
	"github.com/tycho01/parsz/internal/proxy"
	"github.com/tycho01/parsz/internal/utils"
)

// DefaultMaxBodyBytes caps a fetched document.
const DefaultMaxBodyBytes = 10 << 20

// HTTPClientConfig defines configuration options for the HTTP client
type HTTPClientConfig struct {
	Timeout        time.Duration
	RetryAttempts  int
	RetryWaitMin   time.Duration
	RetryWaitMax   time.Duration
	RateLimit      float64 // requests per second, 0 disables pacing
	RateBurst      int
	MaxConcurrency int64 // 0 disables the cap
	MaxBodyBytes   int64
	UserAgents     []string
	Headers        map[string]string
	Cookies        map[string]string

	// Proxies, when set, picks a forward proxy per fetch. Without it the
	// environment's proxy settings apply.
	Proxies *proxy.ProxyManager
	TLS     *tls.Config
	// DialControl vets every connection after name resolution.
	DialControl func(network, address string, c syscall.RawConn) error
	// CheckURL vets every redirect target.
	CheckURL func(url string) error
}

// DefaultHTTPClientConfig returns the configuration used by NewHTTPClient(nil).
func DefaultHTTPClientConfig() *HTTPClientConfig {
	return &HTTPClientConfig{
		Timeout:        30 * time.Second,
		RetryAttempts:  3,
		RetryWaitMin:   time.Second,
		RetryWaitMax:   30 * time.Second,
		RateBurst:      5,
		MaxConcurrency: 8,
		MaxBodyBytes:   DefaultMaxBodyBytes,
		UserAgents:     getDefaultUserAgents(),
	}
}

// HTTPClient fetches documents with retries, pacing, a concurrency cap and
// user agent rotation. It implements Fetcher.
type HTTPClient struct {
	config   *HTTPClientConfig
	client   *retryablehttp.Client
	throttle *utils.Throttle
	logger   utils.Logger
	metrics  *monitoring.Metrics

	uaMutex   sync.Mutex
	currentUA int

	fetches atomic.Int64
}

// NewHTTPClient creates a new HTTP client with the specified configuration
func NewHTTPClient(config *HTTPClientConfig) *HTTPClient {
	if config == nil {
		config = DefaultHTTPClientConfig()
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxBodyBytes == 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if len(config.UserAgents) == 0 {
		config.UserAgents = getDefaultUserAgents()
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Timeout:       config.Timeout,
		CheckRedirect: redirectPolicy(config.CheckURL),
		Transport: &http.Transport{
			Proxy: proxy.ProxyFunc,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
				Control:   refusing(config.DialControl),
			}).DialContext,
			TLSClientConfig:     config.TLS,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	rc.RetryMax = config.RetryAttempts
	if config.RetryWaitMin > 0 {
		rc.RetryWaitMin = config.RetryWaitMin
	}
	if config.RetryWaitMax > 0 {
		rc.RetryWaitMax = config.RetryWaitMax
	}
	rc.CheckRetry = retryPolicy
	// hand the final response back so the status lands in FetchError
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &HTTPClient{
		config:   config,
		client:   rc,
		throttle: utils.NewThrottle(config.RateLimit, config.RateBurst, config.MaxConcurrency),
		logger:   utils.NewNopLogger(),
	}
	rc.Logger = leveledLogger{c}
	return c
}

// SetLogger sets the logger used for request logging.
func (c *HTTPClient) SetLogger(logger utils.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetMetrics sets the metrics sink.
func (c *HTTPClient) SetMetrics(m *monitoring.Metrics) {
	c.metrics = m
}

// Fetches returns how many fetches were started.
func (c *HTTPClient) Fetches() int64 {
	return c.fetches.Load()
}

// Fetch performs a GET request and returns the decoded document.
func (c *HTTPClient) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	if !utils.IsValidURL(targetURL) {
		return nil, &FetchError{URL: targetURL, Err: errors.New("not an absolute http(s) URL")}
	}

	release, err := c.throttle.Acquire(ctx)
	if err != nil {
		return nil, &FetchError{URL: targetURL, Err: err}
	}
	defer release()

	var via *proxy.ProxyInstance
	if c.config.Proxies != nil {
		if via, err = c.config.Proxies.Next(); err != nil {
			return nil, &FetchError{URL: targetURL, Err: err}
		}
		ctx = proxy.WithProxy(ctx, via)
	}

	c.fetches.Add(1)
	start := time.Now()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, &FetchError{URL: targetURL, Err: err}
	}
	c.setRequestHeaders(req.Request)

	resp, err := c.client.Do(req)
	c.reportProxy(via, resp, err)
	if err != nil {
		c.metrics.RecordFetch(0, time.Since(start))
		if resp != nil {
			resp.Body.Close()
		}
		return nil, &FetchError{URL: targetURL, Err: err}
	}
	defer resp.Body.Close()
	c.metrics.RecordFetch(resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{URL: targetURL, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodyBytes+1))
	if err != nil {
		return nil, &FetchError{URL: targetURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	if int64(len(body)) > c.config.MaxBodyBytes {
		return nil, &FetchError{URL: targetURL, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("body exceeds %d bytes", c.config.MaxBodyBytes)}
	}

	contentType := resp.Header.Get("Content-Type")
	if !isMarkup(contentType, body) {
		return nil, &FetchError{URL: targetURL, StatusCode: resp.StatusCode, Err: ErrNotHTML}
	}

	finalURL := targetURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	c.logger.WithFields(map[string]interface{}{
		"url":      finalURL,
		"status":   resp.StatusCode,
		"bytes":    len(body),
		"duration": time.Since(start).String(),
	}).Debug("fetched document")

	return &Page{
		URL:         finalURL,
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        toUTF8(body, contentType),
	}, nil
}

// reportProxy feeds the fetch outcome back to the proxy pool. Target
// errors other than a proxy auth failure say nothing about the proxy.
func (c *HTTPClient) reportProxy(via *proxy.ProxyInstance, resp *http.Response, err error) {
	var pe *policyError
	if via == nil || errors.As(err, &pe) {
		return
	}
	switch {
	case err != nil:
		c.config.Proxies.ReportFailure(via, err)
	case resp.StatusCode == http.StatusProxyAuthRequired:
		c.config.Proxies.ReportFailure(via, errors.New(resp.Status))
	default:
		c.config.Proxies.ReportSuccess(via)
	}
}

// policyError marks a request refused by CheckURL or DialControl. Refused
// requests are not retried and say nothing about the proxy.
type policyError struct{ err error }

func (e *policyError) Error() string { return e.err.Error() }
func (e *policyError) Unwrap() error { return e.err }

func refusing(control func(network, address string, c syscall.RawConn) error) func(string, string, syscall.RawConn) error {
	if control == nil {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		if err := control(network, address, c); err != nil {
			return &policyError{err}
		}
		return nil
	}
}

func redirectPolicy(check func(string) error) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		if check == nil {
			return nil
		}
		if err := check(req.URL.String()); err != nil {
			return &policyError{err}
		}
		return nil
	}
}

func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	var pe *policyError
	if errors.As(err, &pe) {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// setRequestHeaders configures request headers including user agent rotation
func (c *HTTPClient) setRequestHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.getNextUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	for key, value := range c.config.Headers {
		req.Header.Set(key, value)
	}
	for name, value := range c.config.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}

// getNextUserAgent returns the next user agent in rotation
func (c *HTTPClient) getNextUserAgent() string {
	c.uaMutex.Lock()
	defer c.uaMutex.Unlock()

	ua := c.config.UserAgents[c.currentUA]
	c.currentUA = (c.currentUA + 1) % len(c.config.UserAgents)
	return ua
}

// isMarkup accepts a body declared as HTML/XML or sniffed as text.
func isMarkup(contentType string, body []byte) bool {
	if len(body) == 0 {
		return true
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mt {
		case "text/html", "application/xhtml+xml":
			return true
		}
	}
	for m := mimetype.Detect(body); m != nil; m = m.Parent() {
		if m.Is("text/html") || m.Is("text/plain") {
			return true
		}
	}
	return false
}

// toUTF8 decodes body using the declared or sniffed charset. When the HTML
// sniffer falls back to its windows-1252 default, chardet gets a vote.
func toUTF8(body []byte, contentType string) []byte {
	enc, name, certain := charset.DetermineEncoding(body, contentType)
	if !certain && name == "windows-1252" {
		if best, err := chardet.NewHtmlDetector().DetectBest(body); err == nil && best.Confidence >= 50 {
			if e, n := charset.Lookup(best.Charset); e != nil {
				enc, name = e, n
			}
		}
	}
	if name == "utf-8" || enc == nil || enc == encoding.Nop {
		return body
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return bytes.TrimPrefix(out, []byte("\xef\xbb\xbf"))
}

// leveledLogger routes retryablehttp logging to our logger at debug level.
type leveledLogger struct{ c *HTTPClient }

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.with(kv).Warn(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.with(kv).Warn(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.with(kv).Debug(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.with(kv).Debug(msg) }

func (l leveledLogger) with(kv []interface{}) utils.Logger {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return l.c.logger.WithFields(fields)
}

// getDefaultUserAgents returns a set of realistic user agent strings
func getDefaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/119.0",
	}
}
