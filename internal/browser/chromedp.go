// internal/browser/chromedp.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/tycho01/parsz/internal/scraper"
	"github.com/tycho01/parsz/internal/utils"
)

// ErrClosed is returned by Fetch after Close.
var ErrClosed = errors.New("browser closed")

// Fetcher renders documents in headless Chrome. It implements
// scraper.Fetcher, so remote keys of a parselet are rendered too. The
// browser process is started on the first fetch and each fetch runs in
// its own tab.
type Fetcher struct {
	config *BrowserConfig
	logger utils.Logger
	tabs   *semaphore.Weighted

	startOnce     sync.Once
	startErr      error
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	stats  BrowserStats
}

// NewFetcher creates a browser fetcher. A nil config uses the defaults and a
// nil logger discards.
func NewFetcher(config *BrowserConfig, logger utils.Logger) *Fetcher {
	if config == nil {
		config = DefaultBrowserConfig()
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxTabs <= 0 {
		config.MaxTabs = DefaultMaxTabs
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Fetcher{
		config: config,
		logger: logger,
		tabs:   semaphore.NewWeighted(config.MaxTabs),
	}
}

func (f *Fetcher) start() error {
	f.startOnce.Do(func() {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.NoFirstRun,
			chromedp.NoDefaultBrowserCheck,
			chromedp.DisableGPU,
			chromedp.NoSandbox, // Required for Docker environments
			chromedp.Flag("headless", f.config.Headless),
		)
		if f.config.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(f.config.ExecPath))
		}
		if f.config.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(f.config.UserAgent))
		}
		if f.config.DisableImages {
			opts = append(opts, chromedp.Flag("blink-settings", "imagesEnabled=false"))
		}
		if f.config.ViewportWidth > 0 && f.config.ViewportHeight > 0 {
			opts = append(opts, chromedp.WindowSize(f.config.ViewportWidth, f.config.ViewportHeight))
		}

		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)

		// an empty Run launches the browser
		if err := chromedp.Run(browserCtx); err != nil {
			browserCancel()
			allocCancel()
			f.startErr = fmt.Errorf("failed to start browser: %w", err)
			return
		}
		f.allocCancel, f.browserCtx, f.browserCancel = allocCancel, browserCtx, browserCancel
		f.logger.Debug("browser started")
	})
	return f.startErr
}

// Fetch renders targetURL and returns the serialized DOM. A main document
// answered with a non-2xx status is a *scraper.FetchError carrying that
// status.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*scraper.Page, error) {
	if !utils.IsValidURL(targetURL) {
		return nil, &scraper.FetchError{URL: targetURL, Err: errors.New("not an absolute http(s) URL")}
	}
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return nil, &scraper.FetchError{URL: targetURL, Err: ErrClosed}
	}
	if err := f.start(); err != nil {
		return nil, &scraper.FetchError{URL: targetURL, Err: err}
	}

	if err := f.tabs.Acquire(ctx, 1); err != nil {
		return nil, &scraper.FetchError{URL: targetURL, Err: err}
	}
	defer f.tabs.Release(1)

	tabCtx, cancelTab := chromedp.NewContext(f.browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, f.config.Timeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTimeout)
	defer stop()

	start := time.Now()
	resp, err := chromedp.RunResponse(tabCtx, chromedp.Navigate(targetURL))
	if err != nil {
		f.record(time.Since(start), err)
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &scraper.FetchError{URL: targetURL, Err: fmt.Errorf("navigation failed: %w", err)}
	}
	status := http.StatusOK
	if resp != nil {
		status = int(resp.Status)
	}
	if status < 200 || status > 299 {
		err := errors.New(http.StatusText(status))
		f.record(time.Since(start), err)
		return nil, &scraper.FetchError{URL: targetURL, StatusCode: status, Err: err}
	}

	tasks := chromedp.Tasks{
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if f.config.WaitSelector != "" {
		tasks = append(tasks, chromedp.WaitVisible(f.config.WaitSelector, chromedp.ByQuery))
	}
	if f.config.WaitDelay > 0 {
		tasks = append(tasks, chromedp.Sleep(f.config.WaitDelay))
	}

	var html, location string
	tasks = append(tasks,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&location),
	)

	err = chromedp.Run(tabCtx, tasks)
	f.record(time.Since(start), err)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &scraper.FetchError{URL: targetURL, StatusCode: status, Err: fmt.Errorf("render failed: %w", err)}
	}
	if location == "" {
		location = targetURL
	}

	f.logger.WithFields(map[string]interface{}{
		"url":      location,
		"status":   status,
		"bytes":    len(html),
		"duration": time.Since(start).String(),
	}).Debug("rendered document")

	return &scraper.Page{
		URL:         location,
		StatusCode:  status,
		ContentType: "text/html; charset=utf-8",
		Body:        []byte(html),
	}, nil
}

func (f *Fetcher) record(d time.Duration, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.stats.Errors++
		return
	}
	f.stats.PagesLoaded++
	if f.stats.PagesLoaded == 1 {
		f.stats.AverageLoadTime = d
	} else {
		f.stats.AverageLoadTime = (f.stats.AverageLoadTime + d) / 2
	}
}

// Stats returns a snapshot of browser statistics.
func (f *Fetcher) Stats() BrowserStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// Close shuts the browser down. It is safe to call more than once.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	// waits for an in-flight start and blocks later ones
	f.startOnce.Do(func() { f.startErr = ErrClosed })
	if f.browserCancel != nil {
		f.browserCancel()
		f.allocCancel()
	}
	return nil
}
