// internal/browser/types.go
package browser

import (
	"time"
)

// BrowserConfig defines browser automation configuration
type BrowserConfig struct {
	Headless       bool
	ExecPath       string
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	WaitSelector   string
	WaitDelay      time.Duration
	UserAgent      string
	DisableImages  bool
	// MaxTabs caps concurrently open tabs. Zero means DefaultMaxTabs.
	MaxTabs int64
}

// DefaultMaxTabs is the tab cap used when BrowserConfig.MaxTabs is zero.
const DefaultMaxTabs = 4

// DefaultBrowserConfig returns default browser configuration
func DefaultBrowserConfig() *BrowserConfig {
	return &BrowserConfig{
		Headless:       true,
		Timeout:        30 * time.Second,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		DisableImages:  true,
		MaxTabs:        DefaultMaxTabs,
	}
}

// BrowserStats contains browser automation statistics
type BrowserStats struct {
	PagesLoaded     int64         `json:"pages_loaded"`
	AverageLoadTime time.Duration `json:"average_load_time"`
	Errors          int64         `json:"errors"`
}
