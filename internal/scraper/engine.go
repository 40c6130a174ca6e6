// internal/scraper/engine.go
package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/tycho01/parsz/internal/monitoring"
	"github.com/tycho01/parsz/internal/parselet"
	"github.com/tycho01/parsz/internal/pipeline"
	"github.com/tycho01/parsz/internal/utils"
)

// EngineConfig defines the configuration for the scraping engine
type EngineConfig struct {
	// Context overrides the base URL. Empty means the page's own URL.
	Context          string
	Transforms       pipeline.Registry
	Optional         bool
	AllowExpressions bool
}

// ScrapingEngine fetches a page and evaluates a parselet against it. Remote
// keys are fetched through the same Fetcher.
type ScrapingEngine struct {
	config    EngineConfig
	fetcher   Fetcher
	extractor *Extractor
	logger    utils.Logger
	metrics   *monitoring.Metrics
}

// NewScrapingEngine creates a new scraping engine with the given configuration
func NewScrapingEngine(config EngineConfig, fetcher Fetcher, logger utils.Logger, metrics *monitoring.Metrics) *ScrapingEngine {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if config.Transforms == nil {
		config.Transforms = pipeline.DefaultRegistry()
	}
	return &ScrapingEngine{
		config:    config,
		fetcher:   fetcher,
		extractor: NewExtractor(fetcher, logger, metrics),
		logger:    logger,
		metrics:   metrics,
	}
}

// Extractor returns the engine's extractor.
func (se *ScrapingEngine) Extractor() *Extractor {
	return se.extractor
}

// Scrape fetches targetURL and extracts schema from it.
func (se *ScrapingEngine) Scrape(ctx context.Context, schema *parselet.Node, targetURL string) (*ScrapingResult, error) {
	if se.fetcher == nil {
		return nil, &FetchError{URL: targetURL, Err: fmt.Errorf("no fetcher configured")}
	}
	startTime := time.Now()

	page, err := se.fetcher.Fetch(ctx, targetURL)
	if err != nil {
		return nil, err
	}
	requestDuration := time.Since(startTime)

	parser, err := NewHTMLParser(page)
	if err != nil {
		return nil, &FetchError{URL: targetURL, StatusCode: page.StatusCode, Err: err}
	}

	result, err := se.extract(ctx, schema, parser)
	if err != nil {
		return nil, err
	}
	result.StatusCode = page.StatusCode
	result.Metadata.RequestDuration = requestDuration
	result.Metadata.ResponseSize = int64(len(page.Body))
	result.Metadata.Timestamp = startTime
	return result, nil
}

// ScrapeHTML extracts schema from an HTML string. baseURL resolves relative
// links of remote keys; it may be empty when all links are absolute.
func (se *ScrapingEngine) ScrapeHTML(ctx context.Context, schema *parselet.Node, html, baseURL string) (*ScrapingResult, error) {
	startTime := time.Now()
	parser, err := NewHTMLParserFromString(html, baseURL)
	if err != nil {
		return nil, err
	}
	result, err := se.extract(ctx, schema, parser)
	if err != nil {
		return nil, err
	}
	result.Metadata.ResponseSize = int64(len(html))
	result.Metadata.Timestamp = startTime
	return result, nil
}

func (se *ScrapingEngine) extract(ctx context.Context, schema *parselet.Node, parser *HTMLParser) (*ScrapingResult, error) {
	base := se.config.Context
	if base == "" {
		base = parser.BaseURL()
	}

	start := time.Now()
	res, err := se.extractor.Extract(ctx, parser.Root(), schema, Options{
		Context:          base,
		Transforms:       se.config.Transforms,
		Optional:         se.config.Optional,
		AllowExpressions: se.config.AllowExpressions,
	})
	if err != nil {
		se.logger.WithField("url", parser.BaseURL()).Errorf("extraction failed: %v", err)
		return nil, err
	}

	se.logger.WithFields(map[string]interface{}{
		"url":         parser.BaseURL(),
		"diagnostics": len(res.Diagnostics),
		"fetches":     res.RemoteFetches,
	}).Info("extraction complete")

	return &ScrapingResult{
		URL:         parser.BaseURL(),
		Data:        res.Data,
		Diagnostics: res.Diagnostics,
		Metadata: ScrapingMetadata{
			ExtractionDuration: time.Since(start),
			RemoteFetches:      res.RemoteFetches,
		},
	}, nil
}
