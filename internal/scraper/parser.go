// internal/scraper/parser.go
package scraper

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLParser holds a parsed document and the URL it was loaded from.
type HTMLParser struct {
	document *goquery.Document
	baseURL  string
}

// NewHTMLParser parses a fetched page.
func NewHTMLParser(page *Page) (*HTMLParser, error) {
	if page == nil {
		return nil, fmt.Errorf("nil page")
	}
	return NewHTMLParserFromReader(strings.NewReader(string(page.Body)), page.URL)
}

// NewHTMLParserFromString parses HTML content.
func NewHTMLParserFromString(html, baseURL string) (*HTMLParser, error) {
	return NewHTMLParserFromReader(strings.NewReader(html), baseURL)
}

// NewHTMLParserFromReader parses UTF-8 HTML from r.
func NewHTMLParserFromReader(r io.Reader, baseURL string) (*HTMLParser, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &HTMLParser{document: doc, baseURL: baseURL}, nil
}

// Root returns the document root selection, the initial extraction scope.
func (hp *HTMLParser) Root() *goquery.Selection {
	return hp.document.Selection
}

// Document returns the parsed document.
func (hp *HTMLParser) Document() *goquery.Document {
	return hp.document
}

// BaseURL returns the URL the document was loaded from.
func (hp *HTMLParser) BaseURL() string {
	return hp.baseURL
}

// Title returns the trimmed document title.
func (hp *HTMLParser) Title() string {
	return strings.TrimSpace(hp.document.Find("title").First().Text())
}

// GetLinks extracts all links from the document
func (hp *HTMLParser) GetLinks() []map[string]string {
	var links []map[string]string

	hp.document.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		links = append(links, map[string]string{
			"href": href,
			"text": strings.TrimSpace(s.Text()),
		})
	})

	return links
}
