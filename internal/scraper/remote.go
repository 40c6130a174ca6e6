// internal/scraper/remote.go
package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/tycho01/parsz/internal/utils"
)

// errNoLink marks a remote key whose link selector found no usable URL. It
// is reported as a missing value, not as a fetch failure.
var errNoLink = errors.New("no link found")

// linkAttributes are read in order from the first node the link selector
// matches.
var linkAttributes = []string{"href", "src"}

// dereference follows the link selected from the frame's scope and returns
// the root of the fetched document together with the document's URL, which
// becomes the base for everything extracted from it.
func (r *run) dereference(ctx context.Context, f frame, link string) (*goquery.Selection, string, error) {
	anchor := ResolveScope(f.scope, link).First()
	if anchor.Length() == 0 {
		return nil, "", errNoLink
	}

	var href string
	for _, attr := range linkAttributes {
		if v, ok := anchor.Attr(attr); ok && strings.TrimSpace(v) != "" {
			href = v
			break
		}
	}
	if href == "" {
		return nil, "", errNoLink
	}

	target, err := utils.ResolveURL(f.base, href)
	if err != nil {
		return nil, "", &FetchError{URL: href, Err: err}
	}
	if r.ex.fetcher == nil {
		return nil, "", &FetchError{URL: target, Err: errors.New("no fetcher configured")}
	}

	r.fetches.Add(1)
	page, err := r.ex.fetcher.Fetch(ctx, target)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return nil, "", err
		}
		return nil, "", &FetchError{URL: target, Err: err}
	}

	parser, err := NewHTMLParser(page)
	if err != nil {
		return nil, "", &FetchError{URL: target, StatusCode: page.StatusCode, Err: fmt.Errorf("parse: %w", err)}
	}

	base := page.URL
	if base == "" {
		base = target
	}
	r.ex.logger.WithFields(map[string]interface{}{
		"path": f.path,
		"url":  base,
	}).Debug("dereferenced remote document")

	return parser.Root(), base, nil
}
