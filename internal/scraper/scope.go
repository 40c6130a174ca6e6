// internal/scraper/scope.go
package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/tycho01/parsz/internal/parselet"
)

// ResolveScope narrows sel by selector. An empty selector or the identity
// selector returns sel itself without querying, which is what stops a
// self-referencing schema from re-querying forever. No match is an empty
// selection, never an error.
func ResolveScope(sel *goquery.Selection, selector string) *goquery.Selection {
	selector = strings.TrimSpace(selector)
	if selector == "" || selector == parselet.IdentitySelector {
		return sel
	}
	return sel.Find(selector)
}
