// internal/scraper/engine_test.go
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tycho01/parsz/internal/parselet"
)

// newFixtureServer serves the testdata pages: / (index), /search, /carol
// (a profile linking to places), /biz/<slug> (places) and /biz/menu.
func newFixtureServer(t *testing.T) *httptest.Server {
	t.Helper()

	serveFile := func(name string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			data, err := os.ReadFile(filepath.Join("testdata", name))
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write(data)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", serveFile("index.html"))
	mux.HandleFunc("/search", serveFile("search.html"))
	mux.HandleFunc("/carol", serveFile("profile.html"))
	mux.HandleFunc("/biz/menu", serveFile("menu.html"))
	mux.HandleFunc("/biz/tacorea-san-francisco", serveFile("place.html"))
	mux.HandleFunc("/biz/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "<html><body><h1>%s</h1></body></html>", strings.TrimPrefix(r.URL.Path, "/biz/"))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient() *HTTPClient {
	return NewHTTPClient(&HTTPClientConfig{Timeout: 5 * time.Second})
}

func TestScrapeRemoteKey(t *testing.T) {
	srv := newFixtureServer(t)
	engine := NewScrapingEngine(EngineConfig{Context: srv.URL + "/"}, newTestClient(), nil, nil)

	schema := mustParse(t, `{"name": "h1", "lastReviewedPlace~(.reviews li:first-child a)": {"name": "h1"}}`)
	res, err := engine.Scrape(context.Background(), schema, srv.URL+"/carol")
	require.NoError(t, err)

	assert.Equal(t, `{"name":"Carol L.","lastReviewedPlace":{"name":"Tacorea"}}`, toJSON(t, res.Data))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, int64(1), res.Metadata.RemoteFetches)
	assert.Empty(t, res.Diagnostics)
}

func TestScrapeRelativeLinkInFetchedDocument(t *testing.T) {
	srv := newFixtureServer(t)
	schema := mustParse(t, `
lastReviewedPlace~(.reviews li:first-child a):
  name: h1
  menu~(a.next):
    items(.menu li): ["."]
`)

	// "menu" on the place page must resolve against /biz/..., not the context.
	for _, ctxURL := range []string{srv.URL + "/", ""} {
		engine := NewScrapingEngine(EngineConfig{Context: ctxURL}, newTestClient(), nil, nil)
		res, err := engine.Scrape(context.Background(), schema, srv.URL+"/carol")
		require.NoError(t, err)
		assert.Equal(t,
			`{"lastReviewedPlace":{"name":"Tacorea","menu":{"items":["Kimchi fries","Bulgogi burrito"]}}}`,
			toJSON(t, res.Data))
		assert.Equal(t, int64(2), res.Metadata.RemoteFetches)
	}
}

func TestScrapeRemoteKeyPerListItem(t *testing.T) {
	srv := newFixtureServer(t)
	engine := NewScrapingEngine(EngineConfig{}, newTestClient(), nil, nil)

	schema := mustParse(t, `
places(.regular-search-result):
  - name: .biz-name
    page~(.search-result-title):
      title: h1
`)
	res, err := engine.Scrape(context.Background(), schema, srv.URL+"/search")
	require.NoError(t, err)

	assert.Equal(t, `{"places":[`+
		`{"name":"Tacorea","page":{"title":"Tacorea"}},`+
		`{"name":"El Farolito","page":{"title":"el-farolito-san-francisco-2"}},`+
		`{"name":"Street Taco","page":{"title":"street-taco-san-francisco"}}]}`,
		toJSON(t, res.Data))
	assert.Equal(t, int64(3), res.Metadata.RemoteFetches)
}

func TestScrapeMissingLink(t *testing.T) {
	srv := newFixtureServer(t)
	engine := NewScrapingEngine(EngineConfig{}, newTestClient(), nil, nil)

	schema := mustParse(t, `{"profile~(.nope a)": {"name": "h1"}, "reviews~(.nope a)": ["p"], "--~(.nope)": {"a": "h1", "b(li)": ["."]}}`)
	res, err := engine.Scrape(context.Background(), schema, srv.URL+"/carol")
	require.NoError(t, err)

	assert.Equal(t, `{"profile":null,"reviews":[],"a":null,"b":[]}`, toJSON(t, res.Data))
	require.Len(t, res.Diagnostics, 3)
	for _, d := range res.Diagnostics {
		assert.Equal(t, ReasonNoLink, d.Reason)
	}
	assert.Equal(t, int64(0), res.Metadata.RemoteFetches)

	optional := mustParse(t, `{"profile?~(.nope a)": {"name": "h1"}}`)
	res, err = engine.Scrape(context.Background(), optional, srv.URL+"/carol")
	require.NoError(t, err)
	assert.Empty(t, res.Diagnostics)
}

func TestScrapeFetchFailure(t *testing.T) {
	srv := newFixtureServer(t)
	engine := NewScrapingEngine(EngineConfig{}, newTestClient(), nil, nil)
	html := `<h1>Home</h1><a class="bad" href="/broken">broken</a>`

	_, err := engine.ScrapeHTML(context.Background(), mustParse(t, `{"x~(a.bad)": {"t": "h1"}}`), html, srv.URL+"/")
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusInternalServerError, fe.StatusCode)
	assert.Contains(t, err.Error(), "$.x")

	schema := mustParse(t, `{"x?~(a.bad)": {"t": "h1"}, "items?(.review)~(a.bad)": [{"t": "p"}], "title": "h1"}`)
	res, err := engine.ScrapeHTML(context.Background(), schema, html, srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, `{"x":null,"items":[],"title":"Home"}`, toJSON(t, res.Data))
	require.Len(t, res.Diagnostics, 2)
	assert.Equal(t, ReasonFetchFailed, res.Diagnostics[0].Reason)
	assert.Equal(t, srv.URL+"/broken", res.Diagnostics[0].URL)
	assert.True(t, res.Diagnostics[1].Optional)
}

func TestScrapeTopLevelFetchError(t *testing.T) {
	srv := newFixtureServer(t)
	engine := NewScrapingEngine(EngineConfig{}, newTestClient(), nil, nil)

	_, err := engine.Scrape(context.Background(), mustParse(t, `{"t": "h1"}`), srv.URL+"/missing-page")
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)

	_, err = NewScrapingEngine(EngineConfig{}, nil, nil, nil).Scrape(context.Background(), mustParse(t, `{"t": "h1"}`), srv.URL)
	require.True(t, errors.As(err, &fe))
}

func TestRemoteKeyWithoutFetcher(t *testing.T) {
	engine := NewScrapingEngine(EngineConfig{}, nil, nil, nil)
	html := `<a href="http://example.com/next">next</a>`

	_, err := engine.ScrapeHTML(context.Background(), mustParse(t, `{"n~(a)": {"t": "h1"}}`), html, "")
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "http://example.com/next", fe.URL)
}

func TestRequiredFailureCancelsSiblings(t *testing.T) {
	var calls atomic.Int64
	fetcher := FetcherFunc(func(ctx context.Context, url string) (*Page, error) {
		calls.Add(1)
		if strings.HasSuffix(url, "/bad") {
			return nil, &FetchError{URL: url, StatusCode: http.StatusBadGateway, Err: errors.New("bad gateway")}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &Page{URL: url, StatusCode: 200, Body: []byte("<h1>slow</h1>")}, nil
		}
	})

	html := `<a class="bad" href="/bad">b</a><a class="slow" href="/slow">s</a>`
	schema := mustParse(t, `{"slow~(a.slow)": {"t": "h1"}, "bad~(a.bad)": {"t": "h1"}}`)

	start := time.Now()
	_, err := NewScrapingEngine(EngineConfig{}, fetcher, nil, nil).
		ScrapeHTML(context.Background(), schema, html, "http://example.com/")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Equal(t, int64(2), calls.Load())
}

func TestScrapeHTMLUsesConfiguredTransforms(t *testing.T) {
	engine := NewScrapingEngine(EngineConfig{AllowExpressions: true}, nil, nil, nil)
	res, err := engine.ScrapeHTML(context.Background(),
		parselet.Map(parselet.F("n", parselet.Leaf(`span|number`)), parselet.F("e", parselet.Leaf(`span|(v) => v.length`))),
		`<span>1,234 items</span>`, "")
	require.NoError(t, err)
	assert.Equal(t, `{"n":1234,"e":11}`, toJSON(t, res.Data))
	assert.Equal(t, int64(len(`<span>1,234 items</span>`)), res.Metadata.ResponseSize)
}
