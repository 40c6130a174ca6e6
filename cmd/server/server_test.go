// cmd/server/server_test.go
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tycho01/parsz/internal/config"
	"github.com/tycho01/parsz/internal/scraper"
	"github.com/tycho01/parsz/pkg/api"
	"github.com/tycho01/parsz/pkg/types"
)

const profilePage = `<html><body>
<h1>Carol L.</h1>
<ul class="reviews"><li><a href="/biz/tacorea">Tacorea</a></li></ul>
</body></html>`

// fakeSite serves pages by path without the network.
func fakeSite(calls *int64) scraper.Fetcher {
	return scraper.FetcherFunc(func(ctx context.Context, url string) (*scraper.Page, error) {
		atomic.AddInt64(calls, 1)
		switch {
		case strings.HasSuffix(url, "/carol"):
			return &scraper.Page{URL: url, StatusCode: 200, Body: []byte(profilePage)}, nil
		case strings.HasSuffix(url, "/biz/tacorea"):
			return &scraper.Page{URL: url, StatusCode: 200, Body: []byte(`<h1>Tacorea</h1>`)}, nil
		}
		return nil, &scraper.FetchError{URL: url, StatusCode: http.StatusNotFound, Err: errors.New("Not Found")}
	})
}

func setupTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, *Server) {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	var calls int64
	srv, err := NewServer(context.Background(), cfg, nil, api.WithFetcher(fakeSite(&calls)))
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, srv
}

func postExtract(t *testing.T, url string, body interface{}, header ...string) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url+"/api/v1/extract", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := setupTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health["status"])
}

func TestExtractURL(t *testing.T) {
	ts, _ := setupTestServer(t, nil)

	resp, body := postExtract(t, ts.URL, map[string]interface{}{
		"parselet": json.RawMessage(`{"name": "h1", "place~(.reviews a)": {"name": "h1"}}`),
		"url":      "http://example.test/carol",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out struct {
		Data        json.RawMessage      `json:"data"`
		Diagnostics []scraper.Diagnostic `json:"diagnostics"`
		Fetches     int64                `json:"fetches"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, `{"name":"Carol L.","place":{"name":"Tacorea"}}`, string(out.Data))
	assert.Empty(t, out.Diagnostics)
	assert.Equal(t, int64(1), out.Fetches)
}

func TestExtractHTMLWithOptions(t *testing.T) {
	ts, _ := setupTestServer(t, nil)

	resp, body := postExtract(t, ts.URL, types.ExtractRequest{
		Parselet: json.RawMessage(`{"title": "h1", "missing": ".nope"}`),
		HTML:     "<h1>Inline</h1>",
		Optional: true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"title":"Inline"`)
	assert.Contains(t, string(body), `"missing":null`)
	assert.Contains(t, string(body), `"diagnostics":[]`)
}

func TestExtractErrors(t *testing.T) {
	ts, _ := setupTestServer(t, nil)

	tests := []struct {
		name   string
		body   interface{}
		status int
		kind   string
	}{
		{"invalid json", "not an object", http.StatusBadRequest, kindRequest},
		{"no source", map[string]interface{}{"parselet": map[string]string{"a": "h1"}}, http.StatusBadRequest, kindRequest},
		{"grammar", map[string]interface{}{
			"parselet": json.RawMessage(`{"a(": "h1"}`), "html": "<p></p>",
		}, http.StatusBadRequest, kindGrammar},
		{"fetch", map[string]interface{}{
			"parselet": json.RawMessage(`{"a": "h1"}`), "url": "http://example.test/gone",
		}, http.StatusBadGateway, kindFetch},
		{"transform", map[string]interface{}{
			"parselet": json.RawMessage(`{"a": "h1|nosuch"}`), "html": "<h1>x</h1>",
		}, http.StatusUnprocessableEntity, kindTransform},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postExtract(t, ts.URL, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, string(body))

			var e types.ErrorResponse
			require.NoError(t, json.Unmarshal(body, &e))
			assert.Equal(t, tt.kind, e.Kind)
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestExtractBlockedByPolicy(t *testing.T) {
	cfg := config.Default()
	cfg.Security.BlockPrivateNetworks = true
	cfg.Security.BlockedDomains = []string{"blocked.test"}
	ts, _ := setupTestServer(t, cfg)

	for _, target := range []string{"http://127.0.0.1/carol", "http://www.blocked.test/carol"} {
		resp, body := postExtract(t, ts.URL, types.ExtractRequest{
			Parselet: json.RawMessage(`{"a": "h1"}`),
			URL:      target,
		})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, string(body))

		var e types.ErrorResponse
		require.NoError(t, json.Unmarshal(body, &e))
		assert.Equal(t, kindForbidden, e.Kind)
	}

	resp, body := postExtract(t, ts.URL, types.ExtractRequest{
		Parselet: json.RawMessage(`{"a": "h1"}`),
		URL:      "http://example.test/carol",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}

func TestExtractBodyLimit(t *testing.T) {
	cfg := config.Default()
	cfg.Server.MaxBodyBytes = 64
	ts, _ := setupTestServer(t, cfg)

	resp, _ := postExtract(t, ts.URL, types.ExtractRequest{
		Parselet: json.RawMessage(`{"a": "h1"}`),
		HTML:     strings.Repeat("<p>x</p>", 50),
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestAuthMiddleware(t *testing.T) {
	cfg := config.Default()
	cfg.Server.APIKey = "valid_api_key_123"
	ts, _ := setupTestServer(t, cfg)

	req := types.ExtractRequest{Parselet: json.RawMessage(`{"a": "h1"}`), HTML: "<h1>x</h1>"}

	resp, _ := postExtract(t, ts.URL, req)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = postExtract(t, ts.URL, req, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = postExtract(t, ts.URL, req, "Authorization", "Bearer valid_api_key_123")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode, "health is not behind auth")
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := config.Default()
	cfg.Server.RateLimit = 1
	cfg.Server.Burst = 2
	ts, _ := setupTestServer(t, cfg)

	req := types.ExtractRequest{Parselet: json.RawMessage(`{"a": "h1"}`), HTML: "<h1>x</h1>"}
	var limited int
	for i := 0; i < 5; i++ {
		resp, _ := postExtract(t, ts.URL, req)
		if resp.StatusCode == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.GreaterOrEqual(t, limited, 2)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := setupTestServer(t, nil)

	postExtract(t, ts.URL, types.ExtractRequest{
		Parselet: json.RawMessage(`{"a": "h1"}`),
		URL:      "http://example.test/carol",
	})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "parsz_extractions_total")
}

func TestTransformsEndpoint(t *testing.T) {
	ts, srv := setupTestServer(t, nil)

	get := func() map[string]interface{} {
		resp, err := http.Get(ts.URL + "/api/v1/transforms")
		require.NoError(t, err)
		defer resp.Body.Close()
		var out map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	out := get()
	assert.Contains(t, out["transforms"], "trim")
	assert.Equal(t, false, out["expressions"])

	cfg := config.Default()
	cfg.AllowExpressions = true
	require.NoError(t, srv.Reload(cfg))
	assert.Equal(t, true, get()["expressions"])
}

func TestServerStoresToSQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Output.Format = config.FormatSQLite
	cfg.Output.DSN = filepath.Join(t.TempDir(), "api.db")
	cfg.ApplyDefaults()
	ts, srv := setupTestServer(t, cfg)

	resp, body := postExtract(t, ts.URL, types.ExtractRequest{
		Parselet: json.RawMessage(`{"name": "h1"}`),
		URL:      "http://example.test/carol",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	health := srv.health.GetHealth(context.Background())
	assert.Equal(t, "healthy", string(health.Status), fmt.Sprintf("%+v", health.Checks))
	assert.Len(t, health.Checks, 2)
}
