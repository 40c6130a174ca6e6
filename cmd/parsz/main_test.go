// cmd/parsz/main_test.go
package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tycho01/parsz/internal/errors"
)

const indexPage = `<html><body>
<h1>Carol L.</h1>
<ul class="reviews">
  <li><a href="/biz/tacorea">Tacorea</a></li>
</ul>
</body></html>`

const placePage = `<html><body><h1>Tacorea</h1><span class="rating">4.5</span></body></html>`

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, indexPage)
	})
	mux.HandleFunc("/biz/tacorea", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, placePage)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(args ...string) (code int, stdout, stderr string) {
	var out, errOut bytes.Buffer
	code = run(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

const profileParselet = `
name: h1
place~(.reviews li:first-child a):
  name: h1
  rating: .rating|number
`

func TestCLIVersion(t *testing.T) {
	version = "test-version"
	buildTime = "2026-01-02"
	gitCommit = "abc123"

	code, out, _ := runCLI("version")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	for _, want := range []string{"test-version", "2026-01-02", "abc123"} {
		if !strings.Contains(out, want) {
			t.Errorf("version output should contain %q, got: %s", want, out)
		}
	}
}

func TestCLIHelp(t *testing.T) {
	_, out, _ := runCLI("help")

	commands := []string{"run", "validate", "watch", "version", "help"}
	for _, cmd := range commands {
		if !strings.Contains(out, cmd) {
			t.Errorf("help output should contain command %q, got: %s", cmd, out)
		}
	}
}

func TestCLIUnknownCommand(t *testing.T) {
	code, _, errOut := runCLI("scrape")
	if code != errors.ExitGeneral {
		t.Errorf("expected exit %d, got %d", errors.ExitGeneral, code)
	}
	if !strings.Contains(errOut, "unknown command 'scrape'") {
		t.Errorf("unexpected stderr: %s", errOut)
	}

	if code, _, _ := runCLI(); code != errors.ExitGeneral {
		t.Errorf("expected exit %d without arguments, got %d", errors.ExitGeneral, code)
	}
}

func TestCLIRun(t *testing.T) {
	site := newSite(t)
	dir := t.TempDir()
	p := writeFile(t, dir, "profile.yaml", profileParselet)

	code, out, errOut := runCLI("run", "-p", p, "-u", site.URL+"/")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, errOut)
	}

	var got map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, out)
	}
	if got["name"] != "Carol L." {
		t.Errorf("expected name 'Carol L.', got %v", got["name"])
	}
	place, _ := got["place"].(map[string]any)
	if place["name"] != "Tacorea" || place["rating"] != 4.5 {
		t.Errorf("unexpected place: %v", got["place"])
	}
	if strings.Index(out, `"name"`) > strings.Index(out, `"place"`) {
		t.Errorf("expected parselet key order in output:\n%s", out)
	}
}

func TestCLIRunYAML(t *testing.T) {
	site := newSite(t)
	p := writeFile(t, t.TempDir(), "p.json", `{"name": "h1"}`)

	code, out, errOut := runCLI("run", "--parselet", p, "--url", site.URL+"/", "--format", "yaml")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, errOut)
	}
	if strings.TrimSpace(out) != "name: Carol L." {
		t.Errorf("unexpected YAML output: %q", out)
	}
}

func TestCLIRunToSQLite(t *testing.T) {
	site := newSite(t)
	dir := t.TempDir()
	p := writeFile(t, dir, "p.yaml", profileParselet)
	db := filepath.Join(dir, "out.db")

	code, out, errOut := runCLI("run", "-p", p, "-u", site.URL+"/", "-o", db)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, errOut)
	}
	if out != "" {
		t.Errorf("expected nothing on stdout, got %q", out)
	}

	conn, err := sql.Open("sqlite3", db)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var url, data string
	if err := conn.QueryRow("SELECT url, data FROM records").Scan(&url, &data); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if url != site.URL+"/" {
		t.Errorf("expected url %s, got %s", site.URL+"/", url)
	}
	if !strings.Contains(data, `"rating":4.5`) {
		t.Errorf("unexpected data column: %s", data)
	}
}

func TestCLIRunToDirectory(t *testing.T) {
	site := newSite(t)
	dir := t.TempDir()
	p := writeFile(t, dir, "p.yaml", "name: h1\n")
	outDir := filepath.Join(dir, "results") + string(os.PathSeparator)

	code, _, errOut := runCLI("run", "-p", p, "-u", site.URL+"/", "-o", outDir)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, errOut)
	}

	files, err := filepath.Glob(filepath.Join(outDir, "127.0.0.1_*.json"))
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one generated file, got %v (%v)", files, err)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Carol L.") {
		t.Errorf("unexpected file content: %s", data)
	}
}

func TestCLIRunExitCodes(t *testing.T) {
	site := newSite(t)
	dir := t.TempDir()
	good := writeFile(t, dir, "good.yaml", "name: h1\n")
	bad := writeFile(t, dir, "bad.yaml", "\"name(\": h1\n")
	transform := writeFile(t, dir, "transform.yaml", "name: h1|nosuch\n")
	config := writeFile(t, dir, "config.yaml", "log_level: loud\n")

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"missing parselet flag", []string{"run", "-u", site.URL}, errors.ExitGeneral},
		{"grammar", []string{"run", "-p", bad, "-u", site.URL + "/"}, errors.ExitGrammar},
		{"fetch", []string{"run", "-p", good, "-u", site.URL + "/missing"}, errors.ExitFetch},
		{"transform", []string{"run", "-p", transform, "-u", site.URL + "/"}, errors.ExitTransform},
		{"config", []string{"run", "-p", good, "-u", site.URL + "/", "-c", config}, errors.ExitConfig},
		{"format", []string{"run", "-p", good, "-u", site.URL + "/", "-f", "pdf"}, errors.ExitConfig},
		{"relative url", []string{"run", "-p", good, "-u", "/only/a/path"}, errors.ExitConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := runCLI(tt.args...)
			if code != tt.want {
				t.Errorf("expected exit %d, got %d: %s", tt.want, code, errOut)
			}
			if errOut == "" {
				t.Error("expected an error message on stderr")
			}
		})
	}
}

func TestCLIValidate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "title: h1\n")
	writeFile(t, dir, "nested/b.json", `{"links(a)": ["@href"]}`)

	code, out, errOut := runCLI("validate", filepath.Join(dir, "**", "*.{yaml,json}"))
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, errOut)
	}
	if strings.Count(out, "✓") != 2 {
		t.Errorf("expected two valid files, got:\n%s", out)
	}

	writeFile(t, dir, "nested/c.yaml", "\"bad~(\": h1\n")
	code, out, _ = runCLI("validate", filepath.Join(dir, "**", "*.yaml"))
	if code != errors.ExitGrammar {
		t.Errorf("expected exit %d, got %d", errors.ExitGrammar, code)
	}
	if !strings.Contains(out, "✗") || !strings.Contains(out, "c.yaml") {
		t.Errorf("expected c.yaml reported as invalid, got:\n%s", out)
	}

	if code, _, _ := runCLI("validate", filepath.Join(dir, "*.txt")); code != errors.ExitGeneral {
		t.Errorf("expected exit %d for no matches, got %d", errors.ExitGeneral, code)
	}
	if code, _, _ := runCLI("validate"); code != errors.ExitGeneral {
		t.Errorf("expected exit %d without patterns, got %d", errors.ExitGeneral, code)
	}
}

// syncBuffer is a bytes.Buffer safe for the watcher goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestCLIWatch(t *testing.T) {
	site := newSite(t)
	p := writeFile(t, t.TempDir(), "p.yaml", "name: h1\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var out, errOut syncBuffer
	done := make(chan int, 1)
	go func() {
		done <- run(ctx, []string{"watch", "-p", p, "-u", site.URL + "/"}, &out, &errOut)
	}()

	waitFor(t, "first run", func() bool { return strings.Contains(out.String(), "Carol L.") })

	// give the watcher time to register before editing
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(p, []byte("heading: h1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "re-run", func() bool { return strings.Contains(out.String(), `"heading"`) })

	cancel()
	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("expected exit 0, got %d: %s", code, errOut.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}
