// pkg/types/types_test.go
package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/tycho01/parsz/internal/parselet"
	"github.com/tycho01/parsz/internal/scraper"
)

func TestOutputFormat(t *testing.T) {
	tests := []struct {
		name    string
		format  OutputFormat
		isValid bool
		ext     string
	}{
		{"json", FormatJSON, true, ".json"},
		{"yaml", FormatYAML, true, ".yaml"},
		{"excel", FormatExcel, true, ".xlsx"},
		{"sqlite", FormatSQLite, true, ".db"},
		{"postgres", FormatPostgres, true, ""},
		{"mongodb", FormatMongoDB, true, ""},
		{"csv", OutputFormat("csv"), false, ""},
		{"empty", OutputFormat(""), false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.IsValid(); got != tt.isValid {
				t.Errorf("OutputFormat.IsValid() = %v, want %v", got, tt.isValid)
			}
			if got := tt.format.GetFileExtension(); got != tt.ext {
				t.Errorf("GetFileExtension() = %q, want %q", got, tt.ext)
			}
		})
	}

	if len(ValidOutputFormats()) != 8 {
		t.Errorf("ValidOutputFormats() returned %d formats, expected 8", len(ValidOutputFormats()))
	}
	if !FormatExcel.IsFile() || FormatMySQL.IsFile() {
		t.Error("IsFile() misclassified a format")
	}
}

func TestFormatFromFileName(t *testing.T) {
	tests := []struct {
		name string
		want OutputFormat
		ok   bool
	}{
		{"out.json", FormatJSON, true},
		{"out.YML", FormatYAML, true},
		{"report.xlsx", FormatExcel, true},
		{"results.sqlite3", FormatSQLite, true},
		{"notes.txt", "", false},
		{"noext", "", false},
	}
	for _, tt := range tests {
		got, ok := FormatFromFileName(tt.name)
		if got != tt.want || ok != tt.ok {
			t.Errorf("FormatFromFileName(%q) = %q, %v; want %q, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDuration(t *testing.T) {
	d := Duration(1500 * time.Millisecond)
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `"1.5s"` {
		t.Errorf("Marshal = %s, want \"1.5s\"", data)
	}

	var back Duration
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back != d {
		t.Errorf("Unmarshal = %v, want %v", back, d)
	}

	if err := json.Unmarshal([]byte(`"soon"`), &back); err == nil {
		t.Error("Expected error for invalid duration")
	}
}

func TestExtractRequestValidate(t *testing.T) {
	schema := json.RawMessage(`{"title": "h1"}`)

	tests := []struct {
		name    string
		req     ExtractRequest
		wantErr string
	}{
		{"url", ExtractRequest{Parselet: schema, URL: "https://example.com/a"}, ""},
		{"html", ExtractRequest{Parselet: schema, HTML: "<h1>x</h1>"}, ""},
		{"no parselet", ExtractRequest{URL: "https://example.com"}, "parselet is required"},
		{"null parselet", ExtractRequest{Parselet: json.RawMessage("null"), HTML: "x"}, "parselet is required"},
		{"no source", ExtractRequest{Parselet: schema}, "one of url or html"},
		{"both", ExtractRequest{Parselet: schema, URL: "https://example.com", HTML: "x"}, "mutually exclusive"},
		{"bad url", ExtractRequest{Parselet: schema, URL: "ftp://example.com"}, "invalid url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewExtractResponse(t *testing.T) {
	data := parselet.NewObject()
	data.Set("title", "Hello")

	res := &scraper.ScrapingResult{
		URL:  "https://example.com",
		Data: data,
		Metadata: scraper.ScrapingMetadata{
			RequestDuration:    time.Second,
			ExtractionDuration: 500 * time.Millisecond,
			RemoteFetches:      2,
		},
	}

	out, err := json.Marshal(NewExtractResponse(res))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := `{"url":"https://example.com","data":{"title":"Hello"},"diagnostics":[],"fetches":2,"duration":"1.5s"}`
	if string(out) != want {
		t.Errorf("got %s\nwant %s", out, want)
	}
}
