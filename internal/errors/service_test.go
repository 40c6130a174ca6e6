// internal/errors/service_test.go
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/tycho01/parsz/internal/config"
	"github.com/tycho01/parsz/internal/output"
	"github.com/tycho01/parsz/internal/parselet"
	"github.com/tycho01/parsz/internal/pipeline"
	"github.com/tycho01/parsz/internal/scraper"
	"github.com/tycho01/parsz/internal/security"
)

func fastService() *Service {
	return NewService().WithRetryConfig(RetryConfig{
		MaxRetries:    2,
		BaseDelay:     time.Millisecond,
		BackoffFactor: 2,
		MaxDelay:      5 * time.Millisecond,
	})
}

func TestService_GetExitCode(t *testing.T) {
	service := NewService()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"config", fmt.Errorf("load: %w", config.ErrInvalidConfig), ExitConfig},
		{"fetch", &scraper.FetchError{URL: "http://x", StatusCode: 404, Err: stderrors.New("Not Found")}, ExitFetch},
		{"wrapped fetch", fmt.Errorf("at $.place: %w", &scraper.FetchError{URL: "http://x", Err: stderrors.New("refused")}), ExitFetch},
		{"grammar", &parselet.GrammarError{Kind: parselet.KindKey, Input: "a(", Pos: 1, Reason: "unbalanced"}, ExitGrammar},
		{"transform not found", &pipeline.TransformNotFoundError{Name: "nope"}, ExitTransform},
		{"transform failed", &pipeline.TransformError{Name: "number", Err: stderrors.New("bad")}, ExitTransform},
		{"expressions disabled", fmt.Errorf("x: %w", pipeline.ErrExpressionsDisabled), ExitTransform},
		{"output", &output.WriteError{Format: "sqlite", Err: stderrors.New("locked")}, ExitOutput},
		{"other", stderrors.New("boom"), ExitGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := service.GetExitCode(tt.err); got != tt.want {
				t.Errorf("GetExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestService_GetUserFriendlyError(t *testing.T) {
	service := NewService()

	tests := []struct {
		name  string
		err   error
		title string
	}{
		{"config", config.ErrInvalidConfig, "Configuration Error"},
		{"grammar", &parselet.GrammarError{Kind: parselet.KindValue, Input: "@@", Pos: 1, Reason: "x"}, "Invalid Parselet"},
		{"selector", &parselet.GrammarError{Kind: parselet.KindSelector, Input: "a[", Pos: -1, Reason: "x"}, "Invalid Selector"},
		{"rate limit", &scraper.FetchError{URL: "http://x", StatusCode: 429, Err: stderrors.New("Too Many Requests")}, "Rate Limit Exceeded"},
		{"forbidden", &scraper.FetchError{URL: "http://x", StatusCode: 403, Err: stderrors.New("Forbidden")}, "Access Denied"},
		{"not html", &scraper.FetchError{URL: "http://x/a.png", Err: scraper.ErrNotHTML}, "Not an HTML Page"},
		{"dns", &scraper.FetchError{URL: "http://x", Err: stderrors.New("dial tcp: lookup x: no such host")}, "Domain Not Found"},
		{"unknown transform", &pipeline.TransformNotFoundError{Name: "nope"}, "Unknown Transform"},
		{"transform", &pipeline.TransformError{Name: "number", Err: stderrors.New("bad")}, "Transform Failed"},
		{"output", &output.WriteError{Format: "excel", Err: stderrors.New("x")}, "Output Error"},
		{"other", stderrors.New("boom"), "Unexpected Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, message, suggestions := service.GetUserFriendlyError(tt.err)
			if title != tt.title {
				t.Errorf("title = %q, want %q", title, tt.title)
			}
			if message == "" {
				t.Error("Expected a message")
			}
			if len(suggestions) == 0 {
				t.Error("Expected suggestions")
			}
		})
	}
}

func TestService_FormatErrorForCLI(t *testing.T) {
	err := &scraper.FetchError{URL: "http://example.com/x", StatusCode: 500, Err: stderrors.New("Internal Server Error")}

	out := NewService().FormatErrorForCLI(err)
	if !strings.Contains(out, "Fetch Failed") {
		t.Errorf("Expected title in output, got %q", out)
	}
	if !strings.Contains(out, "Suggestions:") {
		t.Errorf("Expected suggestions in output, got %q", out)
	}
	if strings.Contains(out, "Technical details") {
		t.Error("Technical details should be hidden by default")
	}

	verbose := NewService().WithVerbose(true).FormatErrorForCLI(err)
	if !strings.Contains(verbose, "Technical details: fetch http://example.com/x: HTTP 500") {
		t.Errorf("Expected technical details, got %q", verbose)
	}

	if NewService().FormatErrorForCLI(nil) != "" {
		t.Error("Expected empty output for nil error")
	}
}

func TestService_ExecuteWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("transient then success", func(t *testing.T) {
		calls := 0
		err := fastService().ExecuteWithRetry(ctx, func() error {
			calls++
			if calls < 3 {
				return &scraper.FetchError{URL: "http://x", StatusCode: 503, Err: stderrors.New("unavailable")}
			}
			return nil
		}, "fetch")
		if err != nil {
			t.Fatalf("Expected success, got %v", err)
		}
		if calls != 3 {
			t.Errorf("Expected 3 calls, got %d", calls)
		}
	})

	t.Run("permanent error stops", func(t *testing.T) {
		calls := 0
		grammar := &parselet.GrammarError{Kind: parselet.KindKey, Input: "(", Pos: 0, Reason: "x"}
		err := fastService().ExecuteWithRetry(ctx, func() error {
			calls++
			return grammar
		}, "parse")
		if err != grammar {
			t.Errorf("Expected the grammar error back, got %v", err)
		}
		if calls != 1 {
			t.Errorf("Expected 1 call, got %d", calls)
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		calls := 0
		err := fastService().ExecuteWithRetry(ctx, func() error {
			calls++
			return &output.WriteError{Format: "postgres", Err: stderrors.New("dial tcp: connection refused")}
		}, "connect")
		if err == nil {
			t.Fatal("Expected an error")
		}
		if calls != 3 {
			t.Errorf("Expected 3 calls, got %d", calls)
		}
		var we *output.WriteError
		if !stderrors.As(err, &we) {
			t.Errorf("Expected WriteError in chain, got %v", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		svc := NewService().WithRetryConfig(RetryConfig{MaxRetries: 3, BaseDelay: time.Hour, BackoffFactor: 1})
		err := svc.ExecuteWithRetry(cctx, func() error {
			return &scraper.FetchError{URL: "http://x", Err: stderrors.New("reset")}
		}, "fetch")
		if !stderrors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&scraper.FetchError{URL: "u", StatusCode: 502, Err: stderrors.New("x")}, true},
		{&scraper.FetchError{URL: "u", StatusCode: 429, Err: stderrors.New("x")}, true},
		{&scraper.FetchError{URL: "u", Err: stderrors.New("reset")}, true},
		{&scraper.FetchError{URL: "u", StatusCode: 404, Err: stderrors.New("x")}, false},
		{&scraper.FetchError{URL: "u", Err: scraper.ErrNotHTML}, false},
		{&scraper.FetchError{URL: "u", Err: &security.BlockedError{URL: "u", Reason: security.ReasonPrivateAddress}}, false},
		{stderrors.New("other"), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestCalculateDelay(t *testing.T) {
	s := NewService().WithRetryConfig(RetryConfig{BaseDelay: time.Second, BackoffFactor: 2, MaxDelay: 3 * time.Second})
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	for attempt, w := range want {
		if got := s.calculateDelay(attempt); got != w {
			t.Errorf("attempt %d: delay = %v, want %v", attempt, got, w)
		}
	}
}
