// internal/errors/service.go - CLI error reporting and retry helpers
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/tycho01/parsz/internal/config"
	"github.com/tycho01/parsz/internal/output"
	"github.com/tycho01/parsz/internal/parselet"
	"github.com/tycho01/parsz/internal/pipeline"
	"github.com/tycho01/parsz/internal/scraper"
	"github.com/tycho01/parsz/internal/security"
)

// Exit codes
const (
	ExitOK        = 0
	ExitGeneral   = 1
	ExitConfig    = 2
	ExitFetch     = 3
	ExitGrammar   = 4
	ExitOutput    = 5
	ExitTransform = 6
)

// Service turns errors into exit codes and user-facing messages.
type Service struct {
	retryConfig    RetryConfig
	messageHandler *MessageHandler
}

// RetryConfig defines retry behavior
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries" json:"max_retries"`
	BaseDelay     time.Duration `yaml:"base_delay" json:"base_delay"`
	BackoffFactor float64       `yaml:"backoff_factor" json:"backoff_factor"`
	MaxDelay      time.Duration `yaml:"max_delay" json:"max_delay"`
}

// MessageHandler converts technical errors to user-friendly messages
type MessageHandler struct {
	showTechnical bool
}

// NewService creates a service with default retry settings.
func NewService() *Service {
	return &Service{
		retryConfig: RetryConfig{
			MaxRetries:    3,
			BaseDelay:     time.Second,
			BackoffFactor: 2.0,
			MaxDelay:      30 * time.Second,
		},
		messageHandler: &MessageHandler{showTechnical: false},
	}
}

// WithVerbose enables technical error details
func (s *Service) WithVerbose(verbose bool) *Service {
	s.messageHandler.showTechnical = verbose
	return s
}

// WithRetryConfig replaces the retry settings.
func (s *Service) WithRetryConfig(cfg RetryConfig) *Service {
	s.retryConfig = cfg
	return s
}

// ExecuteWithRetry runs operation until it succeeds, returns a permanent
// error or runs out of attempts.
func (s *Service) ExecuteWithRetry(ctx context.Context, operation func() error, operationName string) error {
	var lastErr error
	for attempt := 0; attempt <= s.retryConfig.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !s.shouldRetry(err, attempt) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.calculateDelay(attempt)):
		}
	}

	return fmt.Errorf("operation %s failed after %d attempts: %w", operationName, s.retryConfig.MaxRetries+1, lastErr)
}

// shouldRetry reports whether err is transient. Grammar, transform and
// configuration errors never are.
func (s *Service) shouldRetry(err error, attempt int) bool {
	if attempt >= s.retryConfig.MaxRetries {
		return false
	}
	if IsRetryable(err) {
		return true
	}
	var we *output.WriteError
	if stderrors.As(err, &we) {
		msg := strings.ToLower(we.Error())
		return strings.Contains(msg, "connection refused") || strings.Contains(msg, "timeout")
	}
	return false
}

// IsRetryable reports whether err is a transient fetch or network failure.
func IsRetryable(err error) bool {
	var be *security.BlockedError
	if stderrors.As(err, &be) {
		return false
	}
	var fe *scraper.FetchError
	if stderrors.As(err, &fe) {
		if stderrors.Is(fe.Err, scraper.ErrNotHTML) {
			return false
		}
		return fe.StatusCode == 0 || fe.StatusCode == 429 || fe.StatusCode >= 500
	}
	var ne net.Error
	if stderrors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

func (s *Service) calculateDelay(attempt int) time.Duration {
	delay := float64(s.retryConfig.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= s.retryConfig.BackoffFactor
	}
	if limit := float64(s.retryConfig.MaxDelay); limit > 0 && delay > limit {
		delay = limit
	}
	return time.Duration(delay)
}

// GetUserFriendlyError returns a title, message and suggestions for err.
func (s *Service) GetUserFriendlyError(err error) (title, message string, suggestions []string) {
	if err == nil {
		return "", "", nil
	}

	var (
		ge *parselet.GrammarError
		fe *scraper.FetchError
		nf *pipeline.TransformNotFoundError
		te *pipeline.TransformError
		we *output.WriteError
	)

	switch {
	case stderrors.Is(err, config.ErrInvalidConfig):
		return "Configuration Error",
			"The configuration is invalid.",
			[]string{
				"Check the field named in the details below",
				"Run with -v to see the full error",
			}

	case stderrors.As(err, &ge):
		if ge.Kind == parselet.KindSelector {
			return "Invalid Selector",
				fmt.Sprintf("The CSS selector %q could not be compiled.", ge.Input),
				[]string{
					"Check the selector syntax",
					"Use '.' to refer to the current element",
				}
		}
		return "Invalid Parselet",
			fmt.Sprintf("The %s %q does not match the parselet grammar.", ge.Kind, ge.Input),
			[]string{
				"Keys look like name?(scope)~(link)",
				"Values look like selector@attribute|transform",
				"Run 'parsz validate' on the parselet file",
			}

	case stderrors.As(err, &fe):
		return fetchMessage(fe)

	case stderrors.As(err, &nf):
		return "Unknown Transform",
			fmt.Sprintf("No transform named %q is registered.", nf.Name),
			[]string{
				"Check the transform name after '|'",
				"Pass --expressions to allow function expressions",
			}

	case stderrors.Is(err, pipeline.ErrExpressionsDisabled):
		return "Expressions Disabled",
			"The parselet uses a transform expression but expressions are disabled.",
			[]string{"Pass --expressions or set allow_expressions in the config"}

	case stderrors.As(err, &te):
		return "Transform Failed",
			fmt.Sprintf("The transform %q could not convert the extracted value.", te.Name),
			[]string{
				"Mark the key optional with '?' to keep going",
				"Check that the selector targets the right element",
			}

	case stderrors.As(err, &we):
		return "Output Error",
			fmt.Sprintf("Could not write %s output.", we.Format),
			[]string{
				"Check the output file path or connection string",
				"Verify the database is reachable",
			}

	case stderrors.Is(err, context.DeadlineExceeded):
		return "Connection Timeout",
			"The operation timed out.",
			[]string{
				"Increase http.timeout in the configuration",
				"The website might be slow or experiencing issues",
			}
	}

	return "Unexpected Error",
		"An unexpected error occurred during the operation.",
		[]string{
			"Try running the command again",
			"Run with -v to see the full error",
		}
}

func fetchMessage(fe *scraper.FetchError) (string, string, []string) {
	msg := strings.ToLower(fe.Error())
	var be *security.BlockedError
	switch {
	case stderrors.As(fe, &be):
		return "URL Blocked",
			fmt.Sprintf("%s may not be fetched (%s).", fe.URL, be.Reason),
			[]string{"Check the security section of the configuration"}
	case stderrors.Is(fe, scraper.ErrNotHTML):
		return "Not an HTML Page",
			fmt.Sprintf("%s did not return markup.", fe.URL),
			[]string{"Check that the link points to a web page, not a file"}
	case fe.StatusCode == 429:
		return "Rate Limit Exceeded",
			"You're making requests too quickly.",
			[]string{
				"Lower http.rate_limit in the configuration",
				"Lower http.max_concurrency",
			}
	case fe.StatusCode == 401 || fe.StatusCode == 403:
		return "Access Denied",
			fmt.Sprintf("%s refused the request (HTTP %d).", fe.URL, fe.StatusCode),
			[]string{
				"Set cookies or headers in the http section of the configuration",
				"Try --browser for pages that need JavaScript",
			}
	case fe.StatusCode != 0:
		return "Fetch Failed",
			fmt.Sprintf("%s returned HTTP %d.", fe.URL, fe.StatusCode),
			[]string{
				"Check that the URL is correct",
				"Mark the remote key optional with '?' to keep going",
			}
	case strings.Contains(msg, "no such host"):
		return "Domain Not Found",
			"Could not find the website domain.",
			[]string{
				"Check if the URL is spelled correctly",
				"Check your DNS settings",
			}
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "Connection Timeout",
			"The request timed out while trying to connect to the website.",
			[]string{
				"Check your internet connection",
				"Increase http.timeout in the configuration",
			}
	case strings.Contains(msg, "connection refused"):
		return "Connection Refused",
			"The website server refused the connection.",
			[]string{"The server might be temporarily down"}
	}
	return "Fetch Failed",
		fmt.Sprintf("Could not fetch %s.", fe.URL),
		[]string{"Check your internet connection"}
}

// GetExitCode returns appropriate exit code for error
func (s *Service) GetExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		ge *parselet.GrammarError
		fe *scraper.FetchError
		nf *pipeline.TransformNotFoundError
		te *pipeline.TransformError
		we *output.WriteError
	)

	switch {
	case stderrors.Is(err, config.ErrInvalidConfig):
		return ExitConfig
	case stderrors.As(err, &ge):
		return ExitGrammar
	case stderrors.As(err, &fe):
		return ExitFetch
	case stderrors.As(err, &nf), stderrors.As(err, &te), stderrors.Is(err, pipeline.ErrExpressionsDisabled):
		return ExitTransform
	case stderrors.As(err, &we):
		return ExitOutput
	default:
		return ExitGeneral
	}
}

// FormatErrorForCLI formats error for command-line display
func (s *Service) FormatErrorForCLI(err error) string {
	if err == nil {
		return ""
	}
	title, message, suggestions := s.GetUserFriendlyError(err)

	var b strings.Builder
	fmt.Fprintf(&b, "Error: %s\n%s\n", title, message)

	if s.messageHandler.showTechnical {
		fmt.Fprintf(&b, "\nTechnical details: %s\n", err.Error())
	}

	if len(suggestions) > 0 {
		b.WriteString("\nSuggestions:\n")
		for _, suggestion := range suggestions {
			fmt.Fprintf(&b, "  - %s\n", suggestion)
		}
	}

	return b.String()
}
