// internal/security/security.go

// Package security vets the URLs parsz is asked to fetch. The API server
// fetches whatever a request body or a fetched page links to, so the
// validator refuses private addresses before a request and again at dial
// time.
package security

import (
	"context"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
	"syscall"

	"github.com/tycho01/parsz/internal/scraper"
	"github.com/tycho01/parsz/internal/utils"
)

// Reasons reported by BlockedError.
const (
	ReasonInvalidURL       = "invalid_url"
	ReasonURLLength        = "url_length_exceeded"
	ReasonDisallowedScheme = "disallowed_scheme"
	ReasonBlockedDomain    = "blocked_domain"
	ReasonPrivateAddress   = "private_address"
)

// BlockedError reports a URL or address refused by the validator.
type BlockedError struct {
	URL    string
	Reason string
	Detail string
}

func (e *BlockedError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s blocked (%s): %s", e.URL, e.Reason, e.Detail)
	}
	return fmt.Sprintf("%s blocked (%s)", e.URL, e.Reason)
}

// SecurityConfig configures the security validator
type SecurityConfig struct {
	AllowedSchemes []string `json:"allowed_schemes"`
	// BlockedDomains match the domain itself and every subdomain.
	BlockedDomains       []string `json:"blocked_domains"`
	MaxURLLength         int      `json:"max_url_length"`
	BlockPrivateNetworks bool     `json:"block_private_networks"`
}

// DefaultSecurityConfig returns a secure default configuration
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		AllowedSchemes:       []string{"https", "http"},
		MaxURLLength:         2048,
		BlockPrivateNetworks: true,
	}
}

// SecurityValidator checks URLs against a SecurityConfig.
type SecurityValidator struct {
	allowedSchemes []string
	blockedDomains []string
	maxURLLength   int
	blockPrivate   bool
}

// NewSecurityValidator creates a new security validator
func NewSecurityValidator(config *SecurityConfig) *SecurityValidator {
	if config == nil {
		config = DefaultSecurityConfig()
	}
	sv := &SecurityValidator{
		allowedSchemes: config.AllowedSchemes,
		maxURLLength:   config.MaxURLLength,
		blockPrivate:   config.BlockPrivateNetworks,
	}
	if len(sv.allowedSchemes) == 0 {
		sv.allowedSchemes = []string{"https", "http"}
	}
	for _, d := range config.BlockedDomains {
		d = strings.Trim(strings.ToLower(strings.TrimSpace(d)), ".")
		if d != "" {
			sv.blockedDomains = append(sv.blockedDomains, d)
		}
	}
	return sv
}

// ValidateURL returns a *BlockedError when inputURL may not be fetched.
// Host names are not resolved here; DialControl covers what they resolve to.
func (sv *SecurityValidator) ValidateURL(inputURL string) error {
	if sv.maxURLLength > 0 && len(inputURL) > sv.maxURLLength {
		return &BlockedError{URL: utils.TruncateString(inputURL, 64), Reason: ReasonURLLength,
			Detail: fmt.Sprintf("%d characters, maximum %d", len(inputURL), sv.maxURLLength)}
	}

	parsedURL, err := url.Parse(inputURL)
	if err != nil || parsedURL.Host == "" {
		return &BlockedError{URL: inputURL, Reason: ReasonInvalidURL}
	}
	if !sv.isSchemeAllowed(parsedURL.Scheme) {
		return &BlockedError{URL: inputURL, Reason: ReasonDisallowedScheme,
			Detail: "allowed: " + strings.Join(sv.allowedSchemes, ", ")}
	}

	host := strings.TrimSuffix(strings.ToLower(parsedURL.Hostname()), ".")
	if domain, ok := sv.blockedDomain(host); ok {
		return &BlockedError{URL: inputURL, Reason: ReasonBlockedDomain, Detail: domain}
	}
	if sv.blockPrivate {
		if host == "localhost" || strings.HasSuffix(host, ".localhost") {
			return &BlockedError{URL: inputURL, Reason: ReasonPrivateAddress, Detail: host}
		}
		if addr, err := netip.ParseAddr(host); err == nil && IsPrivateAddr(addr) {
			return &BlockedError{URL: inputURL, Reason: ReasonPrivateAddress, Detail: host}
		}
	}
	return nil
}

// DialControl is a net.Dialer Control hook refusing connections to private
// addresses once host names have been resolved. It allows everything when
// private networks are not blocked.
func (sv *SecurityValidator) DialControl(network, address string, _ syscall.RawConn) error {
	if !sv.blockPrivate {
		return nil
	}
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return &BlockedError{URL: address, Reason: ReasonInvalidURL, Detail: err.Error()}
	}
	if IsPrivateAddr(ap.Addr()) {
		return &BlockedError{URL: address, Reason: ReasonPrivateAddress, Detail: network}
	}
	return nil
}

// BlocksPrivateNetworks reports whether DialControl does anything.
func (sv *SecurityValidator) BlocksPrivateNetworks() bool {
	return sv.blockPrivate
}

// GuardFetcher wraps next so every URL is validated before it is fetched.
// A page whose final URL differs from the target, after redirects, is
// validated again and dropped when refused. Refusals surface as
// *scraper.FetchError wrapping a *BlockedError.
//
// The final URL check runs after the redirect was followed. Fetchers that
// can refuse earlier should do so too: the HTTP client takes ValidateURL
// as its redirect check and DialControl at dial time. The browser fetcher
// has neither, so with it a host name resolving to a private address is
// only caught when the URL names the address literally.
func GuardFetcher(next scraper.Fetcher, sv *SecurityValidator) scraper.Fetcher {
	return scraper.FetcherFunc(func(ctx context.Context, target string) (*scraper.Page, error) {
		if err := sv.ValidateURL(target); err != nil {
			return nil, &scraper.FetchError{URL: target, Err: err}
		}
		page, err := next.Fetch(ctx, target)
		if err != nil {
			return nil, err
		}
		if page.URL != "" && page.URL != target {
			if err := sv.ValidateURL(page.URL); err != nil {
				return nil, &scraper.FetchError{URL: target, StatusCode: page.StatusCode, Err: err}
			}
		}
		return page, nil
	})
}

var carrierGradeNAT = netip.MustParsePrefix("100.64.0.0/10")

// IsPrivateAddr reports whether addr is loopback, private, link-local,
// unspecified, multicast or carrier-grade NAT space.
func IsPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() || addr.IsMulticast() ||
		carrierGradeNAT.Contains(addr)
}

func (sv *SecurityValidator) isSchemeAllowed(scheme string) bool {
	scheme = strings.ToLower(scheme)
	for _, allowed := range sv.allowedSchemes {
		if scheme == allowed {
			return true
		}
	}
	return false
}

func (sv *SecurityValidator) blockedDomain(host string) (string, bool) {
	for _, blocked := range sv.blockedDomains {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return blocked, true
		}
	}
	return "", false
}
