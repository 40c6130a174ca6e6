// internal/proxy/manager.go
package proxy

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tycho01/parsz/internal/utils"
)

// ProxyManager picks proxies from the configured pool and tracks their
// health from fetch outcomes.
type ProxyManager struct {
	config       ProxyConfig
	proxies      []*ProxyInstance
	currentIndex int
	requests     int64
	mu           sync.Mutex
	logger       utils.Logger
	now          func() time.Time
}

// NewProxyManager builds the pool. Disabled providers are skipped.
func NewProxyManager(config ProxyConfig, logger utils.Logger) (*ProxyManager, error) {
	if config.Rotation == "" {
		config.Rotation = RotationRoundRobin
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.RecoveryTime <= 0 {
		config.RecoveryTime = 5 * time.Minute
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	pm := &ProxyManager{config: config, logger: logger, now: time.Now}
	for _, provider := range config.Providers {
		if provider.Disabled {
			continue
		}
		proxyURL, err := buildProxyURL(provider, config.Authentication)
		if err != nil {
			return nil, fmt.Errorf("proxy %s: %w", provider.Name, err)
		}
		name := provider.Name
		if name == "" {
			name = proxyURL.Host
		}
		pm.proxies = append(pm.proxies, &ProxyInstance{Name: name, URL: proxyURL})
	}
	if len(pm.proxies) == 0 {
		return nil, errors.New("proxy pool is enabled but has no providers")
	}
	return pm, nil
}

// buildProxyURL constructs a proxy URL from provider configuration
func buildProxyURL(provider ProxyProvider, auth *ProxyAuth) (*url.URL, error) {
	switch provider.Type {
	case ProxyTypeHTTP, ProxyTypeHTTPS, ProxyTypeSOCKS5:
	case "":
		provider.Type = ProxyTypeHTTP
	default:
		return nil, fmt.Errorf("unsupported proxy type: %s", provider.Type)
	}
	if provider.Host == "" || provider.Port <= 0 || provider.Port > 65535 {
		return nil, fmt.Errorf("invalid address %s:%d", provider.Host, provider.Port)
	}

	proxyURL := &url.URL{
		Scheme: string(provider.Type),
		Host:   fmt.Sprintf("%s:%d", provider.Host, provider.Port),
	}
	switch {
	case provider.Username != "":
		proxyURL.User = url.UserPassword(provider.Username, provider.Password)
	case auth != nil && auth.Username != "":
		proxyURL.User = url.UserPassword(auth.Username, auth.Password)
	}
	return proxyURL, nil
}

// Next returns the proxy for the next fetch.
func (pm *ProxyManager) Next() (*ProxyInstance, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	available := pm.available()
	if len(available) == 0 {
		return nil, ErrNoProxies
	}

	var proxy *ProxyInstance
	switch pm.config.Rotation {
	case RotationRandom:
		proxy = available[rand.Intn(len(available))]
	case RotationWeighted:
		proxy = pickWeighted(available, pm.weight)
	default:
		proxy = pm.roundRobin()
	}

	proxy.mu.Lock()
	proxy.uses++
	proxy.mu.Unlock()
	pm.requests++
	return proxy, nil
}

// roundRobin returns the next available proxy after the last one used.
// Callers hold pm.mu and have checked that one is available.
func (pm *ProxyManager) roundRobin() *ProxyInstance {
	for i := 0; i < len(pm.proxies); i++ {
		index := (pm.currentIndex + i) % len(pm.proxies)
		if pm.isAvailable(pm.proxies[index]) {
			pm.currentIndex = (index + 1) % len(pm.proxies)
			return pm.proxies[index]
		}
	}
	return nil
}

func (pm *ProxyManager) weight(p *ProxyInstance) int {
	for _, provider := range pm.config.Providers {
		if provider.Name == p.Name && provider.Weight > 0 {
			return provider.Weight
		}
	}
	return 1
}

func pickWeighted(proxies []*ProxyInstance, weight func(*ProxyInstance) int) *ProxyInstance {
	total := 0
	for _, p := range proxies {
		total += weight(p)
	}
	r := rand.Intn(total)
	for _, p := range proxies {
		r -= weight(p)
		if r < 0 {
			return p
		}
	}
	return proxies[0]
}

// available lists proxies in rotation. A proxy past its recovery time gets
// another chance.
func (pm *ProxyManager) available() []*ProxyInstance {
	var out []*ProxyInstance
	for _, p := range pm.proxies {
		if pm.isAvailable(p) {
			out = append(out, p)
		}
	}
	return out
}

func (pm *ProxyManager) isAvailable(p *ProxyInstance) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures < pm.config.FailureThreshold {
		return true
	}
	if pm.now().Sub(p.lastFailure) >= pm.config.RecoveryTime {
		p.failures = 0
		return true
	}
	return false
}

// ReportSuccess reports successful usage of a proxy
func (pm *ProxyManager) ReportSuccess(proxy *ProxyInstance) {
	if proxy == nil {
		return
	}
	proxy.mu.Lock()
	proxy.failures = 0
	proxy.successes++
	proxy.mu.Unlock()
}

// ReportFailure reports failed usage of a proxy
func (pm *ProxyManager) ReportFailure(proxy *ProxyInstance, err error) {
	if proxy == nil {
		return
	}
	proxy.mu.Lock()
	proxy.failures++
	proxy.failTotal++
	proxy.lastFailure = pm.now()
	down := proxy.failures == pm.config.FailureThreshold
	proxy.mu.Unlock()

	if down {
		pm.logger.WithFields(map[string]interface{}{
			"proxy":    proxy.Name,
			"recovery": pm.config.RecoveryTime.String(),
		}).Warnf("proxy taken out of rotation: %v", err)
	}
}

// GetStats returns proxy usage statistics
func (pm *ProxyManager) GetStats() ManagerStats {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	stats := ManagerStats{TotalProxies: len(pm.proxies), TotalRequests: pm.requests}
	for _, p := range pm.proxies {
		healthy := pm.isAvailable(p)
		if healthy {
			stats.HealthyProxies++
		}
		p.mu.Lock()
		stats.Proxies = append(stats.Proxies, ProxyInstanceStat{
			Name:      p.Name,
			URL:       p.URL.Redacted(),
			Healthy:   healthy,
			UseCount:  p.uses,
			Successes: p.successes,
			Failures:  p.failTotal,
		})
		p.mu.Unlock()
	}
	return stats
}

type contextKey struct{}

// WithProxy returns a context whose requests are sent through p.
func WithProxy(ctx context.Context, p *ProxyInstance) context.Context {
	if p == nil {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the proxy stored by WithProxy.
func FromContext(ctx context.Context) *ProxyInstance {
	p, _ := ctx.Value(contextKey{}).(*ProxyInstance)
	return p
}

// ProxyFunc is an http.Transport Proxy hook: it uses the proxy carried by
// the request context and falls back to the environment.
func ProxyFunc(req *http.Request) (*url.URL, error) {
	if p := FromContext(req.Context()); p != nil {
		return p.URL, nil
	}
	return http.ProxyFromEnvironment(req)
}
