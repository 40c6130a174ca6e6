// internal/proxy/types.go

// Package proxy rotates outbound fetches across a pool of forward proxies.
// A Manager picks a proxy per fetch, the fetcher stores it in the request
// context, and the transport's Proxy hook reads it back.
package proxy

import (
	"errors"
	"net/url"
	"sync"
	"time"
)

// ProxyType represents the type of proxy
type ProxyType string

const (
	ProxyTypeHTTP   ProxyType = "http"
	ProxyTypeHTTPS  ProxyType = "https"
	ProxyTypeSOCKS5 ProxyType = "socks5"
)

// RotationStrategy defines how proxies are rotated
type RotationStrategy string

const (
	RotationRoundRobin RotationStrategy = "round_robin"
	RotationRandom     RotationStrategy = "random"
	RotationWeighted   RotationStrategy = "weighted"
)

// ErrNoProxies is returned by Next when every proxy is cooling down.
var ErrNoProxies = errors.New("no healthy proxies available")

// ProxyConfig defines proxy configuration
type ProxyConfig struct {
	Enabled  bool             `yaml:"enabled" json:"enabled" envconfig:"ENABLED"`
	Rotation RotationStrategy `yaml:"rotation,omitempty" json:"rotation,omitempty" envconfig:"ROTATION"`
	// FailureThreshold consecutive failures take a proxy out of rotation
	// for RecoveryTime.
	FailureThreshold int             `yaml:"failure_threshold,omitempty" json:"failure_threshold,omitempty" envconfig:"FAILURE_THRESHOLD"`
	RecoveryTime     time.Duration   `yaml:"recovery_time,omitempty" json:"recovery_time,omitempty" envconfig:"RECOVERY_TIME"`
	Providers        []ProxyProvider `yaml:"providers,omitempty" json:"providers,omitempty" ignored:"true"`
	Authentication   *ProxyAuth      `yaml:"authentication,omitempty" json:"-" ignored:"true"`
	TLS              TLSConfig       `yaml:"tls,omitempty" json:"tls,omitempty" envconfig:"TLS"`
}

// TLSConfig configures TLS for fetches made through the pool.
type TLSConfig struct {
	// InsecureSkipVerify disables certificate verification. Test use only.
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty" envconfig:"INSECURE_SKIP_VERIFY"`
	ServerName         string   `yaml:"server_name,omitempty" json:"server_name,omitempty" envconfig:"SERVER_NAME"`
	RootCAs            []string `yaml:"root_cas,omitempty" json:"root_cas,omitempty" envconfig:"ROOT_CAS"`
	ClientCert         string   `yaml:"client_cert,omitempty" json:"client_cert,omitempty" envconfig:"CLIENT_CERT"`
	ClientKey          string   `yaml:"client_key,omitempty" json:"client_key,omitempty" envconfig:"CLIENT_KEY"`
}

// IsZero reports whether no TLS option is set.
func (c TLSConfig) IsZero() bool {
	return !c.InsecureSkipVerify && c.ServerName == "" && len(c.RootCAs) == 0 &&
		c.ClientCert == "" && c.ClientKey == ""
}

// ProxyProvider represents a proxy provider configuration
type ProxyProvider struct {
	Name     string    `yaml:"name" json:"name"`
	Type     ProxyType `yaml:"type" json:"type"`
	Host     string    `yaml:"host" json:"host"`
	Port     int       `yaml:"port" json:"port"`
	Username string    `yaml:"username,omitempty" json:"username,omitempty"`
	Password string    `yaml:"password,omitempty" json:"-"`
	Weight   int       `yaml:"weight,omitempty" json:"weight,omitempty"`
	Disabled bool      `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// ProxyAuth holds credentials shared by providers that have none.
type ProxyAuth struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// ProxyInstance is one proxy in the pool.
type ProxyInstance struct {
	Name string
	URL  *url.URL

	mu          sync.Mutex
	failures    int // consecutive
	lastFailure time.Time
	uses        int64
	successes   int64
	failTotal   int64
}

// ProxyInstanceStat represents statistics for a single proxy instance
type ProxyInstanceStat struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Healthy   bool   `json:"healthy"`
	UseCount  int64  `json:"use_count"`
	Successes int64  `json:"successes"`
	Failures  int64  `json:"failures"`
}

// ManagerStats represents proxy manager statistics
type ManagerStats struct {
	TotalProxies   int                 `json:"total_proxies"`
	HealthyProxies int                 `json:"healthy_proxies"`
	TotalRequests  int64               `json:"total_requests"`
	Proxies        []ProxyInstanceStat `json:"proxies"`
}
