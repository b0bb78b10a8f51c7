// Package httpclient builds pooled HTTP clients for outbound calls made by
// Go clients of the API.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// Config holds connection pool and timeout settings.
type Config struct {
	MaxIdleConns    int
	IdleConnTimeout time.Duration
	DialTimeout     time.Duration
	ResponseTimeout time.Duration
}

// DefaultConfig suits a single long-lived API client.
func DefaultConfig() Config {
	return Config{
		MaxIdleConns:    4,
		IdleConnTimeout: 90 * time.Second,
		DialTimeout:     5 * time.Second,
		ResponseTimeout: 10 * time.Second,
	}
}

// New creates an HTTP client from cfg.
func New(cfg Config) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.DialTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.ResponseTimeout,
	}
}
