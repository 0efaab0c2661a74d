// Package httpclient builds the pooled, proxy- and TLS-aware HTTP client
// shared by every registry and advisory provider.
package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/net/http/httpproxy"
)

// Options configures the shared transport. A zero Options is usable and
// yields direct connections with system CA trust and no insecure overrides.
type Options struct {
	HTTPSProxy         string
	CACertPath         string
	InsecureSkipVerify bool
	MaxConnsPerHost    int
	RequestTimeout     time.Duration
}

const defaultMaxConnsPerHost = 8
const defaultRequestTimeout = 20 * time.Second

// New builds an *http.Client with a per-host connection cap, an overall
// request deadline, and the proxy/CA overrides from opts. A caller-supplied
// HTTPSProxy takes precedence over the environment's HTTPS_PROXY/https_proxy.
func New(opts Options) (*http.Client, error) {
	maxConns := opts.MaxConnsPerHost
	if maxConns <= 0 {
		maxConns = defaultMaxConnsPerHost
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	proxyConfig := httpproxy.FromEnvironment()
	if opts.HTTPSProxy != "" {
		proxyConfig.HTTPSProxy = opts.HTTPSProxy
	}
	proxyFunc := func(req *http.Request) (*url.URL, error) {
		return proxyConfig.ProxyFunc()(req.URL)
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify}
	if opts.CACertPath != "" {
		pool, err := loadCACertPool(opts.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("httpclient: loading CA cert: %w", err)
		}
		tlsConfig.RootCAs = pool
	}

	transport := &http.Transport{
		Proxy:               proxyFunc,
		TLSClientConfig:     tlsConfig,
		MaxConnsPerHost:     maxConns,
		MaxIdleConnsPerHost: maxConns,
		IdleConnTimeout:     90 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

func loadCACertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
