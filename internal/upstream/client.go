// Package upstream builds the HTTP client the Token Broker and Proxy
// Forwarder use to reach upstream geospatial services, and a TCP health
// checker for readiness probes against configured hosts.
package upstream

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/net/http2"
)

// TLSConfig holds paths to TLS material for an upstream client. An empty
// CACertFile means "use the system root pool"; CertFile/KeyFile add mutual
// TLS for upstreams that require a client certificate.
type TLSConfig struct {
	CACertFile string
	CertFile   string
	KeyFile    string
}

// TLSConfigFromEnv reads upstream TLS configuration from environment
// variables, for deployments that talk to upstreams behind mTLS.
func TLSConfigFromEnv() TLSConfig {
	return TLSConfig{
		CACertFile: os.Getenv("UPSTREAM_TLS_CA"),
		CertFile:   os.Getenv("UPSTREAM_TLS_CERT"),
		KeyFile:    os.Getenv("UPSTREAM_TLS_KEY"),
	}
}

// NewClient builds an *http.Client for talking to upstream services (§4.4,
// §4.5): a standard transport with connection pooling, HTTP/2 layered on
// via http2.ConfigureTransport so upstreams that negotiate it over TLS get
// it, while plain HTTP/1.1 upstreams (most ArcGIS/WMS/WFS servers) keep
// working unchanged.
func NewClient(timeout time.Duration, tlsCfg TLSConfig) (*http.Client, error) {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	if tlsCfg.CACertFile != "" || tlsCfg.CertFile != "" {
		tlsConfig, err := buildTLSConfig(tlsCfg)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("upstream: configure http2: %w", err)
	}

	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("upstream: read CA cert %s: %w", cfg.CACertFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("upstream: parse CA cert %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("upstream: load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
