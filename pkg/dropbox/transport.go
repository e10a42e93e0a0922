package dropbox

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

// TransportOptions configures NewHTTPClient. Zero values pick the defaults.
type TransportOptions struct {
	// ConnectTimeout bounds dialing and the TLS handshake.
	ConnectTimeout time.Duration

	// DataTimeout bounds a whole request/response exchange. Long-poll calls
	// run on a copy of the client with this limit lifted.
	DataTimeout time.Duration

	// TrustedCertsFile is a PEM bundle that replaces the system roots.
	TrustedCertsFile string
}

const (
	defaultConnectTimeout = 30 * time.Second
	defaultDataTimeout    = 5 * time.Minute
)

// NewHTTPClient returns an http.Client that verifies the server against the
// system roots (or the pinned bundle) and refuses anything below TLS 1.2.
func NewHTTPClient(opts TransportOptions) (*http.Client, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}

	if opts.DataTimeout <= 0 {
		opts.DataTimeout = defaultDataTimeout
	}

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if opts.TrustedCertsFile != "" {
		pool, err := loadCertPool(opts.TrustedCertsFile)
		if err != nil {
			return nil, &ConfigError{Field: "trusted_certs", Err: err}
		}

		tlsCfg.RootCAs = pool
	}

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSClientConfig:     tlsCfg,
		TLSHandshakeTimeout: opts.ConnectTimeout,
		ForceAttemptHTTP2:   true,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}

	return &http.Client{Transport: transport, Timeout: opts.DataTimeout}, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading certificate bundle: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("no certificates found in bundle")
	}

	return pool, nil
}
