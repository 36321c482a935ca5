package imagefetch

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/ogis/pkg/domain"
	"github.com/polisai/ogis/pkg/netguard"
)

// ClientConfig bounds the outbound HTTP client.
type ClientConfig struct {
	ConnectTimeout time.Duration
	TotalTimeout   time.Duration
	MaxRedirects   int
	Policy         netguard.URLPolicy
}

// NewHTTPClient builds a client whose every connection goes through resolver.
// Environment proxies are ignored, and every redirect hop is re-validated
// against the static URL policy before it is followed.
func NewHTTPClient(cfg ClientConfig, resolver *netguard.SafeResolver) *http.Client {
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           resolver.DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.TotalTimeout,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}

	return &http.Client{
		Transport:     otelhttp.NewTransport(transport),
		Timeout:       cfg.TotalTimeout,
		CheckRedirect: RedirectPolicy(cfg.MaxRedirects, cfg.Policy),
	}
}

// RedirectPolicy caps the redirect chain at maxRedirects hops and applies
// netguard.ValidateURL to each hop.
func RedirectPolicy(maxRedirects int, policy netguard.URLPolicy) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) > maxRedirects {
			return fmt.Errorf("imagefetch: stopped after %d redirects: %w", maxRedirects, domain.ErrRequestFailed)
		}
		if _, err := netguard.ValidateURL(req.URL.String(), policy); err != nil {
			return fmt.Errorf("imagefetch: redirect to %s: %w", req.URL.Redacted(), err)
		}
		return nil
	}
}
