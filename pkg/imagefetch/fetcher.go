package imagefetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/ogis/pkg/domain"
	"github.com/polisai/ogis/pkg/netguard"
	"github.com/polisai/ogis/pkg/telemetry"
)

const userAgent = "ogis-image-fetcher/1.0"

// Config bounds a Fetcher.
type Config struct {
	ClientConfig
	// MaxBytes is the largest payload accepted from a remote server.
	MaxBytes int64
}

// Fetcher resolves remote image URLs to validated bytes: cache lookup, static
// URL validation, bounded download, content sniffing and cache insert, in that
// order. It performs no retries and no request deduplication.
type Fetcher struct {
	client   *http.Client
	resolver *netguard.SafeResolver
	cache    *ImageCache
	policy   netguard.URLPolicy
	maxBytes int64
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the SSRF-guarded client. Tests use it to point the
// fetcher at local servers.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithResolver sets the shared resolver used by the default client.
func WithResolver(resolver *netguard.SafeResolver) Option {
	return func(f *Fetcher) {
		f.resolver = resolver
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMetrics sets the Prometheus instruments.
func WithMetrics(m *Metrics) Option {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

// WithTracer overrides the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(f *Fetcher) {
		if tracer != nil {
			f.tracer = tracer
		}
	}
}

// NewFetcher builds a Fetcher. A nil cache disables caching.
func NewFetcher(cfg Config, cache *ImageCache, opts ...Option) *Fetcher {
	f := &Fetcher{
		cache:    cache,
		policy:   cfg.Policy,
		maxBytes: cfg.MaxBytes,
		logger:   slog.Default(),
		tracer:   telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		if f.resolver == nil {
			f.resolver = netguard.NewSafeResolver(cfg.ConnectTimeout, netguard.WithLogger(f.logger))
		}
		f.client = NewHTTPClient(cfg.ClientConfig, f.resolver)
	}
	return f
}

// Fetch returns the validated image behind rawURL. Failures are
// *domain.FetchError values whose Kind is one of the fetch sentinels.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (domain.ValidatedImage, error) {
	ctx, span := f.tracer.Start(ctx, "imagefetch.Fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("url.full", telemetry.SanitizeURL(rawURL))),
	)
	defer span.End()
	start := time.Now()

	if img, ok := f.lookup(rawURL); ok {
		span.SetAttributes(attribute.Bool("ogis.cache_hit", true))
		f.metrics.RecordFetch("cache", "ok", time.Since(start))
		return img, nil
	}
	span.SetAttributes(attribute.Bool("ogis.cache_hit", false))

	img, err := f.acquire(ctx, rawURL)
	f.metrics.RecordFetch("network", domain.FailureCode(err), time.Since(start))
	if err != nil {
		f.reportFailure(span, rawURL, err)
		return domain.ValidatedImage{}, err
	}

	f.metrics.RecordBytes(len(img.Bytes))
	span.SetAttributes(
		attribute.String("ogis.image.mime", img.MIMEType),
		attribute.Int("ogis.image.bytes", len(img.Bytes)),
	)
	f.logger.Info("imagefetch: fetched image",
		"url", rawURL,
		"mime", img.MIMEType,
		"bytes", len(img.Bytes),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return img, nil
}

func (f *Fetcher) lookup(rawURL string) (domain.ValidatedImage, bool) {
	if f.cache == nil {
		return domain.ValidatedImage{}, false
	}
	data, ok := f.cache.Get(rawURL)
	f.metrics.RecordCacheLookup(ok)
	if !ok {
		return domain.ValidatedImage{}, false
	}

	mime, err := SniffImage(data)
	if err != nil {
		f.cache.Remove(rawURL)
		f.logger.Warn("imagefetch: dropped cache entry that failed sniffing", "url", rawURL, "error", err)
		return domain.ValidatedImage{}, false
	}

	f.logger.Debug("imagefetch: cache hit", "url", rawURL, "mime", mime, "bytes", len(data))
	return domain.ValidatedImage{Bytes: data, MIMEType: mime}, true
}

func (f *Fetcher) acquire(ctx context.Context, rawURL string) (domain.ValidatedImage, error) {
	target, err := netguard.ValidateURL(rawURL, f.policy)
	if err != nil {
		return domain.ValidatedImage{}, domain.NewFetchError(failureKind(err, domain.ErrMalformedURL), rawURL, err)
	}

	fetched, err := f.download(ctx, target)
	if err != nil {
		return domain.ValidatedImage{}, err
	}

	img, err := Validate(fetched)
	if err != nil {
		return domain.ValidatedImage{}, err
	}

	if f.cache != nil {
		f.cache.Put(rawURL, img.Bytes)
	}
	return img, nil
}

// download issues the GET and reads at most maxBytes+1 bytes of body, so an
// oversized payload is detected without being buffered in full.
func (f *Fetcher) download(ctx context.Context, target netguard.ParsedURL) (domain.FetchedImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL.String(), nil)
	if err != nil {
		return domain.FetchedImage{}, domain.NewFetchError(domain.ErrMalformedURL, target.Raw, err)
	}
	req.Header.Set("Accept", strings.Join(AllowedImageTypes, ", "))
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.FetchedImage{}, domain.NewFetchError(failureKind(err, domain.ErrRequestFailed), target.Raw, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.FetchedImage{}, domain.FetchErrorf(domain.ErrRequestFailed, target.Raw, "unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return domain.FetchedImage{}, domain.FetchErrorf(domain.ErrResponseTooLarge, target.Raw,
			"declared length %d exceeds limit of %d bytes", resp.ContentLength, f.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return domain.FetchedImage{}, domain.NewFetchError(domain.ErrRequestFailed, target.Raw, err)
	}
	if int64(len(data)) > f.maxBytes {
		return domain.FetchedImage{}, domain.FetchErrorf(domain.ErrResponseTooLarge, target.Raw,
			"body exceeds limit of %d bytes", f.maxBytes)
	}

	return domain.FetchedImage{Bytes: data, SourceURL: target.Raw}, nil
}

// failureKind picks the most specific fetch sentinel carried by err.
func failureKind(err error, fallback error) error {
	switch {
	case errors.Is(err, domain.ErrPrivateAddressBlocked):
		return domain.ErrPrivateAddressBlocked
	case errors.Is(err, domain.ErrMalformedURL):
		return domain.ErrMalformedURL
	default:
		return fallback
	}
}

func (f *Fetcher) reportFailure(span trace.Span, rawURL string, err error) {
	code := domain.FailureCode(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, code)

	switch {
	case errors.Is(err, domain.ErrPrivateAddressBlocked),
		errors.Is(err, domain.ErrResponseTooLarge),
		errors.Is(err, domain.ErrUnsupportedContentType):
		f.metrics.RecordBlocked(code)
		telemetry.RecordSecurityEvent(span, true, code, hostOf(rawURL))
		f.logger.Warn("imagefetch: rejected image", "url", rawURL, "reason", code, "error", err)
	default:
		f.logger.Info("imagefetch: fetch failed", "url", rawURL, "reason", code, "error", err)
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
