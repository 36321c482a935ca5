package server

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/ogis/internal/governance"
	"github.com/polisai/ogis/pkg/domain"
	"github.com/polisai/ogis/pkg/svgtemplate"
)

var testPNG = domain.ValidatedImage{Bytes: []byte{1, 2, 3}, MIMEType: "image/png"}

type fakeFetcher struct {
	mu      sync.Mutex
	images  map[string]domain.ValidatedImage
	failure error
	calls   []string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (domain.ValidatedImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	if img, ok := f.images[rawURL]; ok {
		return img, nil
	}
	if f.failure != nil {
		return domain.ValidatedImage{}, f.failure
	}
	return domain.ValidatedImage{}, domain.FetchErrorf(domain.ErrRequestFailed, rawURL, "no such image")
}

type failingRenderer struct{}

func (failingRenderer) Render(domain.DirectiveTable) ([]byte, error) {
	return nil, errors.New("svgtemplate: broken: " + domain.ErrMalformedTemplate.Error())
}

func (failingRenderer) Name() string { return "broken" }

func testDefaults() Defaults {
	return Defaults{Title: "Default Title", Description: "Default Description", Subtitle: "Default Subtitle"}
}

func newService(fetcher ImageFetcher, fallback Fallback, logger *slog.Logger) *Service {
	return NewService(fetcher, svgtemplate.Default(), RenderOptions{
		MaxInputLength: 20,
		Fallback:       fallback,
		Defaults:       testDefaults(),
	}, logger)
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) domain.ErrorResponse {
	t.Helper()
	var body domain.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestParamsFromQuery(t *testing.T) {
	p := ParamsFromQuery(url.Values{})
	assert.False(t, p.Supplied)

	p = ParamsFromQuery(url.Values{"logo": {"https://example.com/l.png"}})
	assert.True(t, p.Supplied)
	assert.Equal(t, "https://example.com/l.png", p.Logo)

	p = ParamsFromQuery(url.Values{"title": {""}})
	assert.True(t, p.Supplied, "an empty value still counts as supplied")
}

func TestParamsWithDefaults(t *testing.T) {
	p := Params{}.WithDefaults(testDefaults())
	assert.Equal(t, "Default Title", p.Title)
	assert.Equal(t, "Default Description", p.Description)
	assert.Equal(t, "Default Subtitle", p.Subtitle)

	p = Params{Title: "Mine", Supplied: true}.WithDefaults(testDefaults())
	assert.Equal(t, "Mine", p.Title)
	assert.Empty(t, p.Description)
	assert.Empty(t, p.Subtitle)
}

func TestParamsValidate(t *testing.T) {
	assert.NoError(t, Params{Title: "12345"}.Validate(5))

	err := Params{Title: "ok", Image: "https://example.com/x"}.Validate(5)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, "Image URL exceeds maximum length of 5", err.Error())

	var de *domain.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, CodeInvalidInput, de.Code)
}

func TestRenderEndpointServesSVG(t *testing.T) {
	srv := New(Config{}, newService(&fakeFetcher{}, FallbackSkip, nil))

	rec := get(t, srv.Handler(), "/?title=Hello&description=World")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=86400", rec.Header().Get("Cache-Control"))
	_, err := uuid.Parse(rec.Header().Get(RequestIDHeader))
	assert.NoError(t, err)

	body := rec.Body.String()
	assert.Contains(t, body, ">Hello</text>")
	assert.Contains(t, body, ">World</text>")
	assert.NotContains(t, body, "Default Title")
	assert.NotContains(t, body, "<image")
}

func TestRenderEndpointEscapesUnsafeBytes(t *testing.T) {
	srv := New(Config{}, newService(&fakeFetcher{}, FallbackSkip, nil))

	for _, query := range []string{"/?title=%FF", "/?title=a%01b", "/?description=%00%C3"} {
		rec := get(t, srv.Handler(), query)
		require.Equal(t, http.StatusOK, rec.Code, query)

		d := xml.NewDecoder(bytes.NewReader(rec.Body.Bytes()))
		for {
			_, err := d.Token()
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err, query)
		}
		assert.Contains(t, rec.Body.String(), "\uFFFD", query)
	}
}

func TestRenderEndpointAppliesDefaults(t *testing.T) {
	srv := New(Config{}, newService(&fakeFetcher{}, FallbackSkip, nil))

	rec := get(t, srv.Handler(), "/")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), ">Default Title</text>")
	assert.Contains(t, rec.Body.String(), ">Default Subtitle</text>")
}

func TestRenderEndpointKeepsCallerRequestID(t *testing.T) {
	srv := New(Config{}, newService(&fakeFetcher{}, FallbackSkip, nil))
	id := uuid.NewString()

	req := httptest.NewRequest(http.MethodGet, "/?title=x", nil)
	req.Header.Set(RequestIDHeader, id)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, id, rec.Header().Get(RequestIDHeader))

	req.Header.Set(RequestIDHeader, "not-a-uuid\r\n")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.NotEqual(t, "not-a-uuid\r\n", rec.Header().Get(RequestIDHeader))
}

func TestRenderEndpointRejectsLongInput(t *testing.T) {
	fetcher := &fakeFetcher{}
	srv := New(Config{}, newService(fetcher, FallbackSkip, nil))

	rec := get(t, srv.Handler(), "/?title="+strings.Repeat("a", 21))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, CodeInvalidInput, body.Code)
	assert.Equal(t, "Title exceeds maximum length of 20", body.Message)
	assert.Empty(t, fetcher.calls)
}

func TestRenderEndpointEmbedsImages(t *testing.T) {
	fetcher := &fakeFetcher{images: map[string]domain.ValidatedImage{
		"https://cdn.test/logo.png": testPNG,
		"https://cdn.test/hero.gif": {Bytes: []byte("GIF89a"), MIMEType: "image/gif"},
	}}
	srv := New(Config{}, newService(fetcher, FallbackError, nil))

	rec := get(t, srv.Handler(), "/?title=x&logo=https://cdn.test/logo.png&image=https://cdn.test/hero.gif")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, 2, strings.Count(body, "<image"))
	assert.Contains(t, body, "data:image/png;base64,AQID")
	assert.Contains(t, body, "data:image/gif;base64,R0lGODlh")
	assert.ElementsMatch(t, []string{"https://cdn.test/logo.png", "https://cdn.test/hero.gif"}, fetcher.calls)
}

func TestRenderEndpointSkipFallback(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	fetcher := &fakeFetcher{failure: domain.NewFetchError(domain.ErrPrivateAddressBlocked, "https://internal.test/x.png", nil)}
	srv := New(Config{}, newService(fetcher, FallbackSkip, logger), WithLogger(logger))

	rec := get(t, srv.Handler(), "/?title=x&logo=https://internal.test/x.png")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<image")
	assert.NotContains(t, rec.Body.String(), ">Logo<")
	assert.Contains(t, logs.String(), `"msg":"server: image fetch failed, skipping slot"`)
	assert.Contains(t, logs.String(), `"reason":"private_address_blocked"`)
	assert.Contains(t, logs.String(), `"level":"WARN"`)
}

func TestRenderEndpointErrorFallback(t *testing.T) {
	fetcher := &fakeFetcher{images: map[string]domain.ValidatedImage{"https://cdn.test/logo.png": testPNG}}
	srv := New(Config{}, newService(fetcher, FallbackError, nil))

	rec := get(t, srv.Handler(), "/?logo=https://cdn.test/logo.png&image=https://cdn.test/missing.png")

	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, CodeImageFetchFailed, body.Code)
	assert.Equal(t, "failed to fetch image: request_failed", body.Message)
}

func TestServiceRenderFailure(t *testing.T) {
	svc := NewService(&fakeFetcher{}, failingRenderer{}, RenderOptions{MaxInputLength: 10}, nil)
	srv := New(Config{}, svc)

	rec := get(t, srv.Handler(), "/?title=x")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeRenderFailed, decodeError(t, rec).Code)
}

func TestServiceBuildTable(t *testing.T) {
	fetcher := &fakeFetcher{images: map[string]domain.ValidatedImage{"https://cdn.test/logo.png": testPNG}}
	svc := newService(fetcher, FallbackSkip, nil)

	table, images, err := svc.BuildTable(context.Background(), Params{Title: "T", Logo: "https://cdn.test/logo.png"})
	require.NoError(t, err)

	assert.Equal(t, 1, images)
	assert.Len(t, table, 5)
	logo, ok := table.Lookup(svgtemplate.IDLogo)
	require.True(t, ok)
	assert.Equal(t, domain.DirectiveImage, logo.Kind)
	image, ok := table.Lookup(svgtemplate.IDImage)
	require.True(t, ok)
	assert.Equal(t, domain.DirectiveRemove, image.Kind)
	title, _ := table.Lookup(svgtemplate.IDTitle)
	assert.Equal(t, "T", title.Text)
	assert.Equal(t, []string{"https://cdn.test/logo.png"}, fetcher.calls, "absent URLs are never fetched")
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := New(Config{}, newService(&fakeFetcher{}, FallbackSkip, nil),
		WithMetrics(NewMetrics(reg)), WithGatherer(reg))
	h := srv.Handler()

	rec := get(t, h, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	get(t, h, "/?title=x")

	rec = get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ogis_http_requests_total{endpoint="render",method="GET",status_code="200"} 1`)
	assert.Contains(t, rec.Body.String(), `ogis_http_requests_total{endpoint="health",method="GET",status_code="200"} 1`)
}

func TestUnknownRoutes(t *testing.T) {
	h := New(Config{}, newService(&fakeFetcher{}, FallbackSkip, nil)).Handler()

	assert.Equal(t, http.StatusNotFound, get(t, h, "/nope").Code)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRateLimitedRender(t *testing.T) {
	limiter := governance.NewRateLimiter(governance.RateLimiterConfig{RequestsPerSecond: 0.001, BurstSize: 1})
	h := New(Config{}, newService(&fakeFetcher{}, FallbackSkip, nil), WithRateLimiter(limiter)).Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/?title=a").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, h, "/?title=b").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code, "probes are not limited")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(Config{ShutdownTimeout: time.Second}, newService(&fakeFetcher{}, FallbackSkip, nil))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + listener.Addr().String() + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK && string(body) == "ok"
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
