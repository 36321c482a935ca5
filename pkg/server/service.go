package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/polisai/ogis/pkg/domain"
	"github.com/polisai/ogis/pkg/svgtemplate"
	"github.com/polisai/ogis/pkg/telemetry"
)

// Fallback selects what happens to a slot whose image cannot be acquired.
type Fallback string

// Supported fallbacks.
const (
	FallbackSkip  Fallback = "skip"
	FallbackError Fallback = "error"
)

// Error codes carried in JSON error bodies.
const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodeImageFetchFailed = "IMAGE_FETCH_FAILED"
	CodeRenderFailed     = "RENDER_FAILED"
)

// ImageFetcher acquires validated images for remote URLs.
type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (domain.ValidatedImage, error)
}

// TemplateRenderer renders a directive table into SVG markup.
type TemplateRenderer interface {
	Render(table domain.DirectiveTable) ([]byte, error)
	Name() string
}

// RenderOptions configures request handling.
type RenderOptions struct {
	MaxInputLength int
	Fallback       Fallback
	Defaults       Defaults
}

// Service turns render parameters into SVG markup: validation, defaults,
// concurrent image acquisition, directive table construction and template
// rendering.
type Service struct {
	fetcher   ImageFetcher
	templates TemplateRenderer
	opts      RenderOptions
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewService wires a render service.
func NewService(fetcher ImageFetcher, templates TemplateRenderer, opts RenderOptions, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Fallback == "" {
		opts.Fallback = FallbackSkip
	}
	return &Service{
		fetcher:   fetcher,
		templates: templates,
		opts:      opts,
		logger:    logger,
		tracer:    telemetry.Tracer(),
	}
}

// TemplateName reports the active template.
func (s *Service) TemplateName() string {
	return s.templates.Name()
}

// Render produces the SVG markup for p.
func (s *Service) Render(ctx context.Context, p Params) ([]byte, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "ogis.render")
	defer span.End()

	template := s.templates.Name()
	span.SetAttributes(attribute.String("template.name", template))

	if s.opts.MaxInputLength > 0 {
		if err := p.Validate(s.opts.MaxInputLength); err != nil {
			s.finish(ctx, span, template, "invalid_input", start, nil, 0, err)
			return nil, err
		}
	}
	p = p.WithDefaults(s.opts.Defaults)

	table, images, err := s.BuildTable(ctx, p)
	if err != nil {
		s.finish(ctx, span, template, "image_fetch_failed", start, nil, 0, err)
		return nil, err
	}

	markup, err := s.templates.Render(table)
	if err != nil {
		err = &domain.DomainError{Err: err, Code: CodeRenderFailed, Message: "failed to render template"}
		s.finish(ctx, span, template, "render_failed", start, nil, images, err)
		return nil, err
	}

	s.finish(ctx, span, template, "ok", start, markup, images, nil)
	return markup, nil
}

func (s *Service) finish(ctx context.Context, span trace.Span, template, outcome string, start time.Time, markup []byte, images int, err error) {
	telemetry.RecordRenderMetrics(ctx, telemetry.RenderMetrics{
		Template: template,
		Outcome:  outcome,
		Duration: time.Since(start),
		Bytes:    len(markup),
		Images:   images,
	})
	span.SetAttributes(attribute.String("render.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
}

// BuildTable acquires the logo and image concurrently and assembles the
// directive table. It also reports how many image directives it holds.
func (s *Service) BuildTable(ctx context.Context, p Params) (domain.DirectiveTable, int, error) {
	slots := []struct {
		id  string
		url string
	}{
		{svgtemplate.IDLogo, p.Logo},
		{svgtemplate.IDImage, p.Image},
	}

	acquired := make([]domain.Directive, len(slots))
	g, gctx := errgroup.WithContext(ctx)
	for i, slot := range slots {
		g.Go(func() error {
			d, err := s.acquire(gctx, slot.id, slot.url)
			if err != nil {
				return err
			}
			acquired[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	images := 0
	for _, d := range acquired {
		if d.Kind == domain.DirectiveImage {
			images++
		}
	}

	directives := append([]domain.Directive{
		domain.Text(svgtemplate.IDTitle, p.Title),
		domain.Text(svgtemplate.IDDescription, p.Description),
		domain.Text(svgtemplate.IDSubtitle, p.Subtitle),
	}, acquired...)

	table, err := domain.NewDirectiveTable(directives...)
	if err != nil {
		return nil, 0, fmt.Errorf("server: build directive table: %w", err)
	}
	return table, images, nil
}

func (s *Service) acquire(ctx context.Context, slot, rawURL string) (domain.Directive, error) {
	if rawURL == "" {
		return domain.Remove(slot), nil
	}

	img, err := s.fetcher.Fetch(ctx, rawURL)
	if err == nil {
		return domain.Image(slot, img), nil
	}

	reason := domain.FailureCode(err)
	if s.opts.Fallback == FallbackError {
		return domain.Directive{}, &domain.DomainError{
			Err:     err,
			Code:    CodeImageFetchFailed,
			Message: fmt.Sprintf("failed to fetch %s: %s", slotLabel(slot), reason),
			Details: map[string]any{"slot": slot, "reason": reason},
		}
	}

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return domain.Directive{}, ctx.Err()
	}

	s.logger.Warn("server: image fetch failed, skipping slot",
		"slot", slot,
		"url", telemetry.SanitizeURL(rawURL),
		"reason", reason,
		"error", err,
	)
	return domain.Remove(slot), nil
}

func slotLabel(slot string) string {
	switch slot {
	case svgtemplate.IDLogo:
		return "logo"
	case svgtemplate.IDImage:
		return "image"
	default:
		return slot
	}
}
