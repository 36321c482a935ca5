// Package main is the entry point for the ogis binary.
// It serves Open Graph images over HTTP and renders them one-shot from the CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/polisai/ogis/internal/governance"
	ogistls "github.com/polisai/ogis/internal/tls"
	"github.com/polisai/ogis/pkg/config"
	"github.com/polisai/ogis/pkg/imagefetch"
	"github.com/polisai/ogis/pkg/logging"
	"github.com/polisai/ogis/pkg/server"
	"github.com/polisai/ogis/pkg/svgtemplate"
	"github.com/polisai/ogis/pkg/telemetry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command. Without a subcommand it serves.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ogis",
		Short: "Open Graph Image Service",
		Long: `Generates Open Graph images from an SVG template.

Text is substituted into the template and remote logo and image URLs are
fetched through an SSRF-safe pipeline and embedded as data URIs.

Example:
  ogis serve --config ogis.yaml
  ogis render --title "Hello" --logo https://example.com/logo.png --out card.svg`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("env-file", "", "Path to a .env file (default .env when present)")
	rootCmd.Flags().StringP("addr", "a", "", "Listen address override")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE:  runServe,
	}
	serveCmd.Flags().StringP("addr", "a", "", "Listen address override")

	rootCmd.AddCommand(serveCmd, newRenderCmd())
	return rootCmd
}

func newRenderCmd() *cobra.Command {
	renderCmd := &cobra.Command{
		Use:   "render",
		Short: "Render one image and write the SVG markup",
		Args:  cobra.NoArgs,
		RunE:  runRender,
	}
	renderCmd.Flags().String("title", "", "Title text")
	renderCmd.Flags().String("description", "", "Description text")
	renderCmd.Flags().String("subtitle", "", "Subtitle text")
	renderCmd.Flags().String("logo", "", "Logo image URL")
	renderCmd.Flags().String("image", "", "Image URL")
	renderCmd.Flags().StringP("out", "o", "", "Output file (default stdout)")
	return renderCmd
}

// loadRuntime loads .env, the configuration file and flag overrides, then
// installs the default logger.
func loadRuntime(cmd *cobra.Command, logOutput io.Writer) (*config.Config, *slog.Logger, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := loadEnvFile(envFile); err != nil {
		return nil, nil, err
	}

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
		if err := cfg.Logging.Validate(); err != nil {
			return nil, nil, err
		}
	}
	if f := cmd.Flags().Lookup("addr"); f != nil && f.Changed {
		cfg.Server.Address = f.Value.String()
	}

	loggerCfg := cfg.Logging.LoggerConfig()
	loggerCfg.Output = logOutput
	return cfg, logging.SetupLogger(loggerCfg), nil
}

func loadEnvFile(path string) error {
	var err error
	if path == "" {
		err = godotenv.Load()
	} else {
		err = godotenv.Load(path)
	}
	if err != nil && (path != "" || !errors.Is(err, fs.ErrNotExist)) {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// buildService wires the fetch pipeline and template into a render service.
// The returned closer releases the template watcher, if any.
func buildService(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*server.Service, func(), error) {
	cache := imagefetch.NewImageCache(cfg.Fetch.CacheSize, cfg.Fetch.CacheTTL)
	fetcher := imagefetch.NewFetcher(cfg.Fetch.FetcherConfig(), cache,
		imagefetch.WithLogger(logger),
		imagefetch.WithMetrics(imagefetch.NewMetrics(reg)),
	)

	var templates server.TemplateRenderer = svgtemplate.Default()
	closer := func() {}
	if cfg.Render.TemplatePath != "" {
		provider, err := config.NewTemplateProvider(cfg.Render.TemplatePath, logger)
		if err != nil {
			return nil, nil, err
		}
		templates = provider
		closer = func() {
			if err := provider.Close(); err != nil {
				logger.Warn("ogis: closing template watcher failed", "error", err)
			}
		}
	}

	svc := server.NewService(fetcher, templates, server.RenderOptions{
		MaxInputLength: cfg.Server.MaxInputLength,
		Fallback:       server.Fallback(cfg.Render.Fallback),
		Defaults: server.Defaults{
			Title:       cfg.Render.DefaultTitle,
			Description: cfg.Render.DefaultDescription,
			Subtitle:    cfg.Render.DefaultSubtitle,
		},
	}, logger)
	return svc, closer, nil
}

// runServe is the entry point for the serve command.
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime(cmd, os.Stdout)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, cfg.Telemetry.ProviderConfig())
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("ogis: telemetry shutdown failed", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc, closeTemplates, err := buildService(cfg, logger, reg)
	if err != nil {
		return err
	}
	defer closeTemplates()

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(server.NewMetrics(reg)),
		server.WithGatherer(reg),
	}
	limit := governance.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.Burst,
	}
	if limit.Enabled() {
		opts = append(opts, server.WithRateLimiter(governance.NewRateLimiter(limit, governance.WithLogger(logger))))
	}
	if certCfg := cfg.Server.TLS.CertConfig(); certCfg.Enabled() {
		certs, err := ogistls.NewCertReloader(certCfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = certs.Close() }()
		opts = append(opts, server.WithTLS(certs.ServerConfig()))
	}

	logger.Info("ogis: starting",
		"addr", cfg.Server.Address,
		"template", svc.TemplateName(),
		"fallback", cfg.Render.Fallback,
		"allow_http", cfg.Fetch.AllowHTTP,
	)

	srv := server.New(server.Config{
		Address:      cfg.Server.Address,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, svc, opts...)

	if err := srv.Start(ctx); err != nil {
		logger.Error("ogis: server error", "error", err)
		return err
	}

	logger.Info("ogis: stopped")
	return nil
}

// runRender is the entry point for the render command.
func runRender(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	svc, closeTemplates, err := buildService(cfg, logger, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer closeTemplates()

	params, err := renderParams(cmd)
	if err != nil {
		return err
	}

	markup, err := svc.Render(cmd.Context(), params)
	if err != nil {
		return err
	}

	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		_, err = cmd.OutOrStdout().Write(markup)
		return err
	}
	if err := os.WriteFile(out, markup, 0o644); err != nil { //nolint:gosec // output is a public image
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	logger.Info("ogis: rendered", "out", out, "bytes", len(markup))
	return nil
}

func renderParams(cmd *cobra.Command) (server.Params, error) {
	var p server.Params
	fields := []struct {
		name   string
		target *string
	}{
		{"title", &p.Title},
		{"description", &p.Description},
		{"subtitle", &p.Subtitle},
		{"logo", &p.Logo},
		{"image", &p.Image},
	}
	for _, f := range fields {
		v, err := cmd.Flags().GetString(f.name)
		if err != nil {
			return server.Params{}, fmt.Errorf("failed to get %s flag: %w", f.name, err)
		}
		*f.target = v
		if cmd.Flags().Changed(f.name) {
			p.Supplied = true
		}
	}
	return p, nil
}
