// Package config provides configuration structures and loading logic for the
// image service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	ogistls "github.com/polisai/ogis/internal/tls"
	"github.com/polisai/ogis/pkg/imagefetch"
	"github.com/polisai/ogis/pkg/logging"
	"github.com/polisai/ogis/pkg/netguard"
	"github.com/polisai/ogis/pkg/telemetry"
)

// Image fallback behaviours applied when a remote image cannot be acquired.
const (
	FallbackSkip  = "skip"
	FallbackError = "error"
)

// Config holds the global configuration for the service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Render    RenderConfig    `yaml:"render"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Address        string        `yaml:"address"`
	MaxInputLength int           `yaml:"max_input_length"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	TLS            TLSConfig     `yaml:"tls"`
}

// TLSConfig enables HTTPS when both files are set.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// FetchConfig holds configuration for remote image acquisition.
type FetchConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	TotalTimeout   time.Duration `yaml:"total_timeout"`
	MaxBytes       int64         `yaml:"max_bytes"`
	MaxRedirects   int           `yaml:"max_redirects"`
	AllowHTTP      bool          `yaml:"allow_http"`
	AllowedHosts   []string      `yaml:"allowed_hosts"`
	CacheSize      int           `yaml:"cache_size"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

// RenderConfig holds template and request default configuration.
type RenderConfig struct {
	// TemplatePath selects a template on disk. Empty uses the embedded one.
	TemplatePath       string `yaml:"template_path"`
	Fallback           string `yaml:"fallback"`
	DefaultTitle       string `yaml:"default_title"`
	DefaultDescription string `yaml:"default_description"`
	DefaultSubtitle    string `yaml:"default_subtitle"`
}

// RateLimitConfig holds per-client rate limiting configuration. A zero rate
// disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
	Environment  string `yaml:"environment"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        ":3000",
			MaxInputLength: 1000,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   30 * time.Second,
		},
		Fetch: FetchConfig{
			ConnectTimeout: 5 * time.Second,
			TotalTimeout:   10 * time.Second,
			MaxBytes:       5 << 20,
			MaxRedirects:   3,
			CacheSize:      1000,
			CacheTTL:       time.Hour,
		},
		Render: RenderConfig{
			Fallback:           FallbackSkip,
			DefaultTitle:       "Open Graph Image Service",
			DefaultDescription: "Generate Open Graph images on the fly",
			DefaultSubtitle:    "OGIS",
		},
		RateLimit: RateLimitConfig{
			Burst: 10,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "ogis",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("OGIS_ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("OGIS_MAX_INPUT_LENGTH"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("OGIS_MAX_INPUT_LENGTH: %w", err)
		}
		cfg.Server.MaxInputLength = n
	}

	if val := os.Getenv("OGIS_TLS_CERT_FILE"); val != "" {
		cfg.Server.TLS.CertFile = val
	}
	if val := os.Getenv("OGIS_TLS_KEY_FILE"); val != "" {
		cfg.Server.TLS.KeyFile = val
	}

	if val := os.Getenv("OGIS_ALLOW_HTTP"); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("OGIS_ALLOW_HTTP: %w", err)
		}
		cfg.Fetch.AllowHTTP = b
	}
	if val := os.Getenv("OGIS_MAX_BYTES"); val != "" {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("OGIS_MAX_BYTES: %w", err)
		}
		cfg.Fetch.MaxBytes = n
	}
	if val := os.Getenv("OGIS_CACHE_SIZE"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("OGIS_CACHE_SIZE: %w", err)
		}
		cfg.Fetch.CacheSize = n
	}
	if val := os.Getenv("OGIS_MAX_REDIRECTS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("OGIS_MAX_REDIRECTS: %w", err)
		}
		cfg.Fetch.MaxRedirects = n
	}

	durations := []struct {
		env    string
		target *time.Duration
	}{
		{"OGIS_CACHE_TTL", &cfg.Fetch.CacheTTL},
		{"OGIS_CONNECT_TIMEOUT", &cfg.Fetch.ConnectTimeout},
		{"OGIS_TOTAL_TIMEOUT", &cfg.Fetch.TotalTimeout},
	}
	for _, d := range durations {
		val := os.Getenv(d.env)
		if val == "" {
			continue
		}
		parsed, err := parseDuration(val)
		if err != nil {
			return fmt.Errorf("%s: %w", d.env, err)
		}
		*d.target = parsed
	}

	if val := os.Getenv("OGIS_IMAGE_FALLBACK"); val != "" {
		cfg.Render.Fallback = val
	}
	if val := os.Getenv("OGIS_TEMPLATE_PATH"); val != "" {
		cfg.Render.TemplatePath = val
	}
	if val, ok := os.LookupEnv("OGIS_DEFAULT_TITLE"); ok {
		cfg.Render.DefaultTitle = val
	}
	if val, ok := os.LookupEnv("OGIS_DEFAULT_DESCRIPTION"); ok {
		cfg.Render.DefaultDescription = val
	}
	if val, ok := os.LookupEnv("OGIS_DEFAULT_SUBTITLE"); ok {
		cfg.Render.DefaultSubtitle = val
	}

	if val := os.Getenv("OGIS_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("OGIS_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("OGIS_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}

	return nil
}

// parseDuration accepts Go duration strings and bare integers as seconds.
func parseDuration(val string) (time.Duration, error) {
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(val)
}

// Validate performs validation of the entire configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}

	if err := c.Fetch.Validate(); err != nil {
		return fmt.Errorf("fetch configuration: %w", err)
	}

	if err := c.Render.Validate(); err != nil {
		return fmt.Errorf("render configuration: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate limit configuration: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry configuration: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	return nil
}

// Validate performs validation of server configuration.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		c.Address = ":3000"
	}
	if c.MaxInputLength <= 0 {
		return fmt.Errorf("max_input_length must be positive, got %d", c.MaxInputLength)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return errors.New("read_timeout and write_timeout must not be negative")
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return errors.New("tls requires both cert_file and key_file")
	}
	return nil
}

// Validate performs validation of fetch configuration.
func (c *FetchConfig) Validate() error {
	if c.MaxBytes <= 0 {
		return fmt.Errorf("max_bytes must be positive, got %d", c.MaxBytes)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive, got %s", c.ConnectTimeout)
	}
	if c.TotalTimeout <= 0 {
		return fmt.Errorf("total_timeout must be positive, got %s", c.TotalTimeout)
	}
	if c.TotalTimeout < c.ConnectTimeout {
		return fmt.Errorf("total_timeout %s is shorter than connect_timeout %s", c.TotalTimeout, c.ConnectTimeout)
	}
	if c.MaxRedirects < 0 {
		return fmt.Errorf("max_redirects must not be negative, got %d", c.MaxRedirects)
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache_size must be positive, got %d", c.CacheSize)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive, got %s", c.CacheTTL)
	}
	for i, host := range c.AllowedHosts {
		if strings.TrimSpace(host) == "" {
			return fmt.Errorf("allowed_hosts[%d] is empty", i)
		}
	}
	return nil
}

// Validate performs validation of render configuration.
func (c *RenderConfig) Validate() error {
	fallback := strings.TrimSpace(strings.ToLower(c.Fallback))
	switch fallback {
	case "":
		c.Fallback = FallbackSkip
	case FallbackSkip, FallbackError:
		c.Fallback = fallback
	default:
		return fmt.Errorf("invalid fallback %q, supported values: %s, %s", c.Fallback, FallbackSkip, FallbackError)
	}
	return nil
}

// Validate performs validation of rate limit configuration.
func (c *RateLimitConfig) Validate() error {
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative, got %g", c.RequestsPerSecond)
	}
	if c.RequestsPerSecond > 0 && c.Burst <= 0 {
		return fmt.Errorf("burst must be positive when rate limiting is enabled, got %d", c.Burst)
	}
	return nil
}

// Validate performs validation of telemetry configuration.
func (c *TelemetryConfig) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = "ogis"
	}
	return nil
}

// Validate performs validation of logging configuration.
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
}

// FetcherConfig converts the fetch section into pipeline configuration.
func (c FetchConfig) FetcherConfig() imagefetch.Config {
	return imagefetch.Config{
		ClientConfig: imagefetch.ClientConfig{
			ConnectTimeout: c.ConnectTimeout,
			TotalTimeout:   c.TotalTimeout,
			MaxRedirects:   c.MaxRedirects,
			Policy: netguard.URLPolicy{
				AllowHTTP:    c.AllowHTTP,
				AllowedHosts: append([]string(nil), c.AllowedHosts...),
			},
		},
		MaxBytes: c.MaxBytes,
	}
}

// CertConfig converts the server TLS section.
func (c TLSConfig) CertConfig() ogistls.Config {
	return ogistls.Config{CertFile: c.CertFile, KeyFile: c.KeyFile}
}

// LoggerConfig converts the logging section.
func (c LoggingConfig) LoggerConfig() logging.Config {
	return logging.Config{Level: c.Level, Pretty: c.Pretty}
}

// ProviderConfig converts the telemetry section.
func (c TelemetryConfig) ProviderConfig() telemetry.Config {
	return telemetry.Config{
		ServiceName: c.ServiceName,
		Endpoint:    c.OTLPEndpoint,
		Environment: c.Environment,
		Insecure:    c.Insecure,
	}
}
