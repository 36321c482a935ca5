package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Config names the server certificate and key on disk.
type Config struct {
	CertFile string
	KeyFile  string
}

// Enabled reports whether a certificate pair is configured.
func (c Config) Enabled() bool {
	return c.CertFile != "" || c.KeyFile != ""
}

// Validate requires both files or neither.
func (c Config) Validate() error {
	if c.Enabled() && (c.CertFile == "" || c.KeyFile == "") {
		return errors.New("both cert_file and key_file are required when enabling TLS")
	}
	return nil
}

// CertReloader serves a certificate pair and reloads it when either file
// changes. A reload that fails keeps the previous certificate.
type CertReloader struct {
	certFile string
	keyFile  string
	logger   *slog.Logger

	mu      sync.RWMutex
	current *tls.Certificate

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// NewCertReloader loads the pair named by cfg and starts watching it.
func NewCertReloader(cfg Config, logger *slog.Logger) (*CertReloader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	certFile, err := filepath.Abs(cfg.CertFile)
	if err != nil {
		return nil, fmt.Errorf("resolve cert_file: %w", err)
	}
	keyFile, err := filepath.Abs(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("resolve key_file: %w", err)
	}

	r := &CertReloader{certFile: certFile, keyFile: keyFile, logger: logger}
	if err := r.load(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	for _, dir := range uniqueDirs(certFile, keyFile) {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("failed to watch %q: %w", dir, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.watcher = watcher
	r.cancel = cancel
	go r.watchLoop(ctx)

	return r, nil
}

// GetCertificate satisfies tls.Config.GetCertificate.
func (r *CertReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current, nil
}

// Leaf returns the parsed leaf of the active certificate.
func (r *CertReloader) Leaf() *x509.Certificate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.Leaf
}

// ServerConfig builds a listener configuration backed by the reloader.
func (r *CertReloader) ServerConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: r.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
}

// Close stops watching.
func (r *CertReloader) Close() error {
	r.cancel()
	return r.watcher.Close()
}

func (r *CertReloader) load() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("load server certificate: %w", err)
	}
	if cert.Leaf == nil && len(cert.Certificate) > 0 {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return fmt.Errorf("parse server certificate: %w", err)
		}
		cert.Leaf = leaf
	}
	if cert.Leaf != nil && time.Now().After(cert.Leaf.NotAfter) {
		return fmt.Errorf("server certificate expired at %s", cert.Leaf.NotAfter.Format(time.RFC3339))
	}

	r.mu.Lock()
	r.current = &cert
	r.mu.Unlock()

	if cert.Leaf != nil {
		r.logger.Info("tls: certificate loaded",
			"cert_file", r.certFile,
			"subject", cert.Leaf.Subject.CommonName,
			"not_after", cert.Leaf.NotAfter,
		)
	}
	return nil
}

func (r *CertReloader) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Clean(event.Name)
			if name != r.certFile && name != r.keyFile {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(reloadDebounce, func() {
				if ctx.Err() != nil {
					return
				}
				if err := r.load(); err != nil {
					r.logger.Error("tls: certificate reload failed, keeping previous certificate", "error", err)
				}
			})
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("tls: certificate watcher error", "error", err)
		}
	}
}

func uniqueDirs(paths ...string) []string {
	seen := make(map[string]bool, len(paths))
	dirs := make([]string, 0, len(paths))
	for _, p := range paths {
		dir := filepath.Dir(p)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs
}
