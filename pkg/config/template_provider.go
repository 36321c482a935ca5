package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/polisai/ogis/pkg/domain"
	"github.com/polisai/ogis/pkg/svgtemplate"
)

const reloadDebounce = 100 * time.Millisecond

// TemplateProvider serves an SVG template loaded from disk and reloads it
// when the file changes. A reload that fails to read or fails the structural
// check keeps the previously loaded template.
type TemplateProvider struct {
	path    string
	opts    []svgtemplate.Option
	logger  *slog.Logger
	engine  atomic.Pointer[svgtemplate.Engine]
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// NewTemplateProvider loads the template at path and starts watching it. The
// initial load must succeed.
func NewTemplateProvider(path string, logger *slog.Logger, opts ...svgtemplate.Option) (*TemplateProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	p := &TemplateProvider{
		path:   absPath,
		opts:   append([]svgtemplate.Option{svgtemplate.WithName(filepath.Base(absPath))}, opts...),
		logger: logger,
	}

	if err := p.load(); err != nil {
		return nil, fmt.Errorf("initial template load failed: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.watcher = watcher
	p.cancel = cancel

	go p.watchLoop(ctx)

	return p, nil
}

// Engine returns the currently active template engine.
func (p *TemplateProvider) Engine() *svgtemplate.Engine {
	return p.engine.Load()
}

// Render renders table with the currently active template.
func (p *TemplateProvider) Render(table domain.DirectiveTable) ([]byte, error) {
	return p.Engine().Render(table)
}

// Name returns the active template's name.
func (p *TemplateProvider) Name() string {
	return p.Engine().Name()
}

// Close stops the watcher.
func (p *TemplateProvider) Close() error {
	p.cancel()
	return p.watcher.Close()
}

func (p *TemplateProvider) watchLoop(ctx context.Context) {
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
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != p.path {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Chmod) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(reloadDebounce, func() {
					if ctx.Err() != nil {
						return
					}
					if err := p.load(); err != nil {
						p.logger.Warn("config: template reload failed, keeping previous template", "path", p.path, "error", err)
						return
					}
					p.logger.Info("config: template reloaded", "path", p.path)
				})
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("config: template watcher error", "error", err)
		}
	}
}

func (p *TemplateProvider) load() error {
	// #nosec G304 -- template path is configured at startup
	data, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}

	engine, err := svgtemplate.New(data, p.opts...)
	if err != nil {
		return err
	}
	p.engine.Store(engine)
	return nil
}
