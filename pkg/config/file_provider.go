package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileProvider watches a bundle file and republishes it on change. Reloads
// are debounced because editors and atomic-rename writes emit bursts of
// events for a single save.
type FileProvider struct {
	path    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc

	mu          sync.RWMutex
	current     *Bundle
	subscribers []chan *Bundle
}

// NewFileProvider creates a provider watching the given bundle file. The file
// must parse on startup; later parse failures keep the previous bundle and
// log the error.
func NewFileProvider(path string, logger *slog.Logger) (*FileProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve bundle path: %w", err)
	}

	bundle, err := Load(absPath)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory, not the file: atomic renames replace the inode.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch bundle directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &FileProvider{
		path:    absPath,
		logger:  logger,
		watcher: watcher,
		cancel:  cancel,
		current: bundle,
	}
	go p.watchLoop(ctx)
	return p, nil
}

// Current returns the most recently loaded bundle.
func (p *FileProvider) Current() *Bundle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Subscribe returns a channel receiving each successfully reloaded bundle,
// starting with the current one. Slow consumers miss intermediate bundles
// rather than blocking the reload path.
func (p *FileProvider) Subscribe() <-chan *Bundle {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan *Bundle, 1)
	ch <- p.current
	p.subscribers = append(p.subscribers, ch)
	return ch
}

// Close stops the watcher.
func (p *FileProvider) Close() error {
	p.cancel()
	return p.watcher.Close()
}

func (p *FileProvider) watchLoop(ctx context.Context) {
	var debounce *time.Timer
	const debounceDelay = 100 * time.Millisecond

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
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, p.reload)
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("bundle watcher error", "error", err)
		}
	}
}

func (p *FileProvider) reload() {
	bundle, err := Load(p.path)
	if err != nil {
		p.logger.Error("bundle reload failed, keeping previous", "path", p.path, "error", err)
		return
	}

	p.mu.Lock()
	p.current = bundle
	subscribers := make([]chan *Bundle, len(p.subscribers))
	copy(subscribers, p.subscribers)
	p.mu.Unlock()

	p.logger.Info("bundle reloaded", "path", p.path,
		"contracts", len(bundle.Contracts),
		"pipelines", len(bundle.Pipelines),
	)

	for _, ch := range subscribers {
		select {
		case ch <- bundle:
		default:
		}
	}
}
