// Package inbox watches a directory for new test documents and hands each
// one to a handler once its size has stopped changing.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Extensions lists the document types picked up from the inbox.
var Extensions = []string{".pdf", ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".webp", ".gif"}

// Handler processes one document. Errors are logged; the watcher keeps going.
type Handler func(ctx context.Context, path string) error

// Config configures a Watcher.
type Config struct {
	Dir     string
	Handler Handler

	// Settle is how long a file must go without events before it is
	// handled. Default 500ms.
	Settle time.Duration

	// Existing also handles documents already in Dir when Run starts.
	Existing bool

	Logger *slog.Logger
}

// Watcher handles documents dropped into a directory, one at a time, in
// arrival order.
type Watcher struct {
	dir      string
	handler  Handler
	settle   time.Duration
	existing bool
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	queue   chan string
	stop    chan struct{}
}

// New creates a Watcher.
func New(cfg Config) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("inbox: directory is required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("inbox: handler is required")
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Watcher{
		dir:      cfg.Dir,
		handler:  cfg.Handler,
		settle:   cfg.Settle,
		existing: cfg.Existing,
		logger:   cfg.Logger,
		pending:  make(map[string]*time.Timer),
		queue:    make(chan string, 64),
		stop:     make(chan struct{}),
	}, nil
}

// Supported reports whether path has a document extension.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Run watches until ctx is cancelled. It returns nil on cancellation. A
// Watcher runs once.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching inbox", "dir", w.dir)

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.work(ctx)
	}()

	if w.existing {
		if err := w.enqueueExisting(); err != nil {
			w.logger.Warn("failed to list inbox", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			close(w.stop)
			<-done
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				<-done
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				w.touch(ev.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				<-done
				return nil
			}
			w.logger.Warn("inbox watcher error", "error", err)
		}
	}
}

func (w *Watcher) enqueueExisting() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && Supported(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		w.touch(filepath.Join(w.dir, n))
	}
	return nil
}

// touch (re)starts the settle timer for path.
func (w *Watcher) touch(path string) {
	if !Supported(path) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case w.queue <- path:
		case <-w.stop:
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.queue:
			if info, err := os.Stat(path); err != nil || info.IsDir() {
				continue
			}
			start := time.Now()
			if err := w.handler(ctx, path); err != nil {
				w.logger.Error("failed to handle document", "path", path, "error", err)
				continue
			}
			w.logger.Info("handled document", "path", path, "duration", time.Since(start))
		}
	}
}
