// Package hotfolder watches a directory and hands each new G-code file to
// a handler, one file at a time.
package hotfolder

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/john/beeprint/files"
)

// DefaultDebounce is how long a file must stay quiet before it is
// considered completely written.
const DefaultDebounce = 2 * time.Second

// Handler processes one file. Errors are logged; the watcher carries on.
type Handler func(ctx context.Context, path string) error

// Watcher monitors a directory for new G-code files.
type Watcher struct {
	dir      string
	debounce time.Duration
	handler  Handler

	mu      sync.Mutex
	timers  map[string]*time.Timer
	pending map[string]bool // queued or being handled
	queue   chan string
}

// New creates a watcher on dir.
func New(dir string, debounce time.Duration, handler Handler) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		handler:  handler,
		timers:   make(map[string]*time.Timer),
		pending:  make(map[string]bool),
		queue:    make(chan string, 64),
	}
}

// Run watches until ctx is done. Files are handled sequentially in the
// order they settle.
func (w *Watcher) Run(ctx context.Context) error {
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fsW.Close()

	if err := fsW.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	log.Info().Str("dir", w.dir).Msg("Watching for G-code files")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.work(ctx)
	}()

	defer func() {
		w.stopTimers()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsW.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !files.IsGCode(event.Name) {
				continue
			}
			w.touch(event.Name)

		case err, ok := <-fsW.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("dir", w.dir).Msg("Watcher error")
		}
	}
}

// touch restarts the quiet period of path.
func (w *Watcher) touch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending[path] {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() { w.settle(path) })
}

func (w *Watcher) settle(path string) {
	w.mu.Lock()
	delete(w.timers, path)
	if w.pending[path] {
		w.mu.Unlock()
		return
	}
	w.pending[path] = true
	w.mu.Unlock()

	select {
	case w.queue <- path:
	default:
		log.Warn().Str("file", path).Msg("Hot folder queue full, dropping file")
		w.done(path)
	}
}

func (w *Watcher) done(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
}

func (w *Watcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.queue:
			// Moved or deleted while settling.
			if _, err := os.Stat(path); err != nil {
				w.done(path)
				continue
			}
			log.Info().Str("file", path).Msg("Hot folder picked up file")
			if err := w.handler(ctx, path); err != nil {
				log.Error().Err(err).Str("file", path).Msg("Hot folder job failed")
			}
			w.done(path)
		}
	}
}
