package watcher

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/slipdock/slipdock/internal/filesystem"
)

// Op identifies the kind of change observed on disk.
type Op string

const (
	OpCreate Op = "create"
	OpWrite  Op = "write"
	OpRemove Op = "remove"
	OpRename Op = "rename"
)

// Event is one observed change under the share root. Path is absolute.
type Event struct {
	Path string
	Op   Op
	At   time.Time
}

// BatchFunc receives a debounced batch of events.
type BatchFunc func(batch []Event)

// Config tunes event batching.
type Config struct {
	// Debounce is the quiet period required before a batch flushes.
	Debounce time.Duration

	// BatchLimit flushes early once this many distinct paths are pending.
	BatchLimit int
}

// DefaultConfig returns the batching defaults.
func DefaultConfig() Config {
	return Config{
		Debounce:   500 * time.Millisecond,
		BatchLimit: 200,
	}
}

// Watcher monitors the share root recursively for out-of-band changes
// (SMB, shell, anything that bypasses the API). New directories are added
// to the watch as they appear.
type Watcher struct {
	fsw    *fsnotify.Watcher
	root   string
	cfg    Config
	log    zerolog.Logger
	notify BatchFunc

	mu      sync.Mutex
	watched map[string]struct{}

	batchMu sync.Mutex
	pending map[string]Event
	timer   *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher over root (an absolute, resolved directory).
func New(root string, cfg Config, logger zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		fsw:     fsw,
		root:    root,
		cfg:     cfg,
		log:     logger.With().Str("component", "watcher").Logger(),
		watched: make(map[string]struct{}),
		pending: make(map[string]Event),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// OnBatch sets the batch callback. Must be called before Start.
func (w *Watcher) OnBatch(fn BatchFunc) {
	w.notify = fn
}

// Start registers the root tree and begins processing events.
func (w *Watcher) Start() error {
	if err := w.watchTree(w.root); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop shuts the watcher down, flushing any pending batch.
func (w *Watcher) Stop() error {
	w.cancel()
	w.wg.Wait()
	return w.fsw.Close()
}

// watchTree registers dir and every directory under it. Already-watched and
// unreadable directories are skipped.
func (w *Watcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || !d.IsDir() {
			return nil
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		if _, ok := w.watched[p]; ok {
			return nil
		}
		if err := w.fsw.Add(p); err != nil {
			w.log.Warn().Err(err).Str("path", p).Msg("failed to watch directory")
			return nil
		}
		w.watched[p] = struct{}{}
		return nil
	})
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			w.batchMu.Lock()
			w.flushLocked()
			w.batchMu.Unlock()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.record(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("watcher error")
		}
	}
}

// record translates a raw fsnotify event and queues it. Upload temp files
// are the server's own writes in flight and never surface as external
// changes.
func (w *Watcher) record(ev fsnotify.Event) {
	if strings.HasPrefix(filepath.Base(ev.Name), filesystem.TempPrefix) {
		return
	}

	var op Op
	switch {
	case ev.Has(fsnotify.Create):
		op = OpCreate
		// A created directory needs its own watch before anything lands in
		// it.
		go w.watchTree(ev.Name)
	case ev.Has(fsnotify.Write):
		op = OpWrite
	case ev.Has(fsnotify.Remove):
		op = OpRemove
	case ev.Has(fsnotify.Rename):
		op = OpRename
	default:
		return
	}

	w.enqueue(Event{Path: ev.Name, Op: op, At: time.Now().UTC()})
}

// enqueue adds an event to the pending batch and arms the debounce timer.
// Rapid events on the same path collapse to the last one.
func (w *Watcher) enqueue(ev Event) {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()

	w.pending[ev.Path] = ev

	if len(w.pending) >= w.cfg.BatchLimit {
		w.flushLocked()
		return
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.cfg.Debounce, func() {
		w.batchMu.Lock()
		defer w.batchMu.Unlock()
		w.flushLocked()
	})
}

// flushLocked hands the batch to the callback. Caller holds batchMu.
func (w *Watcher) flushLocked() {
	if len(w.pending) == 0 {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}

	batch := make([]Event, 0, len(w.pending))
	for _, ev := range w.pending {
		batch = append(batch, ev)
	}
	w.pending = make(map[string]Event)

	// The callback runs off the event loop so a slow consumer never backs
	// up fsnotify.
	if w.notify != nil {
		go w.notify(batch)
	}

	w.log.Debug().Int("count", len(batch)).Msg("flushed file events")
}
