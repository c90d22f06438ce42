package watcher

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/slipdock/slipdock/internal/filesystem"
	"github.com/slipdock/slipdock/internal/pathutil"
	"github.com/slipdock/slipdock/internal/websocket"
)

// ChangeBroadcaster receives external-change events for connected viewers.
type ChangeBroadcaster interface {
	BroadcastChange(ev websocket.ChangeEvent)
}

// Indexer mirrors filesystem mutations into the search index.
type Indexer interface {
	IndexEntry(e filesystem.Entry)
	RemovePath(path string, isDir bool)
}

// Service turns debounced watcher batches into "external" ChangeEvents for
// connected viewers and incremental search-index updates, so changes made
// out-of-band reach the UI like API mutations do.
type Service struct {
	watcher *Watcher
	store   *filesystem.Service
	hub     ChangeBroadcaster
	index   Indexer
	logger  zerolog.Logger
}

// NewService wires a watcher over the store's share root. index may be nil
// when search is disabled.
func NewService(store *filesystem.Service, hub ChangeBroadcaster, index Indexer, config Config, logger zerolog.Logger) (*Service, error) {
	w, err := New(store.Resolver().Root(), config, logger)
	if err != nil {
		return nil, err
	}

	s := &Service{
		watcher: w,
		store:   store,
		hub:     hub,
		index:   index,
		logger:  logger.With().Str("component", "watcher").Logger(),
	}
	w.OnBatch(s.handleBatch)
	return s, nil
}

// Start begins monitoring.
func (s *Service) Start() error {
	return s.watcher.Start()
}

// Stop stops monitoring.
func (s *Service) Stop() error {
	return s.watcher.Stop()
}

// handleBatch folds one debounced batch into per-directory change events.
func (s *Service) handleBatch(batch []Event) {
	root := s.store.Resolver().Root()
	perDir := make(map[string][]string)

	for _, event := range batch {
		rel, err := filepath.Rel(root, event.Path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		relSlash := pathutil.CleanRelPath(filepath.ToSlash(rel))
		if relSlash == "" {
			continue
		}

		dir := pathutil.ParentDir(relSlash)
		name := filepath.Base(event.Path)
		perDir[dir] = append(perDir[dir], name)

		s.updateIndex(event, relSlash)
	}

	if s.hub == nil {
		return
	}
	for dir, names := range perDir {
		s.hub.BroadcastChange(websocket.NewChangeEvent(websocket.ChangeExternal, dir, "", names...))
	}
}

// updateIndex applies one event to the search index. Remove/rename drops
// the document; create/write re-stats and refreshes it.
func (s *Service) updateIndex(event Event, rel string) {
	if s.index == nil {
		return
	}

	switch event.Op {
	case OpRemove, OpRename:
		// Kind is unknowable after the fact; treat as a directory so the
		// subtree's documents go too. Harmless for plain files.
		s.index.RemovePath(rel, true)
	case OpCreate, OpWrite:
		entry, err := s.store.Stat(context.Background(), rel)
		if err != nil {
			return // vanished again, the next batch will catch up
		}
		s.index.IndexEntry(*entry)
	}
}
