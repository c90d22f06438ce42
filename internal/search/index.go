// Package search maintains a bluge index over the share tree: one document
// per file or directory, keyed by the relative path. Queries match on the
// entry name; suggestions complete name prefixes.
package search

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/rs/zerolog"

	"github.com/slipdock/slipdock/internal/filesystem"
)

// Result is one search hit.
type Result struct {
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	Dir      string    `json:"dir"`
	Kind     string    `json:"kind"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	MimeType string    `json:"mimeType,omitempty"`
	Score    float64   `json:"score"`
}

// Service owns the index writer. The writer is internally synchronized; the
// mutex only serializes full rebuilds against each other.
type Service struct {
	writer    *bluge.Writer
	store     *filesystem.Service
	logger    zerolog.Logger
	rebuildMu sync.Mutex
}

// NewService opens (or creates) the index at indexPath.
func NewService(indexPath string, store *filesystem.Service, logger zerolog.Logger) (*Service, error) {
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(indexPath))
	if err != nil {
		return nil, fmt.Errorf("open search index: %w", err)
	}
	return &Service{
		writer: writer,
		store:  store,
		logger: logger.With().Str("component", "search").Logger(),
	}, nil
}

// Close releases the index writer.
func (s *Service) Close() error {
	return s.writer.Close()
}

// IndexEntry adds or refreshes one entry's document.
func (s *Service) IndexEntry(e filesystem.Entry) {
	doc := entryDocument(e)
	if err := s.writer.Update(doc.ID(), doc); err != nil {
		s.logger.Warn().Err(err).Str("path", e.Path).Msg("failed to index entry")
	}
}

// RemovePath drops an entry's document; for a directory the whole subtree's
// documents go with it.
func (s *Service) RemovePath(path string, isDir bool) {
	if err := s.writer.Delete(bluge.Identifier(path)); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("failed to remove from index")
	}
	if !isDir {
		return
	}

	ids, err := s.idsUnder(context.Background(), path)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("failed to enumerate subtree for removal")
		return
	}
	batch := bluge.NewBatch()
	for _, id := range ids {
		batch.Delete(bluge.Identifier(id))
	}
	if err := s.writer.Batch(batch); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("failed to remove subtree from index")
	}
}

// Rebuild re-walks the share tree, refreshing every entry's document and
// deleting documents whose paths no longer exist. Runs on startup and from
// the nightly task; concurrent rebuilds serialize.
func (s *Service) Rebuild(ctx context.Context) error {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	start := time.Now()
	root := s.store.Resolver().Root()
	seen := make(map[string]bool)
	batch := bluge.NewBatch()
	count := 0

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, skip
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if p == root {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, filesystem.TempPrefix) {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		entry := filesystem.Entry{
			Name:     name,
			Path:     filepath.ToSlash(rel),
			Size:     info.Size(),
			Modified: info.ModTime().UTC(),
			Kind:     filesystem.KindFile,
		}
		if d.IsDir() {
			entry.Kind = filesystem.KindDirectory
			entry.Size = 0
		}

		seen[entry.Path] = true
		doc := entryDocument(entry)
		batch.Update(doc.ID(), doc)
		count++
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk share tree: %w", err)
	}

	stale, err := s.idsUnder(ctx, "")
	if err != nil {
		return err
	}
	removed := 0
	for _, id := range stale {
		if !seen[id] {
			batch.Delete(bluge.Identifier(id))
			removed++
		}
	}

	if err := s.writer.Batch(batch); err != nil {
		return fmt.Errorf("apply index batch: %w", err)
	}

	s.logger.Info().
		Int("indexed", count).
		Int("removed", removed).
		Dur("duration", time.Since(start)).
		Msg("index rebuilt")
	return nil
}

// idsUnder lists every indexed path under dir ("" for all).
func (s *Service) idsUnder(ctx context.Context, dir string) ([]string, error) {
	reader, err := s.writer.Reader()
	if err != nil {
		return nil, fmt.Errorf("open index reader: %w", err)
	}
	defer reader.Close()

	var query bluge.Query
	if dir == "" {
		query = bluge.NewMatchAllQuery()
	} else {
		query = bluge.NewPrefixQuery(dir + "/").SetField("_id")
	}

	dmi, err := reader.Search(ctx, bluge.NewAllMatches(query))
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	var ids []string
	for {
		match, err := dmi.Next()
		if err != nil {
			return nil, err
		}
		if match == nil {
			break
		}
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field == "_id" {
				ids = append(ids, string(value))
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func entryDocument(e filesystem.Entry) *bluge.Document {
	dir := ""
	if i := strings.LastIndexByte(e.Path, '/'); i >= 0 {
		dir = e.Path[:i]
	}

	doc := bluge.NewDocument(e.Path)
	doc.AddField(bluge.NewTextField("name", e.Name).StoreValue())
	doc.AddField(bluge.NewKeywordField("name_lc", strings.ToLower(e.Name)))
	doc.AddField(bluge.NewKeywordField("dir", dir).StoreValue())
	doc.AddField(bluge.NewKeywordField("ext", strings.ToLower(strings.TrimPrefix(filepath.Ext(e.Name), "."))))
	doc.AddField(bluge.NewKeywordField("kind", string(e.Kind)).StoreValue())
	doc.AddField(bluge.NewDateTimeField("mtime", e.Modified).Sortable())
	doc.AddField(bluge.NewStoredOnlyField("modified", []byte(e.Modified.Format(time.RFC3339))))
	doc.AddField(bluge.NewStoredOnlyField("size", []byte(strconv.FormatInt(e.Size, 10))))
	if e.MimeType != "" {
		doc.AddField(bluge.NewStoredOnlyField("mime", []byte(e.MimeType)))
	}
	return doc
}
