package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/blugelabs/bluge"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Search returns entries whose name matches q, best match first with the
// newest entry winning ties.
func (s *Service) Search(ctx context.Context, q string, limit int) ([]Result, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []Result{}, nil
	}
	limit = clampLimit(limit)

	reader, err := s.writer.Reader()
	if err != nil {
		return nil, fmt.Errorf("open index reader: %w", err)
	}
	defer reader.Close()

	query := bluge.NewBooleanQuery().
		AddShould(bluge.NewMatchQuery(q).SetField("name")).
		AddShould(bluge.NewPrefixQuery(strings.ToLower(q)).SetField("name_lc")).
		SetMinShould(1)

	req := bluge.NewTopNSearch(limit, query).SortBy([]string{"-_score", "-mtime"})
	dmi, err := reader.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	results := make([]Result, 0, limit)
	for {
		match, err := dmi.Next()
		if err != nil {
			return nil, err
		}
		if match == nil {
			break
		}

		result := Result{Score: match.Score}
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				result.Path = string(value)
			case "name":
				result.Name = string(value)
			case "dir":
				result.Dir = string(value)
			case "kind":
				result.Kind = string(value)
			case "size":
				result.Size, _ = strconv.ParseInt(string(value), 10, 64)
			case "modified":
				result.Modified, _ = time.Parse(time.RFC3339, string(value))
			case "mime":
				result.MimeType = string(value)
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// Suggest completes a name prefix, for the search box's typeahead.
func (s *Service) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return []string{}, nil
	}
	limit = clampLimit(limit)

	reader, err := s.writer.Reader()
	if err != nil {
		return nil, fmt.Errorf("open index reader: %w", err)
	}
	defer reader.Close()

	query := bluge.NewPrefixQuery(prefix).SetField("name_lc")
	dmi, err := reader.Search(ctx, bluge.NewTopNSearch(limit*2, query))
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	seen := make(map[string]bool)
	suggestions := make([]string, 0, limit)
	for len(suggestions) < limit {
		match, err := dmi.Next()
		if err != nil {
			return nil, err
		}
		if match == nil {
			break
		}
		var name string
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field == "name" {
				name = string(value)
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		if name != "" && !seen[strings.ToLower(name)] {
			seen[strings.ToLower(name)] = true
			suggestions = append(suggestions, name)
		}
	}
	return suggestions, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
