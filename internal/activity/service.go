package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// EventType classifies an activity entry.
type EventType string

const (
	EventUpload       EventType = "upload"
	EventDelete       EventType = "delete"
	EventRename       EventType = "rename"
	EventMove         EventType = "move"
	EventCopy         EventType = "copy"
	EventMkdir        EventType = "mkdir"
	EventDownload     EventType = "download"
	EventBatch        EventType = "batch"
	EventLogin        EventType = "login"
	EventShareCreated EventType = "share_created"
	EventShareRevoked EventType = "share_revoked"
	EventShareAccess  EventType = "share_access"
)

// Entry is one row of the activity log.
type Entry struct {
	ID        int64          `json:"id"`
	EventType EventType      `json:"eventType"`
	Actor     string         `json:"actor"`
	Path      string         `json:"path"`
	Names     []string       `json:"names,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ListOptions filters and pages a listing.
type ListOptions struct {
	Page      int
	PageSize  int
	EventType string
}

// ListResponse is a page of entries, newest first.
type ListResponse struct {
	Items      []*Entry `json:"items"`
	Page       int      `json:"page"`
	PageSize   int      `json:"pageSize"`
	TotalCount int64    `json:"totalCount"`
	TotalPages int      `json:"totalPages"`
}

// Service records completed mutations to the activity table. Recording is
// best-effort from the caller's point of view: a failed insert is logged and
// never fails the operation that triggered it.
type Service struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewService creates a new activity service.
func NewService(db *sql.DB, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With().Str("component", "activity").Logger(),
	}
}

// Record inserts one entry. Errors are swallowed after logging.
func (s *Service) Record(ctx context.Context, eventType EventType, actor, path string, names []string, detail map[string]any) {
	var namesJSON, detailJSON sql.NullString
	if len(names) > 0 {
		if bytes, err := json.Marshal(names); err == nil {
			namesJSON = sql.NullString{String: string(bytes), Valid: true}
		}
	}
	if len(detail) > 0 {
		if bytes, err := json.Marshal(detail); err == nil {
			detailJSON = sql.NullString{String: string(bytes), Valid: true}
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity (event_type, actor, path, names, detail)
		VALUES (?, ?, ?, ?, ?)
	`, string(eventType), actor, path, namesJSON, detailJSON)
	if err != nil {
		s.logger.Warn().Err(err).Str("eventType", string(eventType)).Msg("failed to record activity")
	}
}

// List returns a page of entries, newest first, optionally filtered by
// event type.
func (s *Service) List(ctx context.Context, opts ListOptions) (*ListResponse, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = 50
	}
	if opts.PageSize > 200 {
		opts.PageSize = 200
	}

	offset := (opts.Page - 1) * opts.PageSize

	var (
		rows       *sql.Rows
		err        error
		totalCount int64
	)

	if opts.EventType != "" {
		err = s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM activity WHERE event_type = ?", opts.EventType).Scan(&totalCount)
		if err != nil {
			return nil, err
		}
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, event_type, actor, path, names, detail, created_at
			FROM activity WHERE event_type = ?
			ORDER BY id DESC LIMIT ? OFFSET ?
		`, opts.EventType, opts.PageSize, offset)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM activity").Scan(&totalCount)
		if err != nil {
			return nil, err
		}
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, event_type, actor, path, names, detail, created_at
			FROM activity
			ORDER BY id DESC LIMIT ? OFFSET ?
		`, opts.PageSize, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*Entry, 0, opts.PageSize)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totalPages := int(totalCount) / opts.PageSize
	if int(totalCount)%opts.PageSize > 0 {
		totalPages++
	}

	return &ListResponse{
		Items:      entries,
		Page:       opts.Page,
		PageSize:   opts.PageSize,
		TotalCount: totalCount,
		TotalPages: totalPages,
	}, nil
}

// Prune deletes entries older than the retention window and returns how many
// went.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC()
	res, err := s.db.ExecContext(ctx, "DELETE FROM activity WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var (
		entry      Entry
		eventType  string
		namesJSON  sql.NullString
		detailJSON sql.NullString
	)
	if err := rows.Scan(&entry.ID, &eventType, &entry.Actor, &entry.Path, &namesJSON, &detailJSON, &entry.CreatedAt); err != nil {
		return nil, err
	}
	entry.EventType = EventType(eventType)
	if namesJSON.Valid {
		_ = json.Unmarshal([]byte(namesJSON.String), &entry.Names)
	}
	if detailJSON.Valid {
		_ = json.Unmarshal([]byte(detailJSON.String), &entry.Detail)
	}
	return &entry, nil
}
