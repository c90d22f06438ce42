// Package shares implements public share links: a token that grants
// sessionless access to one file or directory, with optional password,
// expiry and download limit.
package shares

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrNotFound covers unknown, expired and exhausted shares alike, so a
	// caller can't tell a revoked link from one that never existed.
	ErrNotFound = errors.New("share not found")

	// ErrPasswordRequired means the share exists but the presented password
	// was missing or wrong.
	ErrPasswordRequired = errors.New("share password required")
)

// Share is one share link.
type Share struct {
	ID            int64      `json:"id"`
	Token         string     `json:"token"`
	Path          string     `json:"path"`
	HasPassword   bool       `json:"hasPassword"`
	MaxDownloads  int64      `json:"maxDownloads"` // 0 = unlimited
	DownloadCount int64      `json:"downloadCount"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// CreateInput describes a new share.
type CreateInput struct {
	Path         string
	ExpiresIn    time.Duration // 0 = never
	MaxDownloads int64         // 0 = unlimited
	Password     string        // "" = open
}

// Service stores shares in SQLite.
type Service struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewService(db *sql.DB, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With().Str("component", "shares").Logger(),
	}
}

// Create inserts a share and returns it with its token. The path must have
// been validated by the caller against the resolver first.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Share, error) {
	token := uuid.NewString()

	var passwordHash sql.NullString
	if input.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash share password: %w", err)
		}
		passwordHash = sql.NullString{String: string(hash), Valid: true}
	}

	var expiresAt sql.NullTime
	if input.ExpiresIn > 0 {
		expiresAt = sql.NullTime{Time: time.Now().Add(input.ExpiresIn).UTC(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO shares (token, path, password_hash, max_downloads, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`, token, input.Path, passwordHash, input.MaxDownloads, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("create share: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("token", token).Str("path", input.Path).Msg("share created")
	return s.get(ctx, "id = ?", id)
}

// Access resolves a token to its share, enforcing expiry, the download
// limit and the password in that order. Expired and exhausted shares
// answer ErrNotFound just like unknown tokens.
func (s *Service) Access(ctx context.Context, token, password string) (*Share, error) {
	share, hash, err := s.getWithHash(ctx, token)
	if err != nil {
		return nil, err
	}

	if share.ExpiresAt != nil && time.Now().After(*share.ExpiresAt) {
		return nil, ErrNotFound
	}
	if share.MaxDownloads > 0 && share.DownloadCount >= share.MaxDownloads {
		return nil, ErrNotFound
	}
	if hash != "" {
		if password == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
			return nil, ErrPasswordRequired
		}
	}
	return share, nil
}

// CountDownload bumps a share's download counter after a completed request.
func (s *Service) CountDownload(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE shares SET download_count = download_count + 1 WHERE id = ?", id)
	return err
}

// List returns all shares, newest first.
func (s *Service) List(ctx context.Context) ([]*Share, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, token, path, password_hash, max_downloads, download_count, expires_at, created_at
		FROM shares ORDER BY id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shares := make([]*Share, 0)
	for rows.Next() {
		share, _, err := scanShare(rows)
		if err != nil {
			return nil, err
		}
		shares = append(shares, share)
	}
	return shares, rows.Err()
}

// Revoke deletes a share by ID.
func (s *Service) Revoke(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM shares WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	s.logger.Info().Int64("id", id).Msg("share revoked")
	return nil
}

// PurgeExpired deletes expired and exhausted shares. Run from the
// maintenance schedule; Access already refuses them, this keeps the table
// from growing.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM shares
		WHERE (expires_at IS NOT NULL AND expires_at < ?)
		   OR (max_downloads > 0 AND download_count >= max_downloads)
	`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Service) get(ctx context.Context, where string, arg interface{}) (*Share, error) {
	share, _, err := s.queryOne(ctx, where, arg)
	return share, err
}

func (s *Service) getWithHash(ctx context.Context, token string) (*Share, string, error) {
	return s.queryOne(ctx, "token = ?", token)
}

func (s *Service) queryOne(ctx context.Context, where string, arg interface{}) (*Share, string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, token, path, password_hash, max_downloads, download_count, expires_at, created_at
		FROM shares WHERE `+where, arg)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, "", err
		}
		return nil, "", ErrNotFound
	}
	share, hash, err := scanShare(rows)
	return share, hash, err
}

func scanShare(rows *sql.Rows) (*Share, string, error) {
	var (
		share        Share
		passwordHash sql.NullString
		expiresAt    sql.NullTime
	)
	err := rows.Scan(&share.ID, &share.Token, &share.Path, &passwordHash,
		&share.MaxDownloads, &share.DownloadCount, &expiresAt, &share.CreatedAt)
	if err != nil {
		return nil, "", err
	}
	share.HasPassword = passwordHash.Valid && passwordHash.String != ""
	if expiresAt.Valid {
		t := expiresAt.Time
		share.ExpiresAt = &t
	}
	return &share, passwordHash.String, nil
}
