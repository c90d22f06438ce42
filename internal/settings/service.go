// Package settings is a small key-value store over the settings table. It
// holds the few values that must survive restarts but don't belong in the
// config file: the session signing secret and the install ID.
package settings

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	keyJWTSecret = "session_signing_secret"
	keyInstallID = "install_id"
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Get returns the value for key, or sql.ErrNoRows.
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	return value, err
}

// Set upserts key to value.
func (s *Service) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// SessionSecret returns the persisted session signing secret, generating and
// storing one on first run. Persisting it keeps sessions valid across
// restarts.
func (s *Service) SessionSecret(ctx context.Context) ([]byte, error) {
	value, err := s.Get(ctx, keyJWTSecret)

	switch {
	case err == nil && value != "":
		secret, decErr := hex.DecodeString(value)
		if decErr != nil {
			return nil, fmt.Errorf("failed to decode stored signing secret: %w", decErr)
		}
		return secret, nil

	case errors.Is(err, sql.ErrNoRows) || (err == nil && value == ""):
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate signing secret: %w", err)
		}
		if err := s.Set(ctx, keyJWTSecret, hex.EncodeToString(secret)); err != nil {
			return nil, fmt.Errorf("failed to persist signing secret: %w", err)
		}
		return secret, nil

	default:
		return nil, fmt.Errorf("failed to load signing secret: %w", err)
	}
}

// InstallID returns this installation's stable identifier, creating it on
// first run.
func (s *Service) InstallID(ctx context.Context) (string, error) {
	value, err := s.Get(ctx, keyInstallID)
	if err == nil && value != "" {
		return value, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to load install id: %w", err)
	}

	id := uuid.NewString()
	if err := s.Set(ctx, keyInstallID, id); err != nil {
		return "", fmt.Errorf("failed to persist install id: %w", err)
	}
	return id, nil
}
