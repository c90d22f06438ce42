package health

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Free-space thresholds on the share root's volume, as fractions of total.
const (
	diskWarningThreshold = 0.10
	diskErrorThreshold   = 0.02
)

// Service runs the server's health probes on demand. Probes are cheap
// enough to run on every request to the health endpoint.
type Service struct {
	db        *sql.DB
	shareRoot string
	indexPath string // empty when search is disabled
	logger    zerolog.Logger
}

func NewService(db *sql.DB, shareRoot, indexPath string, logger zerolog.Logger) *Service {
	return &Service{
		db:        db,
		shareRoot: shareRoot,
		indexPath: indexPath,
		logger:    logger.With().Str("component", "health").Logger(),
	}
}

// Run executes all probes and aggregates the result.
func (s *Service) Run(ctx context.Context) Report {
	report := Report{
		Status:    StatusOK,
		Timestamp: time.Now().UTC(),
	}

	checks := []Check{
		s.checkShareRoot(),
		s.checkDatabase(ctx),
		s.checkDiskSpace(),
	}
	if s.indexPath != "" {
		checks = append(checks, s.checkSearchIndex())
	}

	for _, check := range checks {
		report.Status = worse(report.Status, check.Status)
		report.Checks = append(report.Checks, check)
	}
	return report
}

// checkShareRoot verifies the share root exists, is a directory, and is
// writable. Writability is probed by creating and removing a marker file,
// which works the same on every platform.
func (s *Service) checkShareRoot() Check {
	check := Check{Name: "share_root", Status: StatusOK}

	info, err := os.Stat(s.shareRoot)
	switch {
	case os.IsNotExist(err):
		check.Status = StatusError
		check.Message = fmt.Sprintf("share root does not exist: %s", s.shareRoot)
		return check
	case err != nil:
		check.Status = StatusError
		check.Message = fmt.Sprintf("cannot access share root: %v", err)
		return check
	case !info.IsDir():
		check.Status = StatusError
		check.Message = fmt.Sprintf("share root is not a directory: %s", s.shareRoot)
		return check
	}

	marker := filepath.Join(s.shareRoot, ".slipdock-health-"+uuid.New().String()[:8])
	f, err := os.Create(marker)
	if err != nil {
		check.Status = StatusError
		check.Message = fmt.Sprintf("share root is not writable: %v", err)
		return check
	}
	f.Close()
	os.Remove(marker)
	return check
}

func (s *Service) checkDatabase(ctx context.Context) Check {
	check := Check{Name: "database", Status: StatusOK}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		check.Status = StatusError
		check.Message = fmt.Sprintf("database unreachable: %v", err)
	}
	return check
}

func (s *Service) checkSearchIndex() Check {
	check := Check{Name: "search_index", Status: StatusOK}

	info, err := os.Stat(s.indexPath)
	switch {
	case os.IsNotExist(err):
		// The index is created lazily; absence before the first build is fine.
		check.Status = StatusWarning
		check.Message = "search index not built yet"
	case err != nil:
		check.Status = StatusError
		check.Message = fmt.Sprintf("cannot access search index: %v", err)
	case !info.IsDir():
		check.Status = StatusError
		check.Message = fmt.Sprintf("search index path is not a directory: %s", s.indexPath)
	}
	return check
}

func (s *Service) checkDiskSpace() Check {
	check := Check{Name: "disk_space", Status: StatusOK}

	free, total, err := DiskUsage(s.shareRoot)
	if err != nil {
		check.Status = StatusWarning
		check.Message = fmt.Sprintf("cannot determine disk usage: %v", err)
		return check
	}
	if total == 0 {
		return check
	}

	freeFraction := float64(free) / float64(total)
	switch {
	case freeFraction < diskErrorThreshold:
		check.Status = StatusError
		check.Message = fmt.Sprintf("critically low disk space: %.1f%% free", freeFraction*100)
	case freeFraction < diskWarningThreshold:
		check.Status = StatusWarning
		check.Message = fmt.Sprintf("low disk space: %.1f%% free", freeFraction*100)
	}
	return check
}
