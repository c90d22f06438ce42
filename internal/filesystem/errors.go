package filesystem

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// Errors returned by the filesystem service. Handlers map these to distinct
// HTTP responses, so every operation fails with exactly one of them (or a
// wrapped I/O error for anything the taxonomy does not cover).
var (
	ErrPathViolation = errors.New("path escapes the share root")
	ErrNotFound      = errors.New("path does not exist")
	ErrNotADirectory = errors.New("path is not a directory")
	ErrIsADirectory  = errors.New("path is a directory")
	ErrAlreadyExists = errors.New("target already exists")
	ErrQuotaExceeded = errors.New("upload exceeds the size limit")
	ErrAccessDenied  = errors.New("access denied")
	ErrInvalidName   = errors.New("invalid name")
)

// mapOSError folds an *os.PathError (or similar) into the typed taxonomy.
// Unknown failures are wrapped so the cause survives to the log line while
// handlers treat them as a plain internal error.
func mapOSError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case os.IsNotExist(err):
		return ErrNotFound
	case os.IsExist(err):
		return ErrAlreadyExists
	case os.IsPermission(err):
		return ErrAccessDenied
	case errors.Is(err, syscall.ENOTDIR):
		return ErrNotADirectory
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
