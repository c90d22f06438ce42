// Package batch applies one operation to a set of file identifiers with
// independent per-item outcomes: one item failing never aborts the rest.
package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/slipdock/slipdock/internal/activity"
	"github.com/slipdock/slipdock/internal/filesystem"
	"github.com/slipdock/slipdock/internal/pathutil"
	"github.com/slipdock/slipdock/internal/websocket"
)

// Operation is the action applied to every item of a batch.
type Operation string

const (
	OpDelete   Operation = "delete"
	OpMove     Operation = "move"
	OpCopy     Operation = "copy"
	OpDownload Operation = "download"
)

var ErrUnknownOperation = errors.New("unknown batch operation")

// Request is one batch call. Paths are relative identifiers; duplicates are
// removed order-preservingly before anything runs.
type Request struct {
	Operation   Operation `json:"operation"`
	Paths       []string  `json:"paths"`
	Destination string    `json:"destination,omitempty"`
}

// ItemResult is the outcome for a single identifier.
type ItemResult struct {
	Path   string `json:"path"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"` // typed failure code, empty on success
}

// Result aggregates a completed batch.
type Result struct {
	Operation Operation    `json:"operation"`
	Items     []ItemResult `json:"items"`
	Total     int          `json:"total"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

// ChangeBroadcaster receives change events after a batch with at least one
// success.
type ChangeBroadcaster interface {
	BroadcastChange(ev websocket.ChangeEvent)
}

// Coordinator routes batch items to the file service and collects per-item
// outcomes.
type Coordinator struct {
	store    *filesystem.Service
	hub      ChangeBroadcaster
	activity *activity.Service
	logger   zerolog.Logger
}

// NewCoordinator creates a coordinator. hub and activitySvc may be nil in
// tests; broadcast and recording are skipped then.
func NewCoordinator(store *filesystem.Service, hub ChangeBroadcaster, activitySvc *activity.Service, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:    store,
		hub:      hub,
		activity: activitySvc,
		logger:   logger.With().Str("component", "batch").Logger(),
	}
}

// Apply runs one batch. For move/copy the destination is resolved once up
// front: an invalid destination fails the whole call before any item is
// touched. Items are then attempted independently; the result carries one
// outcome per identifier plus aggregate counts. Download batches don't go
// through Apply; see WriteArchive.
func (c *Coordinator) Apply(ctx context.Context, actor string, req Request) (*Result, error) {
	switch req.Operation {
	case OpDelete, OpMove, OpCopy:
	default:
		return nil, ErrUnknownOperation
	}

	paths := lo.Uniq(lo.Map(req.Paths, func(p string, _ int) string {
		return pathutil.CleanRelPath(p)
	}))

	if req.Operation == OpMove || req.Operation == OpCopy {
		// Destination validity is a precondition, not a per-item concern.
		if _, err := c.store.Resolver().ResolveDir(req.Destination); err != nil {
			return nil, fmt.Errorf("invalid destination: %w", err)
		}
	}

	result := &Result{
		Operation: req.Operation,
		Items:     make([]ItemResult, 0, len(paths)),
		Total:     len(paths),
	}
	affected := make(map[string][]string)

	for _, path := range paths {
		var (
			entry *filesystem.Entry
			err   error
		)
		switch req.Operation {
		case OpDelete:
			entry, err = c.store.Delete(ctx, path)
		case OpMove:
			entry, err = c.store.Move(ctx, path, req.Destination)
		case OpCopy:
			entry, err = c.store.Copy(ctx, path, req.Destination)
		}

		if err != nil {
			result.Items = append(result.Items, ItemResult{Path: path, Reason: FailureReason(err)})
			result.Failed++
			continue
		}

		result.Items = append(result.Items, ItemResult{Path: path, OK: true})
		result.Succeeded++

		sourceDir := pathutil.ParentDir(path)
		affected[sourceDir] = append(affected[sourceDir], lastElement(path))
		if req.Operation != OpDelete {
			destDir := pathutil.ParentDir(entry.Path)
			affected[destDir] = append(affected[destDir], entry.Name)
		}
	}

	if result.Succeeded > 0 {
		c.notify(ctx, actor, req.Operation, affected, result)
	}

	c.logger.Info().
		Str("operation", string(req.Operation)).
		Int("total", result.Total).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Msg("batch applied")

	return result, nil
}

// notify fans one ChangeEvent per affected directory out to viewers and
// records the batch in the activity log. Neither can fail the batch.
func (c *Coordinator) notify(ctx context.Context, actor string, op Operation, affected map[string][]string, result *Result) {
	changeType := map[Operation]websocket.ChangeType{
		OpDelete: websocket.ChangeDeleted,
		OpMove:   websocket.ChangeMoved,
		OpCopy:   websocket.ChangeCopied,
	}[op]

	if c.hub != nil {
		for dir, names := range affected {
			c.hub.BroadcastChange(websocket.NewChangeEvent(changeType, dir, actor, names...))
		}
	}

	if c.activity != nil {
		names := make([]string, 0, result.Succeeded)
		for _, item := range result.Items {
			if item.OK {
				names = append(names, item.Path)
			}
		}
		c.activity.Record(ctx, activity.EventBatch, actor, "", names, map[string]any{
			"operation": string(op),
			"succeeded": result.Succeeded,
			"failed":    result.Failed,
		})
	}
}

// FailureReason maps a typed filesystem error to the wire reason code.
// "Item not found" and "item failed" stay distinct outcomes on purpose.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, filesystem.ErrNotFound):
		return "not_found"
	case errors.Is(err, filesystem.ErrPathViolation):
		return "path_violation"
	case errors.Is(err, filesystem.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, filesystem.ErrNotADirectory):
		return "not_a_directory"
	case errors.Is(err, filesystem.ErrIsADirectory):
		return "is_a_directory"
	case errors.Is(err, filesystem.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, filesystem.ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, filesystem.ErrInvalidName):
		return "invalid_name"
	default:
		return "io_error"
	}
}

func lastElement(rel string) string {
	for i := len(rel) - 1; i >= 0; i-- {
		if rel[i] == '/' {
			return rel[i+1:]
		}
	}
	return rel
}
