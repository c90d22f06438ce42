package tasks

import (
	"context"

	"github.com/slipdock/slipdock/internal/scheduler"
	"github.com/slipdock/slipdock/internal/shares"
)

const SharePurgeTaskID = "share-purge"

// RegisterSharePurgeTask registers the hourly purge of expired and
// exhausted share links.
func RegisterSharePurgeTask(sched *scheduler.Scheduler, shareService *shares.Service) error {
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          SharePurgeTaskID,
		Name:        "Share Purge",
		Description: "Deletes share links that have expired or used up their download limit",
		Cron:        "30 * * * *",
		RunOnStart:  false,
		Func: func(ctx context.Context) error {
			_, err := shareService.PurgeExpired(ctx)
			return err
		},
	})
}
