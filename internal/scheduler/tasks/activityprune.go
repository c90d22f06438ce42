package tasks

import (
	"context"
	"time"

	"github.com/slipdock/slipdock/internal/activity"
	"github.com/slipdock/slipdock/internal/scheduler"
)

const ActivityPruneTaskID = "activity-prune"

// RegisterActivityPruneTask registers the daily prune of activity log
// entries older than the configured retention period.
func RegisterActivityPruneTask(sched *scheduler.Scheduler, activityService *activity.Service, retention time.Duration) error {
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          ActivityPruneTaskID,
		Name:        "Activity Prune",
		Description: "Deletes activity log entries older than the configured retention period",
		Cron:        "0 2 * * *",
		RunOnStart:  false,
		Func: func(ctx context.Context) error {
			_, err := activityService.Prune(ctx, retention)
			return err
		},
	})
}
