package tasks

import (
	"context"

	"github.com/google/uuid"

	"github.com/slipdock/slipdock/internal/progress"
	"github.com/slipdock/slipdock/internal/scheduler"
	"github.com/slipdock/slipdock/internal/search"
)

const ReindexTaskID = "search-reindex"

// RegisterReindexTask registers the daily full rebuild of the search index.
// It also runs on startup so changes made while the server was down are
// picked up. Incremental updates handle everything in between. progressMgr
// may be nil.
func RegisterReindexTask(sched *scheduler.Scheduler, searchService *search.Service, progressMgr *progress.Manager) error {
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          ReindexTaskID,
		Name:        "Search Reindex",
		Description: "Rebuilds the search index from the share root",
		Cron:        "0 3 * * *",
		RunOnStart:  true,
		Func: func(ctx context.Context) error {
			if progressMgr == nil {
				return searchService.Rebuild(ctx)
			}
			id := uuid.New().String()
			progressMgr.Start(id, progress.ActivityReindex, "Rebuilding search index")
			if err := searchService.Rebuild(ctx); err != nil {
				progressMgr.Fail(id, "reindex failed")
				return err
			}
			progressMgr.Complete(id, "index rebuilt")
			return nil
		},
	})
}
