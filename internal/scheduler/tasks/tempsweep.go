package tasks

import (
	"context"
	"time"

	"github.com/slipdock/slipdock/internal/filesystem"
	"github.com/slipdock/slipdock/internal/scheduler"
)

const TempSweepTaskID = "temp-sweep"

// staleTempAge is how old an upload temp file must be before the sweep
// considers it abandoned. In-flight uploads are younger than this.
const staleTempAge = time.Hour

// RegisterTempSweepTask registers the hourly removal of abandoned upload
// temp files left behind by crashed or cancelled uploads.
func RegisterTempSweepTask(sched *scheduler.Scheduler, store *filesystem.Service) error {
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          TempSweepTaskID,
		Name:        "Temp File Sweep",
		Description: "Removes abandoned upload temp files from the share root",
		Cron:        "15 * * * *",
		RunOnStart:  true,
		Func: func(ctx context.Context) error {
			_, err := store.SweepTempFiles(ctx, staleTempAge)
			return err
		},
	})
}
