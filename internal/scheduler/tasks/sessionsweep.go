package tasks

import (
	"context"

	"github.com/slipdock/slipdock/internal/auth"
	"github.com/slipdock/slipdock/internal/scheduler"
)

const SessionSweepTaskID = "session-sweep"

// RegisterSessionSweepTask registers the hourly sweep of expired session
// tokens from the revocation store.
func RegisterSessionSweepTask(sched *scheduler.Scheduler, guard *auth.Guard) error {
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          SessionSweepTaskID,
		Name:        "Session Sweep",
		Description: "Removes expired sessions from the in-memory session store",
		Cron:        "0 * * * *",
		RunOnStart:  false,
		Func: func(ctx context.Context) error {
			guard.SweepExpired()
			return nil
		},
	})
}
