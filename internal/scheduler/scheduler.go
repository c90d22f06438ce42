package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// TaskFunc is a unit of scheduled maintenance work.
type TaskFunc func(ctx context.Context) error

// TaskConfig describes one recurring task.
type TaskConfig struct {
	ID          string
	Name        string
	Description string
	Cron        string // standard five-field cron expression
	Func        TaskFunc
	RunOnStart  bool
}

// TaskInfo is the task state reported on the system surface.
type TaskInfo struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Cron        string     `json:"cron"`
	LastRun     *time.Time `json:"lastRun,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	NextRun     *time.Time `json:"nextRun,omitempty"`
	Running     bool       `json:"running"`
}

type task struct {
	cfg     TaskConfig
	job     gocron.Job
	lastRun *time.Time
	lastErr string
	running bool
}

// Scheduler runs the server's background maintenance tasks on cron
// schedules. Tasks registered before Start are also eligible for an
// immediate startup run via RunOnStart.
type Scheduler struct {
	engine gocron.Scheduler
	log    zerolog.Logger

	mu      sync.RWMutex
	entries map[string]*task
}

func New(logger zerolog.Logger) (*Scheduler, error) {
	engine, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{
		engine:  engine,
		log:     logger.With().Str("component", "scheduler").Logger(),
		entries: make(map[string]*task),
	}, nil
}

// RegisterTask adds a task. IDs must be unique; the cron expression is
// validated here, before Start.
func (s *Scheduler) RegisterTask(cfg TaskConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.entries[cfg.ID]; dup {
		return fmt.Errorf("task %q already registered", cfg.ID)
	}

	job, err := s.engine.NewJob(
		gocron.CronJob(cfg.Cron, false),
		gocron.NewTask(func() { s.run(cfg.ID) }),
		gocron.WithName(cfg.Name),
		gocron.WithTags(cfg.ID),
	)
	if err != nil {
		return fmt.Errorf("schedule task %q: %w", cfg.ID, err)
	}

	s.entries[cfg.ID] = &task{cfg: cfg, job: job}

	s.log.Info().
		Str("task", cfg.ID).
		Str("cron", cfg.Cron).
		Bool("runOnStart", cfg.RunOnStart).
		Msg("registered maintenance task")
	return nil
}

// run executes one task and records its outcome. Overlapping triggers of
// the same task are collapsed to a no-op.
func (s *Scheduler) run(id string) {
	s.mu.Lock()
	t, ok := s.entries[id]
	if !ok || t.running {
		s.mu.Unlock()
		return
	}
	t.running = true
	s.mu.Unlock()

	started := time.Now()
	err := t.cfg.Func(context.Background())
	elapsed := time.Since(started)

	s.mu.Lock()
	t.running = false
	t.lastRun = &started
	if err != nil {
		t.lastErr = err.Error()
	} else {
		t.lastErr = ""
	}
	s.mu.Unlock()

	ev := s.log.Info()
	if err != nil {
		ev = s.log.Error().Err(err)
	}
	ev.Str("task", id).Dur("duration", elapsed).Msg("task finished")
}

// Start begins the cron loop and kicks off RunOnStart tasks.
func (s *Scheduler) Start() {
	s.engine.Start()

	s.mu.RLock()
	var startup []string
	for id, t := range s.entries {
		if t.cfg.RunOnStart {
			startup = append(startup, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range startup {
		go s.run(id)
	}
	s.log.Info().Int("tasks", len(s.ListTasks())).Msg("scheduler started")
}

// Stop shuts the cron loop down. Running tasks finish on their own.
func (s *Scheduler) Stop() error {
	s.log.Info().Msg("scheduler stopping")
	return s.engine.Shutdown()
}

// RunNow triggers a task outside its schedule.
func (s *Scheduler) RunNow(id string) error {
	s.mu.RLock()
	t, ok := s.entries[id]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	if t.running {
		return fmt.Errorf("task %q is already running", id)
	}

	go s.run(id)
	return nil
}

// ListTasks reports the state of every registered task.
func (s *Scheduler) ListTasks() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TaskInfo, 0, len(s.entries))
	for _, t := range s.entries {
		info := TaskInfo{
			ID:          t.cfg.ID,
			Name:        t.cfg.Name,
			Description: t.cfg.Description,
			Cron:        t.cfg.Cron,
			LastRun:     t.lastRun,
			LastError:   t.lastErr,
			Running:     t.running,
		}
		if next, err := t.job.NextRun(); err == nil {
			info.NextRun = &next
		}
		out = append(out, info)
	}
	return out
}
