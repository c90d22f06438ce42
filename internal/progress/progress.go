// Package progress broadcasts the state of long-running operations (batch
// uploads, batch file operations, index rebuilds) to connected WebSocket
// clients, keyed by an activity ID the UI can follow.
package progress

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ActivityType identifies the type of activity being tracked.
type ActivityType string

const (
	ActivityUpload  ActivityType = "upload"
	ActivityBatch   ActivityType = "batch"
	ActivityArchive ActivityType = "archive"
	ActivityReindex ActivityType = "reindex"
)

// Status represents the current state of an activity.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Activity is one trackable operation.
type Activity struct {
	ID          string                 `json:"id"`
	Type        ActivityType           `json:"type"`
	Title       string                 `json:"title"`
	Subtitle    string                 `json:"subtitle"`
	Progress    int                    `json:"progress"` // 0-100, -1 for indeterminate
	Status      Status                 `json:"status"`
	StartedAt   time.Time              `json:"startedAt"`
	CompletedAt *time.Time             `json:"completedAt,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// EventType identifies the type of progress event on the wire.
type EventType string

const (
	EventStarted   EventType = "progress:started"
	EventUpdate    EventType = "progress:update"
	EventCompleted EventType = "progress:completed"
	EventError     EventType = "progress:error"
)

// Broadcaster delivers progress events; the WebSocket hub implements it.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{}) error
}

// Manager tracks in-flight activities in memory. Completed ones linger
// briefly for late subscribers, then drop.
type Manager struct {
	hub        Broadcaster
	activities map[string]*Activity
	mu         sync.RWMutex
	logger     zerolog.Logger
}

// NewManager creates a progress manager.
func NewManager(hub Broadcaster, logger zerolog.Logger) *Manager {
	return &Manager{
		hub:        hub,
		activities: make(map[string]*Activity),
		logger:     logger.With().Str("component", "progress").Logger(),
	}
}

// Start begins tracking a new activity.
func (m *Manager) Start(id string, activityType ActivityType, title string) *Activity {
	m.mu.Lock()
	defer m.mu.Unlock()

	activity := &Activity{
		ID:        id,
		Type:      activityType,
		Title:     title,
		Progress:  -1,
		Status:    StatusInProgress,
		StartedAt: time.Now().UTC(),
		Metadata:  make(map[string]interface{}),
	}
	m.activities[id] = activity
	m.broadcast(EventStarted, activity)

	m.logger.Debug().Str("id", id).Str("type", string(activityType)).Msg("activity started")
	return activity
}

// Update reports new progress for an activity.
func (m *Manager) Update(id, subtitle string, progress int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	activity, ok := m.activities[id]
	if !ok {
		return
	}
	activity.Subtitle = subtitle
	activity.Progress = progress
	m.broadcast(EventUpdate, activity)
}

// Complete marks an activity done.
func (m *Manager) Complete(id, subtitle string) {
	m.finish(id, subtitle, StatusCompleted, EventCompleted, 100)
}

// Fail marks an activity failed.
func (m *Manager) Fail(id, subtitle string) {
	m.finish(id, subtitle, StatusFailed, EventError, -1)
}

// Active returns a snapshot of the in-flight activities.
func (m *Manager) Active() []*Activity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Activity, 0, len(m.activities))
	for _, a := range m.activities {
		copied := *a
		out = append(out, &copied)
	}
	return out
}

func (m *Manager) finish(id, subtitle string, status Status, event EventType, progress int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	activity, ok := m.activities[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	activity.Status = status
	activity.Subtitle = subtitle
	activity.CompletedAt = &now
	if progress >= 0 {
		activity.Progress = progress
	}
	m.broadcast(event, activity)

	// Keep the terminal state visible briefly for late subscribers.
	go func() {
		time.Sleep(5 * time.Second)
		m.mu.Lock()
		delete(m.activities, id)
		m.mu.Unlock()
	}()
}

func (m *Manager) broadcast(event EventType, activity *Activity) {
	if m.hub == nil {
		return
	}
	if err := m.hub.Broadcast(string(event), activity); err != nil {
		m.logger.Debug().Err(err).Str("id", activity.ID).Msg("progress broadcast failed")
	}
}
