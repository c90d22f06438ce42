package websocket

import "time"

// ChangeType classifies a completed file-system mutation.
type ChangeType string

const (
	ChangeUploaded ChangeType = "uploaded"
	ChangeDeleted  ChangeType = "deleted"
	ChangeMoved    ChangeType = "moved"
	ChangeRenamed  ChangeType = "renamed"
	ChangeCopied   ChangeType = "copied"
	ChangeMkdir    ChangeType = "mkdir"
	// ChangeExternal covers mutations observed by the filesystem watcher
	// rather than caused through the API.
	ChangeExternal ChangeType = "external"
)

// ChangeEvent is pushed to every viewer of the affected directory (and its
// ancestors) after a mutation completes. It is ephemeral: delivered or
// dropped, never persisted.
type ChangeEvent struct {
	Type      ChangeType `json:"type"`
	Path      string     `json:"path"`  // directory the change happened in
	Actor     string     `json:"actor"` // who caused it, "" for external
	Names     []string   `json:"names"` // affected entry names
	Timestamp time.Time  `json:"timestamp"`
}

// NewChangeEvent stamps a ChangeEvent with the current time.
func NewChangeEvent(t ChangeType, dir, actor string, names ...string) ChangeEvent {
	return ChangeEvent{
		Type:      t,
		Path:      dir,
		Actor:     actor,
		Names:     names,
		Timestamp: time.Now().UTC(),
	}
}
