package health

import "time"

// Status is the health state of one check or of the whole server.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// worse returns the more severe of two statuses.
func worse(a, b Status) Status {
	rank := map[Status]int{StatusOK: 0, StatusWarning: 1, StatusError: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Check is the result of a single health probe.
type Check struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Report aggregates all checks. Status is the worst individual status.
type Report struct {
	Status    Status    `json:"status"`
	Checks    []Check   `json:"checks"`
	Timestamp time.Time `json:"timestamp"`
}
