package models

import "time"

// TargetStatus is the lifecycle state of one output target.
type TargetStatus string

const (
	TargetStarting TargetStatus = "STARTING"
	TargetRunning  TargetStatus = "RUNNING"
	TargetFailed   TargetStatus = "FAILED"
	TargetStopped  TargetStatus = "STOPPED"
)

// OutputTarget is one format-specific output of a session. The encoder
// process handle lives in the supervisor; the target only carries state
// that is useful to report.
type OutputTarget struct {
	// ID is a ULID assigned when the target is created.
	ID     string       `json:"id"`
	Format OutputFormat `json:"format"`
	Status TargetStatus `json:"status"`
	// URL is where consumers reach this output (playlist path or socket URL).
	URL string `json:"url"`
	// Port is the listening port for socket formats, 0 for file formats.
	Port int `json:"port,omitempty"`
	// Error holds the last failure reason when Status is FAILED.
	Error string `json:"error,omitempty"`
	// Restarts counts encoder restarts performed for this target.
	Restarts  int       `json:"restarts"`
	StartedAt time.Time `json:"startedAt,omitempty"`
	StoppedAt time.Time `json:"stoppedAt,omitempty"`
}

// Active reports whether the target can still accept cue injections.
func (t *OutputTarget) Active() bool {
	return t.Status == TargetRunning
}
