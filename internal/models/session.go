package models

import "time"

// SessionState is the lifecycle state of a stream session.
type SessionState string

const (
	SessionIdle     SessionState = "IDLE"
	SessionStarting SessionState = "STARTING"
	SessionRunning  SessionState = "RUNNING"
	SessionStopping SessionState = "STOPPING"
	SessionStopped  SessionState = "STOPPED"
	SessionError    SessionState = "ERROR"
)

// Terminal reports whether the state admits no further transitions except
// removal.
func (s SessionState) Terminal() bool {
	return s == SessionStopped || s == SessionError
}

// CanInject reports whether cue injection is allowed in this state.
func (s SessionState) CanInject() bool {
	return s == SessionRunning
}

// StreamSession is one logical stream fanned out to up to five output
// formats. The name is the caller-chosen unique identifier.
type StreamSession struct {
	Name      string       `json:"name"`
	SourceURL string       `json:"sourceUrl"`
	State     SessionState `json:"state"`
	// StreamKey authenticates webhook callbacks for this session.
	StreamKey string `json:"streamKey,omitempty"`

	Video   VideoSettings  `json:"videoSettings"`
	Audio   AudioSettings  `json:"audioSettings"`
	SCTE35  SCTE35Settings `json:"scte35Settings"`
	Outputs OutputSettings `json:"outputSettings"`

	Targets []*OutputTarget `json:"outputs"`
	Events  []*SCTE35Event  `json:"events"`

	// LastEventID is the highest event id issued so far; ids are assigned
	// monotonically per session.
	LastEventID uint32 `json:"lastEventId"`

	// IngestActive mirrors the upstream publisher's webhook notifications.
	IngestActive bool `json:"ingestActive"`
	// Viewers counts play notifications minus play-done notifications.
	Viewers int `json:"viewers"`

	CreatedAt time.Time `json:"createdAt"`
	StartedAt time.Time `json:"startedAt,omitempty"`
	StoppedAt time.Time `json:"stoppedAt,omitempty"`

	// Error holds the reason the session entered the ERROR state.
	Error string `json:"error,omitempty"`
}

// Target returns the output target for the given format, or nil.
func (s *StreamSession) Target(format OutputFormat) *OutputTarget {
	for _, t := range s.Targets {
		if t.Format == format {
			return t
		}
	}
	return nil
}

// ActiveTargets returns the targets currently able to accept injections.
func (s *StreamSession) ActiveTargets() []*OutputTarget {
	var active []*OutputTarget
	for _, t := range s.Targets {
		if t.Active() {
			active = append(active, t)
		}
	}
	return active
}

// NextEventID allocates the next monotonically increasing event id.
func (s *StreamSession) NextEventID() uint32 {
	s.LastEventID++
	return s.LastEventID
}

// InAdBreak reports whether the most recent event is an unreturned CUE-OUT.
func (s *StreamSession) InAdBreak() bool {
	if len(s.Events) == 0 {
		return false
	}
	return s.Events[len(s.Events)-1].Type == EventCueOut
}
