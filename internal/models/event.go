package models

import (
	"time"
)

// EventType identifies the kind of SCTE-35 splice event.
type EventType string

const (
	// EventCueOut marks the start of an ad break (out of network).
	EventCueOut EventType = "CUE-OUT"
	// EventCueIn marks the return to program content.
	EventCueIn EventType = "CUE-IN"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return t == EventCueOut || t == EventCueIn
}

// SCTE35Event is a single splice event issued against a session and fanned
// out to every running output target.
type SCTE35Event struct {
	// EventID is unique and monotonically increasing within a session.
	EventID uint32    `json:"eventId"`
	Type    EventType `json:"type"`
	// Duration is the planned ad break length in seconds. Required and
	// positive for CUE-OUT, ignored for CUE-IN.
	Duration float64 `json:"duration,omitempty"`
	// PreRoll is the advance notice in seconds before the splice point.
	PreRoll float64 `json:"preRoll,omitempty"`
	// IssuedAt is when the orchestrator accepted the event.
	IssuedAt time.Time `json:"issuedAt"`
	// Auto marks events the orchestrator scheduled itself (auto CUE-IN,
	// recurring schedule entries).
	Auto bool `json:"auto,omitempty"`
	// AppliedTo lists the ids of the output targets that confirmed marker
	// insertion.
	AppliedTo []string `json:"appliedTo"`
}

// Validate checks event fields before the event is accepted.
func (e *SCTE35Event) Validate() error {
	if !e.Type.Valid() {
		return ErrValidation{Field: "type", Message: "type must be CUE-OUT or CUE-IN"}
	}
	if e.Type == EventCueOut && e.Duration <= 0 {
		return ErrValidation{Field: "duration", Message: "CUE-OUT requires a positive duration"}
	}
	if e.Duration < 0 {
		return ErrValidation{Field: "duration", Message: "duration must not be negative"}
	}
	if e.Duration > 3600 {
		return ErrValidation{Field: "duration", Message: "duration must not exceed 3600 seconds"}
	}
	if e.PreRoll < 0 {
		return ErrValidation{Field: "preRoll", Message: "preRoll must not be negative"}
	}
	if e.PreRoll > 60 {
		return ErrValidation{Field: "preRoll", Message: "preRoll must not exceed 60 seconds"}
	}
	return nil
}

// SpliceAt returns the intended splice point: issue time plus pre-roll.
func (e *SCTE35Event) SpliceAt() time.Time {
	return e.IssuedAt.Add(time.Duration(e.PreRoll * float64(time.Second)))
}

// AutoReturnAt returns when the matching auto CUE-IN should fire, valid only
// for CUE-OUT events with a duration.
func (e *SCTE35Event) AutoReturnAt() time.Time {
	return e.SpliceAt().Add(time.Duration(e.Duration * float64(time.Second)))
}

// MarkApplied records that the target confirmed the marker, keeping the
// list free of duplicates.
func (e *SCTE35Event) MarkApplied(targetID string) {
	for _, id := range e.AppliedTo {
		if id == targetID {
			return
		}
	}
	e.AppliedTo = append(e.AppliedTo, targetID)
}
