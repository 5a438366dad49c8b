package scte35

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
)

// DASHSchemeID is the scheme identifying SCTE-35 binary events in a DASH
// EventStream.
const DASHSchemeID = "urn:scte:scte35:2014:xml+bin"

// DASHEventStream is the MPD EventStream element carrying splice events.
type DASHEventStream struct {
	XMLName     xml.Name    `xml:"EventStream"`
	SchemeIDURI string      `xml:"schemeIdUri,attr"`
	Timescale   uint64      `xml:"timescale,attr"`
	Events      []DASHEvent `xml:"Event"`
}

// DASHEvent is one Event element with the base64 splice_info_section.
type DASHEvent struct {
	ID               uint32 `xml:"id,attr"`
	PresentationTime uint64 `xml:"presentationTime,attr"`
	Duration         uint64 `xml:"duration,attr,omitempty"`
	Binary           string `xml:"Signal>Binary"`
}

// NewDASHEventStream builds an EventStream on the 90 kHz timescale.
func NewDASHEventStream() *DASHEventStream {
	return &DASHEventStream{
		SchemeIDURI: DASHSchemeID,
		Timescale:   TicksPerSecond,
	}
}

// AddSection encodes the section and appends it as an Event at the given
// presentation time in 90 kHz ticks.
func (s *DASHEventStream) AddSection(section *SpliceInfoSection, presentationTime uint64) error {
	raw, err := section.Encode()
	if err != nil {
		return err
	}
	ev := DASHEvent{
		ID:               section.EventID(),
		PresentationTime: presentationTime,
		Binary:           base64.StdEncoding.EncodeToString(raw),
	}
	if ins, ok := section.Command.(*SpliceInsert); ok && ins.BreakDuration != nil {
		ev.Duration = ins.BreakDuration.Duration
	}
	s.Events = append(s.Events, ev)
	return nil
}

// Marshal renders the EventStream element as indented XML.
func (s *DASHEventStream) Marshal() ([]byte, error) {
	return xml.MarshalIndent(s, "", "  ")
}

// ParseDASHEventStream decodes an EventStream element and returns the splice
// sections it carries, in document order.
func ParseDASHEventStream(data []byte) (*DASHEventStream, []*SpliceInfoSection, error) {
	var stream DASHEventStream
	if err := xml.Unmarshal(data, &stream); err != nil {
		return nil, nil, fmt.Errorf("parsing event stream: %w", err)
	}
	var sections []*SpliceInfoSection
	for _, ev := range stream.Events {
		raw, err := base64.StdEncoding.DecodeString(ev.Binary)
		if err != nil {
			return nil, nil, fmt.Errorf("decoding event %d: %w", ev.ID, err)
		}
		section, err := Decode(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("decoding event %d: %w", ev.ID, err)
		}
		sections = append(sections, section)
	}
	return &stream, sections, nil
}
