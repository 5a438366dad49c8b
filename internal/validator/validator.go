// Package validator checks that the ad-cue markers present on an input
// transport stream survived into an output. It is a diagnostic tool: it
// scans both sides offline and reports the preservation rate.
package validator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/asticode/go-astits"

	"github.com/splicecast/splicecast/internal/models"
	"github.com/splicecast/splicecast/internal/scte35"
)

// driftTolerance is the largest timestamp difference, in seconds, under
// which two cues without matching event ids are considered the same splice.
const driftTolerance = 1.0

// Cue is one splice marker found while scanning.
type Cue struct {
	EventID  uint32           `json:"eventId"`
	Type     models.EventType `json:"type"`
	Duration float64          `json:"duration,omitempty"`
	// PTS is the splice time in seconds, where the scan could recover one.
	PTS    float64 `json:"pts,omitempty"`
	HasPTS bool    `json:"hasPts"`
}

// Detail reports the fate of one input cue.
type Detail struct {
	Input Cue `json:"input"`
	// Preserved is true when a matching cue was found in the output.
	Preserved bool `json:"preserved"`
	// MatchedByID is true when the match used the event id rather than
	// the timestamp fallback.
	MatchedByID bool `json:"matchedById,omitempty"`
	// DriftSeconds is the splice-time drift for timestamp matches.
	DriftSeconds float64 `json:"driftSeconds,omitempty"`
}

// Result is the outcome of a validation run.
type Result struct {
	InputCues  int `json:"inputCues"`
	OutputCues int `json:"outputCues"`
	Preserved  int `json:"preserved"`
	// PreservationRate is the percentage of input cues found in the
	// output, 0..100; 100 for a cueless input.
	PreservationRate float64  `json:"preservationRate"`
	Details          []Detail `json:"details"`
}

// Validate scans the input transport stream and the output artifact and
// reports how many input cues survived. The output kind is inferred from
// the file extension: .m3u8 playlists, .mpd manifests, anything else is
// treated as MPEG-TS.
func Validate(ctx context.Context, inputPath, outputPath string) (*Result, error) {
	inputCues, err := ScanTS(ctx, inputPath)
	if err != nil {
		return nil, fmt.Errorf("scanning input: %w", err)
	}

	outputCues, err := scanOutput(ctx, outputPath)
	if err != nil {
		return nil, fmt.Errorf("scanning output: %w", err)
	}

	return match(inputCues, outputCues), nil
}

func scanOutput(ctx context.Context, path string) ([]Cue, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".m3u8", ".m3u":
		return ScanHLSPlaylist(path)
	case ".mpd":
		return ScanDASHManifest(path)
	default:
		return ScanTS(ctx, path)
	}
}

// ScanTS extracts splice cues from an MPEG-TS file. The PMT announces which
// PID carries splice sections; without a usable PMT every PID is probed for
// sections instead.
func ScanTS(ctx context.Context, path string) ([]Cue, error) {
	splicePIDs, err := findSplicePIDs(ctx, path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dmx := astits.NewDemuxer(ctx, f, astits.DemuxerOptPacketSize(astits.MpegTsPacketSize))
	assemblers := make(map[uint16]*sectionAssembler)
	var cues []Cue
	for {
		pkt, err := dmx.NextPacket()
		if errors.Is(err, astits.ErrNoMorePackets) || errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading packets: %w", err)
		}
		pid := pkt.Header.PID
		if len(splicePIDs) > 0 && !splicePIDs[pid] {
			continue
		}
		if pid == 0 || pkt.Payload == nil {
			continue
		}
		asm := assemblers[pid]
		if asm == nil {
			asm = &sectionAssembler{}
			assemblers[pid] = asm
		}
		for _, raw := range asm.feed(pkt.Payload, pkt.Header.PayloadUnitStartIndicator) {
			section, err := scte35.Decode(raw)
			if err != nil {
				// not a splice section, or a PID we probed blindly
				continue
			}
			cues = append(cues, cueFromSection(section))
		}
	}
	return cues, nil
}

// findSplicePIDs reads program tables and returns the PIDs registered with
// the SCTE-35 stream type.
func findSplicePIDs(ctx context.Context, path string) (map[uint16]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pids := make(map[uint16]bool)
	dmx := astits.NewDemuxer(ctx, f, astits.DemuxerOptPacketSize(astits.MpegTsPacketSize))
	for {
		d, err := dmx.NextData()
		if errors.Is(err, astits.ErrNoMorePackets) || errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// a stream without valid tables still gets the blind probe
			break
		}
		if d.PMT == nil {
			continue
		}
		for _, es := range d.PMT.ElementaryStreams {
			if uint8(es.StreamType) == scte35.StreamType {
				pids[es.ElementaryPID] = true
			}
		}
	}
	return pids, nil
}

// sectionAssembler reassembles PSI sections from packet payloads.
type sectionAssembler struct {
	buf     []byte
	started bool
}

// feed consumes one packet payload and returns any completed sections.
func (a *sectionAssembler) feed(payload []byte, pusi bool) [][]byte {
	if pusi {
		if len(payload) < 1 {
			return nil
		}
		pointer := int(payload[0])
		if 1+pointer > len(payload) {
			return nil
		}
		a.buf = append([]byte(nil), payload[1+pointer:]...)
		a.started = true
	} else {
		if !a.started {
			return nil
		}
		a.buf = append(a.buf, payload...)
	}

	var sections [][]byte
	for len(a.buf) >= 3 {
		if a.buf[0] == 0xFF {
			// stuffing, rest of the buffer is padding
			a.buf = nil
			break
		}
		length := 3 + int(uint16(a.buf[1]&0x0F)<<8|uint16(a.buf[2]))
		if len(a.buf) < length {
			break
		}
		sections = append(sections, a.buf[:length])
		a.buf = a.buf[length:]
	}
	return sections
}

// ScanHLSPlaylist extracts cue tags from a media playlist. HLS tags carry
// no event ids, so matching falls back to type order.
func ScanHLSPlaylist(path string) ([]Cue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cues []Cue
	for _, tag := range scte35.ParseHLSCues(string(data)) {
		cue := Cue{Type: models.EventCueIn}
		if tag.Out {
			cue.Type = models.EventCueOut
			cue.Duration = tag.Duration
		}
		cues = append(cues, cue)
	}
	return cues, nil
}

var eventStreamRe = regexp.MustCompile(`(?s)<EventStream[ >].*?</EventStream>`)

// ScanDASHManifest extracts splice cues from the EventStream element of an
// MPD manifest.
func ScanDASHManifest(path string) ([]Cue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fragment := eventStreamRe.Find(data)
	if fragment == nil {
		return nil, nil
	}
	stream, sections, err := scte35.ParseDASHEventStream(fragment)
	if err != nil {
		return nil, err
	}
	cues := make([]Cue, 0, len(sections))
	for i, section := range sections {
		cue := cueFromSection(section)
		if !cue.HasPTS && stream.Timescale > 0 {
			cue.PTS = float64(stream.Events[i].PresentationTime) / float64(stream.Timescale)
			cue.HasPTS = true
		}
		cues = append(cues, cue)
	}
	return cues, nil
}

func cueFromSection(section *scte35.SpliceInfoSection) Cue {
	cue := Cue{EventID: section.EventID()}
	switch {
	case section.IsCueOut():
		cue.Type = models.EventCueOut
		cue.Duration = section.BreakSeconds()
	default:
		cue.Type = models.EventCueIn
	}
	if ins, ok := section.Command.(*scte35.SpliceInsert); ok {
		if ins.SpliceTime != nil && ins.SpliceTime.TimeSpecified {
			cue.PTS = scte35.TicksToDuration(ins.SpliceTime.PTS)
			cue.HasPTS = true
		}
	}
	return cue
}

// match pairs input cues with output cues. Event ids win; cues without a
// usable id fall back to same-type matching within the drift tolerance, or
// plain type order for formats that carry no timing at all.
func match(input, output []Cue) *Result {
	result := &Result{
		InputCues:  len(input),
		OutputCues: len(output),
	}

	used := make([]bool, len(output))
	for _, in := range input {
		detail := Detail{Input: in}

		if in.EventID != 0 {
			for i, out := range output {
				if used[i] || out.EventID != in.EventID {
					continue
				}
				used[i] = true
				detail.Preserved = true
				detail.MatchedByID = true
				if in.HasPTS && out.HasPTS {
					detail.DriftSeconds = math.Abs(in.PTS - out.PTS)
				}
				break
			}
		}
		if !detail.Preserved {
			for i, out := range output {
				if used[i] || out.Type != in.Type {
					continue
				}
				if in.HasPTS && out.HasPTS {
					drift := math.Abs(in.PTS - out.PTS)
					if drift > driftTolerance {
						continue
					}
					detail.DriftSeconds = drift
				}
				used[i] = true
				detail.Preserved = true
				break
			}
		}

		if detail.Preserved {
			result.Preserved++
		}
		result.Details = append(result.Details, detail)
	}

	if result.InputCues == 0 {
		result.PreservationRate = 100
	} else {
		result.PreservationRate = 100 * float64(result.Preserved) / float64(result.InputCues)
	}
	return result
}
