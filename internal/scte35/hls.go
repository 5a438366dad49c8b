package scte35

import (
	"fmt"
	"strconv"
	"strings"
)

// HLS cue tags as served in media playlists.
const (
	HLSCueOutPrefix = "#EXT-X-CUE-OUT:"
	HLSCueInTag     = "#EXT-X-CUE-IN"
)

// HLSCueOut renders the CUE-OUT tag for an ad break of the given duration.
func HLSCueOut(durationSeconds float64) string {
	return fmt.Sprintf("%s%.3f", HLSCueOutPrefix, durationSeconds)
}

// HLSCueIn renders the CUE-IN tag.
func HLSCueIn() string {
	return HLSCueInTag
}

// HLSCue is a cue tag found in a media playlist.
type HLSCue struct {
	Out bool
	// Duration is the break length in seconds; only set for CUE-OUT.
	Duration float64
	// Line is the zero-based playlist line the tag was found on.
	Line int
}

// ParseHLSCues scans raw media playlist text for cue tags. We scan the text
// rather than a parsed playlist because cue tags are session data the
// playlist grammar treats as unknown lines.
func ParseHLSCues(text string) []HLSCue {
	var cues []HLSCue
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, HLSCueOutPrefix):
			dur, err := strconv.ParseFloat(strings.TrimPrefix(line, HLSCueOutPrefix), 64)
			if err != nil {
				continue
			}
			cues = append(cues, HLSCue{Out: true, Duration: dur, Line: i})
		case line == HLSCueInTag:
			cues = append(cues, HLSCue{Line: i})
		}
	}
	return cues
}
