// Package models defines the core data model for splicecast: stream
// sessions, output targets, and SCTE-35 cue events.
package models

import "fmt"

// OutputFormat identifies one of the supported wire formats.
type OutputFormat string

// Supported output formats.
const (
	FormatHLS  OutputFormat = "hls"
	FormatDASH OutputFormat = "dash"
	FormatSRT  OutputFormat = "srt"
	FormatRTMP OutputFormat = "rtmp"
	FormatRTSP OutputFormat = "rtsp"
)

// AllFormats lists every supported output format.
var AllFormats = []OutputFormat{FormatHLS, FormatDASH, FormatSRT, FormatRTMP, FormatRTSP}

// ParseOutputFormat converts a string into an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case FormatHLS, FormatDASH, FormatSRT, FormatRTMP, FormatRTSP:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Valid reports whether the format is one of the supported formats.
func (f OutputFormat) Valid() bool {
	_, err := ParseOutputFormat(string(f))
	return err == nil
}

func (f OutputFormat) String() string {
	return string(f)
}
