package models

import "fmt"

// VideoSettings describes the video encode applied to every output target.
type VideoSettings struct {
	Codec   string `json:"codec"`
	Bitrate string `json:"bitrate"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	FPS     int    `json:"fps,omitempty"`
	Preset  string `json:"preset,omitempty"`
}

// Validate checks video settings, applying defaults where fields are empty.
func (v *VideoSettings) Validate() error {
	if v.Codec == "" {
		v.Codec = "libx264"
	}
	if v.Bitrate == "" {
		v.Bitrate = "3000k"
	}
	if v.Width < 0 || v.Height < 0 {
		return ErrValidation{Field: "videoSettings", Message: "width and height must not be negative"}
	}
	if v.FPS < 0 {
		return ErrValidation{Field: "videoSettings.fps", Message: "fps must not be negative"}
	}
	return nil
}

// AudioSettings describes the audio encode applied to every output target.
type AudioSettings struct {
	Codec      string `json:"codec"`
	Bitrate    string `json:"bitrate"`
	Channels   int    `json:"channels,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
}

// Validate checks audio settings, applying defaults where fields are empty.
func (a *AudioSettings) Validate() error {
	if a.Codec == "" {
		a.Codec = "aac"
	}
	if a.Bitrate == "" {
		a.Bitrate = "128k"
	}
	if a.Channels < 0 || a.Channels > 8 {
		return ErrValidation{Field: "audioSettings.channels", Message: "channels must be between 0 and 8"}
	}
	return nil
}

// SCTE35Settings configures ad-cue signaling for a session.
type SCTE35Settings struct {
	Enabled bool `json:"enabled"`
	// PID carries the splice information sections in MPEG-TS outputs.
	PID int `json:"pid"`
	// NullPID is the stuffing PID used for bitrate smoothing (always 8191).
	NullPID int `json:"nullPid"`
	// AutoInsert schedules a matching CUE-IN for every CUE-OUT with a duration.
	AutoInsert bool `json:"autoInsert"`
}

// Validate checks SCTE-35 settings, applying defaults where fields are zero.
func (s *SCTE35Settings) Validate() error {
	if s.PID == 0 {
		s.PID = 500
	}
	if s.NullPID == 0 {
		s.NullPID = 8191
	}
	if s.PID < 16 || s.PID > 8190 {
		return ErrValidation{Field: "scte35Settings.pid", Message: "pid must be between 16 and 8190"}
	}
	if s.NullPID != 8191 {
		return ErrValidation{Field: "scte35Settings.nullPid", Message: "null pid must be 8191"}
	}
	return nil
}

// HLSSettings are the HLS output target settings.
type HLSSettings struct {
	// SegmentDuration is the target segment length in seconds.
	SegmentDuration int `json:"segmentDuration"`
	// PlaylistLength is the number of segments kept in the live playlist.
	PlaylistLength int `json:"playlistLength"`
}

// Validate checks HLS settings, applying defaults where fields are zero.
func (s *HLSSettings) Validate() error {
	if s.SegmentDuration == 0 {
		s.SegmentDuration = 4
	}
	if s.PlaylistLength == 0 {
		s.PlaylistLength = 6
	}
	if s.SegmentDuration < 1 || s.SegmentDuration > 30 {
		return ErrValidation{Field: "hls.segmentDuration", Message: "segment duration must be 1-30 seconds"}
	}
	if s.PlaylistLength < 3 || s.PlaylistLength > 60 {
		return ErrValidation{Field: "hls.playlistLength", Message: "playlist length must be 3-60 segments"}
	}
	return nil
}

// DASHSettings are the DASH output target settings.
type DASHSettings struct {
	SegmentDuration int `json:"segmentDuration"`
	// WindowSize is the number of segments kept in the live manifest.
	WindowSize int `json:"windowSize"`
}

// Validate checks DASH settings, applying defaults where fields are zero.
func (s *DASHSettings) Validate() error {
	if s.SegmentDuration == 0 {
		s.SegmentDuration = 4
	}
	if s.WindowSize == 0 {
		s.WindowSize = 6
	}
	if s.SegmentDuration < 1 || s.SegmentDuration > 30 {
		return ErrValidation{Field: "dash.segmentDuration", Message: "segment duration must be 1-30 seconds"}
	}
	if s.WindowSize < 3 || s.WindowSize > 60 {
		return ErrValidation{Field: "dash.windowSize", Message: "window size must be 3-60 segments"}
	}
	return nil
}

// SRTSettings are the SRT output target settings.
type SRTSettings struct {
	Port       int    `json:"port"`
	LatencyMs  int    `json:"latencyMs"`
	Passphrase string `json:"passphrase,omitempty"`
}

// Validate checks SRT settings, applying defaults where fields are zero.
func (s *SRTSettings) Validate() error {
	if s.LatencyMs == 0 {
		s.LatencyMs = 120
	}
	if err := validatePort("srt.port", s.Port); err != nil {
		return err
	}
	if s.LatencyMs < 20 || s.LatencyMs > 8000 {
		return ErrValidation{Field: "srt.latencyMs", Message: "latency must be 20-8000 ms"}
	}
	if s.Passphrase != "" && len(s.Passphrase) < 10 {
		return ErrValidation{Field: "srt.passphrase", Message: "passphrase must be at least 10 characters"}
	}
	return nil
}

// RTMPSettings are the RTMP output target settings.
type RTMPSettings struct {
	Port      int `json:"port"`
	ChunkSize int `json:"chunkSize"`
}

// Validate checks RTMP settings, applying defaults where fields are zero.
func (s *RTMPSettings) Validate() error {
	if s.ChunkSize == 0 {
		s.ChunkSize = 4096
	}
	if err := validatePort("rtmp.port", s.Port); err != nil {
		return err
	}
	if s.ChunkSize < 128 || s.ChunkSize > 65536 {
		return ErrValidation{Field: "rtmp.chunkSize", Message: "chunk size must be 128-65536 bytes"}
	}
	return nil
}

// RTSPSettings are the RTSP output target settings.
type RTSPSettings struct {
	Port int `json:"port"`
	// RTPPort is the base UDP port for RTP media; the cue side channel uses it too.
	RTPPort int `json:"rtpPort"`
}

// Validate checks RTSP settings, applying defaults where fields are zero.
func (s *RTSPSettings) Validate() error {
	if err := validatePort("rtsp.port", s.Port); err != nil {
		return err
	}
	if s.RTPPort == 0 {
		s.RTPPort = s.Port + 1
	}
	if err := validatePort("rtsp.rtpPort", s.RTPPort); err != nil {
		return err
	}
	return nil
}

// OutputSettings is a tagged union of per-format settings, keyed by format.
// Exactly the variants for the session's enabled formats must be present;
// missing variants fall back to defaults at Start validation.
type OutputSettings struct {
	HLS  *HLSSettings  `json:"hls,omitempty"`
	DASH *DASHSettings `json:"dash,omitempty"`
	SRT  *SRTSettings  `json:"srt,omitempty"`
	RTMP *RTMPSettings `json:"rtmp,omitempty"`
	RTSP *RTSPSettings `json:"rtsp,omitempty"`
}

// ValidateFor validates (and defaults) the settings variant for the given
// format, materializing the variant if absent. File-based formats have no
// required fields, so an absent variant is legal everywhere except the
// socket formats which need a port.
func (o *OutputSettings) ValidateFor(format OutputFormat) error {
	switch format {
	case FormatHLS:
		if o.HLS == nil {
			o.HLS = &HLSSettings{}
		}
		return o.HLS.Validate()
	case FormatDASH:
		if o.DASH == nil {
			o.DASH = &DASHSettings{}
		}
		return o.DASH.Validate()
	case FormatSRT:
		if o.SRT == nil {
			return ErrValidation{Field: "srt", Message: "srt settings with a port are required"}
		}
		return o.SRT.Validate()
	case FormatRTMP:
		if o.RTMP == nil {
			return ErrValidation{Field: "rtmp", Message: "rtmp settings with a port are required"}
		}
		return o.RTMP.Validate()
	case FormatRTSP:
		if o.RTSP == nil {
			return ErrValidation{Field: "rtsp", Message: "rtsp settings with a port are required"}
		}
		return o.RTSP.Validate()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Port returns the listening port for socket formats, or 0 for file formats.
func (o *OutputSettings) Port(format OutputFormat) int {
	switch format {
	case FormatSRT:
		if o.SRT != nil {
			return o.SRT.Port
		}
	case FormatRTMP:
		if o.RTMP != nil {
			return o.RTMP.Port
		}
	case FormatRTSP:
		if o.RTSP != nil {
			return o.RTSP.Port
		}
	}
	return 0
}

func validatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return ErrValidation{Field: field, Message: "port must be between 1 and 65535"}
	}
	return nil
}
