// Package supervisor spawns and babysits the ffmpeg encoder processes that
// feed each output target: restart with backoff on failure, graceful stop,
// health checks and resource stats.
package supervisor

import (
	"strconv"
	"strings"
)

// CommandBuilder builds ffmpeg argument lists with a fluent API.
type CommandBuilder struct {
	binary     string
	globalArgs []string
	inputArgs  []string
	input      string
	outputArgs []string
	output     string
	logLevel   string
}

// NewCommandBuilder creates a builder for the given ffmpeg binary.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel sets the ffmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner hides the ffmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// Overwrite enables output overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-y")
	return b
}

// Input sets the input source.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// Reconnect enables automatic reconnection for network inputs.
func (b *CommandBuilder) Reconnect() *CommandBuilder {
	b.inputArgs = append(b.inputArgs,
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5")
	return b
}

// InputArgs adds arbitrary input arguments.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// VideoCodec sets the video codec.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

// VideoBitrate sets the video bitrate.
func (b *CommandBuilder) VideoBitrate(bitrate string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:v", bitrate)
	return b
}

// VideoPreset sets the encoder preset.
func (b *CommandBuilder) VideoPreset(preset string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-preset", preset)
	return b
}

// Scale sets the output resolution.
func (b *CommandBuilder) Scale(width, height int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-vf", "scale="+strconv.Itoa(width)+":"+strconv.Itoa(height))
	return b
}

// FPS sets the output frame rate.
func (b *CommandBuilder) FPS(fps int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-r", strconv.Itoa(fps))
	return b
}

// AudioCodec sets the audio codec.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", codec)
	return b
}

// AudioBitrate sets the audio bitrate.
func (b *CommandBuilder) AudioBitrate(bitrate string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:a", bitrate)
	return b
}

// AudioChannels sets the number of audio channels.
func (b *CommandBuilder) AudioChannels(channels int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-ac", strconv.Itoa(channels))
	return b
}

// AudioSampleRate sets the audio sample rate.
func (b *CommandBuilder) AudioSampleRate(rate int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-ar", strconv.Itoa(rate))
	return b
}

// HLSArgs adds HLS muxer arguments.
func (b *CommandBuilder) HLSArgs(segmentSeconds, playlistSize int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs,
		"-f", "hls",
		"-hls_time", strconv.Itoa(segmentSeconds),
		"-hls_list_size", strconv.Itoa(playlistSize),
		"-hls_flags", "delete_segments+independent_segments")
	return b
}

// DASHArgs adds DASH muxer arguments.
func (b *CommandBuilder) DASHArgs(segmentSeconds, windowSize int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs,
		"-f", "dash",
		"-seg_duration", strconv.Itoa(segmentSeconds),
		"-window_size", strconv.Itoa(windowSize),
		"-remove_at_exit", "1",
		"-streaming", "1")
	return b
}

// MpegtsArgs adds MPEG-TS muxer arguments, preserving source timestamps so
// injected cue packets line up with the media clock.
func (b *CommandBuilder) MpegtsArgs() *CommandBuilder {
	b.outputArgs = append(b.outputArgs,
		"-f", "mpegts",
		"-mpegts_copyts", "1",
		"-avoid_negative_ts", "disabled",
		"-muxdelay", "0")
	return b
}

// FLVArgs adds FLV muxer arguments for RTMP output.
func (b *CommandBuilder) FLVArgs() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-f", "flv", "-flvflags", "no_duration_filesize")
	return b
}

// RTSPArgs adds RTSP muxer arguments.
func (b *CommandBuilder) RTSPArgs() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-f", "rtsp", "-rtsp_transport", "tcp")
	return b
}

// FlushPackets enables immediate packet flushing for low latency.
func (b *CommandBuilder) FlushPackets() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-flush_packets", "1")
	return b
}

// OutputArgs adds arbitrary output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the output destination.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Args assembles the final argument list.
func (b *CommandBuilder) Args() []string {
	args := []string{"-loglevel", b.logLevel}
	args = append(args, b.globalArgs...)
	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)
	args = append(args, b.outputArgs...)
	return append(args, b.output)
}

// Binary returns the configured ffmpeg binary path.
func (b *CommandBuilder) Binary() string {
	return b.binary
}

// String renders the full command line for logging.
func (b *CommandBuilder) String() string {
	return b.binary + " " + strings.Join(b.Args(), " ")
}
