// Package adapter contains the per-format output adapters. Each adapter
// starts a supervised encoder for its format, knows how to place SCTE-35
// markers into that format's container or manifest, and tears the output
// down on stop.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/splicecast/splicecast/internal/models"
	"github.com/splicecast/splicecast/internal/supervisor"
)

// Adapter is one format-specific output driver. Implementations are safe
// for concurrent use; injections for a single target are applied in FIFO
// order.
type Adapter interface {
	Format() models.OutputFormat

	// Start brings the output up and fills in the target's URL and
	// runtime fields. It blocks until the output is healthy or fails.
	Start(ctx context.Context, session *models.StreamSession, target *models.OutputTarget) error

	// InjectEvent places the event's marker into the output. A false
	// return or error means the marker was not applied; the stream
	// itself keeps running.
	InjectEvent(ctx context.Context, targetID string, event *models.SCTE35Event) error

	// Stop tears the output down. Stopping an unknown target is a no-op.
	Stop(ctx context.Context, targetID string) error
}

// Deps carries the collaborators shared by all adapters.
type Deps struct {
	Supervisor *supervisor.Supervisor
	Ports      *PortRegistry
	StorageDir string
	FFmpegPath string
	Logger     *slog.Logger

	// OnTargetExit is invoked when a target's encoder dies for good (nil
	// err means a requested stop).
	OnTargetExit func(targetID string, err error)

	// OnRestart is invoked after each encoder restart.
	OnRestart func(format models.OutputFormat)
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Deps) ffmpeg() string {
	if d.FFmpegPath != "" {
		return d.FFmpegPath
	}
	return "ffmpeg"
}

// Registry holds one adapter per output format.
type Registry struct {
	adapters map[models.OutputFormat]Adapter
}

// NewRegistry builds the full adapter set.
func NewRegistry(deps Deps) *Registry {
	if deps.Ports == nil {
		deps.Ports = NewPortRegistry()
	}
	return &Registry{
		adapters: map[models.OutputFormat]Adapter{
			models.FormatHLS:  NewHLSAdapter(deps),
			models.FormatDASH: NewDASHAdapter(deps),
			models.FormatSRT:  NewSRTAdapter(deps),
			models.FormatRTMP: NewRTMPAdapter(deps),
			models.FormatRTSP: NewRTSPAdapter(deps),
		},
	}
}

// Get returns the adapter for the format.
func (r *Registry) Get(format models.OutputFormat) (Adapter, error) {
	a, ok := r.adapters[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownFormat, format)
	}
	return a, nil
}

// targetState tracks one running target inside an adapter.
type targetState struct {
	session string
	handle  *supervisor.Handle
	queue   *serialQueue
	port    int
	// format-specific extras
	playlistPath string
	manifestPath string
	sidecarPath  string
	startedAt    time.Time
	cc           uint8 // TS continuity counter for the cue PID
	pid          int   // SCTE-35 PID for TS outputs
	extra        any
}

// targetMap is the shared bookkeeping embedded in every adapter.
type targetMap struct {
	mu      sync.RWMutex
	targets map[string]*targetState
}

func newTargetMap() targetMap {
	return targetMap{targets: make(map[string]*targetState)}
}

func (m *targetMap) put(id string, st *targetState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[id] = st
}

func (m *targetMap) get(id string) (*targetState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.targets[id]
	return st, ok
}

func (m *targetMap) remove(id string) (*targetState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.targets[id]
	delete(m.targets, id)
	return st, ok
}

// outputDir creates and returns the storage directory for a target,
// <storage>/<format>/<session>.
func outputDir(storageDir, sessionName string, format models.OutputFormat) (string, error) {
	dir := filepath.Join(storageDir, string(format), sessionName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}
	return dir, nil
}

// baseCommand builds the shared part of every encoder command: input and
// encode settings.
func baseCommand(ffmpegPath string, session *models.StreamSession) *supervisor.CommandBuilder {
	b := supervisor.NewCommandBuilder(ffmpegPath).
		HideBanner().
		Overwrite().
		Reconnect().
		Input(session.SourceURL).
		VideoCodec(session.Video.Codec).
		VideoBitrate(session.Video.Bitrate)
	if session.Video.Preset != "" {
		b.VideoPreset(session.Video.Preset)
	}
	if session.Video.Width > 0 && session.Video.Height > 0 {
		b.Scale(session.Video.Width, session.Video.Height)
	}
	if session.Video.FPS > 0 {
		b.FPS(session.Video.FPS)
	}
	b.AudioCodec(session.Audio.Codec).
		AudioBitrate(session.Audio.Bitrate)
	if session.Audio.Channels > 0 {
		b.AudioChannels(session.Audio.Channels)
	}
	if session.Audio.SampleRate > 0 {
		b.AudioSampleRate(session.Audio.SampleRate)
	}
	return b
}

// stopTarget is the common stop path: halt the encoder, release the port,
// drain the queue.
func stopTarget(ctx context.Context, deps *Deps, m *targetMap, targetID string) error {
	st, ok := m.remove(targetID)
	if !ok {
		return nil
	}
	if st.queue != nil {
		st.queue.Close()
	}
	if st.port != 0 {
		deps.Ports.Release(st.port)
	}
	if st.handle != nil {
		return st.handle.Stop(ctx)
	}
	return nil
}
