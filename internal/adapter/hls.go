package adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/splicecast/splicecast/internal/models"
	"github.com/splicecast/splicecast/internal/scte35"
	"github.com/splicecast/splicecast/internal/supervisor"
)

// HLSAdapter encodes to a live HLS playlist and injects cue markers as
// EXT-X-CUE-OUT / EXT-X-CUE-IN tags at segment boundaries.
type HLSAdapter struct {
	deps Deps
	targetMap
}

// NewHLSAdapter creates the HLS adapter.
func NewHLSAdapter(deps Deps) *HLSAdapter {
	return &HLSAdapter{deps: deps, targetMap: newTargetMap()}
}

func (a *HLSAdapter) Format() models.OutputFormat { return models.FormatHLS }

// Start launches the encoder and waits for the first playlist to appear.
func (a *HLSAdapter) Start(ctx context.Context, session *models.StreamSession, target *models.OutputTarget) error {
	hls := session.Outputs.HLS
	if hls == nil {
		hls = &models.HLSSettings{SegmentDuration: 4, PlaylistLength: 6}
	}

	dir, err := outputDir(a.deps.StorageDir, session.Name, models.FormatHLS)
	if err != nil {
		return err
	}
	playlistPath := filepath.Join(dir, session.Name+".m3u8")

	cmd := baseCommand(a.deps.ffmpeg(), session).
		HLSArgs(hls.SegmentDuration, hls.PlaylistLength).
		Output(playlistPath)

	handle, err := a.deps.Supervisor.Start(ctx, supervisor.Spec{
		Name:   session.Name + "/hls",
		Binary: cmd.Binary(),
		Args:   cmd.Args(),
		Health: supervisor.FileCheck{Path: playlistPath},
		OnRestart: func(int) {
			if a.deps.OnRestart != nil {
				a.deps.OnRestart(models.FormatHLS)
			}
		},
		OnExit: func(err error) {
			if a.deps.OnTargetExit != nil {
				a.deps.OnTargetExit(target.ID, err)
			}
		},
	})
	if err != nil {
		return err
	}

	a.put(target.ID, &targetState{
		session:      session.Name,
		handle:       handle,
		queue:        newSerialQueue(16),
		playlistPath: playlistPath,
		startedAt:    time.Now(),
	})
	target.URL = playlistPath
	return nil
}

// InjectEvent patches the live playlist with the cue tag at the live edge,
// so the marker applies from the next segment boundary.
func (a *HLSAdapter) InjectEvent(ctx context.Context, targetID string, event *models.SCTE35Event) error {
	st, ok := a.get(targetID)
	if !ok {
		return fmt.Errorf("hls: unknown target %s", targetID)
	}
	return st.queue.Do(ctx, func() error {
		return patchHLSPlaylist(st.playlistPath, event)
	})
}

// Stop tears the target down.
func (a *HLSAdapter) Stop(ctx context.Context, targetID string) error {
	return stopTarget(ctx, &a.deps, &a.targetMap, targetID)
}

// patchHLSPlaylist inserts the event's cue tag at the end of the media
// playlist. The playlist is parsed first so a half-written or multivariant
// file is rejected instead of corrupted.
func patchHLSPlaylist(path string, event *models.SCTE35Event) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading playlist: %w", err)
	}
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("parsing playlist: %w", err)
	}
	if _, ok := pl.(*playlist.Media); !ok {
		return fmt.Errorf("expected media playlist, got multivariant")
	}

	var tag string
	switch event.Type {
	case models.EventCueOut:
		tag = scte35.HLSCueOut(event.Duration)
	case models.EventCueIn:
		tag = scte35.HLSCueIn()
	default:
		return fmt.Errorf("%w: %q", models.ErrInvalidEvent, event.Type)
	}

	text := string(data)
	insertAt := len(text)
	// keep the tag ahead of the endlist marker if the playlist closed
	if idx := strings.Index(text, "#EXT-X-ENDLIST"); idx >= 0 {
		insertAt = idx
	}
	if insertAt > 0 && text[insertAt-1] != '\n' {
		tag = "\n" + tag
	}
	patched := text[:insertAt] + tag + "\n" + text[insertAt:]

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(patched), 0o644); err != nil {
		return fmt.Errorf("writing playlist: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing playlist: %w", err)
	}
	return nil
}
