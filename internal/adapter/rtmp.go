package adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/splicecast/splicecast/internal/models"
	"github.com/splicecast/splicecast/internal/scte35"
	"github.com/splicecast/splicecast/internal/supervisor"
)

// RTMPAdapter serves FLV over RTMP by running the encoder in listen mode.
// Cue markers become onCuePoint AMF0 script tags appended to a sidecar tag
// file next to the stream; downstream muxers splice them into the FLV tag
// stream at the recorded timestamps.
type RTMPAdapter struct {
	deps Deps
	targetMap
}

// NewRTMPAdapter creates the RTMP adapter.
func NewRTMPAdapter(deps Deps) *RTMPAdapter {
	return &RTMPAdapter{deps: deps, targetMap: newTargetMap()}
}

func (a *RTMPAdapter) Format() models.OutputFormat { return models.FormatRTMP }

// Start reserves the port and launches the listening encoder.
func (a *RTMPAdapter) Start(ctx context.Context, session *models.StreamSession, target *models.OutputTarget) error {
	settings := session.Outputs.RTMP
	if settings == nil {
		return models.ErrValidation{Field: "rtmp", Message: "rtmp settings are required"}
	}
	owner := session.Name + "/rtmp"
	if err := a.deps.Ports.Reserve(settings.Port, owner); err != nil {
		return err
	}

	dir, err := outputDir(a.deps.StorageDir, session.Name, models.FormatRTMP)
	if err != nil {
		a.deps.Ports.Release(settings.Port)
		return err
	}
	sidecar := filepath.Join(dir, "cues.flv")

	url := fmt.Sprintf("rtmp://0.0.0.0:%d/live/%s", settings.Port, session.Name)
	cmd := baseCommand(a.deps.ffmpeg(), session).
		FLVArgs().
		OutputArgs("-listen", "1", "-rtmp_buffer", strconv.Itoa(settings.ChunkSize)).
		Output(url)

	handle, err := a.deps.Supervisor.Start(ctx, supervisor.Spec{
		Name:   owner,
		Binary: cmd.Binary(),
		Args:   cmd.Args(),
		// bind check, not a dial: -listen 1 accepts a single client
		Health: supervisor.BindCheck{Address: fmt.Sprintf(":%d", settings.Port)},
		OnRestart: func(int) {
			if a.deps.OnRestart != nil {
				a.deps.OnRestart(models.FormatRTMP)
			}
		},
		OnExit: func(err error) {
			if a.deps.OnTargetExit != nil {
				a.deps.OnTargetExit(target.ID, err)
			}
		},
	})
	if err != nil {
		a.deps.Ports.Release(settings.Port)
		return err
	}

	a.put(target.ID, &targetState{
		session:     session.Name,
		handle:      handle,
		queue:       newSerialQueue(16),
		port:        settings.Port,
		sidecarPath: sidecar,
		startedAt:   time.Now(),
	})
	target.URL = url
	target.Port = settings.Port
	return nil
}

// InjectEvent appends the cue as an onCuePoint script tag, stamped relative
// to target start.
func (a *RTMPAdapter) InjectEvent(ctx context.Context, targetID string, event *models.SCTE35Event) error {
	st, ok := a.get(targetID)
	if !ok {
		return fmt.Errorf("rtmp: unknown target %s", targetID)
	}
	return st.queue.Do(ctx, func() error {
		if !event.Type.Valid() {
			return fmt.Errorf("%w: %q", models.ErrInvalidEvent, event.Type)
		}
		cue := scte35.FLVCue{
			EventID:  event.EventID,
			Out:      event.Type == models.EventCueOut,
			Duration: event.Duration,
			PreRoll:  event.PreRoll,
		}
		timestamp := uint32(event.SpliceAt().Sub(st.startedAt).Milliseconds())
		tag := scte35.EncodeFLVCueTag(cue, timestamp)

		f, err := os.OpenFile(st.sidecarPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening cue sidecar: %w", err)
		}
		defer f.Close()
		if _, err := f.Write(tag); err != nil {
			return fmt.Errorf("appending cue tag: %w", err)
		}
		return f.Sync()
	})
}

// Stop tears the target down.
func (a *RTMPAdapter) Stop(ctx context.Context, targetID string) error {
	return stopTarget(ctx, &a.deps, &a.targetMap, targetID)
}
