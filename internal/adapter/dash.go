package adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/splicecast/splicecast/internal/models"
	"github.com/splicecast/splicecast/internal/scte35"
	"github.com/splicecast/splicecast/internal/supervisor"
)

// DASHAdapter encodes to a live DASH manifest and injects cue markers as an
// SCTE-35 EventStream in the first Period.
type DASHAdapter struct {
	deps Deps
	targetMap
}

// NewDASHAdapter creates the DASH adapter.
func NewDASHAdapter(deps Deps) *DASHAdapter {
	return &DASHAdapter{deps: deps, targetMap: newTargetMap()}
}

func (a *DASHAdapter) Format() models.OutputFormat { return models.FormatDASH }

// Start launches the encoder and waits for the first manifest to appear.
func (a *DASHAdapter) Start(ctx context.Context, session *models.StreamSession, target *models.OutputTarget) error {
	dash := session.Outputs.DASH
	if dash == nil {
		dash = &models.DASHSettings{SegmentDuration: 4, WindowSize: 6}
	}

	dir, err := outputDir(a.deps.StorageDir, session.Name, models.FormatDASH)
	if err != nil {
		return err
	}
	manifestPath := filepath.Join(dir, session.Name+".mpd")

	cmd := baseCommand(a.deps.ffmpeg(), session).
		DASHArgs(dash.SegmentDuration, dash.WindowSize).
		Output(manifestPath)

	handle, err := a.deps.Supervisor.Start(ctx, supervisor.Spec{
		Name:   session.Name + "/dash",
		Binary: cmd.Binary(),
		Args:   cmd.Args(),
		Health: supervisor.FileCheck{Path: manifestPath},
		OnRestart: func(int) {
			if a.deps.OnRestart != nil {
				a.deps.OnRestart(models.FormatDASH)
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
		manifestPath: manifestPath,
		startedAt:    time.Now(),
		extra:        scte35.NewDASHEventStream(),
	})
	target.URL = manifestPath
	return nil
}

// InjectEvent rewrites the manifest with the accumulated EventStream plus
// the new event.
func (a *DASHAdapter) InjectEvent(ctx context.Context, targetID string, event *models.SCTE35Event) error {
	st, ok := a.get(targetID)
	if !ok {
		return fmt.Errorf("dash: unknown target %s", targetID)
	}
	return st.queue.Do(ctx, func() error {
		stream := st.extra.(*scte35.DASHEventStream)

		var section *scte35.SpliceInfoSection
		switch event.Type {
		case models.EventCueOut:
			section = scte35.NewCueOut(event.EventID, event.Duration)
		case models.EventCueIn:
			section = scte35.NewCueIn(event.EventID)
		default:
			return fmt.Errorf("%w: %q", models.ErrInvalidEvent, event.Type)
		}

		presentation := scte35.DurationToTicks(event.SpliceAt().Sub(st.startedAt).Seconds())
		if err := stream.AddSection(section, presentation); err != nil {
			return err
		}
		return patchDASHManifest(st.manifestPath, stream)
	})
}

// Stop tears the target down.
func (a *DASHAdapter) Stop(ctx context.Context, targetID string) error {
	return stopTarget(ctx, &a.deps, &a.targetMap, targetID)
}

var dashEventStreamRe = regexp.MustCompile(`(?s)\s*<EventStream[ >].*?</EventStream>`)

// patchDASHManifest replaces (or inserts) the SCTE-35 EventStream in the
// manifest's first Period.
func patchDASHManifest(path string, stream *scte35.DASHEventStream) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading manifest: %w", err)
	}

	rendered, err := stream.Marshal()
	if err != nil {
		return err
	}

	text := dashEventStreamRe.ReplaceAllString(string(data), "")
	idx := strings.Index(text, "</Period>")
	if idx < 0 {
		return fmt.Errorf("manifest has no Period element")
	}
	block := "\n" + indentLines(string(rendered), "    ") + "\n  "
	patched := text[:idx] + block + text[idx:]

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(patched), 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing manifest: %w", err)
	}
	return nil
}

func indentLines(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}
