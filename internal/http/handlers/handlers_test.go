package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/splicecast/splicecast/internal/adapter"
	"github.com/splicecast/splicecast/internal/config"
	"github.com/splicecast/splicecast/internal/models"
	"github.com/splicecast/splicecast/internal/observability"
	"github.com/splicecast/splicecast/internal/repository"
	"github.com/splicecast/splicecast/internal/scte35"
	"github.com/splicecast/splicecast/internal/session"
)

type fakeAdapter struct {
	format models.OutputFormat
}

func (f *fakeAdapter) Format() models.OutputFormat { return f.format }

func (f *fakeAdapter) Start(_ context.Context, sess *models.StreamSession, target *models.OutputTarget) error {
	target.URL = fmt.Sprintf("%s://localhost/%s", f.format, sess.Name)
	return nil
}

func (f *fakeAdapter) InjectEvent(context.Context, string, *models.SCTE35Event) error { return nil }
func (f *fakeAdapter) Stop(context.Context, string) error                            { return nil }

type fakeProvider struct{}

func (fakeProvider) Get(format models.OutputFormat) (adapter.Adapter, error) {
	if !format.Valid() {
		return nil, models.ErrUnknownFormat
	}
	return &fakeAdapter{format: format}, nil
}

func newTestSessionManager(t *testing.T) *session.Manager {
	t.Helper()
	mgr := session.NewManager(config.SessionConfig{
		InjectTimeout: 500 * time.Millisecond,
		MaxSessions:   8,
	}, fakeProvider{}, observability.NewMetrics(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { mgr.Shutdown(context.Background()) })
	return mgr
}

func newTestPresetRepo(t *testing.T) repository.PresetRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.StreamPreset{}))
	return repository.NewPresetRepository(db)
}

func assertStatus(t *testing.T, err error, status int) {
	t.Helper()
	require.Error(t, err)
	var se huma.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, status, se.GetStatus())
}

func TestStreamHandlerLifecycle(t *testing.T) {
	mgr := newTestSessionManager(t)
	h := NewStreamHandler(mgr)
	ctx := context.Background()

	started, err := h.Start(ctx, &StartStreamInput{Body: StartStreamRequest{
		Name:      "promo1",
		SourceURL: "rtmp://127.0.0.1:1935/live/promo1",
		Formats:   []models.OutputFormat{models.FormatHLS, models.FormatDASH},
		SCTE35:    models.SCTE35Settings{Enabled: true},
	}})
	require.NoError(t, err)
	assert.Equal(t, models.SessionRunning, started.Body.Stream.State)
	assert.Len(t, started.Body.Stream.Targets, 2)

	injected, err := h.Inject(ctx, &InjectEventInput{Body: InjectEventRequest{
		StreamName: "promo1",
		Type:       models.EventCueOut,
		Duration:   30,
	}})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), injected.Body.Event.EventID)

	got, err := h.Get(ctx, &GetStreamInput{Name: "promo1"})
	require.NoError(t, err)
	assert.Len(t, got.Body.Stream.Events, 1)

	list, err := h.List(ctx, &ListStreamsInput{})
	require.NoError(t, err)
	assert.Len(t, list.Body.Streams, 1)

	stopped, err := h.Stop(ctx, &StopStreamInput{Body: StopStreamRequest{StreamName: "promo1"}})
	require.NoError(t, err)
	assert.True(t, stopped.Body.Stopped)

	// idempotent
	stopped, err = h.Stop(ctx, &StopStreamInput{Body: StopStreamRequest{StreamName: "promo1"}})
	require.NoError(t, err)
	assert.False(t, stopped.Body.Stopped)
}

func TestStreamHandlerStatusCodes(t *testing.T) {
	mgr := newTestSessionManager(t)
	h := NewStreamHandler(mgr)
	ctx := context.Background()

	_, err := h.Start(ctx, &StartStreamInput{Body: StartStreamRequest{Name: "bad"}})
	assertStatus(t, err, http.StatusBadRequest)

	_, err = h.Start(ctx, &StartStreamInput{Body: StartStreamRequest{
		Name:      "dup",
		SourceURL: "rtmp://in",
		Formats:   []models.OutputFormat{models.FormatHLS},
	}})
	require.NoError(t, err)
	_, err = h.Start(ctx, &StartStreamInput{Body: StartStreamRequest{
		Name:      "dup",
		SourceURL: "rtmp://in",
		Formats:   []models.OutputFormat{models.FormatHLS},
	}})
	assertStatus(t, err, http.StatusConflict)

	_, err = h.Inject(ctx, &InjectEventInput{Body: InjectEventRequest{
		StreamName: "ghost",
		Type:       models.EventCueIn,
	}})
	assertStatus(t, err, http.StatusNotFound)

	_, err = h.Get(ctx, &GetStreamInput{Name: "ghost"})
	assertStatus(t, err, http.StatusNotFound)

	// a stopped stream still answers, with a state conflict
	_, err = h.Stop(ctx, &StopStreamInput{Body: StopStreamRequest{StreamName: "dup"}})
	require.NoError(t, err)
	_, err = h.Inject(ctx, &InjectEventInput{Body: InjectEventRequest{
		StreamName: "dup",
		Type:       models.EventCueIn,
	}})
	assertStatus(t, err, http.StatusConflict)
}

func TestStreamHandlerStartFromPreset(t *testing.T) {
	mgr := newTestSessionManager(t)
	presets := newTestPresetRepo(t)
	h := NewStreamHandler(mgr).WithPresets(presets)
	ctx := context.Background()

	preset := &models.StreamPreset{
		Name:      "news-preset",
		SourceURL: "rtmp://127.0.0.1:1935/live/news",
	}
	require.NoError(t, preset.SetFormats([]models.OutputFormat{models.FormatHLS}))
	require.NoError(t, preset.SetSettings(
		models.VideoSettings{Codec: "libx264"},
		models.AudioSettings{Codec: "aac"},
		models.SCTE35Settings{Enabled: true, AutoInsert: true},
		models.OutputSettings{},
	))
	require.NoError(t, presets.Create(ctx, preset))

	started, err := h.Start(ctx, &StartStreamInput{Body: StartStreamRequest{
		Name:   "news",
		Preset: "news-preset",
	}})
	require.NoError(t, err)
	assert.Equal(t, "rtmp://127.0.0.1:1935/live/news", started.Body.Stream.SourceURL)
	assert.True(t, started.Body.Stream.SCTE35.Enabled)
	require.Len(t, started.Body.Stream.Targets, 1)
	assert.Equal(t, models.FormatHLS, started.Body.Stream.Targets[0].Format)

	_, err = h.Start(ctx, &StartStreamInput{Body: StartStreamRequest{
		Name:   "other",
		Preset: "missing-preset",
	}})
	assertStatus(t, err, http.StatusNotFound)
}

func TestPresetHandlerCRUD(t *testing.T) {
	h := NewPresetHandler(newTestPresetRepo(t))
	ctx := context.Background()

	created, err := h.Create(ctx, &CreatePresetInput{Body: PresetRequest{
		Name:      "evening-news",
		SourceURL: "rtmp://127.0.0.1:1935/live/news",
		Formats:   []models.OutputFormat{models.FormatHLS, models.FormatSRT},
		SCTE35:    models.SCTE35Settings{Enabled: true},
		Outputs:   models.OutputSettings{SRT: &models.SRTSettings{Port: 9100}},
	}})
	require.NoError(t, err)
	assert.NotEmpty(t, created.Body.ID)
	assert.Equal(t, []models.OutputFormat{models.FormatHLS, models.FormatSRT}, created.Body.Formats)

	got, err := h.Get(ctx, &GetPresetInput{ID: created.Body.ID})
	require.NoError(t, err)
	assert.Equal(t, "evening-news", got.Body.Name)
	require.NotNil(t, got.Body.Outputs.SRT)
	assert.Equal(t, 9100, got.Body.Outputs.SRT.Port)

	list, err := h.List(ctx, &ListPresetsInput{})
	require.NoError(t, err)
	assert.Len(t, list.Body.Presets, 1)

	updated, err := h.Update(ctx, &UpdatePresetInput{ID: created.Body.ID, Body: PresetRequest{
		Name:      "evening-news",
		SourceURL: "srt://127.0.0.1:7000",
		Formats:   []models.OutputFormat{models.FormatHLS},
	}})
	require.NoError(t, err)
	assert.Equal(t, "srt://127.0.0.1:7000", updated.Body.SourceURL)

	deleted, err := h.Delete(ctx, &DeletePresetInput{ID: created.Body.ID})
	require.NoError(t, err)
	assert.True(t, deleted.Body.Deleted)

	_, err = h.Get(ctx, &GetPresetInput{ID: created.Body.ID})
	assertStatus(t, err, http.StatusNotFound)
}

func TestPresetHandlerErrors(t *testing.T) {
	h := NewPresetHandler(newTestPresetRepo(t))
	ctx := context.Background()

	_, err := h.Create(ctx, &CreatePresetInput{Body: PresetRequest{SourceURL: "rtmp://in"}})
	assertStatus(t, err, http.StatusBadRequest)

	_, err = h.Create(ctx, &CreatePresetInput{Body: PresetRequest{
		Name:      "bad-format",
		SourceURL: "rtmp://in",
		Formats:   []models.OutputFormat{"webrtc"},
	}})
	assertStatus(t, err, http.StatusBadRequest)

	_, err = h.Create(ctx, &CreatePresetInput{Body: PresetRequest{
		Name:      "dup",
		SourceURL: "rtmp://in",
	}})
	require.NoError(t, err)
	_, err = h.Create(ctx, &CreatePresetInput{Body: PresetRequest{
		Name:      "dup",
		SourceURL: "rtmp://in",
	}})
	assertStatus(t, err, http.StatusConflict)

	_, err = h.Delete(ctx, &DeletePresetInput{ID: "nope"})
	assertStatus(t, err, http.StatusNotFound)
}

func TestValidateHandler(t *testing.T) {
	h := NewValidateHandler()
	ctx := context.Background()
	dir := t.TempDir()

	section, err := scte35.NewCueOut(1, 30).Encode()
	require.NoError(t, err)
	packets, _, err := scte35.PacketizeSection(section, 500, 0)
	require.NoError(t, err)

	input := filepath.Join(dir, "input.ts")
	require.NoError(t, os.WriteFile(input, packets, 0o644))
	output := filepath.Join(dir, "output.ts")
	require.NoError(t, os.WriteFile(output, packets, 0o644))

	result, err := h.Validate(ctx, &ValidateInput{Body: ValidateRequest{InputPath: input, OutputPath: output}})
	require.NoError(t, err)
	assert.Equal(t, 100.0, result.Body.PreservationRate)

	_, err = h.Validate(ctx, &ValidateInput{Body: ValidateRequest{InputPath: input, OutputPath: filepath.Join(dir, "missing.ts")}})
	assertStatus(t, err, http.StatusBadRequest)
}

func TestHealthHandler(t *testing.T) {
	mgr := newTestSessionManager(t)
	h := NewHealthHandler("1.2.3", mgr)

	out, err := h.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	assert.Equal(t, "healthy", out.Body.Status)
	assert.Equal(t, "1.2.3", out.Body.Version)
	assert.Equal(t, 0, out.Body.Sessions)
	assert.Greater(t, out.Body.Goroutine, 0)
}
