package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splicecast/splicecast/internal/adapter"
	"github.com/splicecast/splicecast/internal/config"
	"github.com/splicecast/splicecast/internal/models"
	"github.com/splicecast/splicecast/internal/observability"
)

// stubAdapter records calls instead of spawning encoders.
type stubAdapter struct {
	format models.OutputFormat

	mu        sync.Mutex
	startErr  error
	injectErr error
	started   []string
	stopped   []string
	events    []*models.SCTE35Event
}

func (s *stubAdapter) Format() models.OutputFormat { return s.format }

func (s *stubAdapter) Start(_ context.Context, session *models.StreamSession, target *models.OutputTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = append(s.started, target.ID)
	target.URL = fmt.Sprintf("%s://localhost/%s", s.format, session.Name)
	return nil
}

func (s *stubAdapter) InjectEvent(_ context.Context, _ string, event *models.SCTE35Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.injectErr != nil {
		return s.injectErr
	}
	s.events = append(s.events, event)
	return nil
}

func (s *stubAdapter) Stop(_ context.Context, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = append(s.stopped, targetID)
	return nil
}

func (s *stubAdapter) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type stubProvider map[models.OutputFormat]adapter.Adapter

func (p stubProvider) Get(format models.OutputFormat) (adapter.Adapter, error) {
	adp, ok := p[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownFormat, format)
	}
	return adp, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, provider AdapterProvider) *Manager {
	t.Helper()
	mgr := NewManager(config.SessionConfig{
		InjectTimeout: 500 * time.Millisecond,
		StopTimeout:   2 * time.Second,
		MaxSessions:   8,
	}, provider, observability.NewMetrics(), testLogger())
	t.Cleanup(func() { mgr.Shutdown(context.Background()) })
	return mgr
}

func hlsDashProvider() (stubProvider, *stubAdapter, *stubAdapter) {
	hls := &stubAdapter{format: models.FormatHLS}
	dash := &stubAdapter{format: models.FormatDASH}
	return stubProvider{models.FormatHLS: hls, models.FormatDASH: dash}, hls, dash
}

func startRequest(name string, formats ...models.OutputFormat) StartRequest {
	return StartRequest{
		Name:      name,
		SourceURL: "rtmp://127.0.0.1:1935/live/" + name,
		Formats:   formats,
		SCTE35:    models.SCTE35Settings{Enabled: true},
	}
}

func TestManagerStart(t *testing.T) {
	provider, hls, dash := hlsDashProvider()
	mgr := newTestManager(t, provider)

	sess, err := mgr.Start(context.Background(), startRequest("promo1", models.FormatHLS, models.FormatDASH))
	require.NoError(t, err)

	assert.Equal(t, models.SessionRunning, sess.State)
	assert.NotEmpty(t, sess.StreamKey)
	require.Len(t, sess.Targets, 2)
	for _, target := range sess.Targets {
		assert.Equal(t, models.TargetRunning, target.Status)
		assert.NotEmpty(t, target.ID)
		assert.NotEmpty(t, target.URL)
	}
	assert.Len(t, hls.started, 1)
	assert.Len(t, dash.started, 1)
}

func TestManagerStartValidation(t *testing.T) {
	provider, _, _ := hlsDashProvider()
	mgr := newTestManager(t, provider)

	tests := []struct {
		name string
		req  StartRequest
	}{
		{"missing name", StartRequest{SourceURL: "rtmp://in", Formats: []models.OutputFormat{models.FormatHLS}}},
		{"missing source", StartRequest{Name: "s", Formats: []models.OutputFormat{models.FormatHLS}}},
		{"no formats", StartRequest{Name: "s", SourceURL: "rtmp://in"}},
		{"unknown format", StartRequest{Name: "s", SourceURL: "rtmp://in", Formats: []models.OutputFormat{"webrtc"}}},
		{"duplicate format", StartRequest{Name: "s", SourceURL: "rtmp://in",
			Formats: []models.OutputFormat{models.FormatHLS, models.FormatHLS}}},
		{"srt without port", StartRequest{Name: "s", SourceURL: "rtmp://in",
			Formats: []models.OutputFormat{models.FormatSRT}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mgr.Start(context.Background(), tt.req)
			assert.True(t, models.IsValidation(err), "expected validation error, got %v", err)
		})
	}
}

func TestManagerStartDuplicateName(t *testing.T) {
	provider, _, _ := hlsDashProvider()
	mgr := newTestManager(t, provider)

	_, err := mgr.Start(context.Background(), startRequest("promo1", models.FormatHLS))
	require.NoError(t, err)

	_, err = mgr.Start(context.Background(), startRequest("promo1", models.FormatHLS))
	assert.True(t, models.IsConflict(err), "expected conflict, got %v", err)
}

func TestManagerStartSessionLimit(t *testing.T) {
	provider, _, _ := hlsDashProvider()
	mgr := NewManager(config.SessionConfig{
		InjectTimeout: 500 * time.Millisecond,
		MaxSessions:   1,
	}, provider, observability.NewMetrics(), testLogger())
	defer mgr.Shutdown(context.Background())

	_, err := mgr.Start(context.Background(), startRequest("one", models.FormatHLS))
	require.NoError(t, err)

	_, err = mgr.Start(context.Background(), startRequest("two", models.FormatHLS))
	assert.True(t, models.IsConflict(err), "expected conflict, got %v", err)

	// a stopped session no longer counts against the limit
	_, err = mgr.Stop(context.Background(), "one")
	require.NoError(t, err)
	_, err = mgr.Start(context.Background(), startRequest("two", models.FormatHLS))
	assert.NoError(t, err)
}

func TestManagerStartPartialFailure(t *testing.T) {
	provider, _, dash := hlsDashProvider()
	dash.startErr = errors.New("encoder refused")
	mgr := newTestManager(t, provider)

	sess, err := mgr.Start(context.Background(), startRequest("promo1", models.FormatHLS, models.FormatDASH))
	require.NoError(t, err)
	assert.Equal(t, models.SessionRunning, sess.State)

	byFormat := make(map[models.OutputFormat]*models.OutputTarget)
	for _, target := range sess.Targets {
		byFormat[target.Format] = target
	}
	assert.Equal(t, models.TargetRunning, byFormat[models.FormatHLS].Status)
	assert.Equal(t, models.TargetFailed, byFormat[models.FormatDASH].Status)
	assert.Contains(t, byFormat[models.FormatDASH].Error, "encoder refused")
}

func TestManagerStartTotalFailure(t *testing.T) {
	provider, hls, dash := hlsDashProvider()
	hls.startErr = errors.New("no input")
	dash.startErr = errors.New("no input")
	mgr := newTestManager(t, provider)

	_, err := mgr.Start(context.Background(), startRequest("promo1", models.FormatHLS, models.FormatDASH))
	require.Error(t, err)

	// a fully failed session is not registered
	_, err = mgr.Get(context.Background(), "promo1")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	// and the name is free again
	_, err = mgr.Start(context.Background(), startRequest("promo1", models.FormatHLS, models.FormatDASH))
	require.Error(t, err)
	assert.False(t, models.IsConflict(err))
}

func TestManagerPortConflict(t *testing.T) {
	ports := adapter.NewPortRegistry()
	srt := &portedStub{stubAdapter: stubAdapter{format: models.FormatSRT}, ports: ports}
	mgr := newTestManager(t, stubProvider{models.FormatSRT: srt})

	req := startRequest("first", models.FormatSRT)
	req.Outputs.SRT = &models.SRTSettings{Port: 9200}
	_, err := mgr.Start(context.Background(), req)
	require.NoError(t, err)

	req2 := startRequest("second", models.FormatSRT)
	req2.Outputs.SRT = &models.SRTSettings{Port: 9200}
	_, err = mgr.Start(context.Background(), req2)
	require.Error(t, err)
	assert.True(t, models.IsConflict(err), "expected port conflict, got %v", err)

	// stopping the holder frees the port for a retry
	_, err = mgr.Stop(context.Background(), "first")
	require.NoError(t, err)
	_, err = mgr.Start(context.Background(), req2)
	assert.NoError(t, err)
}

// portedStub reserves the session's port like the socket adapters do.
type portedStub struct {
	stubAdapter
	ports *adapter.PortRegistry
}

func (s *portedStub) Start(ctx context.Context, session *models.StreamSession, target *models.OutputTarget) error {
	port := session.Outputs.Port(s.format)
	if err := s.ports.Reserve(port, session.Name); err != nil {
		return fmt.Errorf("starting %s output: %w", s.format, err)
	}
	target.Port = port
	return s.stubAdapter.Start(ctx, session, target)
}

func (s *portedStub) Stop(ctx context.Context, targetID string) error {
	s.ports.Release(9200)
	return s.stubAdapter.Stop(ctx, targetID)
}

func TestManagerInject(t *testing.T) {
	provider, hls, dash := hlsDashProvider()
	mgr := newTestManager(t, provider)

	started, err := mgr.Start(context.Background(), startRequest("promo1", models.FormatHLS, models.FormatDASH))
	require.NoError(t, err)

	event, err := mgr.Inject(context.Background(), "promo1", EventRequest{
		Type:     models.EventCueOut,
		Duration: 30,
	})
	require.NoError(t, err)

	assert.Equal(t, uint32(1), event.EventID)
	assert.Equal(t, models.EventCueOut, event.Type)
	assert.ElementsMatch(t, []string{started.Targets[0].ID, started.Targets[1].ID}, event.AppliedTo)
	assert.Equal(t, 1, hls.eventCount())
	assert.Equal(t, 1, dash.eventCount())

	cueIn, err := mgr.Inject(context.Background(), "promo1", EventRequest{Type: models.EventCueIn})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), cueIn.EventID)

	sess, err := mgr.Get(context.Background(), "promo1")
	require.NoError(t, err)
	require.Len(t, sess.Events, 2)
	assert.Less(t, sess.Events[0].EventID, sess.Events[1].EventID)
}

func TestManagerInjectErrors(t *testing.T) {
	provider, _, _ := hlsDashProvider()
	mgr := newTestManager(t, provider)

	_, err := mgr.Inject(context.Background(), "ghost", EventRequest{Type: models.EventCueIn})
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	_, err = mgr.Start(context.Background(), startRequest("promo1", models.FormatHLS))
	require.NoError(t, err)

	_, err = mgr.Inject(context.Background(), "promo1", EventRequest{Type: models.EventCueOut})
	assert.True(t, models.IsValidation(err), "cue-out without duration should fail, got %v", err)

	_, err = mgr.Inject(context.Background(), "promo1", EventRequest{Type: "SPLICE", Duration: 5})
	assert.True(t, models.IsValidation(err), "unknown type should fail, got %v", err)
}

func TestManagerInjectDisabled(t *testing.T) {
	provider, _, _ := hlsDashProvider()
	mgr := newTestManager(t, provider)

	req := startRequest("plain", models.FormatHLS)
	req.SCTE35 = models.SCTE35Settings{Enabled: false}
	_, err := mgr.Start(context.Background(), req)
	require.NoError(t, err)

	_, err = mgr.Inject(context.Background(), "plain", EventRequest{Type: models.EventCueOut, Duration: 10})
	assert.True(t, models.IsValidation(err), "expected validation error, got %v", err)
}

func TestManagerInjectPartialApply(t *testing.T) {
	provider, _, dash := hlsDashProvider()
	dash.injectErr = errors.New("manifest busy")
	mgr := newTestManager(t, provider)

	started, err := mgr.Start(context.Background(), startRequest("promo1", models.FormatHLS, models.FormatDASH))
	require.NoError(t, err)
	var hlsID string
	for _, target := range started.Targets {
		if target.Format == models.FormatHLS {
			hlsID = target.ID
		}
	}

	event, err := mgr.Inject(context.Background(), "promo1", EventRequest{
		Type:     models.EventCueOut,
		Duration: 15,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{hlsID}, event.AppliedTo)
}

func TestManagerAutoCueIn(t *testing.T) {
	provider, hls, _ := hlsDashProvider()
	mgr := newTestManager(t, provider)

	req := startRequest("promo1", models.FormatHLS)
	req.SCTE35.AutoInsert = true
	_, err := mgr.Start(context.Background(), req)
	require.NoError(t, err)

	out, err := mgr.Inject(context.Background(), "promo1", EventRequest{
		Type:     models.EventCueOut,
		Duration: 0.15,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return hls.eventCount() == 2
	}, 2*time.Second, 10*time.Millisecond, "auto cue-in never arrived")

	sess, err := mgr.Get(context.Background(), "promo1")
	require.NoError(t, err)
	require.Len(t, sess.Events, 2)
	cueIn := sess.Events[1]
	assert.Equal(t, models.EventCueIn, cueIn.Type)
	assert.True(t, cueIn.Auto)
	assert.Greater(t, cueIn.EventID, out.EventID)
}

func TestManagerManualCueInCancelsAuto(t *testing.T) {
	provider, hls, _ := hlsDashProvider()
	mgr := newTestManager(t, provider)

	req := startRequest("promo1", models.FormatHLS)
	req.SCTE35.AutoInsert = true
	_, err := mgr.Start(context.Background(), req)
	require.NoError(t, err)

	_, err = mgr.Inject(context.Background(), "promo1", EventRequest{
		Type:     models.EventCueOut,
		Duration: 0.25,
	})
	require.NoError(t, err)

	_, err = mgr.Inject(context.Background(), "promo1", EventRequest{Type: models.EventCueIn})
	require.NoError(t, err)

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 2, hls.eventCount(), "auto cue-in should have been cancelled")

	sess, err := mgr.Get(context.Background(), "promo1")
	require.NoError(t, err)
	require.Len(t, sess.Events, 2)
	assert.False(t, sess.Events[1].Auto)
}

func TestManagerStop(t *testing.T) {
	provider, hls, _ := hlsDashProvider()
	mgr := newTestManager(t, provider)

	_, err := mgr.Start(context.Background(), startRequest("promo1", models.FormatHLS))
	require.NoError(t, err)

	sess, err := mgr.Stop(context.Background(), "promo1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, models.SessionStopped, sess.State)
	assert.Len(t, hls.stopped, 1)

	// stopping again, or stopping the unknown, is quiet
	sess, err = mgr.Stop(context.Background(), "promo1")
	require.NoError(t, err)
	assert.Nil(t, sess)

	// the stopped session stays visible in its terminal state
	sess, err = mgr.Get(context.Background(), "promo1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStopped, sess.State)
}

func TestManagerInjectAfterStop(t *testing.T) {
	provider, _, _ := hlsDashProvider()
	mgr := newTestManager(t, provider)

	_, err := mgr.Start(context.Background(), startRequest("promo1", models.FormatHLS))
	require.NoError(t, err)
	_, err = mgr.Stop(context.Background(), "promo1")
	require.NoError(t, err)

	_, err = mgr.Inject(context.Background(), "promo1", EventRequest{
		Type:     models.EventCueOut,
		Duration: 30,
	})
	assert.ErrorIs(t, err, models.ErrSessionNotRunning)
}

func TestManagerStartReusesStoppedName(t *testing.T) {
	provider, hls, _ := hlsDashProvider()
	mgr := newTestManager(t, provider)

	_, err := mgr.Start(context.Background(), startRequest("promo1", models.FormatHLS))
	require.NoError(t, err)
	_, err = mgr.Stop(context.Background(), "promo1")
	require.NoError(t, err)

	sess, err := mgr.Start(context.Background(), startRequest("promo1", models.FormatHLS))
	require.NoError(t, err)
	assert.Equal(t, models.SessionRunning, sess.State)
	assert.Len(t, hls.started, 2)

	got, err := mgr.Get(context.Background(), "promo1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionRunning, got.State)
}

func TestManagerList(t *testing.T) {
	provider, _, _ := hlsDashProvider()
	mgr := newTestManager(t, provider)

	for _, name := range []string{"zulu", "alpha", "mike"} {
		_, err := mgr.Start(context.Background(), startRequest(name, models.FormatHLS))
		require.NoError(t, err)
	}

	sessions := mgr.List(context.Background())
	require.Len(t, sessions, 3)
	assert.Equal(t, "alpha", sessions[0].Name)
	assert.Equal(t, "mike", sessions[1].Name)
	assert.Equal(t, "zulu", sessions[2].Name)
}

func TestManagerTargetExit(t *testing.T) {
	provider, _, _ := hlsDashProvider()
	mgr := newTestManager(t, provider)

	sess, err := mgr.Start(context.Background(), startRequest("promo1", models.FormatHLS, models.FormatDASH))
	require.NoError(t, err)
	require.Len(t, sess.Targets, 2)

	mgr.TargetExited(sess.Targets[0].ID, errors.New("encoder gave up"))

	require.Eventually(t, func() bool {
		s, err := mgr.Get(context.Background(), "promo1")
		if err != nil {
			return false
		}
		return s.Targets[0].Status == models.TargetFailed || s.Targets[1].Status == models.TargetFailed
	}, time.Second, 10*time.Millisecond)

	s, err := mgr.Get(context.Background(), "promo1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionRunning, s.State, "one live target keeps the session running")

	mgr.TargetExited(sess.Targets[1].ID, errors.New("encoder gave up"))

	require.Eventually(t, func() bool {
		s, err := mgr.Get(context.Background(), "promo1")
		return err == nil && s.State == models.SessionError
	}, time.Second, 10*time.Millisecond)

	s, err = mgr.Get(context.Background(), "promo1")
	require.NoError(t, err)
	assert.Equal(t, "all output targets failed", s.Error)

	// a dead session rejects injections
	_, err = mgr.Inject(context.Background(), "promo1", EventRequest{Type: models.EventCueIn})
	assert.ErrorIs(t, err, models.ErrSessionNotRunning)
}

func TestManagerIngestHooks(t *testing.T) {
	provider, _, _ := hlsDashProvider()
	mgr := newTestManager(t, provider)

	sess, err := mgr.Start(context.Background(), startRequest("promo1", models.FormatHLS))
	require.NoError(t, err)
	key := sess.StreamKey

	assert.False(t, mgr.IngestStarted(context.Background(), "bogus-key"))
	assert.True(t, mgr.IngestStarted(context.Background(), key))
	assert.True(t, mgr.ViewerJoined(context.Background(), key))
	assert.True(t, mgr.ViewerJoined(context.Background(), key))
	assert.True(t, mgr.ViewerLeft(context.Background(), key))

	require.Eventually(t, func() bool {
		s, err := mgr.Get(context.Background(), "promo1")
		return err == nil && s.IngestActive && s.Viewers == 1
	}, time.Second, 10*time.Millisecond)

	assert.True(t, mgr.IngestStopped(context.Background(), key))
	s, err := mgr.Get(context.Background(), "promo1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStopped, s.State)

	// retries after teardown are tolerated
	assert.True(t, mgr.IngestStopped(context.Background(), key))
}

func TestActorCloseDuringPosts(t *testing.T) {
	provider, _, _ := hlsDashProvider()
	mgr := newTestManager(t, provider)

	for i := 0; i < 200; i++ {
		act := newActor(mgr, &models.StreamSession{Name: "flap", State: models.SessionRunning})

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				act.post(func() {})
			}
		}()
		act.close()
		wg.Wait()

		// late callbacks are dropped, late commands see the session gone
		act.post(func() {})
		err := act.do(context.Background(), func() {})
		assert.ErrorIs(t, err, models.ErrSessionNotFound)
	}
}

func TestActorAutoCueInAfterStop(t *testing.T) {
	provider, hls, _ := hlsDashProvider()
	mgr := newTestManager(t, provider)

	req := startRequest("promo1", models.FormatHLS)
	req.SCTE35.AutoInsert = true
	_, err := mgr.Start(context.Background(), req)
	require.NoError(t, err)

	// the timer fires after the session is stopped; its callback must
	// land quietly instead of touching a dead command loop
	_, err = mgr.Inject(context.Background(), "promo1", EventRequest{
		Type:     models.EventCueOut,
		Duration: 0.1,
	})
	require.NoError(t, err)

	_, err = mgr.Stop(context.Background(), "promo1")
	require.NoError(t, err)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, hls.eventCount(), "no auto cue-in after stop")
}

func TestManagerShutdown(t *testing.T) {
	provider, hls, _ := hlsDashProvider()
	mgr := newTestManager(t, provider)

	for _, name := range []string{"a", "b"} {
		_, err := mgr.Start(context.Background(), startRequest(name, models.FormatHLS))
		require.NoError(t, err)
	}

	mgr.Shutdown(context.Background())
	assert.Empty(t, mgr.List(context.Background()))
	assert.Len(t, hls.stopped, 2)
}

func TestSchedulerFiresBreaks(t *testing.T) {
	provider, hls, _ := hlsDashProvider()
	mgr := newTestManager(t, provider)

	_, err := mgr.Start(context.Background(), startRequest("promo1", models.FormatHLS))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "schedule.yaml")
	doc := "breaks:\n  - session: promo1\n    cron: \"@every 100ms\"\n    duration: 30\n    preRoll: 1\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	sched, err := NewScheduler(path, mgr, testLogger())
	require.NoError(t, err)
	sched.Start()
	defer sched.Stop()

	require.Eventually(t, func() bool {
		return hls.eventCount() >= 1
	}, 2*time.Second, 20*time.Millisecond)

	sess, err := mgr.Get(context.Background(), "promo1")
	require.NoError(t, err)
	require.NotEmpty(t, sess.Events)
	assert.Equal(t, models.EventCueOut, sess.Events[0].Type)
	assert.Equal(t, float64(30), sess.Events[0].Duration)
	assert.Equal(t, float64(1), sess.Events[0].PreRoll)
}

func TestSchedulerRejectsBadEntries(t *testing.T) {
	mgr := newTestManager(t, stubProvider{})
	dir := t.TempDir()

	tests := []struct {
		name string
		doc  string
	}{
		{"missing session", "breaks:\n  - cron: \"@every 1m\"\n    duration: 30\n"},
		{"zero duration", "breaks:\n  - session: s\n    cron: \"@every 1m\"\n"},
		{"bad cron", "breaks:\n  - session: s\n    cron: \"not a spec\"\n    duration: 30\n"},
		{"bad yaml", "breaks: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.doc), 0o644))
			_, err := NewScheduler(path, mgr, testLogger())
			assert.Error(t, err)
		})
	}

	_, err := NewScheduler(filepath.Join(dir, "missing.yaml"), mgr, testLogger())
	assert.Error(t, err)
}
