package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/splicecast/splicecast/internal/adapter"
	"github.com/splicecast/splicecast/internal/config"
	"github.com/splicecast/splicecast/internal/models"
	"github.com/splicecast/splicecast/internal/observability"
)

// AdapterProvider resolves output adapters by format.
type AdapterProvider interface {
	Get(format models.OutputFormat) (adapter.Adapter, error)
}

// StartRequest is a request to create and start a session.
type StartRequest struct {
	Name      string                `json:"name"`
	SourceURL string                `json:"sourceUrl"`
	Formats   []models.OutputFormat `json:"outputFormats"`
	Video     models.VideoSettings  `json:"videoSettings"`
	Audio     models.AudioSettings  `json:"audioSettings"`
	SCTE35    models.SCTE35Settings `json:"scte35Settings"`
	Outputs   models.OutputSettings `json:"outputSettings"`
}

// Validate checks and defaults the request.
func (r *StartRequest) Validate() error {
	if r.Name == "" {
		return models.ErrValidation{Field: "name", Message: "name is required"}
	}
	if r.SourceURL == "" {
		return models.ErrValidation{Field: "sourceUrl", Message: "sourceUrl is required"}
	}
	if len(r.Formats) == 0 {
		return models.ErrValidation{Field: "outputFormats", Message: "at least one output format is required"}
	}
	seen := make(map[models.OutputFormat]bool, len(r.Formats))
	for _, f := range r.Formats {
		if !f.Valid() {
			return models.ErrValidation{Field: "outputFormats", Message: fmt.Sprintf("unknown format %q", f)}
		}
		if seen[f] {
			return models.ErrValidation{Field: "outputFormats", Message: fmt.Sprintf("duplicate format %q", f)}
		}
		seen[f] = true
		if err := r.Outputs.ValidateFor(f); err != nil {
			return err
		}
	}
	if err := r.Video.Validate(); err != nil {
		return err
	}
	if err := r.Audio.Validate(); err != nil {
		return err
	}
	return r.SCTE35.Validate()
}

// EventRequest is a request to inject a splice event.
type EventRequest struct {
	Type     models.EventType `json:"type"`
	Duration float64          `json:"duration,omitempty"`
	PreRoll  float64          `json:"preRoll,omitempty"`
}

// Manager is the session registry. Each session's state is owned by its
// actor goroutine; the manager only guards the name-to-actor map, so
// sessions never block each other.
type Manager struct {
	adapters      AdapterProvider
	metrics       *observability.Metrics
	logger        *slog.Logger
	maxSessions   int
	injectTimeout time.Duration
	stopTimeout   time.Duration
	now           func() time.Time

	mu     sync.RWMutex
	actors map[string]*actor
	// byKey indexes sessions by their webhook stream key.
	byKey map[string]string

	entropy *ulid.MonotonicEntropy
	entMu   sync.Mutex
}

// NewManager creates the session manager.
func NewManager(cfg config.SessionConfig, adapters AdapterProvider, metrics *observability.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	injectTimeout := cfg.InjectTimeout
	if injectTimeout <= 0 {
		injectTimeout = 2 * time.Second
	}
	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 15 * time.Second
	}
	return &Manager{
		adapters:      adapters,
		metrics:       metrics,
		logger:        logger.With("component", "session"),
		maxSessions:   cfg.MaxSessions,
		injectTimeout: injectTimeout,
		stopTimeout:   stopTimeout,
		now:           time.Now,
		actors:        make(map[string]*actor),
		byKey:         make(map[string]string),
		entropy:       ulid.Monotonic(rand.Reader, 0),
	}
}

func (m *Manager) newTargetID() string {
	m.entMu.Lock()
	defer m.entMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(m.now()), m.entropy).String()
}

// Start creates a session and brings its output targets up. The name must
// not belong to a live session; a finished session's name is reusable.
// Partial target failures still yield a running session.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*models.StreamSession, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	model := &models.StreamSession{
		Name:      req.Name,
		SourceURL: req.SourceURL,
		State:     models.SessionIdle,
		StreamKey: uuid.NewString(),
		Video:     req.Video,
		Audio:     req.Audio,
		SCTE35:    req.SCTE35,
		Outputs:   req.Outputs,
		CreatedAt: m.now(),
	}

	m.mu.Lock()
	var replaced *actor
	if old, exists := m.actors[req.Name]; exists {
		// a finished session's name is free for reuse
		if !old.ended.Load() {
			m.mu.Unlock()
			return nil, models.ErrConflict{Resource: "session " + req.Name, Message: "already exists"}
		}
		delete(m.actors, req.Name)
		delete(m.byKey, old.model.StreamKey)
		replaced = old
	}
	live := 0
	for _, a := range m.actors {
		if !a.ended.Load() {
			live++
		}
	}
	if m.maxSessions > 0 && live >= m.maxSessions {
		m.mu.Unlock()
		return nil, models.ErrConflict{
			Resource: "sessions",
			Message:  fmt.Sprintf("limit of %d sessions reached", m.maxSessions),
		}
	}
	act := newActor(m, model)
	m.actors[req.Name] = act
	m.byKey[model.StreamKey] = req.Name
	m.mu.Unlock()

	if replaced != nil {
		replaced.close()
	}

	var startErr error
	var snap *models.StreamSession
	err := act.do(ctx, func() {
		startErr = act.startTargets(ctx, req.Formats)
		if startErr == nil {
			act.counted = true
			m.metrics.SessionsStarted.Inc()
			m.metrics.SessionsActive.Inc()
		}
		snap = act.snapshot()
	})
	if err != nil {
		m.remove(req.Name)
		return nil, err
	}
	if startErr != nil {
		m.remove(req.Name)
		return snap, startErr
	}
	return snap, nil
}

// Inject issues a splice event against a running session and returns the
// event with its assigned id and appliedTo results.
func (m *Manager) Inject(ctx context.Context, name string, req EventRequest) (*models.SCTE35Event, error) {
	event := &models.SCTE35Event{
		Type:     req.Type,
		Duration: req.Duration,
		PreRoll:  req.PreRoll,
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}

	act, ok := m.lookup(name)
	if !ok {
		return nil, models.ErrSessionNotFound
	}

	var injectErr error
	var out models.SCTE35Event
	err := act.do(ctx, func() {
		if !act.model.State.CanInject() {
			injectErr = fmt.Errorf("%w: session %s is %s",
				models.ErrSessionNotRunning, name, act.model.State)
			return
		}
		if !act.model.SCTE35.Enabled {
			injectErr = models.ErrValidation{Field: "scte35", Message: "scte-35 signaling is disabled for this session"}
			return
		}
		act.injectEvent(event)
		out = *event
		out.AppliedTo = append([]string(nil), event.AppliedTo...)
	})
	if err != nil {
		return nil, err
	}
	if injectErr != nil {
		return nil, injectErr
	}
	return &out, nil
}

// Stop tears a session down. The session stays in the registry in its
// terminal state so later injects answer with a state conflict rather than
// not-found; Start may reuse the name. Stopping an unknown or already
// stopped session is not an error.
func (m *Manager) Stop(ctx context.Context, name string) (*models.StreamSession, error) {
	act, ok := m.lookup(name)
	if !ok {
		return nil, nil
	}

	var snap *models.StreamSession
	var didStop bool
	err := act.do(ctx, func() {
		if !act.model.State.Terminal() {
			stopCtx, cancel := context.WithTimeout(context.Background(), m.stopTimeout)
			defer cancel()
			act.stopTargets(stopCtx)
			didStop = true
			snap = act.snapshot()
		}
	})
	if err != nil {
		return nil, err
	}
	if !didStop {
		return nil, nil
	}
	return snap, nil
}

// Get returns a snapshot of one session.
func (m *Manager) Get(ctx context.Context, name string) (*models.StreamSession, error) {
	act, ok := m.lookup(name)
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	var snap *models.StreamSession
	if err := act.do(ctx, func() { snap = act.snapshot() }); err != nil {
		return nil, err
	}
	return snap, nil
}

// List returns snapshots of all sessions, sorted by name.
func (m *Manager) List(ctx context.Context) []*models.StreamSession {
	m.mu.RLock()
	acts := make([]*actor, 0, len(m.actors))
	for _, act := range m.actors {
		acts = append(acts, act)
	}
	m.mu.RUnlock()

	sessions := make([]*models.StreamSession, 0, len(acts))
	for _, act := range acts {
		var snap *models.StreamSession
		if err := act.do(ctx, func() { snap = act.snapshot() }); err == nil {
			sessions = append(sessions, snap)
		}
	}
	sortSessions(sessions)
	return sessions
}

// Shutdown stops every session and releases the registry.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, s := range m.List(ctx) {
		if _, err := m.Stop(ctx, s.Name); err != nil {
			m.logger.Warn("session shutdown failed", "session", s.Name, "error", err)
		}
	}
	m.mu.Lock()
	acts := m.actors
	m.actors = make(map[string]*actor)
	m.byKey = make(map[string]string)
	m.mu.Unlock()
	for _, act := range acts {
		act.close()
	}
}

// TargetExited is wired into the adapters' exit callbacks.
func (m *Manager) TargetExited(targetID string, err error) {
	m.mu.RLock()
	acts := make([]*actor, 0, len(m.actors))
	for _, act := range m.actors {
		acts = append(acts, act)
	}
	m.mu.RUnlock()
	for _, act := range acts {
		act.post(func() { act.targetExited(targetID, err) })
	}
}

func (m *Manager) lookup(name string) (*actor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	act, ok := m.actors[name]
	return act, ok
}

// lookupByKey finds a session name by its webhook stream key.
func (m *Manager) lookupByKey(streamKey string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.byKey[streamKey]
	return name, ok
}

func (m *Manager) remove(name string) {
	m.mu.Lock()
	act, ok := m.actors[name]
	if ok {
		delete(m.actors, name)
		delete(m.byKey, act.model.StreamKey)
	}
	m.mu.Unlock()
	if ok {
		act.close()
	}
}

func sortSessions(sessions []*models.StreamSession) {
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Name < sessions[j].Name })
}
