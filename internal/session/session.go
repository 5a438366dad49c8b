// Package session implements the stream session manager: the registry of
// live sessions, their lifecycle state machines, SCTE-35 event fan-out and
// the auto CUE-IN scheduler.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/splicecast/splicecast/internal/models"
)

// actor owns one session's state. All mutations run on the command loop
// goroutine; outside readers only ever see snapshots.
type actor struct {
	mgr   *Manager
	model *models.StreamSession

	cmds chan func()
	done chan struct{}

	// sendMu guards cmds against close: senders hold the read side, close
	// takes the write side after flagging closed, so no send can hit a
	// closed channel.
	sendMu sync.RWMutex
	closed bool

	// ended flips when the session reaches a terminal state; the manager
	// reads it to let Start replace a finished session's name.
	ended atomic.Bool

	// counted is set once the session is reflected in the active gauge.
	counted bool

	// pendingAutoCueIn fires the automatic return for the last CUE-OUT.
	pendingAutoCueIn *time.Timer
	pendingEventID   uint32

	closeOnce sync.Once
}

func newActor(mgr *Manager, model *models.StreamSession) *actor {
	a := &actor{
		mgr:   mgr,
		model: model,
		cmds:  make(chan func(), 32),
		done:  make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *actor) loop() {
	defer close(a.done)
	for cmd := range a.cmds {
		cmd()
	}
}

// close stops the command loop once queued commands have drained.
func (a *actor) close() {
	a.closeOnce.Do(func() {
		a.sendMu.Lock()
		a.closed = true
		a.sendMu.Unlock()
		close(a.cmds)
	})
	<-a.done
}

// send enqueues fn unless the actor is closed. It may block on a full
// queue; the loop keeps draining until close, so the send completes.
func (a *actor) send(fn func()) bool {
	a.sendMu.RLock()
	defer a.sendMu.RUnlock()
	if a.closed {
		return false
	}
	a.cmds <- fn
	return true
}

// do runs fn on the command loop and waits for it.
func (a *actor) do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	wrapped := func() {
		fn()
		close(ran)
	}
	a.sendMu.RLock()
	if a.closed {
		a.sendMu.RUnlock()
		return models.ErrSessionNotFound
	}
	select {
	case a.cmds <- wrapped:
		a.sendMu.RUnlock()
	case <-ctx.Done():
		a.sendMu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post enqueues fn without waiting; used for timer and exit callbacks. Posts
// after close are dropped.
func (a *actor) post(fn func()) {
	a.sendMu.RLock()
	if a.closed {
		a.sendMu.RUnlock()
		return
	}
	select {
	case a.cmds <- fn:
		a.sendMu.RUnlock()
	default:
		a.sendMu.RUnlock()
		// queue full: run the enqueue in the background so callbacks
		// never block the timer goroutine
		go a.send(fn)
	}
}

// snapshot deep-copies the session model for readers.
func (a *actor) snapshot() *models.StreamSession {
	s := *a.model
	s.Targets = make([]*models.OutputTarget, len(a.model.Targets))
	for i, t := range a.model.Targets {
		cp := *t
		s.Targets[i] = &cp
	}
	s.Events = make([]*models.SCTE35Event, len(a.model.Events))
	for i, e := range a.model.Events {
		cp := *e
		cp.AppliedTo = append([]string(nil), e.AppliedTo...)
		s.Events[i] = &cp
	}
	return &s
}

func (a *actor) logger() *slog.Logger {
	return a.mgr.logger.With("session", a.model.Name)
}

// startTargets brings every requested format up, in parallel. Partial
// failures leave the session RUNNING on the surviving targets; only a full
// wipeout is an error.
func (a *actor) startTargets(ctx context.Context, formats []models.OutputFormat) error {
	a.model.State = models.SessionStarting

	type result struct {
		target *models.OutputTarget
		err    error
	}
	results := make(chan result, len(formats))

	var wg sync.WaitGroup
	for _, format := range formats {
		target := &models.OutputTarget{
			ID:     a.mgr.newTargetID(),
			Format: format,
			Status: models.TargetStarting,
		}
		a.model.Targets = append(a.model.Targets, target)

		adp, err := a.mgr.adapters.Get(format)
		if err != nil {
			results <- result{target: target, err: err}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- result{target: target, err: adp.Start(ctx, a.model, target)}
		}()
	}
	wg.Wait()
	close(results)

	started := 0
	var firstErr error
	for res := range results {
		if res.err != nil {
			res.target.Status = models.TargetFailed
			res.target.Error = res.err.Error()
			if firstErr == nil {
				firstErr = res.err
			}
			a.logger().Error("output target failed to start",
				"format", res.target.Format, "error", res.err)
			continue
		}
		res.target.Status = models.TargetRunning
		res.target.StartedAt = time.Now()
		started++
		a.mgr.metrics.TargetsRunning.WithLabelValues(string(res.target.Format)).Inc()
	}
	sort.Slice(a.model.Targets, func(i, j int) bool {
		return a.model.Targets[i].Format < a.model.Targets[j].Format
	})

	if started == 0 {
		a.model.State = models.SessionError
		if firstErr != nil {
			a.model.Error = firstErr.Error()
		}
		a.settleTerminal()
		return fmt.Errorf("no output target started: %w", firstErr)
	}
	a.model.State = models.SessionRunning
	a.model.StartedAt = time.Now()
	a.logger().Info("session running",
		"targets", started, "requested", len(formats), "source", a.model.SourceURL)
	return nil
}

// injectEvent assigns the event id, fans the marker out to every running
// target with a bounded per-target timeout, and merges the results into
// appliedTo. CUE-OUT with auto insert arms the return timer; CUE-IN disarms
// any pending one.
func (a *actor) injectEvent(event *models.SCTE35Event) {
	event.EventID = a.model.NextEventID()
	event.IssuedAt = a.mgr.now()
	a.model.Events = append(a.model.Events, event)
	a.mgr.metrics.EventsIssued.WithLabelValues(string(event.Type)).Inc()

	targets := a.model.ActiveTargets()
	var wg sync.WaitGroup
	applied := make([]bool, len(targets))
	for i, target := range targets {
		adp, err := a.mgr.adapters.Get(target.Format)
		if err != nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), a.mgr.injectTimeout)
			defer cancel()
			if err := adp.InjectEvent(ctx, target.ID, event); err != nil {
				a.mgr.metrics.EventsFailed.WithLabelValues(string(target.Format)).Inc()
				a.logger().Warn("marker injection failed",
					"format", target.Format, "eventId", event.EventID, "error", err)
				return
			}
			applied[i] = true
		}()
	}
	wg.Wait()

	for i, ok := range applied {
		if ok {
			event.MarkApplied(targets[i].ID)
			a.mgr.metrics.EventsApplied.WithLabelValues(string(targets[i].Format)).Inc()
		}
	}

	switch event.Type {
	case models.EventCueOut:
		a.armAutoCueIn(event)
	case models.EventCueIn:
		a.disarmAutoCueIn()
	}

	a.logger().Info("event injected",
		"eventId", event.EventID,
		"type", event.Type,
		"appliedTo", event.AppliedTo)
}

// armAutoCueIn schedules the automatic CUE-IN for a CUE-OUT. A newer
// CUE-OUT replaces the pending timer.
func (a *actor) armAutoCueIn(out *models.SCTE35Event) {
	if !a.model.SCTE35.AutoInsert || out.Duration <= 0 {
		return
	}
	a.disarmAutoCueIn()

	a.pendingEventID = out.EventID
	delay := time.Until(out.AutoReturnAt())
	if delay < 0 {
		delay = 0
	}
	outID := out.EventID
	a.pendingAutoCueIn = time.AfterFunc(delay, func() {
		a.post(func() {
			// a manual CUE-IN may have won the race
			if a.pendingEventID != outID || !a.model.State.CanInject() {
				return
			}
			a.pendingAutoCueIn = nil
			a.pendingEventID = 0
			a.injectEvent(&models.SCTE35Event{Type: models.EventCueIn, Auto: true})
		})
	})
}

func (a *actor) disarmAutoCueIn() {
	if a.pendingAutoCueIn != nil {
		a.pendingAutoCueIn.Stop()
		a.pendingAutoCueIn = nil
	}
	a.pendingEventID = 0
}

// stopTargets tears every target down and settles the terminal state.
func (a *actor) stopTargets(ctx context.Context) {
	a.disarmAutoCueIn()
	a.model.State = models.SessionStopping

	var wg sync.WaitGroup
	for _, target := range a.model.Targets {
		if target.Status != models.TargetRunning && target.Status != models.TargetStarting {
			continue
		}
		adp, err := a.mgr.adapters.Get(target.Format)
		if err != nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := adp.Stop(ctx, target.ID); err != nil {
				a.logger().Warn("target stop failed",
					"format", target.Format, "error", err)
			}
			target.Status = models.TargetStopped
			target.StoppedAt = time.Now()
			a.mgr.metrics.TargetsRunning.WithLabelValues(string(target.Format)).Dec()
		}()
	}
	wg.Wait()

	a.model.State = models.SessionStopped
	a.model.StoppedAt = time.Now()
	a.settleTerminal()
	a.logger().Info("session stopped")
}

// settleTerminal marks the session finished and settles the active gauge.
// Runs on the command loop, once per session.
func (a *actor) settleTerminal() {
	a.ended.Store(true)
	if a.counted {
		a.counted = false
		a.mgr.metrics.SessionsActive.Dec()
		a.mgr.metrics.SessionsStopped.Inc()
	}
}

// targetExited records an encoder that died for good.
func (a *actor) targetExited(targetID string, exitErr error) {
	if exitErr == nil {
		return
	}
	var target *models.OutputTarget
	for _, t := range a.model.Targets {
		if t.ID == targetID {
			target = t
			break
		}
	}
	if target == nil || target.Status != models.TargetRunning {
		return
	}
	target.Status = models.TargetFailed
	target.Error = exitErr.Error()
	target.StoppedAt = time.Now()
	a.mgr.metrics.TargetsRunning.WithLabelValues(string(target.Format)).Dec()
	a.mgr.metrics.EncoderFailures.WithLabelValues(string(target.Format)).Inc()
	a.logger().Error("output target failed", "format", target.Format, "error", exitErr)

	if len(a.model.ActiveTargets()) == 0 && a.model.State == models.SessionRunning {
		a.disarmAutoCueIn()
		a.model.State = models.SessionError
		a.model.Error = "all output targets failed"
		a.settleTerminal()
	}
}
