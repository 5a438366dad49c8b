package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrGaveUp is reported when the restart budget is exhausted.
var ErrGaveUp = errors.New("supervisor: restart attempts exhausted")

// Options tunes restart and shutdown behaviour for supervised processes.
type Options struct {
	StartTimeout     time.Duration
	StopTimeout      time.Duration
	RestartAttempts  int
	RestartBaseDelay time.Duration
	RestartMaxDelay  time.Duration
	KillGracePeriod  time.Duration
	// MinRunTime resets the attempt counter once a process survives this
	// long, so a flaky encoder does not burn the budget over hours.
	MinRunTime time.Duration
}

// DefaultOptions returns the tuning used when the config leaves encoder
// settings empty.
func DefaultOptions() Options {
	return Options{
		StartTimeout:     20 * time.Second,
		StopTimeout:      10 * time.Second,
		RestartAttempts:  5,
		RestartBaseDelay: time.Second,
		RestartMaxDelay:  30 * time.Second,
		KillGracePeriod:  5 * time.Second,
		MinRunTime:       30 * time.Second,
	}
}

// Spec describes a process to supervise.
type Spec struct {
	// Name identifies the process in logs ("promo1/hls").
	Name   string
	Binary string
	Args   []string
	Health HealthCheck
	// OnRestart is called after each successful restart.
	OnRestart func(restarts int)
	// OnExit is called once when the handle stops supervising, with nil on
	// requested stop and the terminal error otherwise.
	OnExit func(err error)
}

// Supervisor runs encoder processes and restarts them on failure.
type Supervisor struct {
	opts   Options
	logger *slog.Logger
}

// New creates a supervisor.
func New(opts Options, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RestartBaseDelay <= 0 {
		opts.RestartBaseDelay = time.Second
	}
	if opts.RestartMaxDelay <= 0 {
		opts.RestartMaxDelay = 30 * time.Second
	}
	if opts.KillGracePeriod <= 0 {
		opts.KillGracePeriod = 5 * time.Second
	}
	if opts.MinRunTime <= 0 {
		opts.MinRunTime = 30 * time.Second
	}
	return &Supervisor{opts: opts, logger: logger}
}

// Handle is one supervised process. It stays valid across restarts.
type Handle struct {
	spec Spec
	sup  *Supervisor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	proc     *Process
	restarts int
	lastErr  error
	stopping bool
	exited   bool

	done chan struct{}
}

// Start launches the process and, once healthy, begins supervising it. It
// blocks until the initial health check passes or fails.
func (s *Supervisor) Start(ctx context.Context, spec Spec) (*Handle, error) {
	if spec.Health == nil {
		spec.Health = NoCheck{}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		spec:   spec,
		sup:    s,
		ctx:    runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	proc, err := h.launch(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	h.mu.Lock()
	h.proc = proc
	h.mu.Unlock()

	h.wg.Add(1)
	go h.supervise()
	return h, nil
}

// launch starts the process and waits for it to become healthy.
func (h *Handle) launch(ctx context.Context) (*Process, error) {
	proc, err := StartProcess(h.ctx, h.spec.Binary, h.spec.Args)
	if err != nil {
		return nil, err
	}

	healthCtx := ctx
	if h.sup.opts.StartTimeout > 0 {
		var cancel context.CancelFunc
		healthCtx, cancel = context.WithTimeout(ctx, h.sup.opts.StartTimeout)
		defer cancel()
	}

	healthErr := make(chan error, 1)
	go func() { healthErr <- h.spec.Health.Wait(healthCtx) }()

	select {
	case err := <-healthErr:
		if err != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), h.sup.opts.StopTimeout)
			defer cancel()
			_ = proc.Stop(stopCtx, h.sup.opts.KillGracePeriod)
			return nil, fmt.Errorf("%s: health check: %w (stderr: %s)",
				h.spec.Name, err, tailSummary(proc))
		}
		return proc, nil
	case <-proc.Done():
		return nil, fmt.Errorf("%s: exited during startup: %w (stderr: %s)",
			h.spec.Name, proc.Err(), tailSummary(proc))
	}
}

func (h *Handle) supervise() {
	defer h.wg.Done()
	defer close(h.done)

	attempts := 0
	for {
		h.mu.RLock()
		proc := h.proc
		h.mu.RUnlock()

		select {
		case <-proc.Done():
		case <-h.ctx.Done():
			return
		}

		h.mu.RLock()
		stopping := h.stopping
		h.mu.RUnlock()
		if stopping {
			return
		}

		if proc.Uptime() >= h.sup.opts.MinRunTime {
			attempts = 0
		}
		attempts++
		if attempts > h.sup.opts.RestartAttempts {
			err := fmt.Errorf("%w: %s after %d attempts: %v",
				ErrGaveUp, h.spec.Name, attempts-1, proc.Err())
			h.finish(err)
			return
		}

		delay := backoffDelay(h.sup.opts.RestartBaseDelay, h.sup.opts.RestartMaxDelay, attempts)
		h.sup.logger.Warn("encoder exited, restarting",
			"name", h.spec.Name,
			"attempt", attempts,
			"delay", delay,
			"error", proc.Err())

		select {
		case <-time.After(delay):
		case <-h.ctx.Done():
			return
		}

		next, err := h.launch(h.ctx)
		if err != nil {
			if h.ctx.Err() != nil {
				return
			}
			h.sup.logger.Error("encoder restart failed",
				"name", h.spec.Name, "attempt", attempts, "error", err)
			if attempts >= h.sup.opts.RestartAttempts {
				h.finish(fmt.Errorf("%w: %s: %v", ErrGaveUp, h.spec.Name, err))
				return
			}
			continue
		}

		h.mu.Lock()
		h.proc = next
		h.restarts++
		restarts := h.restarts
		h.mu.Unlock()
		if h.spec.OnRestart != nil {
			h.spec.OnRestart(restarts)
		}
	}
}

func (h *Handle) finish(err error) {
	h.mu.Lock()
	h.lastErr = err
	h.exited = true
	h.mu.Unlock()
	if h.spec.OnExit != nil {
		h.spec.OnExit(err)
	}
}

// Stop terminates the process and stops supervising it.
func (h *Handle) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.stopping {
		h.mu.Unlock()
		h.wg.Wait()
		return nil
	}
	h.stopping = true
	proc := h.proc
	h.mu.Unlock()

	var err error
	if proc != nil {
		err = proc.Stop(ctx, h.sup.opts.KillGracePeriod)
	}
	h.cancel()
	h.wg.Wait()

	h.mu.Lock()
	exited := h.exited
	h.exited = true
	h.mu.Unlock()
	if !exited && h.spec.OnExit != nil {
		h.spec.OnExit(nil)
	}
	return err
}

// Done is closed when supervision ends, either by Stop or by giving up.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the terminal error, nil if supervision ended by request.
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr
}

// Restarts returns how many times the process has been restarted.
func (h *Handle) Restarts() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.restarts
}

// Stats samples resource usage of the current process.
func (h *Handle) Stats() (*ProcessStats, error) {
	h.mu.RLock()
	proc := h.proc
	h.mu.RUnlock()
	if proc == nil {
		return nil, fmt.Errorf("no process")
	}
	return proc.Stats()
}

// StderrTail returns recent stderr lines of the current process.
func (h *Handle) StderrTail() []string {
	h.mu.RLock()
	proc := h.proc
	h.mu.RUnlock()
	if proc == nil {
		return nil
	}
	return proc.StderrTail()
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func tailSummary(p *Process) string {
	tail := p.StderrTail()
	if len(tail) > 3 {
		tail = tail[len(tail)-3:]
	}
	if len(tail) == 0 {
		return "<empty>"
	}
	return strings.Join(tail, " | ")
}
