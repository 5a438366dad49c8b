package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const stderrRingSize = 50

// ProcessStats is a snapshot of encoder process resource usage.
type ProcessStats struct {
	PID           int32         `json:"pid"`
	CPUPercent    float64       `json:"cpuPercent"`
	MemoryRSS     uint64        `json:"memoryRssBytes"`
	MemoryPercent float32       `json:"memoryPercent"`
	Uptime        time.Duration `json:"uptime"`
}

// Process is one running encoder process with its captured stderr tail.
type Process struct {
	binary string
	args   []string

	mu      sync.RWMutex
	cmd     *exec.Cmd
	started time.Time
	stderr  []string

	done chan struct{}
	err  error
}

// StartProcess launches the binary and begins capturing stderr. The returned
// process is already running; use Done to observe exit.
func StartProcess(ctx context.Context, binary string, args []string) (*Process, error) {
	p := &Process{
		binary: binary,
		args:   args,
		done:   make(chan struct{}),
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	// Detach the cancel behaviour: the supervisor escalates SIGTERM to
	// SIGKILL itself so a context cancel starts with a graceful signal.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", binary, err)
	}

	p.mu.Lock()
	p.cmd = cmd
	p.started = time.Now()
	p.mu.Unlock()

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			p.appendStderr(scanner.Text())
		}
	}()
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()

	return p, nil
}

func (p *Process) appendStderr(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stderr = append(p.stderr, line)
	if len(p.stderr) > stderrRingSize {
		p.stderr = p.stderr[len(p.stderr)-stderrRingSize:]
	}
}

// PID returns the process id, or 0 if not running.
func (p *Process) PID() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Done is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the exit error after Done is closed.
func (p *Process) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

// Running reports whether the process has not exited yet.
func (p *Process) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Uptime returns how long the process has been running.
func (p *Process) Uptime() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.started.IsZero() {
		return 0
	}
	return time.Since(p.started)
}

// StderrTail returns the most recent stderr lines.
func (p *Process) StderrTail() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.stderr...)
}

// Stop terminates the process: SIGTERM first, SIGKILL once the grace period
// elapses. It waits for the process to exit or the context to be cancelled.
func (p *Process) Stop(ctx context.Context, grace time.Duration) error {
	p.mu.RLock()
	cmd := p.cmd
	p.mu.RUnlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	select {
	case <-p.done:
		return nil
	default:
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return nil
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return ctx.Err()
	case <-timer.C:
		if err := cmd.Process.Kill(); err != nil {
			return fmt.Errorf("killing pid %d: %w", cmd.Process.Pid, err)
		}
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats samples resource usage for the running process.
func (p *Process) Stats() (*ProcessStats, error) {
	pid := p.PID()
	if pid == 0 || !p.Running() {
		return nil, fmt.Errorf("process not running")
	}

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("inspecting pid %d: %w", pid, err)
	}

	stats := &ProcessStats{PID: int32(pid), Uptime: p.Uptime()}
	if cpu, err := proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		stats.MemoryRSS = mem.RSS
	}
	if pct, err := proc.MemoryPercent(); err == nil {
		stats.MemoryPercent = pct
	}
	return stats, nil
}
