package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

// HealthCheck reports readiness of a freshly started encoder. Checks block
// until ready, error, or context cancellation.
type HealthCheck interface {
	Wait(ctx context.Context) error
}

// FileCheck waits until a file exists and is non-empty. HLS and DASH
// targets are ready once the first playlist or manifest appears on disk.
type FileCheck struct {
	Path string
}

// Wait watches the parent directory until the file shows up.
func (c FileCheck) Wait(ctx context.Context) error {
	if ready, err := fileReady(c.Path); err == nil && ready {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(c.Path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	// The file may have appeared between the stat and the watch.
	if ready, err := fileReady(c.Path); err == nil && ready {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			if event.Name != c.Path {
				continue
			}
			if ready, err := fileReady(c.Path); err == nil && ready {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}
}

func fileReady(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.Size() > 0, nil
}

// PortCheck waits until a TCP port accepts connections. Socket targets are
// ready once their listener is up.
type PortCheck struct {
	Address string
}

// Wait polls the address until it connects.
func (c PortCheck) Wait(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	dialer := net.Dialer{Timeout: 250 * time.Millisecond}
	for {
		conn, err := dialer.DialContext(ctx, "tcp", c.Address)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// BindCheck waits until something else holds a TCP listener on the
// address. Listen-mode encoders accept exactly one connection, so dialing
// them would consume it; checking for a bind conflict observes the listener
// without touching it.
type BindCheck struct {
	Address string
}

// Wait polls by trying to bind the address; address-in-use means ready.
func (c BindCheck) Wait(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		ln, err := net.Listen("tcp", c.Address)
		if err == nil {
			ln.Close()
		} else if errors.Is(err, syscall.EADDRINUSE) {
			return nil
		} else {
			return fmt.Errorf("checking %s: %w", c.Address, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// NoCheck reports ready immediately.
type NoCheck struct{}

func (NoCheck) Wait(context.Context) error { return nil }
