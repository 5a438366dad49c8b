package adapter

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned for submissions after the target stopped.
var ErrQueueClosed = errors.New("adapter: target queue closed")

// serialQueue applies injections for one target in FIFO order. Each job runs
// to completion before the next starts, so markers never reorder even when
// callers race.
type serialQueue struct {
	jobs chan func()

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

func newSerialQueue(depth int) *serialQueue {
	if depth <= 0 {
		depth = 16
	}
	q := &serialQueue{
		jobs:   make(chan func(), depth),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *serialQueue) run() {
	defer close(q.done)
	for {
		select {
		case job := <-q.jobs:
			job()
		case <-q.closed:
			// drain whatever was accepted before close
			for {
				select {
				case job := <-q.jobs:
					job()
				default:
					return
				}
			}
		}
	}
}

// Do submits fn and waits for it to run, honoring the context deadline for
// the wait. fn still runs even if the caller gave up waiting.
func (q *serialQueue) Do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	job := func() { result <- fn() }

	select {
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	case q.jobs <- job:
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for accepted jobs to finish.
func (q *serialQueue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
	<-q.done
}
