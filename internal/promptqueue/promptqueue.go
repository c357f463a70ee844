// Package promptqueue implements the bounded FIFO of pending generation jobs
// between admission and the background drainer.
package promptqueue

import (
	"github.com/cylonrun/cylon/internal/rpc"
	"github.com/cylonrun/cylon/internal/servingerrors"
)

// Queue is a bounded FIFO of rpc.QueuedJob backed by a buffered channel.
// Enqueue never blocks: it fails with servingerrors.ErrQueueFull once the
// buffer is full. Dequeue never blocks either: it reports ok=false both when
// the queue is empty and once the queue has been closed and drained.
type Queue struct {
	ch chan rpc.QueuedJob
}

// New constructs a Queue with the given capacity.
func New(bufferSize int) *Queue {
	return &Queue{ch: make(chan rpc.QueuedJob, bufferSize)}
}

// Enqueue accepts job onto the queue, or fails with ErrQueueFull if the
// buffer is at capacity.
func (q *Queue) Enqueue(job rpc.QueuedJob) error {
	select {
	case q.ch <- job:
		return nil
	default:
		return servingerrors.ErrQueueFull
	}
}

// Dequeue returns the next job in FIFO order, or ok=false if none is
// currently available. It never blocks.
func (q *Queue) Dequeue() (job rpc.QueuedJob, ok bool) {
	select {
	case job, ok := <-q.ch:
		return job, ok
	default:
		return rpc.QueuedJob{}, false
	}
}

// Len reports the number of jobs currently buffered.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel. After Close, Enqueue panics (as
// sending on a closed channel does) and Dequeue continues to drain any
// already-buffered jobs before reporting ok=false. Callers must stop calling
// Enqueue before calling Close.
func (q *Queue) Close() {
	close(q.ch)
}
