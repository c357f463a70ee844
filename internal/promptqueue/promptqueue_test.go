package promptqueue

import (
	"errors"
	"testing"

	"github.com/cylonrun/cylon/internal/rpc"
	"github.com/cylonrun/cylon/internal/servingerrors"
)

func TestQueue_EnqueueDequeue_FIFO(t *testing.T) {
	t.Parallel()
	q := New(10)

	jobs := []rpc.QueuedJob{{JobID: "1"}, {JobID: "2"}, {JobID: "3"}}
	for _, j := range jobs {
		if err := q.Enqueue(j); err != nil {
			t.Fatalf("Enqueue(%v): %v", j, err)
		}
	}

	for _, want := range jobs {
		got, ok := q.Dequeue()
		if !ok {
			t.Fatalf("Dequeue() ok=false, want true")
		}
		if got.JobID != want.JobID {
			t.Errorf("Dequeue() = %+v, want %+v (FIFO order)", got, want)
		}
	}
}

func TestQueue_Dequeue_EmptyReturnsFalse(t *testing.T) {
	t.Parallel()
	q := New(1)
	if _, ok := q.Dequeue(); ok {
		t.Error("Dequeue() ok=true on empty queue, want false")
	}
}

func TestQueue_Enqueue_FullReturnsQueueFull(t *testing.T) {
	t.Parallel()
	q := New(1)
	if err := q.Enqueue(rpc.QueuedJob{JobID: "1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	err := q.Enqueue(rpc.QueuedJob{JobID: "2"})
	if err == nil {
		t.Fatal("expected error when queue is full, got nil")
	}
	if !errors.Is(err, servingerrors.ErrQueueFull) {
		t.Errorf("error = %v, want errors.Is match for ErrQueueFull", err)
	}
}

func TestQueue_Len(t *testing.T) {
	t.Parallel()
	q := New(5)
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
	_ = q.Enqueue(rpc.QueuedJob{JobID: "1"})
	_ = q.Enqueue(rpc.QueuedJob{JobID: "2"})
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}

func TestQueue_Dequeue_AfterCloseDrainsThenFalse(t *testing.T) {
	t.Parallel()
	q := New(2)
	_ = q.Enqueue(rpc.QueuedJob{JobID: "1"})
	q.Close()

	got, ok := q.Dequeue()
	if !ok || got.JobID != "1" {
		t.Fatalf("Dequeue() = %+v, %v; want {JobID:1}, true", got, ok)
	}

	if _, ok := q.Dequeue(); ok {
		t.Error("Dequeue() after drain of closed queue ok=true, want false")
	}
}
