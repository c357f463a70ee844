package resultcache

import (
	"context"
	"testing"
	"time"

	"github.com/cylonrun/cylon/internal/rpc"
)

func TestCache_InsertGet(t *testing.T) {
	t.Parallel()
	c := New(time.Minute)

	want := rpc.InferenceRunReply{Status: rpc.StatusOK, UUID: "job-1"}
	c.Insert("job-1", want)

	got, ok := c.Get("job-1")
	if !ok {
		t.Fatal("Get() = false, want true")
	}
	if got.UUID != want.UUID || got.Status != want.Status {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestCache_Get_MissingKey(t *testing.T) {
	t.Parallel()
	c := New(time.Minute)
	if _, ok := c.Get("missing"); ok {
		t.Error("Get() = true for missing key, want false")
	}
}

func TestCache_Get_TTLFixedFromInsert_NotExtendedByReads(t *testing.T) {
	t.Parallel()
	ttl := 40 * time.Millisecond
	c := New(ttl)
	c.Insert("job-1", rpc.InferenceRunReply{Status: rpc.StatusOK, UUID: "job-1"})

	// Repeatedly read well within the TTL; none of these reads should slide
	// the entry's expiry forward.
	deadline := time.Now().Add(ttl - 10*time.Millisecond)
	for time.Now().Before(deadline) {
		if _, ok := c.Get("job-1"); !ok {
			t.Fatal("Get() = false before ttl elapsed, want true")
		}
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(20 * time.Millisecond) // now past ttl from the original insert

	if _, ok := c.Get("job-1"); ok {
		t.Error("Get() = true after ttl elapsed from insert, want false (touch-on-hit must stay disabled)")
	}
}

func TestCache_Get_ExpiredEntryNotObservable(t *testing.T) {
	t.Parallel()
	c := New(10 * time.Millisecond)
	c.Insert("job-1", rpc.InferenceRunReply{Status: rpc.StatusOK})

	time.Sleep(50 * time.Millisecond)

	if _, ok := c.Get("job-1"); ok {
		t.Error("Get() = true for expired entry, want false")
	}
}

func TestCache_Insert_OverwritesPriorEntry(t *testing.T) {
	t.Parallel()
	c := New(time.Minute)
	c.Insert("job-1", rpc.InferenceRunReply{Status: rpc.StatusQueued})
	c.Insert("job-1", rpc.InferenceRunReply{Status: rpc.StatusCompleted})

	got, ok := c.Get("job-1")
	if !ok {
		t.Fatal("Get() = false, want true")
	}
	if got.Status != rpc.StatusCompleted {
		t.Errorf("Status = %v, want %v", got.Status, rpc.StatusCompleted)
	}
}

func TestCache_Len(t *testing.T) {
	t.Parallel()
	c := New(time.Minute)
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", c.Len())
	}
	c.Insert("a", rpc.InferenceRunReply{})
	c.Insert("b", rpc.InferenceRunReply{})
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestCache_CleanupExpired(t *testing.T) {
	t.Parallel()
	c := New(10 * time.Millisecond)
	c.Insert("job-1", rpc.InferenceRunReply{})
	time.Sleep(50 * time.Millisecond)

	c.CleanupExpired()
	if c.Len() != 0 {
		t.Errorf("Len() = %d after CleanupExpired, want 0", c.Len())
	}
}

func TestRunEvictionLoop_StopsOnContextCancel(t *testing.T) {
	t.Parallel()
	c := New(5 * time.Millisecond)
	c.Insert("job-1", rpc.InferenceRunReply{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunEvictionLoop(ctx, nil, c, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunEvictionLoop did not stop after context cancellation")
	}
}
