package dispatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcher_PreservesOrderPerKey(t *testing.T) {
	d := New(context.Background(), 4, testLogger())

	var mu sync.Mutex
	got := make(map[int64][]int)
	for i := 0; i < 50; i++ {
		for _, key := range []int64{1, 2, 3} {
			i, key := i, key
			d.Submit(key, func(context.Context) {
				mu.Lock()
				got[key] = append(got[key], i)
				mu.Unlock()
			})
		}
	}
	d.Close()

	for key, seq := range got {
		if len(seq) != 50 {
			t.Fatalf("key %d ran %d jobs, want 50", key, len(seq))
		}
		for i, v := range seq {
			if v != i {
				t.Fatalf("key %d out of order at %d: %v", key, i, seq)
			}
		}
	}
}

func TestDispatcher_KeysRunConcurrently(t *testing.T) {
	d := New(context.Background(), 2, testLogger())
	release := make(chan struct{})
	started := make(chan int64, 2)

	for _, key := range []int64{1, 2} {
		key := key
		d.Submit(key, func(context.Context) {
			started <- key
			<-release
		})
	}

	timeout := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-timeout:
			t.Fatal("second key blocked behind the first")
		}
	}
	close(release)
	d.Close()
}

func TestDispatcher_ConcurrencyBound(t *testing.T) {
	d := New(context.Background(), 2, testLogger())
	var running, peak atomic.Int32

	for key := int64(0); key < 10; key++ {
		d.Submit(key, func(context.Context) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		})
	}
	d.Close()

	if p := peak.Load(); p > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", p)
	}
}

func TestDispatcher_PanicDoesNotStopQueue(t *testing.T) {
	d := New(context.Background(), 1, testLogger())
	var ran atomic.Bool

	d.Submit(7, func(context.Context) { panic("boom") })
	d.Submit(7, func(context.Context) { ran.Store(true) })
	d.Close()

	if !ran.Load() {
		t.Fatal("job after panic did not run")
	}
}

func TestDispatcher_SubmitAfterClose(t *testing.T) {
	d := New(context.Background(), 1, testLogger())
	d.Close()
	if d.Submit(1, func(context.Context) {}) {
		t.Fatal("submit after close should be rejected")
	}
}

func TestDispatcher_Pending(t *testing.T) {
	d := New(context.Background(), 1, testLogger())
	release := make(chan struct{})
	started := make(chan struct{})

	d.Submit(1, func(context.Context) {
		close(started)
		<-release
	})
	<-started
	d.Submit(1, func(context.Context) {})
	d.Submit(1, func(context.Context) {})

	if n := d.Pending(1); n != 2 {
		t.Fatalf("pending = %d, want 2", n)
	}
	close(release)
	d.Close()
	if n := d.Pending(1); n != 0 {
		t.Fatalf("pending after close = %d", n)
	}
}
