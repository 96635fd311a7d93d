package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chidi150c/hkwarrant-engine/internal/strategy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRefreshGateWaitForFreshUnblocksOnMarkFresh(t *testing.T) {
	g := NewRefreshGate()
	v := g.MarkStale()

	result := make(chan bool, 1)
	go func() { result <- g.WaitForFresh(v, nil) }()

	time.Sleep(20 * time.Millisecond) // let the waiter block
	g.MarkFresh(v)

	select {
	case ok := <-result:
		if !ok {
			t.Fatal("expected WaitForFresh to return true")
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForFresh did not unblock after MarkFresh")
	}
}

func TestRefreshGateWaitForFreshReturnsImmediatelyIfAlreadyFresh(t *testing.T) {
	g := NewRefreshGate()
	v := g.MarkStale()
	g.MarkFresh(v)

	if !g.WaitForFresh(v, nil) {
		t.Fatal("expected immediate true")
	}
}

func TestRefreshGateWaitForFreshRespectsStop(t *testing.T) {
	g := NewRefreshGate()
	v := g.MarkStale()
	stop := make(chan struct{})

	result := make(chan bool, 1)
	go func() { result <- g.WaitForFresh(v, stop) }()

	time.Sleep(20 * time.Millisecond)
	close(stop)

	select {
	case ok := <-result:
		if ok {
			t.Fatal("expected false when stop fires before fresh")
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForFresh did not unblock after stop")
	}
}

func TestMonitorTaskQueueCoalescesByDedupeKey(t *testing.T) {
	q := NewMonitorTaskQueue()
	q.ScheduleLatest(MonitorTask{Kind: TaskAutoSymbolTick, DedupeKey: "700:LONG", SeatVersion: 1})
	q.ScheduleLatest(MonitorTask{Kind: TaskAutoSymbolTick, DedupeKey: "700:LONG", SeatVersion: 2})

	if q.Len() != 1 {
		t.Fatalf("expected 1 coalesced task, got %d", q.Len())
	}
	task, ok := q.pop()
	if !ok || task.SeatVersion != 2 {
		t.Fatalf("expected the latest task (version 2) to survive, got %+v ok=%v", task, ok)
	}
	if _, ok := q.pop(); ok {
		t.Fatal("expected queue empty after pop")
	}
}

func TestWorkerProcessesQueuedSignalsInOrder(t *testing.T) {
	q := NewSignalQueue()
	var mu sync.Mutex
	var seen []string

	w := NewWorker(q, func(ctx context.Context, sig *strategy.Signal) {
		mu.Lock()
		seen = append(seen, sig.Symbol)
		mu.Unlock()
		strategy.Release(sig)
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	for _, sym := range []string{"a", "b", "c"} {
		sig := strategy.Acquire()
		sig.Symbol = sym
		q.Push(sig)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	w.StopAndDrain()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 || seen[0] != "a" || seen[1] != "b" || seen[2] != "c" {
		t.Fatalf("expected in-order processing a,b,c; got %v", seen)
	}
}

func TestWorkerStopAndDrainWaitsForInFlight(t *testing.T) {
	q := NewSignalQueue()
	var started, finished int32

	w := NewWorker(q, func(ctx context.Context, sig *strategy.Signal) {
		atomic.StoreInt32(&started, 1)
		time.Sleep(50 * time.Millisecond)
		atomic.StoreInt32(&finished, 1)
		strategy.Release(sig)
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	sig := strategy.Acquire()
	sig.Symbol = "slow"
	q.Push(sig)

	for atomic.LoadInt32(&started) == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	w.StopAndDrain()

	if atomic.LoadInt32(&finished) != 1 {
		t.Fatal("expected StopAndDrain to wait for the in-flight handler to finish")
	}
}
