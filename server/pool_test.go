package server

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPoolBound(t *testing.T) {
	const (
		size  = 3
		tasks = 20
	)
	p := NewPool(size, zerolog.Nop())

	var (
		running atomic.Int32
		peak    atomic.Int32
		done    sync.WaitGroup
	)
	release := make(chan struct{})
	done.Add(tasks)

	go func() {
		for i := 0; i < tasks; i++ {
			err := p.Schedule(context.Background(), func() {
				defer done.Done()
				n := running.Add(1)
				for {
					m := peak.Load()
					if n <= m || peak.CompareAndSwap(m, n) {
						break
					}
				}
				<-release
				running.Add(-1)
			})
			if err != nil {
				t.Errorf("Schedule() = %v", err)
				done.Done()
			}
		}
	}()

	waitUntil(t, func() bool { return running.Load() == size })
	// Give excess tasks a chance to start if the bound is broken.
	time.Sleep(10 * time.Millisecond)
	if n := running.Load(); n != size {
		t.Fatalf("%d tasks are running; want %d", n, size)
	}

	close(release)
	done.Wait()

	if n := peak.Load(); n > size {
		t.Errorf("peak concurrency is %d; want at most %d", n, size)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Errorf("Wait() = %v", err)
	}
}

func TestPoolPanic(t *testing.T) {
	p := NewPool(1, zerolog.Nop())

	if err := p.Schedule(context.Background(), func() { panic("boom") }); err != nil {
		t.Fatal(err)
	}
	ran := make(chan struct{})
	if err := p.Schedule(context.Background(), func() { close(ran) }); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("worker is not released after panic")
	}
}

func TestPoolScheduleCancelled(t *testing.T) {
	p := NewPool(1, zerolog.Nop())

	release := make(chan struct{})
	defer close(release)
	p.Schedule(context.Background(), func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	var ran atomic.Bool
	if err := p.Schedule(ctx, func() { ran.Store(true) }); err != context.DeadlineExceeded {
		t.Fatalf("Schedule() = %v; want %v", err, context.DeadlineExceeded)
	}
	if err := p.Wait(ctx); err != context.DeadlineExceeded {
		t.Fatalf("Wait() = %v; want %v", err, context.DeadlineExceeded)
	}
	if ran.Load() {
		t.Fatal("task is run after Schedule failed")
	}
}

func TestNewPoolDefaultSize(t *testing.T) {
	if n := NewPool(0, zerolog.Nop()).Size(); n != DefaultWorkers {
		t.Fatalf("Size() = %d; want %d", n, DefaultWorkers)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition is not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
