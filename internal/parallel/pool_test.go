package parallel

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Creation
// =============================================================================

func TestWorkerPool_Create(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		want    int
	}{
		{"explicit", 4, 4},
		{"zero uses GOMAXPROCS", 0, runtime.GOMAXPROCS(0)},
		{"negative uses GOMAXPROCS", -5, runtime.GOMAXPROCS(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewWorkerPool(tt.workers)
			defer pool.Close()

			if pool.Workers() != tt.want {
				t.Errorf("Workers() = %d, want %d", pool.Workers(), tt.want)
			}
			if !pool.IsRunning() {
				t.Error("pool should be running after creation")
			}
		})
	}
}

// =============================================================================
// Submit
// =============================================================================

func TestWorkerPool_Submit(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	var counter atomic.Int64
	const numTasks = 20
	done := make(chan struct{})

	for range numTasks {
		err := pool.Submit(func() {
			if counter.Add(1) == numTasks {
				close(done)
			}
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Errorf("timeout waiting for submitted work, counter = %d", counter.Load())
	}
}

func TestWorkerPool_Submit_Nil(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	if err := pool.Submit(nil); err != nil {
		t.Errorf("Submit(nil) = %v, want nil", err)
	}
}

func TestWorkerPool_Submit_AfterClose(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Close()

	var executed atomic.Bool
	err := pool.Submit(func() { executed.Store(true) })
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit after Close = %v, want ErrPoolClosed", err)
	}

	pool.ExecuteAll([]func(){func() { executed.Store(true) }})

	time.Sleep(20 * time.Millisecond)
	if executed.Load() {
		t.Error("work was executed on a closed pool")
	}
}

func TestWorkerPool_PanicRecovered(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Close()

	pool.ExecuteAll([]func(){func() { panic("provider blew up") }})

	// The single worker must survive the panic.
	var ran atomic.Bool
	pool.ExecuteAll([]func(){func() { ran.Store(true) }})
	if !ran.Load() {
		t.Fatal("worker did not survive a panicking task")
	}

	// Counters are updated after the task returns; Close waits for that.
	pool.Close()
	executed, panicked := pool.Stats()
	if panicked != 1 {
		t.Errorf("panicked = %d, want 1", panicked)
	}
	if executed != 1 {
		t.Errorf("executed = %d, want 1", executed)
	}
}

// =============================================================================
// ExecuteAll
// =============================================================================

func TestWorkerPool_ExecuteAll(t *testing.T) {
	for _, workers := range []int{1, 4, 32} {
		pool := NewWorkerPool(workers)

		var counter atomic.Int64
		work := make([]func(), 100)
		for i := range work {
			work[i] = func() { counter.Add(1) }
		}
		pool.ExecuteAll(work)
		pool.Close()

		if counter.Load() != 100 {
			t.Errorf("workers=%d: counter = %d, want 100", workers, counter.Load())
		}
	}
}

func TestWorkerPool_ExecuteAll_Empty(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	pool.ExecuteAll(nil)
	pool.ExecuteAll([]func(){})
}

func TestWorkerPool_WorkStealing(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	var fast, slow atomic.Int64
	work := make([]func(), 100)
	for i := range work {
		if i%10 == 0 {
			work[i] = func() {
				time.Sleep(5 * time.Millisecond)
				slow.Add(1)
			}
		} else {
			work[i] = func() { fast.Add(1) }
		}
	}
	pool.ExecuteAll(work)

	if slow.Load() != 10 || fast.Load() != 90 {
		t.Errorf("slow=%d fast=%d, want 10 and 90", slow.Load(), fast.Load())
	}
}

// =============================================================================
// Close
// =============================================================================

func TestWorkerPool_CloseIdempotent(t *testing.T) {
	pool := NewWorkerPool(4)
	pool.Close()
	pool.Close()

	if pool.IsRunning() {
		t.Error("pool should not be running after close")
	}
}

// Every task accepted by Submit must run, even when Close races with it.
func TestWorkerPool_CloseRunsAcceptedWork(t *testing.T) {
	for range 20 {
		pool := NewWorkerPool(2)

		var accepted, ran atomic.Int64
		var wg sync.WaitGroup
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 50 {
					if pool.Submit(func() { ran.Add(1) }) == nil {
						accepted.Add(1)
					}
				}
			}()
		}
		pool.Close()
		wg.Wait()

		if ran.Load() != accepted.Load() {
			t.Fatalf("ran %d of %d accepted tasks", ran.Load(), accepted.Load())
		}
	}
}

func TestWorkerPool_NoGoroutineLeak(t *testing.T) {
	runtime.GC()
	time.Sleep(50 * time.Millisecond)
	baseline := runtime.NumGoroutine()

	for range 5 {
		pool := NewWorkerPool(4)
		work := make([]func(), 100)
		for j := range work {
			work[j] = func() {}
		}
		pool.ExecuteAll(work)
		pool.Close()
	}

	runtime.GC()
	time.Sleep(100 * time.Millisecond)

	if final := runtime.NumGoroutine(); final > baseline+2 {
		t.Errorf("goroutine count: baseline=%d, final=%d (leak detected)", baseline, final)
	}
}

func TestWorkerPool_QueuedWork(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	if pool.QueuedWork() != 0 {
		t.Errorf("initial QueuedWork() = %d, want 0", pool.QueuedWork())
	}
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkWorkerPool_Submit(b *testing.B) {
	pool := NewWorkerPool(runtime.GOMAXPROCS(0))
	defer pool.Close()

	b.ReportAllocs()
	for b.Loop() {
		done := make(chan struct{})
		_ = pool.Submit(func() { close(done) })
		<-done
	}
}

func BenchmarkWorkerPool_ExecuteAll(b *testing.B) {
	pool := NewWorkerPool(runtime.GOMAXPROCS(0))
	defer pool.Close()

	work := make([]func(), 100)
	for i := range work {
		work[i] = func() {}
	}

	b.ReportAllocs()
	for b.Loop() {
		pool.ExecuteAll(work)
	}
}
