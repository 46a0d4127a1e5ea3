package imagery

import "github.com/gogpu/tilecache/internal/parallel"

// Executor runs fetch tasks. Submit returns an error when the task was
// not accepted; the request is then dropped.
type Executor interface {
	Submit(task func()) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(task func()) error

// Submit calls f(task).
func (f ExecutorFunc) Submit(task func()) error {
	return f(task)
}

// GoExecutor runs every task on a new goroutine.
var GoExecutor Executor = ExecutorFunc(func(task func()) error {
	go task()
	return nil
})

// WorkerPool is a bounded Executor with work stealing.
type WorkerPool = parallel.WorkerPool

// ErrPoolClosed is returned by WorkerPool.Submit after Close.
var ErrPoolClosed = parallel.ErrPoolClosed

// NewWorkerPool starts a pool of workers. Non-positive workers uses
// GOMAXPROCS.
func NewWorkerPool(workers int) *WorkerPool {
	return parallel.NewWorkerPool(workers)
}
