package queue

import (
	"runtime/debug"
	"sync"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
)

// SerialQueue executes submitted tasks one at a time, in submission order, on a single worker goroutine.
//
// A task is only started once the previous task has returned, so the order in which tasks are submitted
// is exactly the order in which their effects are observed. A panicking task is recovered and logged;
// the tasks after it still run.
type SerialQueue struct {
	pending *Fifo[func()]
	cond    *sync.Cond
	closed  bool
	stopped chan struct{}

	log logger.Logger
	mu  sync.Mutex
}

// NewSerialQueue creates a SerialQueue and starts its worker goroutine.
func NewSerialQueue(name string) *SerialQueue {
	q := &SerialQueue{
		pending: NewFifo[func()](16),
		stopped: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)

	config.InitLogger(&q.log, name+" ")

	go q.run()

	return q
}

// Submit enqueues a task. Submit returns false, and the task is discarded, if the queue has been closed.
func (q *SerialQueue) Submit(task func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.pending.Enqueue(task)
	q.cond.Signal()
	return true
}

// Len returns the number of tasks that have been submitted but not yet started.
func (q *SerialQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.pending.Len()
}

// Sync blocks until every task submitted before the call to Sync has completed.
//
// Sync must not be called from within a task, as that task would wait for itself.
func (q *SerialQueue) Sync() {
	done := make(chan struct{})
	if !q.Submit(func() { close(done) }) {
		return
	}

	select {
	case <-done:
	case <-q.stopped:
	}
}

// Close stops the worker. Tasks that have not yet started are discarded. Close does not wait for a
// running task to finish; use Stopped for that.
func (q *SerialQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	q.pending.Clear()
	q.cond.Broadcast()
}

// Stopped returns a channel that is closed once the worker goroutine has exited.
func (q *SerialQueue) Stopped() <-chan struct{} {
	return q.stopped
}

func (q *SerialQueue) run() {
	defer close(q.stopped)

	for {
		q.mu.Lock()
		for q.pending.Len() == 0 && !q.closed {
			q.cond.Wait()
		}

		if q.closed {
			q.mu.Unlock()
			return
		}

		task, _ := q.pending.Dequeue()
		q.mu.Unlock()

		q.execute(task)
	}
}

func (q *SerialQueue) execute(task func()) {
	defer func() {
		if err := recover(); err != nil {
			q.log.Error("Recovered from panic in queued task: %v\n%s", err, string(debug.Stack()))
		}
	}()

	task()
}
