// ABOUTME: Single-goroutine task executor for stream lifecycle work
// ABOUTME: Network and capture goroutines post tasks here instead of calling lifecycle methods directly
package lifecycle

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrStopped is returned when posting to a stopped executor
var ErrStopped = errors.New("executor stopped")

// DefaultQueueSize is the task queue length used when none is given
const DefaultQueueSize = 64

// Executor runs posted tasks one at a time on its own goroutine
type Executor struct {
	tasks    chan func()
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewExecutor creates an executor with a bounded task queue
func NewExecutor(queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Executor{
		tasks:    make(chan func(), queueSize),
		stopChan: make(chan struct{}),
	}
}

// Start runs the executor loop in the background
func (e *Executor) Start() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.Run()
	}()
}

// Run executes tasks until Stop is called
func (e *Executor) Run() {
	for {
		select {
		case <-e.stopChan:
			return
		case task := <-e.tasks:
			e.run(task)
		}
	}
}

func (e *Executor) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Lifecycle task panicked: %v", r)
		}
	}()
	task()
}

// Post queues a task without blocking. It returns false when the queue is
// full or the executor has stopped.
func (e *Executor) Post(task func()) bool {
	select {
	case <-e.stopChan:
		return false
	default:
	}

	select {
	case e.tasks <- task:
		return true
	default:
		return false
	}
}

// Call runs fn on the executor and waits for its result. It must not be
// called from a task.
func (e *Executor) Call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	task := func() { done <- fn() }

	select {
	case e.tasks <- task:
	case <-e.stopChan:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-e.stopChan:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends the loop and waits for the running task to finish. Queued
// tasks that have not started are discarded.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopChan)
	})
	e.wg.Wait()
}
