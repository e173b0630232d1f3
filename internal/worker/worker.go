// ============================================================================
// Worker - Task Execution Unit
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: Work unit that executes reconciliation tasks, each Worker runs in
// an independent goroutine
//
// How it works:
//   1. Receive task from taskCh (blocking wait)
//   2. Run task.Run with a context derived from the pool context
//   3. Send result to resultCh (waits for a consumer while the pool runs)
//   4. Repeat until taskCh is closed
//
// Cancellation:
//   - The pool context is cancelled by Pool.Stop; running tasks observe it
//   - task.Timeout > 0 adds a deadline on top of the pool context
//
// Panics:
//   A panicking task is reported as a failed Result; the Worker keeps running.
//
// ============================================================================

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Worker represents a work execution unit
type Worker struct {
	id       int           // Worker unique identifier, used for logging
	ctx      context.Context
	taskCh   <-chan Task   // Task channel (read-only)
	resultCh chan<- Result // Result channel (write-only)
	log      *slog.Logger
}

// newWorker creates a new Worker instance
func newWorker(ctx context.Context, id int, taskCh <-chan Task, resultCh chan<- Result, logger *slog.Logger) *Worker {
	return &Worker{
		id:       id,
		ctx:      ctx,
		taskCh:   taskCh,
		resultCh: resultCh,
		log:      logger,
	}
}

// Run is the main loop of Worker
func (w *Worker) Run() {
	for task := range w.taskCh {
		start := time.Now()
		err := w.execute(task)

		result := Result{
			ProcessID: task.ID,
			Success:   err == nil,
			Error:     err,
			Duration:  time.Since(start),
		}

		select {
		case w.resultCh <- result:
			continue
		default:
		}
		// 通道已滿時等待消費者，Pool 停止後才丟棄
		select {
		case w.resultCh <- result:
		case <-w.ctx.Done():
			w.log.Warn("Dropping result after pool stop", "worker", w.id, "process_id", task.ID)
		}
	}
}

// execute runs a single task, converting panics into errors
func (w *Worker) execute(task Task) (err error) {
	ctx := w.ctx
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Task panicked", "worker", w.id, "process_id", task.ID, "panic", r)
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	if task.Run == nil {
		return fmt.Errorf("task %s has no run function", task.ID)
	}
	return task.Run(ctx)
}
