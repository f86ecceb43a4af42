package migration

import (
	"context"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
)

// workerHandle is the identity of one run of a supervised worker function:
// its cancellation and the channel that closes when it returns. Restart
// swaps this pointer out for a fresh handle, which is how IsAlive and
// Restart observe "this is a new run" without tearing down the
// RestartableWorker itself.
type workerHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// RestartableWorker runs a long-lived func(context.Context) in its own
// goroutine and can be killed and restarted under a fresh context without
// the caller needing to track goroutine lifetimes itself. It replaces the
// original's process-based restart (kill the OS process, fork a new one)
// with a cancel-and-relaunch of a goroutine, the idiomatic Go equivalent:
// a restart is observable as the worker's identity (its handle) changing
// while RestartableWorker itself stays the same value.
type RestartableWorker struct {
	log    hclog.Logger
	fn     func(ctx context.Context) error
	parent context.Context

	handle atomic.Pointer[workerHandle]

	lastErr atomic.Pointer[error]
}

// NewRestartableWorker builds a worker around fn, which should run until
// ctx is cancelled. parent bounds every run's lifetime; Kill/Restart only
// ever shorten it further, never extend past parent's own cancellation.
func NewRestartableWorker(log hclog.Logger, parent context.Context, fn func(ctx context.Context) error) *RestartableWorker {
	return &RestartableWorker{log: log.Named("restartable_worker"), fn: fn, parent: parent}
}

// Start launches the worker if it is not already running.
func (w *RestartableWorker) Start() {
	if w.handle.Load() != nil {
		return
	}
	w.spawn()
}

// IsAlive reports whether the current run's goroutine is still executing.
func (w *RestartableWorker) IsAlive() bool {
	h := w.handle.Load()
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Kill cancels the current run without starting a new one.
func (w *RestartableWorker) Kill() {
	if h := w.handle.Load(); h != nil {
		h.cancel()
	}
}

// Restart cancels the current run, if any, and spawns a fresh one with a
// new identity: after Restart returns, IsAlive observes the new run, not
// the old one, even though the old goroutine may still be unwinding.
func (w *RestartableWorker) Restart() {
	w.Kill()
	w.spawn()
}

// LastError returns the error the most recently completed run finished
// with, or nil if it is still running or exited cleanly.
func (w *RestartableWorker) LastError() error {
	if p := w.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (w *RestartableWorker) spawn() {
	ctx, cancel := context.WithCancel(w.parent)
	h := &workerHandle{cancel: cancel, done: make(chan struct{})}
	w.lastErr.Store(nil)
	w.handle.Store(h)

	go func() {
		defer close(h.done)
		if err := w.fn(ctx); err != nil {
			w.log.Error("worker exited with error", "error", err)
			w.lastErr.Store(&err)
		}
	}()
}
