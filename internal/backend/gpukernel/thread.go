package gpukernel

import (
	"fmt"
	"runtime"
)

// Thread runs calls on one locked OS thread. CUDA and HIP bind the current
// device per thread, so every call for a device goes through its Thread.
type Thread struct {
	name  string
	calls chan func()
	done  chan struct{}
}

// StartThread locks a fresh goroutine to its OS thread and runs init there.
// If init fails the thread is stopped and the error returned.
func StartThread(name string, init func() error) (*Thread, error) {
	t := &Thread{name: name, calls: make(chan func()), done: make(chan struct{})}
	ready := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(t.done)
		if err := t.guard(init); err != nil {
			ready <- err
			return
		}
		ready <- nil
		for call := range t.calls {
			call()
		}
	}()
	if err := <-ready; err != nil {
		return nil, err
	}
	return t, nil
}

// Do runs fn on the thread and waits for it. A panic in fn is returned as an
// error.
func (t *Thread) Do(fn func() error) error {
	res := make(chan error, 1)
	t.calls <- func() { res <- t.guard(fn) }
	return <-res
}

// Stop ends the thread after pending calls.
func (t *Thread) Stop() {
	close(t.calls)
	<-t.done
}

func (t *Thread) guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = executionError(t.name, rec)
		}
	}()
	return fn()
}

func executionError(name string, rec any) error {
	if recErr, ok := rec.(error); ok {
		return fmt.Errorf("%s execution failed: %w", name, recErr)
	}
	return fmt.Errorf("%s execution failed: %v", name, rec)
}
