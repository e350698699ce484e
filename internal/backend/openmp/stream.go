package openmp

import (
	"fmt"
	"sync"
)

// stream is an in-order task queue served by one goroutine. A task error is
// sticky: later tasks are skipped and every synchronize reports it.
type stream struct {
	id    int
	tasks chan func() error
	done  chan struct{}
	wg    sync.WaitGroup

	mu  sync.Mutex
	err error
}

func newStream(id int) *stream {
	s := &stream{
		id:    id,
		tasks: make(chan func() error, 64),
		done:  make(chan struct{}),
	}
	go s.worker()
	return s
}

func (s *stream) worker() {
	for task := range s.tasks {
		if s.failed() == nil {
			if err := runTask(task); err != nil {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
		}
		s.wg.Done()
	}
	close(s.done)
}

func runTask(task func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("kernel panic: %v", r)
		}
	}()
	return task()
}

func (s *stream) failed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) submit(task func() error) {
	s.wg.Add(1)
	s.tasks <- task
}

// synchronize blocks until the queue drains and returns the sticky error.
func (s *stream) synchronize() error {
	s.wg.Wait()
	return s.failed()
}

func (s *stream) close() error {
	err := s.synchronize()
	close(s.tasks)
	<-s.done
	return err
}
