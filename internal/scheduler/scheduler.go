// Package scheduler implements the periodic-task scheduler collaborator
// named in spec.md §6 ("a way to run a closure every N seconds and to
// disenroll"), used by the startup-flag driver to run periodic dumps, plus
// a filesystem-trigger watcher that lets an operator request an
// out-of-band dump without restarting the host.
package scheduler

import (
	"sync"
	"time"
)

// Scheduler runs a closure on a fixed interval until Stop is called.
type Scheduler struct {
	mu     sync.Mutex
	ticker *time.Ticker
	done   chan struct{}
}

// Every starts calling fn every interval, starting after an initial delay.
// It returns a Scheduler whose Stop method disenrolls the task.
func Every(interval, delay time.Duration, fn func()) *Scheduler {
	s := &Scheduler{done: make(chan struct{})}

	go func() {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-s.done:
				return
			}
		}

		s.mu.Lock()
		s.ticker = time.NewTicker(interval)
		ticker := s.ticker
		s.mu.Unlock()

		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				fn()
			case <-s.done:
				return
			}
		}
	}()

	return s
}

// Stop disenrolls the periodic task. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return // already stopped
	default:
		close(s.done)
	}
}
