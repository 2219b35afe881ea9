package scheduler

import (
	"errors"
	"sync"
	"time"
)

var ErrStopped = errors.New("scheduler stopped")

type task struct {
	seq   uint64
	timer *time.Timer
}

// Scheduler runs deferred functions keyed by an id. At most one task exists
// per key; cancelling is a lookup and a timer stop. A task that fires after
// being cancelled or replaced does nothing.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*task
	seq     uint64
	stopped bool
}

func New() *Scheduler {
	return &Scheduler{tasks: make(map[string]*task)}
}

// Schedule arms fn to run after delay, replacing any pending task for key.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if existing, ok := s.tasks[key]; ok {
		existing.timer.Stop()
	}

	s.seq++
	seq := s.seq
	t := &task{seq: seq}
	t.timer = time.AfterFunc(delay, func() {
		if !s.claim(key, seq) {
			return
		}
		fn()
	})
	s.tasks[key] = t
	return nil
}

// claim removes the task if it is still the current one for key.
func (s *Scheduler) claim(key string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tasks[key]
	if !ok || current.seq != seq {
		return false
	}
	delete(s.tasks, key)
	return true
}

// Cancel stops the pending task for key and reports whether one existed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.tasks, key)
	return true
}

func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels every pending task and rejects new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for key, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, key)
	}
}
