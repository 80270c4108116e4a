/*
tc2-fuel-gauge - Battery fuel gauge estimation engine
Copyright (C) 2024, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package engine

import (
	"context"
	"sync"
	"time"

	"github.com/TheCacophonyProject/go-utils/logging"
)

// Task is one unit of work run on the scheduler's goroutine.
type Task func(ctx context.Context) error

type request struct {
	id        int
	name      string
	fn        Task
	queueTime time.Time
}

// Scheduler runs tasks one at a time in the order they were submitted. It is
// the only place the engine touches the transport.
type Scheduler struct {
	log      *logging.Logger
	requests chan request

	mu           sync.Mutex
	requestCount int
	dropped      int
	alarms       map[string]*time.Timer
	stopped      bool
}

func NewScheduler(log *logging.Logger, size int) *Scheduler {
	return &Scheduler{
		log:      log,
		requests: make(chan request, size),
		alarms:   map[string]*time.Timer{},
	}
}

// Submit queues fn without blocking. If the queue is full the task is dropped
// and false returned.
func (s *Scheduler) Submit(name string, fn Task) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	id := s.requestCount
	s.requestCount++
	s.mu.Unlock()

	select {
	case s.requests <- request{id: id, name: name, fn: fn, queueTime: time.Now()}:
		s.log.Debugf("Queued task '%s' (%d)", name, id)
		return true
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		s.log.Warnf("Task queue full, dropping '%s'", name)
		return false
	}
}

// After submits fn once d has passed. Arming an alarm with the same name
// replaces the old one.
func (s *Scheduler) After(d time.Duration, name string, fn Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if t, ok := s.alarms[name]; ok {
		t.Stop()
	}
	s.alarms[name] = time.AfterFunc(d, func() {
		s.Submit(name, fn)
	})
}

// Every submits fn each d until ctx is done.
func (s *Scheduler) Every(ctx context.Context, d time.Duration, name string, fn Task) {
	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Submit(name, fn)
			}
		}
	}()
}

// Run processes tasks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	defer s.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.requests:
			s.process(ctx, req)
		}
	}
}

// RunPending processes the tasks already queued on the caller's goroutine and
// returns how many ran.
func (s *Scheduler) RunPending(ctx context.Context) int {
	n := 0
	for {
		select {
		case req := <-s.requests:
			s.process(ctx, req)
			n++
		default:
			return n
		}
	}
}

func (s *Scheduler) process(ctx context.Context, req request) {
	start := time.Now()
	s.log.Debugf("Task '%s' (%d) waited %s", req.name, req.id, start.Sub(req.queueTime))
	if err := req.fn(ctx); err != nil {
		s.log.Errorf("Task '%s' failed: %v", req.name, err)
		return
	}
	s.log.Debugf("Task '%s' (%d) took %s", req.name, req.id, time.Since(start))
}

func (s *Scheduler) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Scheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for name, t := range s.alarms {
		t.Stop()
		delete(s.alarms, name)
	}
}
