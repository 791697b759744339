/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package subscription

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// scheduledEntry is one subscription's place in the fire queue.
type scheduledEntry struct {
	key      string
	schedule cron.Schedule
	next     time.Time
	index    int
}

type fireQueue []*scheduledEntry

func (q fireQueue) Len() int           { return len(q) }
func (q fireQueue) Less(i, j int) bool { return q[i].next.Before(q[j].next) }
func (q fireQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }
func (q *fireQueue) Push(x interface{}) {
	entry := x.(*scheduledEntry)
	entry.index = len(*q)
	*q = append(*q, entry)
}
func (q *fireQueue) Pop() interface{} {
	old := *q
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return entry
}

// scheduler holds a min-heap of next-fire instants for the scheduled
// subscriptions and calls fire when one comes due.
type scheduler struct {
	mu      sync.Mutex
	queue   fireQueue
	entries map[string]*scheduledEntry
	wake    chan struct{}
	fire    func(key string)
}

func newScheduler(fire func(key string)) *scheduler {
	return &scheduler{
		entries: map[string]*scheduledEntry{},
		wake:    make(chan struct{}, 1),
		fire:    fire,
	}
}

// add registers or replaces one cron entry.
func (s *scheduler) add(key, cronExpr string) error {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if existing, ok := s.entries[key]; ok {
		heap.Remove(&s.queue, existing.index)
	}
	entry := &scheduledEntry{key: key, schedule: schedule, next: schedule.Next(time.Now())}
	s.entries[key] = entry
	heap.Push(&s.queue, entry)
	s.mu.Unlock()

	s.wakeUp()
	return nil
}

func (s *scheduler) remove(key string) {
	s.mu.Lock()
	if existing, ok := s.entries[key]; ok {
		heap.Remove(&s.queue, existing.index)
		delete(s.entries, key)
	}
	s.mu.Unlock()

	s.wakeUp()
}

func (s *scheduler) wakeUp() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run sleeps until the head of the heap is due, fires it, and reinserts
// it at its following instant.
func (s *scheduler) run(ctx context.Context) {
	for {
		s.mu.Lock()
		var wait time.Duration
		if len(s.queue) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(s.queue[0].next)
		}
		s.mu.Unlock()

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-s.wake:
				timer.Stop()
				continue
			case <-timer.C:
			}
		}

		var due []string
		now := time.Now()
		s.mu.Lock()
		for len(s.queue) > 0 && !s.queue[0].next.After(now) {
			entry := s.queue[0]
			due = append(due, entry.key)
			entry.next = entry.schedule.Next(now)
			heap.Fix(&s.queue, 0)
		}
		s.mu.Unlock()

		for _, key := range due {
			s.fire(key)
		}
	}
}
