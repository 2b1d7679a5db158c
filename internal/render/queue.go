/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * Licensed under the Apache License, Version 2.0.
 */

package render

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned when submitting to a queue or worker that has been stopped.
var ErrStopped = errors.New("render: worker stopped")

// DefaultCapacity bounds the number of pending tasks.
const DefaultCapacity = 10

type item struct {
	task Task
	stop bool
}

// Queue is a bounded FIFO of render tasks keyed by page index.
// It is safe for concurrent use by many producers and one consumer.
type Queue struct {
	mu       sync.Mutex
	items    []item
	capacity int
	closed   bool
	// changed is closed and replaced on every mutation, waking all waiters.
	changed chan struct{}
}

// NewQueue creates a queue holding at most capacity tasks (DefaultCapacity when <= 0).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{capacity: capacity, changed: make(chan struct{})}
}

// Put enqueues t after dropping every pending task for the same page.
// When the queue is full it blocks until space frees up or ctx is done.
func (q *Queue) Put(ctx context.Context, t Task) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrStopped
		}
		dropped := q.removePageLocked(t.Page)
		if q.taskCountLocked() < q.capacity {
			q.items = append(q.items, item{task: t})
			q.notifyLocked()
			q.mu.Unlock()
			return nil
		}
		if dropped {
			q.notifyLocked()
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// get removes and returns the oldest item. ok is false when nothing arrived within timeout.
func (q *Queue) get(timeout time.Duration) (it item, ok bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it = q.items[0]
			q.items[0] = item{}
			q.items = q.items[1:]
			q.notifyLocked()
			q.mu.Unlock()
			return it, true
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-wait:
		case <-deadline.C:
			return item{}, false
		}
	}
}

// Get returns the oldest pending task, waiting at most timeout.
// The stop sentinel is reported as ok == false together with stopped == true.
func (q *Queue) Get(timeout time.Duration) (t Task, ok bool, stopped bool) {
	it, got := q.get(timeout)
	if !got {
		return Task{}, false, false
	}
	if it.stop {
		return Task{}, false, true
	}
	return it.task, true, false
}

// close rejects further Puts and enqueues the stop sentinel regardless of capacity.
// It returns the tasks that were still pending.
func (q *Queue) close() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	pending := make([]Task, 0, len(q.items))
	for _, it := range q.items {
		if !it.stop {
			pending = append(pending, it.task)
		}
	}
	q.items = append(q.items[:0], item{stop: true})
	q.notifyLocked()
	return pending
}

// Drop removes every pending task for which match returns true and reports how many went.
// match runs with the queue locked and must not call back into the queue.
func (q *Queue) Drop(match func(Task) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	n := 0
	for _, it := range q.items {
		if !it.stop && match(it.task) {
			n++
			continue
		}
		kept = append(kept, it)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = item{}
	}
	q.items = kept
	if n > 0 {
		q.notifyLocked()
	}
	return n
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.taskCountLocked()
}

// Pages lists the page indexes of pending tasks in queue order.
func (q *Queue) Pages() []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]int, 0, len(q.items))
	for _, it := range q.items {
		if !it.stop {
			out = append(out, it.task.Page)
		}
	}
	return out
}

func (q *Queue) removePageLocked(page int) bool {
	kept := q.items[:0]
	removed := false
	for _, it := range q.items {
		if !it.stop && it.task.Page == page {
			removed = true
			continue
		}
		kept = append(kept, it)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = item{}
	}
	q.items = kept
	return removed
}

func (q *Queue) taskCountLocked() int {
	n := 0
	for _, it := range q.items {
		if !it.stop {
			n++
		}
	}
	return n
}

func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
