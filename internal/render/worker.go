/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	applog "bookreader/internal/log"
)

// DefaultPollInterval is how long the worker waits on an empty queue before re-checking.
const DefaultPollInterval = 50 * time.Millisecond

// Config controls the worker's queue bound and polling.
type Config struct {
	Capacity     int
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Stats counts processed tasks for diagnostics.
type Stats struct {
	Rendered  int64
	Failed    int64
	Discarded int64
}

// Worker renders tasks one at a time on a single background goroutine.
// Results are reported through each task's callback, never as returned errors.
type Worker struct {
	cfg   Config
	queue *Queue
	log   *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	done    chan struct{}

	rendered  atomic.Int64
	failed    atomic.Int64
	discarded atomic.Int64
}

// NewWorker creates a worker; call Start to begin draining.
func NewWorker(cfg Config) *Worker {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	l := cfg.Logger
	if l == nil {
		l = applog.WithComponent("render")
	}
	return &Worker{cfg: cfg, queue: NewQueue(cfg.Capacity), log: l, done: make(chan struct{})}
}

// Start launches the render goroutine. Calling Start more than once, or after Stop, is a no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true
	go w.run()
	w.log.Debug("render worker started", slog.Int("capacity", w.cfg.Capacity), slog.Duration("poll", w.cfg.PollInterval))
}

// Submit enqueues t, superseding any pending task for the same page.
// It blocks while the queue is full and returns ErrStopped after Stop.
func (w *Worker) Submit(ctx context.Context, t Task) error {
	if t.Handle == nil {
		return fmt.Errorf("render: task for page %d has no page handle", t.Page)
	}
	if err := w.queue.Put(ctx, t); err != nil {
		if errors.Is(err, ErrStopped) {
			return err
		}
		return fmt.Errorf("render: submit page %d: %w", t.Page, err)
	}
	return nil
}

// Stop enqueues the stop sentinel and waits for the render goroutine to exit.
// Pending tasks are discarded without a callback; a render already in progress finishes.
// Stop is idempotent.
func (w *Worker) Stop() {
	w.mu.Lock()
	started := w.started
	first := !w.stopped
	w.stopped = true
	w.mu.Unlock()

	if first {
		if pending := w.queue.close(); len(pending) > 0 {
			w.discarded.Add(int64(len(pending)))
			w.log.Debug("render worker discarded pending tasks", slog.Int("count", len(pending)))
		}
	}
	if started {
		<-w.done
	}
}

// Drop discards pending tasks selected by match without invoking their callbacks.
// A render already in progress is not affected.
func (w *Worker) Drop(match func(Task) bool) int {
	n := w.queue.Drop(match)
	if n > 0 {
		w.discarded.Add(int64(n))
	}
	return n
}

// Pending lists page indexes still waiting to be rendered, oldest first.
func (w *Worker) Pending() []int { return w.queue.Pages() }

// Stats returns counters of processed tasks.
func (w *Worker) Stats() Stats {
	return Stats{Rendered: w.rendered.Load(), Failed: w.failed.Load(), Discarded: w.discarded.Load()}
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		t, ok, stopped := w.queue.Get(w.cfg.PollInterval)
		if stopped {
			w.log.Debug("render worker stopped")
			return
		}
		if !ok {
			continue
		}
		res := w.renderPage(t)
		if res.Failed() {
			w.failed.Add(1)
		} else {
			w.rendered.Add(1)
		}
		w.deliver(t, res)
	}
}

// renderPage never panics and never returns an error: failures become a Result with a nil image.
func (w *Worker) renderPage(t Task) (res Result) {
	start := time.Now()
	l := w.log.With(slog.Int("page", t.Page))
	defer func() {
		if r := recover(); r != nil {
			l.Error("render panicked", slog.Any("panic", r))
			res = Result{Page: t.Page}
		}
	}()

	ow, oh, err := t.Handle.Size()
	if err != nil {
		l.Warn("page size unavailable", slog.Any("err", err))
		return Result{Page: t.Page}
	}
	scale := Scale(t.Target, Size{Width: ow, Height: oh})
	if scale <= 0 {
		l.Warn("cannot fit page into target",
			slog.Float64("width", ow), slog.Float64("height", oh),
			slog.Float64("target_w", t.Target.Width), slog.Float64("target_h", t.Target.Height))
		return Result{Page: t.Page}
	}
	img, err := t.Handle.Rasterize(scale)
	if err != nil || img == nil {
		l.Warn("rasterize failed", slog.Any("err", err), slog.Float64("scale", scale))
		return Result{Page: t.Page}
	}
	l.Debug("page rendered", slog.Float64("scale", scale), slog.Duration("took", time.Since(start)))
	return Result{Page: t.Page, Image: img, Scale: scale, Width: ow, Height: oh}
}

func (w *Worker) deliver(t Task, res Result) {
	if t.Callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("render callback panicked", slog.Int("page", t.Page), slog.Any("panic", r))
		}
	}()
	t.Callback(res)
}
