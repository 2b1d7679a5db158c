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
	"math"
	"testing"
	"time"

	applog "bookreader/internal/log"
)

func newTestWorker(capacity int, poll time.Duration) *Worker {
	return NewWorker(Config{Capacity: capacity, PollInterval: poll, Logger: applog.Discard()})
}

func waitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for render callback")
	}
	return Result{}
}

func TestWorkerRendersWithFitScale(t *testing.T) {
	w := newTestWorker(4, 10*time.Millisecond)
	w.Start()
	defer w.Stop()

	got := make(chan Result, 1)
	p := okPage()
	if err := w.Submit(context.Background(), Task{Page: 0, Handle: p, Target: Size{Width: 50, Height: 50}, Callback: func(r Result) { got <- r }}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	r := waitResult(t, got)
	if r.Failed() {
		t.Fatalf("unexpected failure")
	}
	if math.Abs(r.Scale-0.25) > 1e-9 || r.Width != 100 || r.Height != 200 {
		t.Fatalf("unexpected metadata: %+v", r)
	}
	if b := r.Image.Bounds(); b.Dx() != 25 || b.Dy() != 50 {
		t.Fatalf("unexpected image bounds %v", b)
	}
}

func TestWorkerFailureThenSuccess(t *testing.T) {
	w := newTestWorker(4, 10*time.Millisecond)
	w.Start()
	defer w.Stop()

	got := make(chan Result, 4)
	cb := func(r Result) { got <- r }
	target := Size{Width: 100, Height: 100}
	_ = w.Submit(context.Background(), Task{Page: 1, Handle: &fakePage{w: 10, h: 10, rastErr: errBoom}, Target: target, Callback: cb})
	_ = w.Submit(context.Background(), Task{Page: 2, Handle: &fakePage{sizeErr: errBoom}, Target: target, Callback: cb})
	_ = w.Submit(context.Background(), Task{Page: 3, Handle: &fakePage{w: 10, h: 10, panics: true}, Target: target, Callback: cb})
	_ = w.Submit(context.Background(), Task{Page: 4, Handle: okPage(), Target: target, Callback: cb})

	for _, page := range []int{1, 2, 3} {
		r := waitResult(t, got)
		if r.Page != page || r.Image != nil || r.Scale != 0 || r.Width != 0 || r.Height != 0 {
			t.Fatalf("expected zero failure result for page %d, got %+v", page, r)
		}
	}
	r := waitResult(t, got)
	if r.Page != 4 || r.Failed() {
		t.Fatalf("worker did not survive failures: %+v", r)
	}
	if s := w.Stats(); s.Failed != 3 || s.Rendered != 1 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestWorkerZeroSizedPageFails(t *testing.T) {
	w := newTestWorker(2, 10*time.Millisecond)
	w.Start()
	defer w.Stop()
	got := make(chan Result, 1)
	_ = w.Submit(context.Background(), Task{Page: 5, Handle: &fakePage{w: 0, h: 10}, Target: Size{Width: 10, Height: 10}, Callback: func(r Result) { got <- r }})
	if r := waitResult(t, got); !r.Failed() || r.Page != 5 {
		t.Fatalf("expected failure, got %+v", r)
	}
}

func TestWorkerSurvivesPanickingCallbackAndNilCallback(t *testing.T) {
	w := newTestWorker(4, 10*time.Millisecond)
	w.Start()
	defer w.Stop()
	got := make(chan Result, 1)
	target := Size{Width: 10, Height: 10}
	_ = w.Submit(context.Background(), Task{Page: 1, Handle: okPage(), Target: target, Callback: func(Result) { panic("ui bug") }})
	_ = w.Submit(context.Background(), Task{Page: 2, Handle: okPage(), Target: target})
	_ = w.Submit(context.Background(), Task{Page: 3, Handle: okPage(), Target: target, Callback: func(r Result) { got <- r }})
	if r := waitResult(t, got); r.Page != 3 || r.Failed() {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestWorkerStopsWithinPollInterval(t *testing.T) {
	poll := 50 * time.Millisecond
	w := newTestWorker(4, poll)
	w.Start()
	time.Sleep(5 * time.Millisecond)

	start := time.Now()
	w.Stop()
	if d := time.Since(start); d > poll+100*time.Millisecond {
		t.Fatalf("Stop took %v, poll interval %v", d, poll)
	}
	err := w.Submit(context.Background(), Task{Page: 1, Handle: okPage()})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped after Stop, got %v", err)
	}
	w.Stop()
}

func TestWorkerStopDiscardsPendingButFinishesInFlight(t *testing.T) {
	w := newTestWorker(4, 10*time.Millisecond)
	w.Start()

	release := make(chan struct{})
	got := make(chan Result, 4)
	cb := func(r Result) { got <- r }
	target := Size{Width: 10, Height: 10}
	_ = w.Submit(context.Background(), Task{Page: 1, Handle: &fakePage{w: 10, h: 10, block: release}, Target: target, Callback: cb})
	deadline := time.Now().Add(time.Second)
	for len(w.Pending()) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	_ = w.Submit(context.Background(), Task{Page: 2, Handle: okPage(), Target: target, Callback: cb})
	_ = w.Submit(context.Background(), Task{Page: 3, Handle: okPage(), Target: target, Callback: cb})

	stopped := make(chan struct{})
	go func() { w.Stop(); close(stopped) }()
	deadline = time.Now().Add(time.Second)
	for len(w.Pending()) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(release)
	<-stopped

	r := waitResult(t, got)
	if r.Page != 1 || r.Failed() {
		t.Fatalf("in-flight render should complete, got %+v", r)
	}
	select {
	case extra := <-got:
		t.Fatalf("pending task ran after Stop: %+v", extra)
	default:
	}
	if s := w.Stats(); s.Discarded != 2 {
		t.Fatalf("expected 2 discarded, got %+v", s)
	}
}

func TestStopBeforeStartDoesNotHang(t *testing.T) {
	w := newTestWorker(1, 10*time.Millisecond)
	done := make(chan struct{})
	go func() { w.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Stop hung on a never-started worker")
	}
	w.Start()
	if err := w.Submit(context.Background(), Task{Page: 0, Handle: okPage()}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestSubmitRejectsMissingHandle(t *testing.T) {
	w := newTestWorker(1, 10*time.Millisecond)
	defer w.Stop()
	if err := w.Submit(context.Background(), Task{Page: 0}); err == nil {
		t.Fatalf("expected error for nil handle")
	}
}
