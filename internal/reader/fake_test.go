/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package reader

import (
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	applog "bookreader/internal/log"
	"bookreader/internal/render"
)

var errBroken = errors.New("broken page")

type fakePage struct {
	w, h    float64
	fail    bool
	started chan struct{}
	release chan struct{}
	renders atomic.Int32
}

func (p *fakePage) Size() (float64, float64, error) { return p.w, p.h, nil }

func (p *fakePage) Rasterize(scale float64) (image.Image, error) {
	p.renders.Add(1)
	if p.started != nil {
		select {
		case p.started <- struct{}{}:
		default:
		}
	}
	if p.release != nil {
		<-p.release
	}
	if p.fail {
		return nil, errBroken
	}
	return image.NewRGBA(image.Rect(0, 0, int(p.w*scale), int(p.h*scale))), nil
}

type fakeDoc struct {
	pages  []*fakePage
	mu     sync.Mutex
	closed bool
}

func newFakeDoc(n int) *fakeDoc {
	d := &fakeDoc{}
	for i := 0; i < n; i++ {
		d.pages = append(d.pages, &fakePage{w: 100, h: 200})
	}
	return d
}

func (d *fakeDoc) NumPages() int { return len(d.pages) }

func (d *fakeDoc) Page(i int) (render.Page, error) {
	if i < 0 || i >= len(d.pages) {
		return nil, errors.New("out of range")
	}
	return d.pages[i], nil
}

func (d *fakeDoc) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDoc) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type memPositions struct {
	mu    sync.Mutex
	pages map[string]int
	saves int
}

func newMemPositions() *memPositions { return &memPositions{pages: map[string]int{}} }

func (m *memPositions) Get(file string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[file]
	return p, ok
}

func (m *memPositions) Set(file string, page int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[file] = page
}

func (m *memPositions) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	return nil
}

type eventLog struct {
	mu    sync.Mutex
	names []string
}

func (e *eventLog) record(name string, _ map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.names = append(e.names, name)
}

func (e *eventLog) count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, s := range e.names {
		if s == name {
			n++
		}
	}
	return n
}

type harness struct {
	r      *Reader
	worker *render.Worker
	frames chan Frame
	events *eventLog
	pos    *memPositions
}

// newHarness builds a reader over doc that is returned for every path.
func newHarness(t *testing.T, doc *fakeDoc, mod func(*Options)) *harness {
	t.Helper()
	h := &harness{frames: make(chan Frame, 64), events: &eventLog{}, pos: newMemPositions()}
	h.worker = render.NewWorker(render.Config{PollInterval: 10 * time.Millisecond, Logger: applog.Discard()})
	opts := Options{
		Worker:    h.worker,
		Positions: h.pos,
		Opener:    func(string) (Document, error) { return doc, nil },
		Viewport:  render.Size{Width: 50, Height: 100},
		OnFrame:   func(f Frame) { h.frames <- f },
		Events:    h.events.record,
		Logger:    applog.Discard(),
	}
	if mod != nil {
		mod(&opts)
	}
	r, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = r.Shutdown() })
	h.r = r
	return h
}

// waitCurrent returns the next frame flagged as current.
func (h *harness) waitCurrent(t *testing.T) Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-h.frames:
			if f.Current {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for a current frame")
		}
	}
}

// waitPages drains frames until every page in want has arrived.
func (h *harness) waitPages(t *testing.T, want ...int) {
	t.Helper()
	missing := map[int]bool{}
	for _, p := range want {
		missing[p] = true
	}
	deadline := time.After(2 * time.Second)
	for len(missing) > 0 {
		select {
		case f := <-h.frames:
			delete(missing, f.Page)
		case <-deadline:
			t.Fatalf("timed out, pages %v never rendered", missing)
		}
	}
}
