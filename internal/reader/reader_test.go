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
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"bookreader/internal/positions"
	"bookreader/internal/render"
	"bookreader/internal/storage"
	"bookreader/internal/telemetry"
)

func TestNewRequiresWorker(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error without worker")
	}
}

func TestOpenRestoresClampedPosition(t *testing.T) {
	doc := newFakeDoc(5)
	h := newHarness(t, doc, nil)
	path, _ := filepath.Abs("book.pdf")
	h.pos.Set(path, 7)

	if err := h.r.Open("book.pdf"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	f := h.waitCurrent(t)
	if f.Page != 4 || f.Failed {
		t.Fatalf("unexpected frame: %+v", f)
	}
	if math.Abs(f.Scale-0.5) > 1e-9 || f.Width != 100 || f.Height != 200 {
		t.Fatalf("unexpected scale metadata: %+v", f)
	}
	if p, _ := h.pos.Get(path); p != 4 {
		t.Fatalf("position not clamped: %d", p)
	}
	st := h.r.State()
	if st.Pages != 5 || st.Page != 4 || st.Title() != "book" {
		t.Fatalf("unexpected state: %+v", st)
	}
	if h.events.count(telemetry.EventDocumentOpened) != 1 {
		t.Fatalf("open event not recorded")
	}
}

func TestOpenEmptyDocument(t *testing.T) {
	doc := newFakeDoc(0)
	h := newHarness(t, doc, nil)
	if err := h.r.Open("empty.pdf"); !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
	if !doc.isClosed() {
		t.Fatalf("empty document left open")
	}
}

func TestOpenerErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	h := newHarness(t, newFakeDoc(1), func(o *Options) {
		o.Opener = func(string) (Document, error) { return nil, boom }
	})
	if err := h.r.Open("x.pdf"); !errors.Is(err, boom) {
		t.Fatalf("expected opener error, got %v", err)
	}
	if err := h.r.Next(); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("expected ErrNoDocument, got %v", err)
	}
}

func TestNavigationUpdatesPosition(t *testing.T) {
	h := newHarness(t, newFakeDoc(3), nil)
	if err := h.r.Open("nav.pdf"); err != nil {
		t.Fatal(err)
	}
	h.waitCurrent(t)
	path := h.r.State().Path

	steps := []struct {
		name string
		do   func() error
		want int
	}{
		{"next", h.r.Next, 1},
		{"last", h.r.Last, 2},
		{"next at end", h.r.Next, 2},
		{"prev", h.r.Prev, 1},
		{"first", h.r.First, 0},
		{"prev at start", h.r.Prev, 0},
		{"goto clamps", func() error { return h.r.GoTo(99) }, 2},
	}
	for _, s := range steps {
		if err := s.do(); err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
		if got := h.r.State().Page; got != s.want {
			t.Fatalf("%s: page %d, want %d", s.name, got, s.want)
		}
		if p, _ := h.pos.Get(path); p != s.want {
			t.Fatalf("%s: stored position %d, want %d", s.name, p, s.want)
		}
	}
}

func TestBackForwardFollowJumpsOnly(t *testing.T) {
	h := newHarness(t, newFakeDoc(10), nil)
	if err := h.r.Open("hist.pdf"); err != nil {
		t.Fatal(err)
	}
	_ = h.r.Next() // 1, not recorded
	_ = h.r.GoTo(6)
	_ = h.r.Next() // 7

	ok, err := h.r.Back()
	if err != nil || !ok {
		t.Fatalf("Back: ok=%v err=%v", ok, err)
	}
	if got := h.r.State().Page; got != 1 {
		t.Fatalf("back went to %d, want 1", got)
	}
	if !h.r.State().CanForward {
		t.Fatalf("expected forward to be possible")
	}
	if ok, _ := h.r.Back(); ok {
		t.Fatalf("page turns must not be recorded")
	}
	ok, err = h.r.Forward()
	if err != nil || !ok {
		t.Fatalf("Forward: ok=%v err=%v", ok, err)
	}
	if got := h.r.State().Page; got != 7 {
		t.Fatalf("forward went to %d, want 7", got)
	}
}

func TestFailedRenderDeliversPlaceholder(t *testing.T) {
	doc := newFakeDoc(2)
	doc.pages[0].fail = true
	h := newHarness(t, doc, nil)
	if err := h.r.Open("bad.pdf"); err != nil {
		t.Fatal(err)
	}
	f := h.waitCurrent(t)
	if !f.Failed || f.Image == nil {
		t.Fatalf("expected failed frame with placeholder: %+v", f)
	}
	if f.Scale != 0 || f.Width != 0 || f.Height != 0 {
		t.Fatalf("failed frame must carry zero metadata: %+v", f)
	}
	if b := f.Image.Bounds(); b.Dx() != 50 || b.Dy() != 100 {
		t.Fatalf("placeholder should fill the viewport, got %v", b)
	}
	if h.events.count(telemetry.EventRenderFailed) != 1 {
		t.Fatalf("render failure not counted")
	}

	// the worker keeps going
	if err := h.r.Next(); err != nil {
		t.Fatal(err)
	}
	if f := h.waitCurrent(t); f.Failed || f.Page != 1 {
		t.Fatalf("expected page 1 to render: %+v", f)
	}
}

func TestPrefetchRendersFollowingPages(t *testing.T) {
	h := newHarness(t, newFakeDoc(5), func(o *Options) { o.Prefetch = 2 })
	if err := h.r.Open("ahead.pdf"); err != nil {
		t.Fatal(err)
	}
	seen := map[int]bool{}
	deadline := time.After(2 * time.Second)
	for len(seen) < 3 {
		select {
		case f := <-h.frames:
			seen[f.Page] = true
			if f.Page != 0 && f.Current {
				t.Fatalf("prefetched page %d flagged current", f.Page)
			}
		case <-deadline:
			t.Fatalf("prefetch incomplete: %v", seen)
		}
	}
	if seen[3] {
		t.Fatalf("rendered beyond prefetch window")
	}
}

func TestResizeDropsStaleFrames(t *testing.T) {
	doc := newFakeDoc(1)
	p := doc.pages[0]
	p.started = make(chan struct{}, 1)
	p.release = make(chan struct{})
	h := newHarness(t, doc, nil)
	if err := h.r.Open("resize.pdf"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-p.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("render never started")
	}
	if err := h.r.Resize(render.Size{Width: 200, Height: 200}); err != nil {
		t.Fatal(err)
	}
	close(p.release)

	f := h.waitCurrent(t)
	if math.Abs(f.Scale-1) > 1e-9 {
		t.Fatalf("expected frame for the new viewport, got scale %v", f.Scale)
	}
	select {
	case extra := <-h.frames:
		t.Fatalf("stale frame delivered: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestResizeIgnoresDegenerateSizes(t *testing.T) {
	h := newHarness(t, newFakeDoc(1), nil)
	before := h.r.State().Viewport
	if err := h.r.Resize(render.Size{Width: 0, Height: 10}); err != nil {
		t.Fatal(err)
	}
	if h.r.State().Viewport != before {
		t.Fatalf("viewport changed on degenerate size")
	}
}

func TestCloseSavesPositionToDisk(t *testing.T) {
	store, err := positions.Open(filepath.Join(t.TempDir(), "positions.json"))
	if err != nil {
		t.Fatal(err)
	}
	doc := newFakeDoc(4)
	h := newHarness(t, doc, func(o *Options) { o.Positions = store })
	if err := h.r.Open("saved.pdf"); err != nil {
		t.Fatal(err)
	}
	_ = h.r.GoTo(3)
	path := h.r.State().Path
	if err := h.r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !doc.isClosed() {
		t.Fatalf("document not closed")
	}
	reloaded, err := positions.Open(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	if p, ok := reloaded.Get(path); !ok || p != 3 {
		t.Fatalf("position not persisted: %d %v", p, ok)
	}
	if err := h.r.Next(); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("expected ErrNoDocument after Close, got %v", err)
	}
}

func TestShutdownRejectsFurtherUse(t *testing.T) {
	h := newHarness(t, newFakeDoc(2), nil)
	if err := h.r.Open("a.pdf"); err != nil {
		t.Fatal(err)
	}
	if err := h.r.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := h.r.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if err := h.r.Open("a.pdf"); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}
	if h.pos.saves == 0 {
		t.Fatalf("positions not saved on shutdown")
	}
}

func TestIndexReceivesTextAndThumbnail(t *testing.T) {
	idx, err := storage.OpenIndex(filepath.Join(t.TempDir(), "index.sqlite"), storage.Options{})
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })

	h := newHarness(t, newFakeDoc(2), func(o *Options) {
		o.Index = idx
		o.ExtractText = func(string) ([]string, error) {
			return []string{"the quick brown fox", "jumps over the lazy dog"}, nil
		}
	})
	if err := h.r.Open("indexed.pdf"); err != nil {
		t.Fatal(err)
	}
	path := h.r.State().Path
	h.waitCurrent(t)
	if err := h.r.Shutdown(); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	files, err := idx.Files(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Title != "indexed" || files[0].Pages != 2 {
		t.Fatalf("unexpected indexed files: %+v", files)
	}
	res, err := idx.Search(ctx, storage.SearchQuery{Text: "lazy"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 || res[0].Page != 1 || res[0].Path != path {
		t.Fatalf("unexpected search results: %+v", res)
	}
	blob, err := idx.GetPreview(ctx, storage.PreviewKey{Path: path, Page: 0, W: 160, H: 220})
	if err != nil || len(blob) == 0 {
		t.Fatalf("thumbnail missing: %v", err)
	}
}

func TestPrefetchedPageIsNotRenderedTwice(t *testing.T) {
	doc := newFakeDoc(3)
	h := newHarness(t, doc, func(o *Options) { o.Prefetch = 1 })
	if err := h.r.Open("cache.pdf"); err != nil {
		t.Fatal(err)
	}
	h.waitPages(t, 0, 1)

	if err := h.r.Next(); err != nil {
		t.Fatal(err)
	}
	if f := h.waitCurrent(t); f.Page != 1 || f.Failed || f.Image == nil {
		t.Fatalf("unexpected frame for page 1: %+v", f)
	}
	h.waitPages(t, 2)
	if err := h.r.Prev(); err != nil {
		t.Fatal(err)
	}
	if f := h.waitCurrent(t); f.Page != 0 {
		t.Fatalf("expected page 0 from cache, got %+v", f)
	}
	for i, p := range doc.pages {
		if n := p.renders.Load(); n != 1 {
			t.Fatalf("page %d rasterized %d times, want 1", i, n)
		}
	}
}

func TestNavigatingToPageInFlightWaitsForIt(t *testing.T) {
	doc := newFakeDoc(2)
	p := doc.pages[1]
	p.started = make(chan struct{}, 1)
	p.release = make(chan struct{})
	h := newHarness(t, doc, func(o *Options) { o.Prefetch = 1 })
	if err := h.r.Open("flight.pdf"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-p.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("prefetch never started")
	}
	if f := h.waitCurrent(t); f.Page != 0 {
		t.Fatalf("expected page 0 first, got %+v", f)
	}
	if err := h.r.Next(); err != nil {
		t.Fatal(err)
	}
	close(p.release)
	if f := h.waitCurrent(t); f.Page != 1 {
		t.Fatalf("expected page 1 as current, got %+v", f)
	}
	if n := p.renders.Load(); n != 1 {
		t.Fatalf("page 1 rasterized %d times, want 1", n)
	}
}

func TestCloseDropsQueuedRenders(t *testing.T) {
	doc := newFakeDoc(3)
	first := doc.pages[0]
	first.started = make(chan struct{}, 1)
	first.release = make(chan struct{})
	h := newHarness(t, doc, func(o *Options) { o.Prefetch = 2 })
	if err := h.r.Open("closing.pdf"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-first.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("render never started")
	}
	if err := h.r.Close(); err != nil {
		t.Fatal(err)
	}
	if pending := h.worker.Pending(); len(pending) != 0 {
		t.Fatalf("renders of the closed document still queued: %v", pending)
	}
	close(first.release)
	time.Sleep(50 * time.Millisecond)

	if s := h.worker.Stats(); s.Discarded != 2 || s.Failed != 0 {
		t.Fatalf("unexpected worker stats %+v", s)
	}
	for i, pg := range doc.pages[1:] {
		if n := pg.renders.Load(); n != 0 {
			t.Fatalf("page %d rendered after Close", i+1)
		}
	}
}
