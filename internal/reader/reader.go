/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package reader is the host side of the render pipeline: it owns the open
// document, turns navigation into render requests and persists the reading position.
package reader

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"bookreader/internal/history"
	applog "bookreader/internal/log"
	"bookreader/internal/pdfengine"
	"bookreader/internal/preview"
	"bookreader/internal/render"
	"bookreader/internal/storage"
	"bookreader/internal/telemetry"
)

var (
	// ErrNoDocument is returned by navigation when nothing is open.
	ErrNoDocument = errors.New("reader: no document open")
	// ErrEmptyDocument is returned by Open for documents without pages.
	ErrEmptyDocument = errors.New("reader: document has no pages")
	// ErrShutdown is returned after Shutdown.
	ErrShutdown = errors.New("reader: shut down")
)

// DefaultViewport is used until the first Resize.
var DefaultViewport = render.Size{Width: 800, Height: 1000}

// Document is an open document as the reader needs it.
type Document interface {
	NumPages() int
	Page(i int) (render.Page, error)
	Close() error
}

// Opener opens the document at an absolute path.
type Opener func(path string) (Document, error)

// PositionStore persists the last page read per file.
type PositionStore interface {
	Get(file string) (int, bool)
	Set(file string, page int)
	Save() error
}

// Frame is a finished render handed to the display.
// Failed frames carry a placeholder image and zero Scale, Width and Height.
// Current reports whether Page was the current page when the frame arrived.
type Frame struct {
	Page    int
	Image   image.Image
	Scale   float64
	Width   float64
	Height  float64
	Failed  bool
	Current bool
}

// Options wires the reader to its collaborators. Worker is required; the
// others are optional.
type Options struct {
	Worker    *render.Worker
	Positions PositionStore
	// Index receives page text and first-page thumbnails when set.
	Index   *storage.Index
	History *history.Manager
	Opener  Opener
	// ExtractText feeds the index; defaults to pdfengine.ExtractText.
	ExtractText func(path string) ([]string, error)
	Viewport    render.Size
	// Prefetch is the number of following pages rendered ahead of the current one.
	Prefetch int
	// OnFrame is called on the render goroutine, or on the navigating goroutine
	// when the page is already cached; UIs must marshal to their own thread.
	OnFrame func(Frame)
	Events  func(name string, props map[string]any)
	Logger  *slog.Logger
}

// State is a snapshot of the reader for display.
type State struct {
	Path       string
	Page       int
	Pages      int
	Viewport   render.Size
	CanBack    bool
	CanForward bool
}

// Title is the file name without extension, or empty when nothing is open.
func (s State) Title() string {
	if s.Path == "" {
		return ""
	}
	base := filepath.Base(s.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Reader is safe for concurrent use.
type Reader struct {
	opts Options
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	mu       sync.Mutex
	doc      Document
	path     string
	page     int
	viewport render.Size
	// gen changes whenever frames already requested become useless.
	gen uint64
	// frames holds finished renders of this generation near the current page.
	frames map[int]Frame
	// inflight marks pages of this generation handed to the worker and not yet completed.
	inflight map[int]bool
	shut     bool
}

// cacheBehind is how many pages before the current one stay cached for Prev.
const cacheBehind = 1

// New creates a reader. The worker is started if it is not running yet.
func New(opts Options) (*Reader, error) {
	if opts.Worker == nil {
		return nil, errors.New("reader: render worker is required")
	}
	if opts.Opener == nil {
		opts.Opener = OpenPDF
	}
	if opts.ExtractText == nil {
		opts.ExtractText = pdfengine.ExtractText
	}
	if opts.History == nil {
		opts.History = history.NewManager(history.Config{})
	}
	if opts.Events == nil {
		opts.Events = telemetry.Event
	}
	if opts.Prefetch < 0 {
		opts.Prefetch = 0
	}
	vp := opts.Viewport
	if vp.Width <= 0 || vp.Height <= 0 {
		vp = DefaultViewport
	}
	l := opts.Logger
	if l == nil {
		l = applog.WithComponent("reader")
	}
	ctx, cancel := context.WithCancel(context.Background())
	opts.Worker.Start()
	return &Reader{opts: opts, log: l, ctx: ctx, cancel: cancel, viewport: vp}, nil
}

// Open closes the current document, opens path and shows its last read page.
func (r *Reader) Open(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	l := applog.WithOperation(r.log, "open").With(slog.String("file", filepath.Base(abs)))
	if err := r.Close(); err != nil {
		l.Warn("closing previous document failed", slog.Any("err", err))
	}

	doc, err := r.opts.Opener(abs)
	if err != nil {
		return err
	}
	pages := doc.NumPages()
	if pages <= 0 {
		_ = doc.Close()
		return fmt.Errorf("%w: %s", ErrEmptyDocument, filepath.Base(abs))
	}

	page := 0
	if r.opts.Positions != nil {
		if p, ok := r.opts.Positions.Get(abs); ok {
			page = clamp(p, pages)
		}
		r.opts.Positions.Set(abs, page)
	}

	r.mu.Lock()
	if r.shut {
		r.mu.Unlock()
		_ = doc.Close()
		return ErrShutdown
	}
	r.doc, r.path, r.page = doc, abs, page
	gen := r.bumpLocked()
	tasks, _ := r.planLocked()
	r.mu.Unlock()
	r.dropStale(gen)

	l.Info("document opened", slog.Int("pages", pages), slog.Int("page", page))
	r.opts.Events(telemetry.EventDocumentOpened, map[string]any{"pages": pages, "restored": page > 0})
	r.indexInBackground(abs)
	return r.submit(tasks)
}

// GoTo shows page (clamped into range) and records the jump in history.
func (r *Reader) GoTo(page int) error { return r.move(func(cur, n int) int { return page }, true) }

// Next shows the following page.
func (r *Reader) Next() error { return r.move(func(cur, n int) int { return cur + 1 }, false) }

// Prev shows the preceding page.
func (r *Reader) Prev() error { return r.move(func(cur, n int) int { return cur - 1 }, false) }

// First shows the first page.
func (r *Reader) First() error { return r.move(func(cur, n int) int { return 0 }, true) }

// Last shows the last page.
func (r *Reader) Last() error { return r.move(func(cur, n int) int { return n - 1 }, true) }

// Back returns to the page left by the last jump. It reports false when there is none.
func (r *Reader) Back() (bool, error) {
	return r.travel(r.opts.History.Back)
}

// Forward undoes a Back. It reports false when there is nothing to redo.
func (r *Reader) Forward() (bool, error) {
	return r.travel(r.opts.History.Forward)
}

// Refresh renders the current page again, e.g. after a failure.
func (r *Reader) Refresh() error {
	r.mu.Lock()
	if err := r.usableLocked(); err != nil {
		r.mu.Unlock()
		return err
	}
	delete(r.frames, r.page)
	tasks, _ := r.planLocked()
	r.mu.Unlock()
	return r.submit(tasks)
}

// Resize sets the display area pages are fitted into and re-renders.
// Non-positive or unchanged sizes are ignored.
func (r *Reader) Resize(size render.Size) error {
	if size.Width <= 0 || size.Height <= 0 {
		return nil
	}
	r.mu.Lock()
	if size == r.viewport {
		r.mu.Unlock()
		return nil
	}
	r.viewport = size
	if r.doc == nil || r.shut {
		r.mu.Unlock()
		return nil
	}
	gen := r.bumpLocked()
	tasks, _ := r.planLocked()
	r.mu.Unlock()
	r.dropStale(gen)
	return r.submit(tasks)
}

// State returns a snapshot of the reader.
func (r *Reader) State() State {
	r.mu.Lock()
	s := State{Path: r.path, Page: r.page, Viewport: r.viewport}
	if r.doc != nil {
		s.Pages = r.doc.NumPages()
	}
	r.mu.Unlock()
	if s.Path != "" {
		s.CanBack = r.opts.History.CanBack(s.Path)
		s.CanForward = r.opts.History.CanForward(s.Path)
	}
	return s
}

// Close saves the reading position and closes the document. Frames still in
// flight for it are dropped. Close without an open document is a no-op.
func (r *Reader) Close() error {
	r.mu.Lock()
	doc, path, page := r.doc, r.path, r.page
	r.doc, r.path, r.page = nil, "", 0
	gen := r.bumpLocked()
	r.mu.Unlock()
	if doc == nil {
		return nil
	}
	r.dropStale(gen)

	var errs []error
	if r.opts.Positions != nil {
		r.opts.Positions.Set(path, page)
		if err := r.opts.Positions.Save(); err != nil {
			errs = append(errs, fmt.Errorf("save reading position: %w", err))
		}
	}
	if err := doc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", filepath.Base(path), err))
	}
	r.log.Debug("document closed", slog.String("file", filepath.Base(path)), slog.Int("page", page))
	return errors.Join(errs...)
}

// Shutdown closes the document, stops the worker and waits for background indexing.
func (r *Reader) Shutdown() error {
	r.mu.Lock()
	already := r.shut
	r.shut = true
	r.mu.Unlock()
	if already {
		return nil
	}
	r.opts.Worker.Stop()
	err := r.Close()
	r.bg.Wait()
	r.cancel()
	return err
}

func (r *Reader) usableLocked() error {
	if r.shut {
		return ErrShutdown
	}
	if r.doc == nil {
		return ErrNoDocument
	}
	return nil
}

func (r *Reader) move(target func(cur, n int) int, record bool) error {
	r.mu.Lock()
	if err := r.usableLocked(); err != nil {
		r.mu.Unlock()
		return err
	}
	from := r.page
	to := clamp(target(from, r.doc.NumPages()), r.doc.NumPages())
	if to == from {
		r.mu.Unlock()
		return nil
	}
	r.page = to
	path := r.path
	tasks, hit := r.planLocked()
	r.trimLocked()
	r.mu.Unlock()

	if record {
		r.opts.History.Visit(path, from, to)
	}
	if r.opts.Positions != nil {
		r.opts.Positions.Set(path, to)
	}
	if hit != nil && r.opts.OnFrame != nil {
		r.opts.OnFrame(*hit)
	}
	return r.submit(tasks)
}

func (r *Reader) travel(step func(doc string, current int) (int, bool)) (bool, error) {
	r.mu.Lock()
	if err := r.usableLocked(); err != nil {
		r.mu.Unlock()
		return false, err
	}
	path, cur := r.path, r.page
	r.mu.Unlock()

	to, ok := step(path, cur)
	if !ok {
		return false, nil
	}
	return true, r.move(func(int, int) int { return to }, false)
}

// bumpLocked starts a new generation: cached frames and pending requests of
// the previous one no longer count.
func (r *Reader) bumpLocked() uint64 {
	r.gen++
	r.frames = map[int]Frame{}
	r.inflight = map[int]bool{}
	return r.gen
}

// dropStale removes queued renders of generations before gen.
func (r *Reader) dropStale(gen uint64) {
	if n := r.opts.Worker.Drop(func(t render.Task) bool { return t.Tag != 0 && t.Tag < gen }); n > 0 {
		r.log.Debug("stale renders dropped", slog.Int("count", n))
	}
}

// planLocked builds render tasks for the current page and the prefetch window.
// Pages already cached or in flight are skipped; a cached current page is
// returned as hit.
func (r *Reader) planLocked() (tasks []render.Task, hit *Frame) {
	n := r.doc.NumPages()
	gen, path := r.gen, r.path
	for p := r.page; p < n && p <= r.page+r.opts.Prefetch; p++ {
		if f, ok := r.frames[p]; ok {
			if p == r.page {
				f.Current = true
				hit = &f
			}
			continue
		}
		if r.inflight[p] {
			continue
		}
		h, err := r.doc.Page(p)
		if err != nil {
			r.log.Warn("page handle unavailable", slog.Int("page", p), slog.Any("err", err))
			if p == r.page {
				go r.complete(gen, path, render.Result{Page: p})
			}
			continue
		}
		r.inflight[p] = true
		tasks = append(tasks, render.Task{
			Page:     p,
			Handle:   h,
			Target:   r.viewport,
			Tag:      gen,
			Callback: func(res render.Result) { r.complete(gen, path, res) },
		})
	}
	return tasks, hit
}

// trimLocked evicts cached frames outside the window around the current page.
func (r *Reader) trimLocked() {
	for p := range r.frames {
		if p < r.page-cacheBehind || p > r.page+r.opts.Prefetch {
			delete(r.frames, p)
		}
	}
}

// unplan clears the in-flight mark of a task the worker did not accept.
func (r *Reader) unplan(t render.Task) {
	r.mu.Lock()
	if t.Tag == r.gen {
		delete(r.inflight, t.Page)
	}
	r.mu.Unlock()
}

// submit blocks for the first task and only offers the prefetch tasks.
func (r *Reader) submit(tasks []render.Task) error {
	var try context.Context
	for i, t := range tasks {
		ctx := r.ctx
		if i > 0 {
			if try == nil {
				c, cancel := context.WithCancel(r.ctx)
				cancel()
				try = c
			}
			ctx = try
		}
		err := r.opts.Worker.Submit(ctx, t)
		if err != nil {
			r.unplan(t)
		}
		switch {
		case err == nil:
		case i > 0:
			r.log.Debug("prefetch skipped", slog.Int("page", t.Page), slog.Any("err", err))
		case errors.Is(err, render.ErrStopped):
			return ErrShutdown
		default:
			return err
		}
	}
	return nil
}

// complete runs on the render goroutine.
func (r *Reader) complete(gen uint64, path string, res render.Result) {
	r.mu.Lock()
	if gen != r.gen || r.doc == nil {
		r.mu.Unlock()
		return
	}
	delete(r.inflight, res.Page)
	f := Frame{Page: res.Page, Image: res.Image, Scale: res.Scale, Width: res.Width, Height: res.Height}
	if !res.Failed() {
		r.frames[res.Page] = f
		r.trimLocked()
	}
	f.Current = res.Page == r.page
	vp := r.viewport
	r.mu.Unlock()

	if res.Failed() {
		f.Failed = true
		f.Image = preview.Placeholder(int(vp.Width), int(vp.Height), fmt.Sprintf("Page %d could not be rendered", res.Page+1))
		r.log.Warn("render failed", slog.String("file", filepath.Base(path)), slog.Int("page", res.Page))
		r.opts.Events(telemetry.EventRenderFailed, map[string]any{"page": res.Page})
	} else if res.Page == 0 {
		r.storeThumbnail(path, res.Image)
	}
	if r.opts.OnFrame != nil {
		r.opts.OnFrame(f)
	}
}

func (r *Reader) storeThumbnail(path string, img image.Image) {
	idx := r.opts.Index
	if idx == nil {
		return
	}
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		blob, err := preview.Thumbnail(img, preview.ThumbWidth, preview.ThumbHeight)
		if err != nil {
			r.log.Warn("thumbnail encode failed", slog.Any("err", err))
			return
		}
		key := storage.PreviewKey{Path: path, Page: 0, W: preview.ThumbWidth, H: preview.ThumbHeight}
		if err := idx.PutPreview(r.ctx, key, blob); err != nil {
			r.log.Warn("thumbnail store failed", slog.Any("err", err))
		}
	}()
}

func (r *Reader) indexInBackground(path string) {
	idx := r.opts.Index
	if idx == nil {
		return
	}
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		start := time.Now()
		l := r.log.With(slog.String("file", filepath.Base(path)))
		if ok, err := idx.Indexed(r.ctx, path); err != nil || ok {
			if err != nil {
				l.Warn("index lookup failed", slog.Any("err", err))
			}
			return
		}
		pages, err := r.opts.ExtractText(path)
		if err != nil {
			l.Warn("text extraction failed", slog.Any("err", err))
			return
		}
		title := State{Path: path}.Title()
		if err := idx.IndexDocument(r.ctx, path, title, pages); err != nil {
			l.Warn("indexing failed", slog.Any("err", err))
			return
		}
		l.Debug("document indexed", slog.Int("pages", len(pages)), slog.Duration("took", time.Since(start)))
	}()
}

func clamp(page, n int) int {
	if page >= n {
		page = n - 1
	}
	if page < 0 {
		page = 0
	}
	return page
}
