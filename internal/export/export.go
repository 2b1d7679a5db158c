/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package export rasterizes a range of document pages and writes them as PNG
// files, a CBZ archive or an image-only PDF handout.
package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sort"
	"strings"
	"sync"

	applog "bookreader/internal/log"
	"bookreader/internal/render"
)

// Format names an output kind.
type Format string

const (
	FormatPNG Format = "png"
	FormatCBZ Format = "cbz"
	FormatPDF Format = "pdf"
)

// ErrNothingExported is returned when every requested page failed to render.
var ErrNothingExported = errors.New("export: no page could be rendered")

// ParseFormat accepts png, cbz or pdf in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatPNG, FormatCBZ, FormatPDF:
		return f, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want png, cbz or pdf)", s)
	}
}

// Source is a document whose pages can be rasterized.
type Source interface {
	NumPages() int
	Page(i int) (render.Page, error)
}

// Options controls an export. From and To are 0-based and inclusive; a
// negative To means the last page.
type Options struct {
	From, To int
	// DPI sets the output resolution (Preset default when 0).
	DPI int
	// Name is the base of generated file names and the document title.
	Name string
	// Progress is called after each page with the number of pages handled so far.
	Progress func(done, total int)
	Logger   *slog.Logger
}

// PageError is a page that could not be exported.
type PageError struct {
	Page int
	Err  error
}

func (e PageError) Error() string { return fmt.Sprintf("page %d: %v", e.Page+1, e.Err) }

func (e PageError) Unwrap() error { return e.Err }

// Result lists what an export produced.
type Result struct {
	// Files are the written files in page order (one for CBZ and PDF).
	Files    []string
	Exported []int
	Failures []PageError
}

// Err joins the page failures, or returns nil.
func (r Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// sink receives rendered pages in page order.
type sink interface {
	add(page int, img image.Image, width, height float64) error
	close() ([]string, error)
	abort()
}

// Export renders pages From..To of src and writes them to out in format.
// For PNG out is a directory; otherwise it is the output file.
// Pages that fail to render are listed in Result.Failures and do not stop the export.
func Export(ctx context.Context, src Source, format Format, out string, opt Options) (Result, error) {
	var res Result
	if src == nil {
		return res, errors.New("export: source is nil")
	}
	pages, err := pageRange(src.NumPages(), opt.From, opt.To)
	if err != nil {
		return res, err
	}
	if opt.DPI <= 0 {
		opt.DPI = PresetDefault.DPI()
	}
	if opt.Name == "" {
		opt.Name = "document"
	}
	l := opt.Logger
	if l == nil {
		l = applog.WithComponent("export")
	}
	l = applog.WithOperation(l, string(format))

	var sk sink
	switch format {
	case FormatPNG:
		sk, err = newPNGSink(out, opt.Name)
	case FormatCBZ:
		sk, err = newCBZSink(out, opt.Name)
	case FormatPDF:
		sk, err = newPDFSink(out, opt.Name)
	default:
		err = fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return res, err
	}

	// A private worker keeps page keys apart from any reader sharing the process.
	w := render.NewWorker(render.Config{Logger: l})
	w.Start()
	defer w.Stop()

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	results := make(chan render.Result, len(pages))
	submitted := make(chan int, len(pages))
	var mu sync.Mutex
	fail := func(page int, err error) {
		mu.Lock()
		res.Failures = append(res.Failures, PageError{Page: page, Err: err})
		mu.Unlock()
	}

	go func() {
		defer close(submitted)
		scale := float64(opt.DPI) / 72
		for _, p := range pages {
			if sctx.Err() != nil {
				return
			}
			h, err := src.Page(p)
			if err != nil {
				fail(p, err)
				continue
			}
			pw, ph, err := h.Size()
			if err != nil {
				fail(p, err)
				continue
			}
			t := render.Task{
				Page:     p,
				Handle:   h,
				Target:   render.Size{Width: pw * scale, Height: ph * scale},
				Callback: func(r render.Result) { results <- r },
			}
			if err := w.Submit(sctx, t); err != nil {
				if sctx.Err() != nil {
					return
				}
				fail(p, err)
				continue
			}
			submitted <- p
		}
	}()

	// halt stops the submitter and waits for it so res is no longer shared.
	halt := func() {
		cancel()
		for range submitted {
		}
		sk.abort()
	}

	done := 0
	for range submitted {
		var r render.Result
		select {
		case r = <-results:
		case <-ctx.Done():
			halt()
			return res, ctx.Err()
		}
		if r.Failed() {
			fail(r.Page, errors.New("render failed"))
		} else {
			if err := sk.add(r.Page, r.Image, r.Width, r.Height); err != nil {
				halt()
				return res, fmt.Errorf("write page %d: %w", r.Page+1, err)
			}
			res.Exported = append(res.Exported, r.Page)
		}
		done++
		if opt.Progress != nil {
			opt.Progress(done, len(pages))
		}
	}
	if err := ctx.Err(); err != nil {
		sk.abort()
		return res, err
	}

	sort.Slice(res.Failures, func(i, j int) bool { return res.Failures[i].Page < res.Failures[j].Page })
	if len(res.Exported) == 0 {
		sk.abort()
		return res, ErrNothingExported
	}
	files, err := sk.close()
	if err != nil {
		return res, err
	}
	res.Files = files
	l.Info("export finished", slog.Int("pages", len(res.Exported)), slog.Int("failed", len(res.Failures)), slog.Int("dpi", opt.DPI))
	return res, nil
}

func pageRange(total, from, to int) ([]int, error) {
	if total <= 0 {
		return nil, errors.New("export: document has no pages")
	}
	if to < 0 || to >= total {
		to = total - 1
	}
	if from < 0 || from > to {
		return nil, fmt.Errorf("export: invalid page range %d-%d of %d", from+1, to+1, total)
	}
	out := make([]int, 0, to-from+1)
	for p := from; p <= to; p++ {
		out = append(out, p)
	}
	return out, nil
}
