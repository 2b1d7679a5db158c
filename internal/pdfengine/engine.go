/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package pdfengine adapts the MuPDF bindings (go-fitz) to the page handles the
// render worker consumes, and offers pure-Go text extraction for indexing.
package pdfengine

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sync"

	"github.com/gen2brain/go-fitz"
)

var (
	// ErrOpen wraps failures to open or parse a document.
	ErrOpen = errors.New("pdfengine: cannot open document")
	// ErrPageRange is returned for page indexes outside [0, NumPages).
	ErrPageRange = errors.New("pdfengine: page out of range")
	// ErrClosed is returned when a document is used after Close.
	ErrClosed = errors.New("pdfengine: document closed")
)

// Outline is one entry of the document's table of contents. Page is 0-based.
type Outline struct {
	Level int
	Title string
	Page  int
}

// Document is an open PDF. It is safe for concurrent use; Close waits for
// renders already in progress.
type Document struct {
	Path string

	mu     sync.RWMutex
	doc    *fitz.Document
	pages  int
	closed bool
}

// Open opens the PDF at path.
func Open(path string) (*Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	doc, err := fitz.New(abs)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrOpen, filepath.Base(abs), err)
	}
	return &Document{Path: abs, doc: doc, pages: doc.NumPage()}, nil
}

// NumPages returns the page count.
func (d *Document) NumPages() int { return d.pages }

// Page returns a handle for the 0-based page i.
func (d *Document) Page(i int) (*Page, error) {
	if err := d.checkIndex(i); err != nil {
		return nil, err
	}
	return &Page{doc: d, index: i}, nil
}

// Text returns the plain text MuPDF extracts from page i.
func (d *Document) Text(i int) (string, error) {
	if err := d.checkIndex(i); err != nil {
		return "", err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return "", ErrClosed
	}
	s, err := d.doc.Text(i)
	if err != nil {
		return "", fmt.Errorf("pdfengine: text of page %d: %w", i, err)
	}
	return s, nil
}

// Outline returns the table of contents, or nil when the document has none.
func (d *Document) Outline() ([]Outline, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrClosed
	}
	toc, err := d.doc.ToC()
	if err != nil {
		// MuPDF reports a missing outline as an error.
		return nil, nil
	}
	out := make([]Outline, 0, len(toc))
	for _, o := range toc {
		page := o.Page
		if page < 0 || page >= d.pages {
			page = 0
		}
		out = append(out, Outline{Level: o.Level, Title: o.Title, Page: page})
	}
	return out, nil
}

// Metadata returns the document info dictionary (title, author, ...).
func (d *Document) Metadata() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil
	}
	return d.doc.Metadata()
}

// Close releases the MuPDF document. It is idempotent.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.doc.Close()
}

func (d *Document) checkIndex(i int) error {
	if i < 0 || i >= d.pages {
		return fmt.Errorf("%w: %d of %d", ErrPageRange, i, d.pages)
	}
	return nil
}

// Page is a lazily evaluated page handle. It implements render.Page.
type Page struct {
	doc   *Document
	index int
}

// Index returns the 0-based page number.
func (p *Page) Index() int { return p.index }

// Size returns the page's media box in points.
func (p *Page) Size() (float64, float64, error) {
	p.doc.mu.RLock()
	defer p.doc.mu.RUnlock()
	if p.doc.closed {
		return 0, 0, ErrClosed
	}
	r, err := p.doc.doc.Bound(p.index)
	if err != nil {
		return 0, 0, fmt.Errorf("pdfengine: bounds of page %d: %w", p.index, err)
	}
	return float64(r.Dx()), float64(r.Dy()), nil
}

// Rasterize renders the page at scale times its natural (72 DPI) size.
func (p *Page) Rasterize(scale float64) (image.Image, error) {
	if scale <= 0 {
		return nil, fmt.Errorf("pdfengine: invalid scale %v", scale)
	}
	p.doc.mu.RLock()
	defer p.doc.mu.RUnlock()
	if p.doc.closed {
		return nil, ErrClosed
	}
	img, err := p.doc.doc.ImageDPI(p.index, 72*scale)
	if err != nil {
		return nil, fmt.Errorf("pdfengine: rasterize page %d: %w", p.index, err)
	}
	return img, nil
}
