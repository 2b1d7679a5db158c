//go:build cgo

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package pdfengine

import (
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"bookreader/internal/render"
	"bookreader/internal/testpdf"
)

var _ render.Page = (*Page)(nil)

func openFixture(t *testing.T, pages ...string) *Document {
	t.Helper()
	p := filepath.Join(t.TempDir(), "fixture.pdf")
	if err := testpdf.Write(p, pages...); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	d, err := Open(p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestOpenAndRasterize(t *testing.T) {
	d := openFixture(t, "one", "two")
	if d.NumPages() != 2 {
		t.Fatalf("pages=%d", d.NumPages())
	}
	pg, err := d.Page(1)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	w, h, err := pg.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if math.Abs(w-testpdf.PageWidth) > 1 || math.Abs(h-testpdf.PageHeight) > 1 {
		t.Fatalf("unexpected size %vx%v", w, h)
	}
	img, err := pg.Rasterize(0.5)
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	if b := img.Bounds(); math.Abs(float64(b.Dx())-w/2) > 2 {
		t.Fatalf("unexpected raster width %d", b.Dx())
	}
	txt, err := d.Text(1)
	if err != nil || !strings.Contains(txt, "two") {
		t.Fatalf("Text=%q err=%v", txt, err)
	}
}

func TestPageRangeAndClose(t *testing.T) {
	d := openFixture(t, "only")
	if _, err := d.Page(1); !errors.Is(err, ErrPageRange) {
		t.Fatalf("expected ErrPageRange, got %v", err)
	}
	if _, err := d.Page(-1); !errors.Is(err, ErrPageRange) {
		t.Fatalf("expected ErrPageRange, got %v", err)
	}
	pg, _ := d.Page(0)
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := pg.Rasterize(1); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope.pdf")); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}
