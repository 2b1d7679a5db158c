/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package ui is the desktop shell of the reader. The Fyne implementation is
// only compiled with -tags fyne; other builds carry a stub Run.
package ui

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"strconv"
	"strings"

	"bookreader/internal/positions"
	"bookreader/internal/preview"
	"bookreader/internal/reader"
	"bookreader/internal/render"
	"bookreader/internal/storage"
)

// Options wires the shell to state opened by the caller. Index may be nil.
type Options struct {
	// File is opened on start when set.
	File       string
	LibraryDir string
	Extension  string
	Positions  *positions.Store
	Index      *storage.Index
	Render     render.Config
	Prefetch   int
	// Theme is "system", "light" or "dark".
	Theme string
	// CrashDir receives crash reports.
	CrashDir string
}

// ParsePageInput converts a 1-based page typed by the user into a 0-based
// index clamped into a document of pages pages.
func ParsePageInput(s string, pages int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%q is not a page number", strings.TrimSpace(s))
	}
	if n > pages {
		n = pages
	}
	if n < 1 {
		n = 1
	}
	return n - 1, nil
}

// StatusText describes the reader state for the status bar.
func StatusText(st reader.State) string {
	if st.Path == "" {
		return "No document open"
	}
	return fmt.Sprintf("%s: page %d of %d", st.Title(), st.Page+1, st.Pages)
}

// WindowTitle is the title of the main window for st.
func WindowTitle(st reader.State) string {
	if st.Path == "" {
		return "Book Reader"
	}
	return st.Title() + " - Book Reader"
}

const maxSnippetRunes = 120

// SearchResultLabel renders one search hit as a single list line.
func SearchResultLabel(r storage.SearchResult) string {
	sn := strings.Join(strings.Fields(r.Snippet), " ")
	if rs := []rune(sn); len(rs) > maxSnippetRunes {
		sn = string(rs[:maxSnippetRunes]) + "…"
	}
	return fmt.Sprintf("%s p.%d: %s", filepath.Base(r.Path), r.Page+1, sn)
}

// CachedThumbnail returns the first-page thumbnail stored for path, if any.
func CachedThumbnail(ctx context.Context, idx *storage.Index, path string) (image.Image, bool) {
	if idx == nil {
		return nil, false
	}
	key := storage.PreviewKey{Path: path, Page: 0, W: preview.ThumbWidth, H: preview.ThumbHeight}
	blob, err := idx.GetPreview(ctx, key)
	if err != nil || len(blob) == 0 {
		return nil, false
	}
	img, err := preview.Decode(blob)
	if err != nil {
		return nil, false
	}
	return img, true
}
