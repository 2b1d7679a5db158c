/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package library

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bookreader/internal/positions"
	"bookreader/internal/testpdf"
)

func writePDF(t *testing.T, dir, name string, mod time.Time) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := testpdf.Numbered(p, 2); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	if err := os.Chtimes(p, mod, mod); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestScanSortsNewestFirstAndFiltersExtension(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	writePDF(t, dir, "old.pdf", base)
	writePDF(t, dir, "new.PDF", base.Add(30*time.Minute))
	writePDF(t, dir, "mid.pdf", base.Add(10*time.Minute))
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	_ = os.Mkdir(filepath.Join(dir, "folder.pdf"), 0o755)

	got, err := Scan(dir, "pdf", nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	var names []string
	for _, e := range got {
		names = append(names, e.Name)
		if !e.Valid {
			t.Fatalf("%s should sniff as PDF", e.Name)
		}
		if !filepath.IsAbs(e.Path) {
			t.Fatalf("path not absolute: %s", e.Path)
		}
	}
	if strings.Join(names, ",") != "new.PDF,mid.pdf,old.pdf" {
		t.Fatalf("unexpected order %v", names)
	}
}

func TestScanAnnotatesPositionsAndValidity(t *testing.T) {
	dir := t.TempDir()
	p := writePDF(t, dir, "book.pdf", time.Now())
	fake := filepath.Join(dir, "fake.pdf")
	_ = os.WriteFile(fake, []byte("plain text pretending"), 0o644)

	store, err := positions.Open(filepath.Join(t.TempDir(), "pos.json"))
	if err != nil {
		t.Fatal(err)
	}
	store.Set(p, 4)

	got, err := Scan(dir, "", store)
	if err != nil {
		t.Fatal(err)
	}
	byName := map[string]Entry{}
	for _, e := range got {
		byName[e.Name] = e
	}
	book := byName["book.pdf"]
	if !book.HasPosition || book.LastPage != 4 {
		t.Fatalf("position not attached: %+v", book)
	}
	if !strings.HasSuffix(book.Label(), " - page 5") || !strings.HasPrefix(book.Label(), "book.pdf (") {
		t.Fatalf("label=%q", book.Label())
	}
	if byName["fake.pdf"].Valid {
		t.Fatalf("fake.pdf should not sniff as PDF")
	}
	if !strings.Contains(byName["fake.pdf"].Label(), "not a PDF") {
		t.Fatalf("label=%q", byName["fake.pdf"].Label())
	}
}

func TestLabelWithoutPosition(t *testing.T) {
	e := Entry{Name: "a.pdf", Size: 3 << 19, Valid: true}
	if got := e.Label(); got != "a.pdf (1.5 MiB)" {
		t.Fatalf("label=%q", got)
	}
	// 1.5 MB in decimal units is still under 1.5 MiB
	e.Size = 1500000
	if got := e.SizeText(); got != "1.4 MiB" {
		t.Fatalf("size=%q", got)
	}
}

func TestScanMissingDir(t *testing.T) {
	if _, err := Scan(filepath.Join(t.TempDir(), "missing"), ".pdf", nil); err == nil {
		t.Fatalf("expected error")
	}
}
