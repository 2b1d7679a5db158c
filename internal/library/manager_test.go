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
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bookreader/internal/positions"
)

type fakeIndex struct{ forgotten []string }

func (f *fakeIndex) Forget(_ context.Context, path string) error {
	f.forgotten = append(f.forgotten, path)
	return nil
}

func newManager(t *testing.T) (*Manager, *positions.Store, *fakeIndex, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := positions.Open(filepath.Join(t.TempDir(), "pos.json"))
	if err != nil {
		t.Fatal(err)
	}
	idx := &fakeIndex{}
	return NewManager(dir, ".pdf", store, idx), store, idx, dir
}

func TestDeleteRemovesPositionAndKeepsOthers(t *testing.T) {
	m, store, idx, dir := newManager(t)
	a := writePDF(t, dir, "a.pdf", time.Now())
	b := writePDF(t, dir, "b.pdf", time.Now())
	store.Set(a, 3)
	store.Set(b, 7)
	outside := filepath.Join(t.TempDir(), "elsewhere.pdf")
	store.Set(outside, 1)

	rep := m.Delete(context.Background(), []string{a})
	if len(rep.Deleted) != 1 || len(rep.Failures) != 0 {
		t.Fatalf("report=%+v", rep)
	}
	if _, err := os.Stat(a); !os.IsNotExist(err) {
		t.Fatalf("file still present")
	}
	if _, ok := store.Get(a); ok {
		t.Fatalf("position for deleted file survived")
	}
	if p, ok := store.Get(b); !ok || p != 7 {
		t.Fatalf("other entry changed: %d,%v", p, ok)
	}
	if p, ok := store.Get(outside); !ok || p != 1 {
		t.Fatalf("unrelated entry changed: %d,%v", p, ok)
	}
	if len(idx.forgotten) != 1 || idx.forgotten[0] != a {
		t.Fatalf("index not cleaned: %v", idx.forgotten)
	}

	reloaded, err := positions.Open(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reloaded.Get(a); ok {
		t.Fatalf("deletion not persisted")
	}
	if rep.Summary() != "Deleted 1 file" {
		t.Fatalf("summary=%q", rep.Summary())
	}
	if rep.Err() != nil {
		t.Fatalf("unexpected Err: %v", rep.Err())
	}
}

func TestDeleteCollectsFailures(t *testing.T) {
	m, _, _, dir := newManager(t)
	a := writePDF(t, dir, "a.pdf", time.Now())
	missing := filepath.Join(dir, "gone.pdf")
	txt := filepath.Join(dir, "keep.txt")
	_ = os.WriteFile(txt, []byte("x"), 0o644)

	rep := m.Delete(context.Background(), []string{missing, a, txt})
	if len(rep.Deleted) != 1 || len(rep.Failures) != 2 {
		t.Fatalf("report=%+v", rep)
	}
	sum := rep.Summary()
	if !strings.HasPrefix(sum, "Deleted 1 file, 2 failed:") || !strings.Contains(sum, "gone.pdf: ") || !strings.Contains(sum, "keep.txt: ") {
		t.Fatalf("summary=%q", sum)
	}
	if _, err := os.Stat(txt); err != nil {
		t.Fatalf("non-matching file must not be deleted")
	}
	if !errors.Is(rep.Err(), os.ErrNotExist) {
		t.Fatalf("joined error should wrap the missing-file error: %v", rep.Err())
	}
}

func TestDeleteAll(t *testing.T) {
	m, store, _, dir := newManager(t)
	if _, err := m.DeleteAll(context.Background()); !errors.Is(err, ErrNothingToDelete) {
		t.Fatalf("expected ErrNothingToDelete, got %v", err)
	}
	for _, n := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		p := writePDF(t, dir, n, time.Now())
		store.Set(p, 2)
	}
	rep, err := m.DeleteAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Deleted) != 3 || rep.Summary() != "Deleted 3 files" {
		t.Fatalf("report=%+v summary=%q", rep, rep.Summary())
	}
	if store.Len() != 0 {
		t.Fatalf("positions left: %v", store.Snapshot())
	}
	left, _ := m.List()
	if len(left) != 0 {
		t.Fatalf("files left: %v", left)
	}
}
