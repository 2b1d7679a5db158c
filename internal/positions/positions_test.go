/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package positions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenMissingFileIsEmpty(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "positions.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty store")
	}
	if _, ok := s.Get("/nope.pdf"); ok {
		t.Fatalf("unexpected entry")
	}
}

func TestSetSaveReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "positions.json")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	a := filepath.Join(dir, "a.pdf")
	s.Set(a, 12)
	s.Set(filepath.Join(dir, "b.pdf"), -3)
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var onDisk map[string]int
	b, _ := os.ReadFile(path)
	if err := json.Unmarshal(b, &onDisk); err != nil {
		t.Fatalf("saved file is not JSON: %v", err)
	}
	if onDisk[a] != 12 {
		t.Fatalf("on-disk=%v", onDisk)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if p, ok := r.Get(a); !ok || p != 12 {
		t.Fatalf("Get(a)=%d,%v", p, ok)
	}
	if p, _ := r.Get(filepath.Join(dir, "b.pdf")); p != 0 {
		t.Fatalf("negative page should clamp to 0, got %d", p)
	}
}

func TestKeysAreNormalized(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(filepath.Join(dir, "p.json"))
	s.Set(filepath.Join(dir, "x", "..", "book.pdf"), 4)
	if p, ok := s.Get(filepath.Join(dir, "book.pdf")); !ok || p != 4 {
		t.Fatalf("expected normalized lookup to hit, got %d,%v", p, ok)
	}
	for k := range s.Snapshot() {
		if !filepath.IsAbs(k) {
			t.Fatalf("key %q is not absolute", k)
		}
	}
}

func TestDeleteLeavesOtherEntries(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(filepath.Join(dir, "p.json"))
	a, b := filepath.Join(dir, "a.pdf"), filepath.Join(dir, "b.pdf")
	s.Set(a, 1)
	s.Set(b, 2)
	if !s.Delete(a) {
		t.Fatalf("Delete(a) should report true")
	}
	if s.Delete(a) {
		t.Fatalf("second Delete(a) should report false")
	}
	if _, ok := s.Get(a); ok {
		t.Fatalf("a still present")
	}
	if p, ok := s.Get(b); !ok || p != 2 {
		t.Fatalf("b changed: %d,%v", p, ok)
	}
}

func TestCorruptFileMovedAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty store")
	}
	ents, _ := os.ReadDir(dir)
	found := false
	for _, e := range ents {
		if strings.HasPrefix(e.Name(), "p.json.corrupt-") {
			found = true
		}
	}
	if !found {
		t.Fatalf("corrupt file not moved aside: %v", ents)
	}
}

func TestInvalidEntriesDropped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p.json")
	good := filepath.Join(dir, "good.pdf")
	doc := map[string]any{good: 3, filepath.Join(dir, "neg.pdf"): -1, filepath.Join(dir, "str.pdf"): "seven"}
	b, _ := json.Marshal(doc)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected only the valid entry, got %v", s.Snapshot())
	}
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}
	r, _ := Open(path)
	if r.Len() != 1 {
		t.Fatalf("invalid entries should not be written back: %v", r.Snapshot())
	}
}

func TestSaveWithoutChangesDoesNotCreateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.json")
	s, _ := Open(path)
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no file, stat err=%v", err)
	}
}
