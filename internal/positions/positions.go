/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package positions persists the last page read for each document.
package positions

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	applog "bookreader/internal/log"
)

// schema describes the on-disk document: absolute path -> 0-based page.
const schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": { "type": "integer", "minimum": 0 }
}`

var schemaLoader = gojsonschema.NewStringLoader(schema)

// Store is the in-memory map of reading positions backed by a JSON file.
// It is safe for concurrent use.
type Store struct {
	path string
	log  *slog.Logger

	saveMu sync.Mutex

	mu    sync.Mutex
	pages map[string]int
	// gen counts mutations; saved is the gen last written to disk.
	gen   uint64
	saved uint64
}

// Open loads the store at path. A missing file yields an empty store; a file that
// cannot be parsed is moved aside to <path>.corrupt-<stamp> and the store starts empty.
// Entries that fail validation are dropped.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("positions: empty path")
	}
	s := &Store{path: path, log: applog.WithComponent("positions"), pages: map[string]int{}}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("positions: read %s: %w", path, err)
	}
	if len(b) == 0 {
		return s, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		moved := fmt.Sprintf("%s.corrupt-%s", path, time.Now().Format("20060102-150405"))
		if rerr := os.Rename(path, moved); rerr != nil {
			return nil, fmt.Errorf("positions: parse %s: %w; move aside: %v", path, err, rerr)
		}
		s.log.Warn("reading positions unreadable, starting empty", slog.String("moved_to", moved), slog.Any("err", err))
		return s, nil
	}
	if res, verr := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(b)); verr == nil && !res.Valid() {
		for _, e := range res.Errors() {
			s.log.Warn("dropping invalid reading position", slog.String("field", e.Field()), slog.String("err", e.Description()))
		}
		s.gen++
	}
	for k, v := range raw {
		var page int
		if err := json.Unmarshal(v, &page); err != nil || page < 0 {
			continue
		}
		s.pages[normalize(k)] = page
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Get returns the last page recorded for file.
func (s *Store) Get(file string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[normalize(file)]
	return p, ok
}

// Set records page for file. Negative pages are stored as 0.
func (s *Store) Set(file string, page int) {
	if page < 0 {
		page = 0
	}
	k := normalize(file)
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.pages[k]; ok && old == page {
		return
	}
	s.pages[k] = page
	s.gen++
}

// Delete removes the entry for file and reports whether one existed.
func (s *Store) Delete(file string) bool {
	k := normalize(file)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[k]; !ok {
		return false
	}
	delete(s.pages, k)
	s.gen++
	return true
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages)
}

// Snapshot returns a copy of all entries.
func (s *Store) Snapshot() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.pages))
	for k, v := range s.pages {
		out[k] = v
	}
	return out
}

// Files returns the known paths sorted.
func (s *Store) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.pages))
	for k := range s.pages {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Save writes the store if it changed since the last load or save.
// The file is replaced atomically.
func (s *Store) Save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.mu.Lock()
	if s.gen == s.saved {
		s.mu.Unlock()
		return nil
	}
	gen := s.gen
	data, err := json.MarshalIndent(s.pages, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("positions: marshal: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("positions: ensure dir: %w", err)
	}
	temp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d-%d", filepath.Base(s.path), os.Getpid(), rand.Int()))
	if err := writeFileSync(temp, data); err != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("positions: write temp: %w", err)
	}
	if err := os.Rename(temp, s.path); err != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("positions: replace: %w", err)
	}
	s.mu.Lock()
	if gen > s.saved {
		s.saved = gen
	}
	s.mu.Unlock()
	return nil
}

func normalize(file string) string {
	if abs, err := filepath.Abs(file); err == nil {
		return abs
	}
	return filepath.Clean(file)
}

func writeFileSync(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}
