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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize/english"

	applog "bookreader/internal/log"
)

// ErrNothingToDelete is returned by DeleteAll when the directory holds no matching files.
var ErrNothingToDelete = errors.New("library: no files to delete")

// Positions is the reading-position store the manager keeps in sync.
type Positions interface {
	PositionLookup
	Delete(file string) bool
	Save() error
}

// Forgetter drops derived data (search text, thumbnails) for a file.
type Forgetter interface {
	Forget(ctx context.Context, path string) error
}

// Failure records why one file could not be deleted.
type Failure struct {
	Path string
	Err  error
}

// Report is the outcome of a delete batch.
type Report struct {
	Deleted  []string
	Failures []Failure
}

// Summary is the user-facing message for the batch.
func (r Report) Summary() string {
	head := "Deleted " + english.Plural(len(r.Deleted), "file", "files")
	if len(r.Failures) == 0 {
		return head
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s, %d failed:", head, len(r.Failures))
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "\n%s: %v", filepath.Base(f.Path), f.Err)
	}
	return b.String()
}

// Err joins the failures, or returns nil when every file was deleted.
func (r Report) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(f.Path), f.Err))
	}
	return errors.Join(errs...)
}

// Manager lists and deletes library files, keeping positions and the index consistent.
type Manager struct {
	Dir       string
	Ext       string
	Positions Positions
	// Index is optional.
	Index Forgetter

	log *slog.Logger
}

// NewManager creates a manager for dir. idx may be nil.
func NewManager(dir, ext string, positions Positions, idx Forgetter) *Manager {
	return &Manager{
		Dir:       dir,
		Ext:       normalizeExt(ext),
		Positions: positions,
		Index:     idx,
		log:       applog.WithComponent("library").With(slog.String("dir", dir)),
	}
}

// List scans the directory.
func (m *Manager) List() ([]Entry, error) {
	var lookup PositionLookup
	if m.Positions != nil {
		lookup = m.Positions
	}
	return Scan(m.Dir, m.Ext, lookup)
}

// Delete removes each file, its reading position and its index rows.
// Failures are collected in the report; the batch always runs to the end.
func (m *Manager) Delete(ctx context.Context, paths []string) Report {
	l := applog.WithOperation(m.log, "delete")
	var rep Report
	removedPositions := false
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			rep.Failures = append(rep.Failures, Failure{Path: p, Err: err})
			continue
		}
		if !MatchesExt(abs, m.Ext) {
			rep.Failures = append(rep.Failures, Failure{Path: abs, Err: fmt.Errorf("not a %s file", m.Ext)})
			continue
		}
		if err := os.Remove(abs); err != nil {
			l.Warn("delete failed", slog.String("file", filepath.Base(abs)), slog.Any("err", err))
			rep.Failures = append(rep.Failures, Failure{Path: abs, Err: err})
			continue
		}
		rep.Deleted = append(rep.Deleted, abs)
		l.Info("file deleted", slog.String("file", filepath.Base(abs)))
		if m.Positions != nil && m.Positions.Delete(abs) {
			removedPositions = true
		}
		if m.Index != nil {
			if err := m.Index.Forget(ctx, abs); err != nil {
				l.Warn("index cleanup failed", slog.String("file", filepath.Base(abs)), slog.Any("err", err))
			}
		}
	}
	if removedPositions {
		if err := m.Positions.Save(); err != nil {
			l.Error("save reading positions failed", slog.Any("err", err))
			rep.Failures = append(rep.Failures, Failure{Path: "reading positions", Err: err})
		}
	}
	return rep
}

// DeleteAll deletes every file List returns.
func (m *Manager) DeleteAll(ctx context.Context) (Report, error) {
	entries, err := m.List()
	if err != nil {
		return Report{}, err
	}
	if len(entries) == 0 {
		return Report{}, ErrNothingToDelete
	}
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}
	return m.Delete(ctx, paths), nil
}
