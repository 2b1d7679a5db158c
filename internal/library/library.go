/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package library lists and deletes the PDF files of the reading directory.
package library

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

// DefaultExtension is the file extension scanned when none is configured.
const DefaultExtension = ".pdf"

const pdfMIME = "application/pdf"

// PositionLookup returns the last page read for a file.
type PositionLookup interface {
	Get(file string) (int, bool)
}

// Entry is one file of the library directory.
type Entry struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
	// LastPage is the 0-based page last read; valid when HasPosition is set.
	LastPage    int
	HasPosition bool
	// Valid reports whether the content sniffs as a PDF.
	Valid bool
}

// SizeText is the file size in binary units ("1.5 MiB").
func (e Entry) SizeText() string { return humanize.IBytes(uint64(e.Size)) }

// Label renders the entry for lists: "name (1.5 MiB) - page 5".
func (e Entry) Label() string {
	s := fmt.Sprintf("%s (%s)", e.Name, e.SizeText())
	if e.HasPosition {
		s += fmt.Sprintf(" - page %d", e.LastPage+1)
	}
	if !e.Valid {
		s += " [not a PDF]"
	}
	return s
}

// Age describes the modification time relative to now ("3 days ago").
func (e Entry) Age() string { return humanize.Time(e.ModTime) }

// Scan lists regular files in dir whose extension matches ext (case-insensitive),
// newest first. positions may be nil.
func Scan(dir, ext string, positions PositionLookup) ([]Entry, error) {
	ext = normalizeExt(ext)
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("library: resolve %s: %w", dir, err)
	}
	ents, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("library: read %s: %w", abs, err)
	}
	out := make([]Entry, 0, len(ents))
	for _, de := range ents {
		if de.IsDir() || !MatchesExt(de.Name(), ext) {
			continue
		}
		info, err := de.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		p := filepath.Join(abs, de.Name())
		e := Entry{Path: p, Name: de.Name(), Size: info.Size(), ModTime: info.ModTime(), Valid: IsPDF(p)}
		if positions != nil {
			e.LastPage, e.HasPosition = positions.Get(p)
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.After(out[j].ModTime)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// IsPDF sniffs the file header.
func IsPDF(path string) bool {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return false
	}
	return m.Is(pdfMIME)
}

// MatchesExt reports whether name ends with ext, ignoring case.
func MatchesExt(name, ext string) bool {
	return strings.EqualFold(filepath.Ext(name), normalizeExt(ext))
}

func normalizeExt(ext string) string {
	ext = strings.TrimSpace(ext)
	if ext == "" {
		return DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
