/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package testpdf writes small PDF fixtures for tests.
package testpdf

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jung-kurt/gofpdf"
)

// Letter page size in points.
const (
	PageWidth  = 612.0
	PageHeight = 792.0
)

// Write creates a PDF at path with one Letter page per entry of pages; each
// page carries its text in Helvetica.
func Write(path string, pages ...string) error {
	if len(pages) == 0 {
		pages = []string{"Page 1"}
	}
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "pt",
		Size:    gofpdf.SizeType{Wd: PageWidth, Ht: PageHeight},
	})
	pdf.SetTitle("fixture", false)
	pdf.SetFont("Helvetica", "", 14)
	for _, text := range pages {
		pdf.AddPage()
		pdf.SetXY(72, 72)
		pdf.MultiCell(PageWidth-144, 18, text, "", "L", false)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("testpdf: ensure dir: %w", err)
	}
	if err := pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("testpdf: write: %w", err)
	}
	return nil
}

// Numbered writes n pages whose text is "Page 1" ... "Page n".
func Numbered(path string, n int) error {
	pages := make([]string, n)
	for i := range pages {
		pages[i] = fmt.Sprintf("Page %d", i+1)
	}
	return Write(path, pages...)
}
