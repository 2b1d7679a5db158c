/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/jung-kurt/gofpdf"
)

// jpegQuality trades handout size against fidelity.
const jpegQuality = 85

// pdfSink builds an image-only PDF: every page keeps its original size in
// points and carries the rendered bitmap as a JPEG.
type pdfSink struct {
	path string
	pdf  *gofpdf.Fpdf
	n    int
	buf  bytes.Buffer
}

func newPDFSink(outPath, title string) (*pdfSink, error) {
	if !strings.HasSuffix(strings.ToLower(outPath), ".pdf") {
		outPath += ".pdf"
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure out dir: %w", err)
	}
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: 612, Ht: 792},
		OrientationStr: "P",
	})
	pdf.SetTitle(title, true)
	pdf.SetCreator("bookreader", false)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetMargins(0, 0, 0)
	return &pdfSink{path: outPath, pdf: pdf}, nil
}

func (s *pdfSink) add(page int, img image.Image, width, height float64) error {
	if width <= 0 || height <= 0 {
		b := img.Bounds()
		width, height = float64(b.Dx()), float64(b.Dy())
	}
	s.buf.Reset()
	if err := imaging.Encode(&s.buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}
	name := fmt.Sprintf("page-%d", page+1)
	opt := gofpdf.ImageOptions{ImageType: "JPG"}
	s.pdf.RegisterImageOptionsReader(name, opt, bytes.NewReader(s.buf.Bytes()))
	s.pdf.AddPageFormat("P", gofpdf.SizeType{Wd: width, Ht: height})
	s.pdf.ImageOptions(name, 0, 0, width, height, false, opt, 0, "")
	s.n++
	return s.pdf.Error()
}

func (s *pdfSink) close() ([]string, error) {
	if err := s.pdf.OutputFileAndClose(s.path); err != nil {
		_ = os.Remove(s.path)
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return []string{s.path}, nil
}

// abort leaves nothing behind; the document only exists in memory until close.
func (s *pdfSink) abort() {}
