/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// cbzSink packages pages as PNG images into a CBZ (ZIP) archive and adds a
// ComicInfo.xml manifest for reader compatibility.
type cbzSink struct {
	path  string
	name  string
	f     *os.File
	zw    *zip.Writer
	count int
	buf   bytes.Buffer
}

func newCBZSink(outPath, name string) (*cbzSink, error) {
	if !strings.HasSuffix(strings.ToLower(outPath), ".cbz") {
		outPath += ".cbz"
	}
	zw, f, err := createZip(outPath)
	if err != nil {
		return nil, err
	}
	return &cbzSink{path: outPath, name: name, f: f, zw: zw}, nil
}

func (s *cbzSink) add(page int, img image.Image, _, _ float64) error {
	s.buf.Reset()
	if err := imaging.Encode(&s.buf, img, imaging.PNG); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	// Zero padding keeps lexical order equal to page order.
	if err := addZipFile(s.zw, fmt.Sprintf("%04d.png", page+1), s.buf.Bytes()); err != nil {
		return fmt.Errorf("zip add image: %w", err)
	}
	s.count++
	return nil
}

func (s *cbzSink) close() ([]string, error) {
	manifest, err := buildComicInfoXML(s.name, s.count)
	if err != nil {
		s.abort()
		return nil, fmt.Errorf("build manifest: %w", err)
	}
	if err := addZipFile(s.zw, "ComicInfo.xml", manifest); err != nil {
		s.abort()
		return nil, fmt.Errorf("zip add manifest: %w", err)
	}
	if err := s.zw.Close(); err != nil {
		s.abort()
		return nil, fmt.Errorf("close zip: %w", err)
	}
	if err := s.f.Close(); err != nil {
		return nil, fmt.Errorf("close cbz: %w", err)
	}
	return []string{s.path}, nil
}

func (s *cbzSink) abort() {
	_ = s.f.Close()
	_ = os.Remove(s.path)
}

func createZip(outPath string) (*zip.Writer, *os.File, error) {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("ensure out dir: %w", err)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return nil, nil, fmt.Errorf("create cbz: %w", err)
	}
	return zip.NewWriter(f), f, nil
}

func addZipFile(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

type comicInfo struct {
	XMLName   xml.Name `xml:"ComicInfo"`
	XSI       string   `xml:"xmlns:xsi,attr"`
	Title     string   `xml:"Title"`
	PageCount int      `xml:"PageCount"`
}

func buildComicInfoXML(title string, pageCount int) ([]byte, error) {
	out, err := xml.MarshalIndent(comicInfo{
		XSI:       "http://www.w3.org/2001/XMLSchema-instance",
		Title:     title,
		PageCount: pageCount,
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}
