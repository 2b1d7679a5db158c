/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// pngSink writes <name>-page-<n>.png files (n is 1-based) into a directory.
type pngSink struct {
	dir   string
	name  string
	files []string
}

func newPNGSink(dir, name string) (*pngSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure out dir: %w", err)
	}
	return &pngSink{dir: dir, name: name}, nil
}

func (s *pngSink) add(page int, img image.Image, _, _ float64) error {
	path := filepath.Join(s.dir, fmt.Sprintf("%s-page-%d.png", s.name, page+1))
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("save png: %w", err)
	}
	s.files = append(s.files, path)
	return nil
}

func (s *pngSink) close() ([]string, error) { return s.files, nil }

// abort keeps pages already written; they are complete files.
func (s *pngSink) abort() {}
