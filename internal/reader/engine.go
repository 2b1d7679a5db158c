/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package reader

import (
	"bookreader/internal/pdfengine"
	"bookreader/internal/render"
)

type engineDocument struct {
	*pdfengine.Document
}

func (d engineDocument) Page(i int) (render.Page, error) {
	p, err := d.Document.Page(i)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// OpenPDF opens path with the PDF engine.
func OpenPDF(path string) (Document, error) {
	doc, err := pdfengine.Open(path)
	if err != nil {
		return nil, err
	}
	return engineDocument{doc}, nil
}
