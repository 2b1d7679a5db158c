/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package render

import (
	"errors"
	"image"
	"sync"
)

// fakePage is an in-memory Page with controllable failures.
type fakePage struct {
	w, h    float64
	sizeErr error
	rastErr error
	panics  bool
	block   chan struct{}

	mu     sync.Mutex
	scales []float64
}

func (p *fakePage) Size() (float64, float64, error) {
	if p.sizeErr != nil {
		return 0, 0, p.sizeErr
	}
	return p.w, p.h, nil
}

func (p *fakePage) Rasterize(scale float64) (image.Image, error) {
	if p.block != nil {
		<-p.block
	}
	if p.panics {
		panic("engine exploded")
	}
	if p.rastErr != nil {
		return nil, p.rastErr
	}
	p.mu.Lock()
	p.scales = append(p.scales, scale)
	p.mu.Unlock()
	return image.NewRGBA(image.Rect(0, 0, int(p.w*scale), int(p.h*scale))), nil
}

var errBoom = errors.New("boom")

func okPage() *fakePage { return &fakePage{w: 100, h: 200} }
