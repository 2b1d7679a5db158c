/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package render rasterizes document pages off the UI goroutine.
// A single Worker drains a bounded Queue in which a newer request for a page
// replaces any request for the same page that has not started yet.
package render

import (
	"image"
	"math"
)

// Size is a width/height pair in display units (pixels) or page units (points).
type Size struct {
	Width  float64
	Height float64
}

// Page is the engine-side handle of one document page.
// Size reports the unscaled page dimensions; Rasterize renders at the given uniform scale.
type Page interface {
	Size() (width, height float64, err error)
	Rasterize(scale float64) (image.Image, error)
}

// Task asks the worker to render one page so that it fits Target.
// Callback is invoked exactly once on the worker goroutine unless the task is
// superseded or discarded at shutdown before it starts.
type Task struct {
	Page     int
	Handle   Page
	Target   Size
	Callback func(Result)
	// Tag is an opaque label for the submitter, matched by Worker.Drop.
	Tag uint64
}

// Result carries the outcome of a Task. Image is nil when rendering failed;
// Scale, Width and Height are zero in that case.
type Result struct {
	Page   int
	Image  image.Image
	Scale  float64
	Width  float64
	Height float64
}

// Failed reports whether the page could not be rendered.
func (r Result) Failed() bool { return r.Image == nil }

// Scale returns the uniform factor that fits original into target while keeping
// the aspect ratio: min(target.W/original.W, target.H/original.H).
// Degenerate sizes yield 0.
func Scale(target, original Size) float64 {
	if original.Width <= 0 || original.Height <= 0 || target.Width <= 0 || target.Height <= 0 {
		return 0
	}
	return math.Min(target.Width/original.Width, target.Height/original.Height)
}
