/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package preview produces page thumbnails and the placeholder shown when a page fails to render.
package preview

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Default thumbnail bounds in pixels.
const (
	ThumbWidth  = 160
	ThumbHeight = 220
)

var (
	placeholderBG   = color.RGBA{R: 0xee, G: 0xee, B: 0xee, A: 0xff}
	placeholderText = color.RGBA{R: 0x55, G: 0x55, B: 0x55, A: 0xff}
)

// Fit scales img down (never up) to fit maxW x maxH, preserving the aspect ratio.
func Fit(img image.Image, maxW, maxH int) *image.NRGBA {
	return imaging.Fit(img, maxW, maxH, imaging.Lanczos)
}

// Thumbnail fits img into maxW x maxH and encodes it as PNG.
func Thumbnail(img image.Image, maxW, maxH int) ([]byte, error) {
	if img == nil {
		return nil, errors.New("preview: nil image")
	}
	if maxW <= 0 || maxH <= 0 {
		return nil, fmt.Errorf("preview: invalid bounds %dx%d", maxW, maxH)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, Fit(img, maxW, maxH), imaging.PNG); err != nil {
		return nil, fmt.Errorf("preview: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads a cached thumbnail blob.
func Decode(blob []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("preview: decode: %w", err)
	}
	return img, nil
}

// Placeholder returns a light gray w x h image with msg word-wrapped and centered.
func Placeholder(w, h int, msg string) *image.RGBA {
	if w <= 0 {
		w = 1
	}
	if h <= 0 {
		h = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: placeholderBG}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.NewUniform(placeholderText), Face: face}
	lines := wrap(d, msg, w-16)
	lineH := face.Metrics().Height.Ceil()
	y := (h-lineH*len(lines))/2 + face.Metrics().Ascent.Ceil()
	for _, line := range lines {
		lw := d.MeasureString(line).Ceil()
		d.Dot = fixed.P((w-lw)/2, y)
		d.DrawString(line)
		y += lineH
	}
	return img
}

// wrap breaks s on spaces so that each line fits maxWidth pixels when possible.
func wrap(d *font.Drawer, s string, maxWidth int) []string {
	var lines []string
	for _, para := range strings.Split(s, "\n") {
		cur := ""
		for _, word := range strings.Fields(para) {
			next := word
			if cur != "" {
				next = cur + " " + word
			}
			if cur != "" && maxWidth > 0 && d.MeasureString(next).Ceil() > maxWidth {
				lines = append(lines, cur)
				cur = word
				continue
			}
			cur = next
		}
		lines = append(lines, cur)
	}
	return lines
}
