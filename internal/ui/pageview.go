//go:build fyne && cgo

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package ui

import (
	"image"
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"
)

// pageView shows one rendered page scaled to fit and reports its size so
// pages can be rendered for the space actually available.
type pageView struct {
	widget.BaseWidget
	bg  *canvas.Rectangle
	img *canvas.Image

	// OnResize is called from layout whenever the view size changes.
	OnResize func(fyne.Size)
	last     fyne.Size
}

func newPageView() *pageView {
	v := &pageView{
		bg:  canvas.NewRectangle(color.RGBA{R: 60, G: 60, B: 64, A: 255}),
		img: canvas.NewImageFromImage(nil),
	}
	v.img.FillMode = canvas.ImageFillContain
	v.img.ScaleMode = canvas.ImageScaleSmooth
	v.ExtendBaseWidget(v)
	return v
}

// SetImage replaces the displayed page; nil clears it.
func (v *pageView) SetImage(img image.Image) {
	v.img.Image = img
	v.img.Refresh()
}

func (v *pageView) CreateRenderer() fyne.WidgetRenderer {
	return &pageViewRenderer{v: v, objects: []fyne.CanvasObject{v.bg, v.img}}
}

type pageViewRenderer struct {
	v       *pageView
	objects []fyne.CanvasObject
}

func (r *pageViewRenderer) Destroy()                     {}
func (r *pageViewRenderer) Objects() []fyne.CanvasObject { return r.objects }
func (r *pageViewRenderer) MinSize() fyne.Size           { return fyne.NewSize(200, 260) }
func (r *pageViewRenderer) Refresh()                     { r.Layout(r.v.Size()); canvas.Refresh(r.v) }

func (r *pageViewRenderer) Layout(size fyne.Size) {
	r.v.bg.Resize(size)
	r.v.bg.Move(fyne.NewPos(0, 0))
	r.v.img.Resize(size)
	r.v.img.Move(fyne.NewPos(0, 0))
	if size.Width <= 0 || size.Height <= 0 || size == r.v.last {
		return
	}
	r.v.last = size
	if r.v.OnResize != nil {
		r.v.OnResize(size)
	}
}
