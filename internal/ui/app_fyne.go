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
	"context"
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	fstorage "fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"bookreader/internal/crash"
	"bookreader/internal/export"
	"bookreader/internal/library"
	"bookreader/internal/preview"
	applog "bookreader/internal/log"
	"bookreader/internal/reader"
	"bookreader/internal/render"
	"bookreader/internal/storage"
	"bookreader/internal/telemetry"
	"bookreader/internal/version"
)

// Run starts the Fyne-based reader window and blocks until it is closed.
func Run(opts Options) error {
	l := applog.WithComponent("ui")
	l.Info("starting UI")

	var savers []crash.Saver
	var store reader.PositionStore
	var libPositions library.Positions
	if opts.Positions != nil {
		savers = append(savers, opts.Positions)
		store = opts.Positions
		libPositions = opts.Positions
	}
	defer crash.Recover(opts.CrashDir, savers...)

	fyneApp := app.NewWithID("bookreader")
	switch strings.ToLower(strings.TrimSpace(opts.Theme)) {
	case "dark":
		fyneApp.Settings().SetTheme(variantTheme{Theme: theme.DefaultTheme(), variant: theme.VariantDark})
	case "light":
		fyneApp.Settings().SetTheme(variantTheme{Theme: theme.DefaultTheme(), variant: theme.VariantLight})
	}
	w := fyneApp.NewWindow(WindowTitle(reader.State{}))
	// Restore window size from preferences (with sane minimums)
	prefs := fyneApp.Preferences()
	winW := prefs.IntWithFallback("window.width", 900)
	winH := prefs.IntWithFallback("window.height", 1100)
	if winW < 400 {
		winW = 400
	}
	if winH < 300 {
		winH = 300
	}
	w.Resize(fyne.NewSize(float32(winW), float32(winH)))

	status := widget.NewLabel("Ready")
	view := newPageView()
	pageEntry := widget.NewEntry()
	pageEntry.SetPlaceHolder("Page")
	pagesLabel := widget.NewLabel("/ 0")

	var rd *reader.Reader
	// refresh updates every widget that mirrors reader state; UI goroutine only.
	refresh := func() {
		st := rd.State()
		w.SetTitle(WindowTitle(st))
		status.SetText(StatusText(st))
		if st.Path == "" {
			pageEntry.SetText("")
			pagesLabel.SetText("/ 0")
			view.SetImage(nil)
			return
		}
		pageEntry.SetText(strconv.Itoa(st.Page + 1))
		pagesLabel.SetText(fmt.Sprintf("/ %d", st.Pages))
	}

	var err error
	rd, err = reader.New(reader.Options{
		Worker:    render.NewWorker(opts.Render),
		Positions: store,
		Index:     opts.Index,
		Prefetch:  opts.Prefetch,
		OnFrame: func(f reader.Frame) {
			if !f.Current {
				return
			}
			fyne.Do(func() {
				view.SetImage(f.Image)
				if f.Failed {
					status.SetText(fmt.Sprintf("Page %d could not be rendered", f.Page+1))
				}
			})
		},
	})
	if err != nil {
		return err
	}

	report := func(action string, err error) {
		if err == nil {
			refresh()
			return
		}
		if errors.Is(err, reader.ErrNoDocument) {
			status.SetText("No document open")
			return
		}
		l.Error(action+" failed", slog.Any("err", err))
		dialog.ShowError(err, w)
	}
	openDoc := func(path string) {
		report("open", rd.Open(path))
	}
	travel := func(action string, step func() (bool, error)) {
		ok, err := step()
		if err == nil && !ok {
			status.SetText("Nothing to go " + action + " to")
			return
		}
		report(action, err)
	}

	view.OnResize = func(sz fyne.Size) {
		scale := w.Canvas().Scale()
		if err := rd.Resize(render.Size{Width: float64(sz.Width * scale), Height: float64(sz.Height * scale)}); err != nil {
			l.Warn("resize failed", slog.Any("err", err))
		}
	}
	pageEntry.OnSubmitted = func(s string) {
		st := rd.State()
		if st.Path == "" {
			return
		}
		p, err := ParsePageInput(s, st.Pages)
		if err != nil {
			dialog.ShowError(err, w)
			refresh()
			return
		}
		report("go to page", rd.GoTo(p))
	}

	toolbar := container.NewHBox(
		widget.NewButton("First", func() { report("first", rd.First()) }),
		widget.NewButton("Prev", func() { report("prev", rd.Prev()) }),
		pageEntry, pagesLabel,
		widget.NewButton("Next", func() { report("next", rd.Next()) }),
		widget.NewButton("Last", func() { report("last", rd.Last()) }),
		widget.NewSeparator(),
		widget.NewButton("Back", func() { travel("back", rd.Back) }),
		widget.NewButton("Forward", func() { travel("forward", rd.Forward) }),
	)
	w.SetContent(container.NewBorder(toolbar, status, nil, nil, view))

	w.Canvas().SetOnTypedKey(func(ev *fyne.KeyEvent) {
		switch ev.Name {
		case fyne.KeyRight, fyne.KeyDown, fyne.KeyPageDown, fyne.KeySpace:
			report("next", rd.Next())
		case fyne.KeyLeft, fyne.KeyUp, fyne.KeyPageUp, fyne.KeyBackspace:
			report("prev", rd.Prev())
		case fyne.KeyHome:
			report("first", rd.First())
		case fyne.KeyEnd:
			report("last", rd.Last())
		}
	})

	mgr := library.NewManager(opts.LibraryDir, opts.Extension, libPositions, forgetter(opts.Index))

	openItem := fyne.NewMenuItem("Open…", func() {
		fd := dialog.NewFileOpen(func(rc fyne.URIReadCloser, err error) {
			if err != nil {
				dialog.ShowError(err, w)
				return
			}
			if rc == nil {
				return
			}
			path := rc.URI().Path()
			_ = rc.Close()
			openDoc(path)
		}, w)
		fd.SetFilter(fstorage.NewExtensionFileFilter([]string{opts.Extension}))
		if lister, err := fstorage.ListerForURI(fstorage.NewFileURI(opts.LibraryDir)); err == nil {
			fd.SetLocation(lister)
		}
		fd.Show()
	})
	libraryItem := fyne.NewMenuItem("Library…", func() {
		showLibraryDialog(w, mgr, opts.Index, l, openDoc, func(paths []string) {
			cur := rd.State().Path
			for _, p := range paths {
				if p == cur {
					report("close", rd.Close())
					return
				}
			}
		})
	})
	searchItem := fyne.NewMenuItem("Search…", func() {
		if opts.Index == nil {
			dialog.ShowInformation("Search", "The search index is disabled in the configuration.", w)
			return
		}
		showSearchDialog(w, opts.Index, l, func(path string, page int) {
			if rd.State().Path != path {
				if err := rd.Open(path); err != nil {
					report("open", err)
					return
				}
			}
			report("go to page", rd.GoTo(page))
		})
	})
	exportItem := fyne.NewMenuItem("Export…", func() {
		st := rd.State()
		if st.Path == "" {
			dialog.ShowInformation("Export", "Open a document first.", w)
			return
		}
		showExportDialog(w, st, status, l)
	})
	closeItem := fyne.NewMenuItem("Close Document", func() { report("close", rd.Close()) })
	openItem.Shortcut = &desktop.CustomShortcut{KeyName: fyne.KeyO, Modifier: fyne.KeyModifierControl}
	libraryItem.Shortcut = &desktop.CustomShortcut{KeyName: fyne.KeyL, Modifier: fyne.KeyModifierControl}
	searchItem.Shortcut = &desktop.CustomShortcut{KeyName: fyne.KeyF, Modifier: fyne.KeyModifierControl}
	closeItem.Shortcut = &desktop.CustomShortcut{KeyName: fyne.KeyW, Modifier: fyne.KeyModifierControl}
	fileMenu := fyne.NewMenu("File", openItem, libraryItem, searchItem, exportItem, fyne.NewMenuItemSeparator(), closeItem)

	goMenu := fyne.NewMenu("Go",
		fyne.NewMenuItem("First Page", func() { report("first", rd.First()) }),
		fyne.NewMenuItem("Last Page", func() { report("last", rd.Last()) }),
		fyne.NewMenuItem("Back", func() { travel("back", rd.Back) }),
		fyne.NewMenuItem("Forward", func() { travel("forward", rd.Forward) }),
		fyne.NewMenuItem("Re-render Page", func() { report("refresh", rd.Refresh()) }),
	)

	aboutItem := fyne.NewMenuItem("About Book Reader", func() {
		exe, _ := os.Executable()
		info := fmt.Sprintf("Book Reader\nVersion: %s\nOS: %s\nArch: %s\nGo: %s\nExecutable: %s\nLibrary: %s",
			version.String(), runtime.GOOS, runtime.GOARCH, runtime.Version(), exe, opts.LibraryDir)
		dialog.ShowInformation("About", info, w)
	})
	w.SetMainMenu(fyne.NewMainMenu(fileMenu, goMenu, fyne.NewMenu("Help", aboutItem)))

	// Persist preferences and reading position on close
	w.SetCloseIntercept(func() {
		sz := w.Canvas().Size()
		prefs.SetInt("window.width", int(sz.Width))
		prefs.SetInt("window.height", int(sz.Height))
		if err := rd.Shutdown(); err != nil {
			l.Error("shutdown failed", slog.Any("err", err))
		}
		w.Close()
	})

	telemetry.Event(telemetry.EventAppStarted, map[string]any{"ui": true})
	if opts.File != "" {
		openDoc(opts.File)
	} else {
		refresh()
	}

	w.ShowAndRun()
	return nil
}

// forgetter avoids handing the manager a typed nil index.
func forgetter(idx *storage.Index) library.Forgetter {
	if idx == nil {
		return nil
	}
	return idx
}

// showLibraryDialog lists the documents of the library directory with
// checkboxes to open or delete them.
func showLibraryDialog(w fyne.Window, mgr *library.Manager, idx *storage.Index, l *slog.Logger, onOpen func(string), beforeDelete func([]string)) {
	var entries []library.Entry
	checked := map[string]bool{}
	info := widget.NewLabel("")
	thumb := canvas.NewImageFromImage(nil)
	thumb.FillMode = canvas.ImageFillContain
	thumb.SetMinSize(fyne.NewSize(preview.ThumbWidth, preview.ThumbHeight))

	list := widget.NewList(
		func() int { return len(entries) },
		func() fyne.CanvasObject { return widget.NewCheck("", nil) },
		func(i widget.ListItemID, o fyne.CanvasObject) {
			c := o.(*widget.Check)
			if i < 0 || int(i) >= len(entries) {
				return
			}
			e := entries[i]
			c.OnChanged = nil
			c.SetText(e.Label() + ", " + e.Age())
			c.SetChecked(checked[e.Path])
			c.OnChanged = func(on bool) { checked[e.Path] = on }
		},
	)
	list.OnSelected = func(i widget.ListItemID) {
		thumb.Image = nil
		if i >= 0 && int(i) < len(entries) {
			if img, ok := CachedThumbnail(context.Background(), idx, entries[i].Path); ok {
				thumb.Image = img
			}
		}
		thumb.Refresh()
	}
	reload := func(msg string) {
		var err error
		entries, err = mgr.List()
		if err != nil {
			l.Error("library scan failed", slog.Any("err", err))
			info.SetText("Cannot read " + mgr.Dir + ": " + err.Error())
		} else if msg != "" {
			info.SetText(msg)
		} else {
			info.SetText(fmt.Sprintf("%d document(s) in %s", len(entries), mgr.Dir))
		}
		for p := range checked {
			checked[p] = false
		}
		list.UnselectAll()
		list.Refresh()
	}
	selected := func() []string {
		var out []string
		for _, e := range entries {
			if checked[e.Path] {
				out = append(out, e.Path)
			}
		}
		return out
	}

	var d dialog.Dialog
	remove := func(paths []string, all bool) {
		beforeDelete(paths)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		var rep library.Report
		if all {
			var err error
			rep, err = mgr.DeleteAll(ctx)
			if err != nil {
				info.SetText(err.Error())
				return
			}
		} else {
			rep = mgr.Delete(ctx, paths)
		}
		telemetry.Event(telemetry.EventFilesDeleted, map[string]any{"deleted": len(rep.Deleted), "failed": len(rep.Failures)})
		if len(rep.Failures) > 0 {
			dialog.ShowInformation("Delete", rep.Summary(), w)
		}
		reload(rep.Summary())
	}

	openBtn := widget.NewButton("Open", func() {
		sel := selected()
		if len(sel) != 1 {
			info.SetText("Tick exactly one document to open.")
			return
		}
		d.Hide()
		onOpen(sel[0])
	})
	deleteBtn := widget.NewButton("Delete Selected…", func() {
		sel := selected()
		if len(sel) == 0 {
			info.SetText("Nothing selected.")
			return
		}
		names := make([]string, len(sel))
		for i, p := range sel {
			names[i] = filepath.Base(p)
		}
		dialog.ShowConfirm("Delete documents",
			fmt.Sprintf("Permanently delete %d document(s)?\n\n%s", len(sel), strings.Join(names, "\n")),
			func(ok bool) {
				if ok {
					remove(sel, false)
				}
			}, w)
	})
	deleteAllBtn := widget.NewButton("Delete All…", func() {
		if len(entries) == 0 {
			info.SetText("The library is empty.")
			return
		}
		dialog.ShowConfirm("Delete all documents",
			fmt.Sprintf("Permanently delete all %d document(s) in %s?", len(entries), mgr.Dir),
			func(ok bool) {
				if ok {
					paths := make([]string, len(entries))
					for i, e := range entries {
						paths[i] = e.Path
					}
					remove(paths, true)
				}
			}, w)
	})
	refreshBtn := widget.NewButton("Refresh", func() { reload("") })

	content := container.NewBorder(nil,
		container.NewVBox(info, container.NewHBox(openBtn, deleteBtn, deleteAllBtn, refreshBtn)),
		nil, thumb, list)
	d = dialog.NewCustom("Library", "Close", content, w)
	d.Resize(fyne.NewSize(700, 500))
	reload("")
	d.Show()
}

// showSearchDialog queries the full-text index and opens the chosen hit.
func showSearchDialog(w fyne.Window, idx *storage.Index, l *slog.Logger, onOpen func(path string, page int)) {
	qEntry := widget.NewEntry()
	qEntry.SetPlaceHolder("Search terms (use quotes for phrases)")
	form := dialog.NewForm("Search", "Run", "Cancel", []*widget.FormItem{
		widget.NewFormItem("Query", qEntry),
	}, func(ok bool) {
		q := strings.TrimSpace(qEntry.Text)
		if !ok || q == "" {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			res, err := idx.Search(ctx, storage.SearchQuery{Text: q, Limit: 200})
			telemetry.Event(telemetry.EventSearch, map[string]any{"results": len(res)})
			fyne.Do(func() {
				if err != nil {
					l.Error("search failed", slog.Any("err", err))
					dialog.ShowError(err, w)
					return
				}
				if len(res) == 0 {
					dialog.ShowInformation("Search", "No matches for "+strconv.Quote(q), w)
					return
				}
				items := make([]string, len(res))
				for i, r := range res {
					items[i] = SearchResultLabel(r)
				}
				var d dialog.Dialog
				list := widget.NewList(func() int { return len(items) }, func() fyne.CanvasObject { return widget.NewLabel("") }, func(i widget.ListItemID, o fyne.CanvasObject) { o.(*widget.Label).SetText(items[i]) })
				list.OnSelected = func(id widget.ListItemID) {
					if id < 0 || int(id) >= len(res) {
						return
					}
					d.Hide()
					onOpen(res[id].Path, res[id].Page)
				}
				d = dialog.NewCustom(fmt.Sprintf("%d results", len(res)), "Close", container.NewStack(list), w)
				d.Resize(fyne.NewSize(700, 400))
				d.Show()
			})
		}()
	}, w)
	form.Resize(fyne.NewSize(500, 160))
	form.Show()
}

// showExportDialog exports a page range of the open document next to it.
func showExportDialog(w fyne.Window, st reader.State, status *widget.Label, l *slog.Logger) {
	format := widget.NewSelect([]string{string(export.FormatPDF), string(export.FormatCBZ), string(export.FormatPNG)}, nil)
	format.SetSelected(string(export.FormatPDF))
	preset := widget.NewSelect([]string{string(export.PresetScreen), string(export.PresetDefault), string(export.PresetPrint)}, nil)
	preset.SetSelected(string(export.PresetDefault))
	from := widget.NewEntry()
	from.SetText("1")
	to := widget.NewEntry()
	to.SetText(strconv.Itoa(st.Pages))

	dialog.ShowForm("Export", "Export", "Cancel", []*widget.FormItem{
		widget.NewFormItem("Format", format),
		widget.NewFormItem("Quality", preset),
		widget.NewFormItem("From page", from),
		widget.NewFormItem("To page", to),
	}, func(ok bool) {
		if !ok {
			return
		}
		f, err := export.ParseFormat(format.Selected)
		if err != nil {
			dialog.ShowError(err, w)
			return
		}
		p, _ := export.ParsePreset(preset.Selected)
		first, err1 := ParsePageInput(from.Text, st.Pages)
		last, err2 := ParsePageInput(to.Text, st.Pages)
		if err := errors.Join(err1, err2); err != nil {
			dialog.ShowError(err, w)
			return
		}
		out := filepath.Join(filepath.Dir(st.Path), st.Title()+"-export")
		if f != export.FormatPNG {
			out += "." + string(f)
		}
		status.SetText("Exporting…")
		go func() {
			res, err := exportFile(st.Path, f, out, export.Options{From: first, To: last, DPI: p.DPI(), Name: st.Title(),
				Progress: func(done, total int) {
					fyne.Do(func() { status.SetText(fmt.Sprintf("Exporting… %d/%d", done, total)) })
				}})
			telemetry.Event(telemetry.EventExport, map[string]any{"format": string(f), "pages": len(res.Exported), "failed": len(res.Failures)})
			fyne.Do(func() {
				if err != nil {
					l.Error("export failed", slog.Any("err", err))
					dialog.ShowError(err, w)
					status.SetText("Export failed")
					return
				}
				msg := fmt.Sprintf("Exported %d page(s) to %s", len(res.Exported), out)
				if ferr := res.Err(); ferr != nil {
					msg += "\n\nSkipped:\n" + ferr.Error()
				}
				status.SetText(fmt.Sprintf("Exported %d page(s)", len(res.Exported)))
				dialog.ShowInformation("Export", msg, w)
			})
		}()
	}, w)
}

// exportFile opens its own document handle so export rendering never
// contends with the reader's page handles.
func exportFile(path string, f export.Format, out string, opt export.Options) (export.Result, error) {
	doc, err := reader.OpenPDF(path)
	if err != nil {
		return export.Result{}, err
	}
	defer func() { _ = doc.Close() }()
	return export.Export(context.Background(), doc, f, out, opt)
}

// variantTheme pins the default theme to one variant regardless of the OS setting.
type variantTheme struct {
	fyne.Theme
	variant fyne.ThemeVariant
}

func (t variantTheme) Color(n fyne.ThemeColorName, _ fyne.ThemeVariant) color.Color {
	return t.Theme.Color(n, t.variant)
}
