/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"

	"bookreader/internal/export"
	"bookreader/internal/library"
	"bookreader/internal/pdfengine"
	"bookreader/internal/reader"
	"bookreader/internal/render"
	"bookreader/internal/storage"
	"bookreader/internal/telemetry"
	"bookreader/internal/ui"
)

func newUICmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ui [file]",
		Short: "Open the reader window (build with -tags fyne)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withSession(g, func(s *session) error {
				opts := ui.Options{
					LibraryDir: s.libraryDir(),
					Extension:  s.cfg.Library.Extension,
					Positions:  s.positions,
					Index:      s.index,
					Render:     s.renderConfig(),
					Prefetch:   s.cfg.Render.Prefetch,
					Theme:      s.cfg.General.Theme,
					CrashDir:   crashDir(),
				}
				if len(args) == 1 {
					opts.File = s.resolve(args[0])
				}
				return ui.Run(opts)
			})
		},
	}
}

func newRenderCmd(g *globalFlags) *cobra.Command {
	var page, width, height int
	var out string
	cmd := &cobra.Command{
		Use:   "render <file>",
		Short: "Render one page to a PNG fitted into width x height pixels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(g, func(s *session) error {
				if width <= 0 {
					width = s.cfg.Render.ViewportWidth
				}
				if height <= 0 {
					height = s.cfg.Render.ViewportHeight
				}
				path := s.resolve(args[0])
				doc, err := reader.OpenPDF(path)
				if err != nil {
					return err
				}
				defer func() { _ = doc.Close() }()
				h, err := doc.Page(page - 1)
				if err != nil {
					return err
				}

				w := render.NewWorker(s.renderConfig())
				w.Start()
				defer w.Stop()
				done := make(chan render.Result, 1)
				task := render.Task{
					Page:     page - 1,
					Handle:   h,
					Target:   render.Size{Width: float64(width), Height: float64(height)},
					Callback: func(r render.Result) { done <- r },
				}
				if err := w.Submit(cmd.Context(), task); err != nil {
					return err
				}
				var res render.Result
				select {
				case res = <-done:
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				}
				if res.Failed() {
					return fmt.Errorf("page %d of %s could not be rendered", page, filepath.Base(path))
				}
				if out == "" {
					base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
					out = fmt.Sprintf("%s-page-%d.png", base, page)
				}
				if err := imaging.Save(res.Image, out); err != nil {
					return fmt.Errorf("save %s: %w", out, err)
				}
				b := res.Image.Bounds()
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%dx%d px, scale %.3f, page %.0fx%.0f pt)\n",
					out, b.Dx(), b.Dy(), res.Scale, res.Width, res.Height)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "1-based page number")
	cmd.Flags().IntVar(&width, "width", 0, "target width in pixels (render.viewport_width)")
	cmd.Flags().IntVar(&height, "height", 0, "target height in pixels (render.viewport_height)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output PNG (default <name>-page-<n>.png)")
	return cmd
}

func newExportCmd(g *globalFlags) *cobra.Command {
	var from, to, dpi int
	var format, preset, out string
	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export a page range as PNG files, a CBZ archive or an image-only PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			p, err := export.ParsePreset(preset)
			if err != nil {
				return err
			}
			if dpi <= 0 {
				dpi = p.DPI()
			}
			return withSession(g, func(s *session) error {
				path := s.resolve(args[0])
				doc, err := reader.OpenPDF(path)
				if err != nil {
					return err
				}
				defer func() { _ = doc.Close() }()
				name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
				if out == "" {
					out = name + "-export"
					if f != export.FormatPNG {
						out += "." + string(f)
					}
				}
				res, err := export.Export(cmd.Context(), doc, f, out, export.Options{From: from - 1, To: to - 1, DPI: dpi, Name: name})
				telemetry.Event(telemetry.EventExport, map[string]any{"format": string(f), "pages": len(res.Exported), "failed": len(res.Failures)})
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				for _, file := range res.Files {
					_, _ = fmt.Fprintln(w, file)
				}
				_, _ = fmt.Fprintf(w, "exported %d page(s) at %d dpi\n", len(res.Exported), dpi)
				if ferr := res.Err(); ferr != nil {
					_, _ = fmt.Fprintf(w, "skipped:\n%v\n", ferr)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&from, "from", 1, "first page (1-based)")
	cmd.Flags().IntVar(&to, "to", 0, "last page (1-based, 0 for the last page)")
	cmd.Flags().StringVar(&format, "format", "pdf", "png, cbz or pdf")
	cmd.Flags().StringVar(&preset, "preset", "default", "resolution preset: screen, default or print")
	cmd.Flags().IntVar(&dpi, "dpi", 0, "output resolution (overrides --preset)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file, or directory for png")
	return cmd
}

func newIndexCmd(g *globalFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "index [file...]",
		Short: "Extract page text into the search index (all library documents by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(g, func(s *session) error {
				if err := s.requireIndex(); err != nil {
					return err
				}
				var files []string
				if len(args) == 0 {
					entries, err := s.manager().List()
					if err != nil {
						return err
					}
					for _, e := range entries {
						if e.Valid {
							files = append(files, e.Path)
						}
					}
				} else {
					for _, a := range args {
						files = append(files, s.resolve(a))
					}
				}
				indexed, skipped, failed := 0, 0, 0
				w := cmd.OutOrStdout()
				for _, f := range files {
					ok, err := indexFile(cmd.Context(), s.index, f, force)
					switch {
					case err != nil:
						failed++
						s.log.Warn("index failed", slog.String("file", filepath.Base(f)), slog.Any("err", err))
						_, _ = fmt.Fprintf(w, "failed   %s: %v\n", filepath.Base(f), err)
					case ok:
						indexed++
						_, _ = fmt.Fprintf(w, "indexed  %s\n", filepath.Base(f))
					default:
						skipped++
					}
				}
				_, _ = fmt.Fprintf(w, "%d indexed, %d up to date, %d failed\n", indexed, skipped, failed)
				if failed > 0 {
					return fmt.Errorf("%d document(s) could not be indexed", failed)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-index documents that are up to date")
	return cmd
}

// indexFile reports whether path was (re)indexed.
func indexFile(ctx context.Context, idx *storage.Index, path string, force bool) (bool, error) {
	if !library.IsPDF(path) {
		return false, errors.New("not a PDF document")
	}
	if !force {
		up, err := idx.Indexed(ctx, path)
		if err != nil {
			return false, err
		}
		if up {
			return false, nil
		}
	}
	pages, err := pdfengine.ExtractText(path)
	if err != nil {
		return false, err
	}
	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return true, idx.IndexDocument(ctx, path, title, pages)
}

func newSearchCmd(g *globalFlags) *cobra.Command {
	var file string
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>...",
		Short: "Full-text search over indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(g, func(s *session) error {
				if err := s.requireIndex(); err != nil {
					return err
				}
				q := storage.SearchQuery{Text: strings.Join(args, " "), Limit: limit}
				if file != "" {
					q.Path = s.resolve(file)
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				res, err := s.index.Search(ctx, q)
				if err != nil {
					return err
				}
				telemetry.Event(telemetry.EventSearch, map[string]any{"results": len(res)})
				w := cmd.OutOrStdout()
				if len(res) == 0 {
					_, _ = fmt.Fprintln(w, "no matches")
					return nil
				}
				for _, r := range res {
					_, _ = fmt.Fprintln(w, ui.SearchResultLabel(r))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "only search this document")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of results")
	return cmd
}
