/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"bookreader/internal/pdfengine"
)

func newInfoCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info <file>",
		Short: "Show page count, metadata, outline and reading position of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(g, func(s *session) error {
				path := s.resolve(args[0])
				doc, err := pdfengine.Open(path)
				if err != nil {
					return err
				}
				defer func() { _ = doc.Close() }()

				w := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(w, "File:     %s\n", doc.Path)
				_, _ = fmt.Fprintf(w, "Pages:    %d\n", doc.NumPages())
				if s.positions != nil {
					if p, ok := s.positions.Get(doc.Path); ok {
						_, _ = fmt.Fprintf(w, "Position: page %d\n", p+1)
					}
				}
				if s.index != nil {
					if ok, err := s.index.Indexed(cmd.Context(), doc.Path); err == nil {
						_, _ = fmt.Fprintf(w, "Indexed:  %t\n", ok)
					}
				}

				meta := doc.Metadata()
				keys := make([]string, 0, len(meta))
				for k, v := range meta {
					if strings.TrimSpace(v) != "" {
						keys = append(keys, k)
					}
				}
				sort.Strings(keys)
				for _, k := range keys {
					_, _ = fmt.Fprintf(w, "%-9s %s\n", k+":", meta[k])
				}

				toc, err := doc.Outline()
				if err != nil {
					return err
				}
				if len(toc) > 0 {
					_, _ = fmt.Fprintln(w, "Outline:")
					for _, o := range toc {
						indent := strings.Repeat("  ", max(o.Level, 1))
						_, _ = fmt.Fprintf(w, "%s%s  p.%d\n", indent, o.Title, o.Page+1)
					}
				}
				return nil
			})
		},
	}
}

func newTextCmd(g *globalFlags) *cobra.Command {
	var page int
	cmd := &cobra.Command{
		Use:   "text <file>",
		Short: "Print the plain text of one page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(g, func(s *session) error {
				path := s.resolve(args[0])
				if page < 1 {
					return fmt.Errorf("invalid page %d", page)
				}
				w := cmd.OutOrStdout()
				if s.index != nil {
					if ok, _ := s.index.Indexed(cmd.Context(), path); ok {
						text, err := s.index.PageText(cmd.Context(), path, page-1)
						if err != nil {
							return err
						}
						_, _ = fmt.Fprintln(w, strings.TrimSpace(text))
						return nil
					}
				}
				doc, err := pdfengine.Open(path)
				if err != nil {
					return err
				}
				defer func() { _ = doc.Close() }()
				text, err := doc.Text(page - 1)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(w, strings.TrimSpace(text))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "1-based page number")
	return cmd
}
