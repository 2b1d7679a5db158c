/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"

	"bookreader/internal/library"
	"bookreader/internal/telemetry"
)

func newListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the documents in the library, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(g, func(s *session) error {
				entries, err := s.manager().List()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					_, _ = fmt.Fprintf(out, "no documents in %s\n", s.libraryDir())
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "NAME\tSIZE\tPAGE\tMODIFIED")
				for _, e := range entries {
					page := "-"
					if e.HasPosition {
						page = fmt.Sprint(e.LastPage + 1)
					}
					name := e.Name
					if !e.Valid {
						name += " [not a PDF]"
					}
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, e.SizeText(), page, e.Age())
				}
				return tw.Flush()
			})
		},
	}
}

func newDeleteCmd(g *globalFlags) *cobra.Command {
	var all, yes bool
	cmd := &cobra.Command{
		Use:   "delete <file>... | --all",
		Short: "Delete documents together with their reading positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("name the files to delete or pass --all, not both")
			}
			return withSession(g, func(s *session) error {
				mgr := s.manager()
				var targets []string
				if all {
					entries, err := mgr.List()
					if err != nil {
						return err
					}
					for _, e := range entries {
						targets = append(targets, e.Path)
					}
					if len(targets) == 0 {
						return library.ErrNothingToDelete
					}
				} else {
					for _, a := range args {
						targets = append(targets, s.resolve(a))
					}
				}

				if !yes {
					ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(),
						fmt.Sprintf("Permanently delete %s from %s?", english.Plural(len(targets), "document", ""), s.libraryDir()))
					if err != nil {
						return err
					}
					if !ok {
						_, _ = fmt.Fprintln(cmd.OutOrStdout(), "aborted")
						return nil
					}
				}

				rep := mgr.Delete(cmd.Context(), targets)
				telemetry.Event(telemetry.EventFilesDeleted, map[string]any{"deleted": len(rep.Deleted), "failed": len(rep.Failures)})
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), rep.Summary())
				if n := len(rep.Failures); n > 0 {
					return fmt.Errorf("%s failed", english.Plural(n, "deletion", ""))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "delete every document in the library")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

// confirm asks a yes/no question; anything but y or yes is a no.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	_, _ = fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func newPositionsCmd(g *globalFlags) *cobra.Command {
	var prune bool
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Show the remembered reading positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(g, func(s *session) error {
				out := cmd.OutOrStdout()
				removed := 0
				for _, f := range s.positions.Files() {
					if prune {
						if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
							s.positions.Delete(f)
							removed++
							continue
						}
					}
					p, _ := s.positions.Get(f)
					_, _ = fmt.Fprintf(out, "%6d  %s\n", p+1, f)
				}
				if prune {
					_, _ = fmt.Fprintf(out, "pruned %s\n", english.Plural(removed, "missing file", ""))
				}
				_, _ = fmt.Fprintf(out, "(%s)\n", s.positions.Path())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&prune, "prune", false, "forget positions of files that no longer exist")
	return cmd
}
