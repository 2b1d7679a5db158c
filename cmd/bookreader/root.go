/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "bookreader",
		Short:         "Read, index and manage a folder of PDF documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.library, "library", "", "document directory (overrides library.dir)")
	root.PersistentFlags().BoolVar(&g.noIndex, "no-index", false, "do not open the search index")

	root.AddCommand(
		newUICmd(&g),
		newListCmd(&g),
		newDeleteCmd(&g),
		newRenderCmd(&g),
		newExportCmd(&g),
		newIndexCmd(&g),
		newSearchCmd(&g),
		newInfoCmd(&g),
		newTextCmd(&g),
		newPositionsCmd(&g),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// withSession runs fn with a session that is closed afterwards.
func withSession(g *globalFlags, fn func(s *session) error) error {
	s, err := openSession(g)
	if err != nil {
		return err
	}
	runErr := fn(s)
	if err := s.close(); err != nil && runErr == nil {
		return err
	}
	return runErr
}
