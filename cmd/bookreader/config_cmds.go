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
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"bookreader/internal/config"
	"bookreader/internal/version"
)

// overridable lists the config keys that environment variables can override.
var overridable = []string{
	"library.dir",
	"render.queue_capacity",
	"render.poll_interval_ms",
	"render.prefetch",
	"storage.positions_file",
	"storage.index_file",
	"storage.disable_index",
	"general.telemetry_opt_in",
	"logging.level",
	"logging.format",
	"logging.source",
	"logging.file",
}

func newConfigCmd() *cobra.Command {
	var initFile bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration and its environment overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			if initFile {
				p, err := config.ConfigPath()
				if err != nil {
					return err
				}
				if _, err := os.Stat(p); err == nil {
					return fmt.Errorf("%s already exists", p)
				}
				if err := config.Save(config.Defaults()); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(w, "wrote %s\n", p)
				return nil
			}
			cfg, loadErr := config.Load()
			if p, err := config.ConfigPath(); err == nil {
				_, _ = fmt.Fprintf(w, "# file: %s\n", p)
			}
			if loadErr != nil {
				_, _ = fmt.Fprintf(w, "# file ignored: %v\n", loadErr)
			}
			for _, k := range overridable {
				if env, ok := config.EnvOverrideFor(k); ok {
					_, _ = fmt.Fprintf(w, "# %s overridden by %s\n", k, env)
				}
			}
			enc := yaml.NewEncoder(w)
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().BoolVar(&initFile, "init", false, "write a config file with the defaults")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Book Reader", version.String())
		},
	}
}
