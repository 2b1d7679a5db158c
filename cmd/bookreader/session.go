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
	"sync"
	"time"

	"bookreader/internal/config"
	"bookreader/internal/library"
	applog "bookreader/internal/log"
	"bookreader/internal/positions"
	"bookreader/internal/render"
	"bookreader/internal/storage"
	"bookreader/internal/telemetry"
)

// globalFlags override the loaded configuration.
type globalFlags struct {
	library string
	noIndex bool
}

// session is the state every command works on.
type session struct {
	cfg       config.AppConfig
	log       *slog.Logger
	positions *positions.Store
	// index is nil when disabled or unavailable.
	index *storage.Index
}

var (
	currentMu sync.Mutex
	current   *session
)

// openPositions lets a crash report flush the reading positions of whatever
// command was running.
type openPositions struct{}

func (openPositions) Save() error {
	currentMu.Lock()
	s := current
	currentMu.Unlock()
	if s == nil || s.positions == nil {
		return nil
	}
	return s.positions.Save()
}

func openSession(g *globalFlags) (*session, error) {
	cfg, cfgErr := config.Load()
	if g.library != "" {
		cfg.Library.Dir = g.library
	}
	if g.noIndex {
		cfg.Storage.DisableIndex = true
	}

	applog.Init(applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
	})
	l := applog.WithComponent("cli")
	if cfgErr != nil {
		l.Warn("config file ignored", slog.Any("err", cfgErr))
	}
	telemetry.NewDefault(telemetry.FromEnv().WithOptIn(cfg.General.TelemetryOptIn))

	posPath, err := cfg.PositionsPath()
	if err != nil {
		return nil, fmt.Errorf("resolve positions file: %w", err)
	}
	store, err := positions.Open(posPath)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, log: l, positions: store}

	if !cfg.Storage.DisableIndex {
		idxPath, err := cfg.IndexPath()
		if err == nil {
			var rebuilt bool
			s.index, rebuilt, err = storage.OpenOrRebuild(idxPath, storage.Options{PreviewsMaxBytes: cfg.Storage.PreviewsMaxBytes})
			if rebuilt {
				l.Warn("search index was corrupt and has been rebuilt", slog.String("path", idxPath))
			}
		}
		if err != nil {
			l.Warn("search index unavailable", slog.Any("err", err))
			s.index = nil
		}
	}

	currentMu.Lock()
	current = s
	currentMu.Unlock()
	return s, nil
}

func (s *session) close() error {
	currentMu.Lock()
	if current == s {
		current = nil
	}
	currentMu.Unlock()

	var errs []error
	if err := s.positions.Save(); err != nil {
		errs = append(errs, err)
	}
	if s.index != nil {
		if err := s.index.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	telemetry.Flush(ctx)
	return errors.Join(errs...)
}

func (s *session) libraryDir() string { return s.cfg.LibraryDir() }

func (s *session) manager() *library.Manager {
	var idx library.Forgetter
	if s.index != nil {
		idx = s.index
	}
	return library.NewManager(s.libraryDir(), s.cfg.Library.Extension, s.positions, idx)
}

func (s *session) renderConfig() render.Config {
	return render.Config{
		Capacity:     s.cfg.Render.QueueCapacity,
		PollInterval: s.cfg.Render.PollInterval(),
		Logger:       applog.WithComponent("render"),
	}
}

// resolve maps a bare file name onto the library directory; paths with a
// directory part are taken as given.
func (s *session) resolve(name string) string {
	if filepath.IsAbs(name) || strings.ContainsRune(name, filepath.Separator) || strings.Contains(name, "/") {
		abs, err := filepath.Abs(name)
		if err != nil {
			return name
		}
		return abs
	}
	return filepath.Join(s.libraryDir(), name)
}

func (s *session) requireIndex() error {
	if s.index == nil {
		return errors.New("the search index is disabled or unavailable (see storage.disable_index)")
	}
	return nil
}
