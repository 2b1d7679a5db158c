/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * Licensed under the Apache License, Version 2.0.
 */

// Package version exposes the build version of the reader.
package version

import "runtime/debug"

// Version is overridden at build time:
//
//	go build -ldflags "-X bookreader/internal/version.Version=1.2.0" ./cmd/bookreader
var Version = "0.1.0-dev"

// String returns the version, suffixed with the VCS revision when the binary carries one.
func String() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Version
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return Version + "+" + s.Value[:7]
		}
	}
	return Version
}
