/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"fmt"
	"strings"
)

// PresetName selects an output resolution.
type PresetName string

const (
	PresetScreen  PresetName = "screen"
	PresetDefault PresetName = "default"
	PresetPrint   PresetName = "print"
)

// DPI returns the resolution of the preset; unknown names use the default.
func (p PresetName) DPI() int {
	switch p {
	case PresetScreen:
		return 96
	case PresetPrint:
		return 300
	default:
		return 150
	}
}

// ParsePreset accepts screen, default or print in any case; empty means default.
func ParsePreset(s string) (PresetName, error) {
	switch p := PresetName(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PresetDefault, nil
	case PresetScreen, PresetDefault, PresetPrint:
		return p, nil
	default:
		return "", fmt.Errorf("unknown preset %q (want screen, default or print)", s)
	}
}
