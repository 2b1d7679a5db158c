/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package telemetry

// Event names emitted by the reader.
const (
	EventAppStarted     = "app_started"
	EventDocumentOpened = "document_opened"
	EventRenderFailed   = "render_failed"
	EventFilesDeleted   = "files_deleted"
	EventExport         = "export_finished"
	EventSearch         = "search"
)

type propKind int

const (
	kindCount propKind = iota // non-negative integer
	kindFlag
	kindFormat // one of exportFormats
)

// eventProps lists the props each event may carry.
var eventProps = map[string]map[string]propKind{
	EventAppStarted:     {"ui": kindFlag},
	EventDocumentOpened: {"pages": kindCount, "restored": kindFlag},
	EventRenderFailed:   {"page": kindCount},
	EventFilesDeleted:   {"deleted": kindCount, "failed": kindCount},
	EventExport:         {"format": kindFormat, "pages": kindCount, "failed": kindCount},
	EventSearch:         {"results": kindCount},
}

var exportFormats = map[string]bool{"png": true, "cbz": true, "pdf": true}

// sanitize returns the registered props of name whose values have the
// registered kind. ok is false for events that are not registered.
func sanitize(name string, props map[string]any) (clean map[string]any, ok bool) {
	allowed, ok := eventProps[name]
	if !ok {
		return nil, false
	}
	for k, v := range props {
		kind, known := allowed[k]
		if !known {
			continue
		}
		val, valid := normalize(kind, v)
		if !valid {
			continue
		}
		if clean == nil {
			clean = make(map[string]any, len(allowed))
		}
		clean[k] = val
	}
	return clean, true
}

func normalize(kind propKind, v any) (any, bool) {
	switch kind {
	case kindCount:
		var n int64
		switch x := v.(type) {
		case int:
			n = int64(x)
		case int32:
			n = int64(x)
		case int64:
			n = x
		case uint:
			n = int64(x)
		default:
			return nil, false
		}
		return n, n >= 0
	case kindFlag:
		b, ok := v.(bool)
		return b, ok
	case kindFormat:
		s, ok := v.(string)
		return s, ok && exportFormats[s]
	}
	return nil, false
}
