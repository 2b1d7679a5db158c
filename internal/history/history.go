/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package history keeps per-document back/forward navigation stacks.
package history

import (
	"sync"
	"time"
)

// Entry is a page the reader left, with the time it was left.
type Entry struct {
	Page int
	TS   time.Time
}

// Config controls depth caps and coalescing behavior.
type Config struct {
	// MaxPerDocument limits entries kept per document (0 means 100).
	MaxPerDocument int
	// MinInterval coalesces jumps made within the interval: the page left first is
	// kept and the intermediate pages are not recorded.
	MinInterval time.Duration
}

// Manager provides back/forward stacks per document path.
// It is safe for concurrent use.
type Manager struct {
	cfg  Config
	mu   sync.Mutex
	back map[string][]Entry
	fwd  map[string][]Entry
	// last visit time per document, for coalescing
	last map[string]time.Time
	now  func() time.Time
}

// NewManager creates a manager with defaults applied.
func NewManager(cfg Config) *Manager {
	if cfg.MaxPerDocument <= 0 {
		cfg.MaxPerDocument = 100
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	return &Manager{
		cfg:  cfg,
		back: make(map[string][]Entry),
		fwd:  make(map[string][]Entry),
		last: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Visit records a move in doc from page from to page to. Moves to the same page
// are ignored. Any new visit invalidates the forward stack for the document.
func (m *Manager) Visit(doc string, from, to int) {
	if from == to {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	stack := m.back[doc]
	prev, seen := m.last[doc]
	m.last[doc] = now
	m.fwd[doc] = nil
	if len(stack) > 0 && seen && now.Sub(prev) < m.cfg.MinInterval {
		// Coalesce: the origin of the burst stays on top.
		return
	}
	m.back[doc] = append(stack, Entry{Page: from, TS: now})
	m.enforceCapLocked(doc)
}

// Back returns the page to return to from current and moves current onto the forward stack.
func (m *Manager) Back(doc string, current int) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stack := m.back[doc]
	if len(stack) == 0 {
		return 0, false
	}
	e := stack[len(stack)-1]
	m.back[doc] = stack[:len(stack)-1]
	m.fwd[doc] = append(m.fwd[doc], Entry{Page: current, TS: m.now()})
	delete(m.last, doc)
	return e.Page, true
}

// Forward undoes a Back.
func (m *Manager) Forward(doc string, current int) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.fwd[doc]
	if len(f) == 0 {
		return 0, false
	}
	e := f[len(f)-1]
	m.fwd[doc] = f[:len(f)-1]
	m.back[doc] = append(m.back[doc], Entry{Page: current, TS: m.now()})
	delete(m.last, doc)
	m.enforceCapLocked(doc)
	return e.Page, true
}

// CanBack reports whether Back would succeed.
func (m *Manager) CanBack(doc string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.back[doc]) > 0
}

// CanForward reports whether Forward would succeed.
func (m *Manager) CanForward(doc string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fwd[doc]) > 0
}

// Clear drops both stacks for doc.
func (m *Manager) Clear(doc string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.back, doc)
	delete(m.fwd, doc)
	delete(m.last, doc)
}

// Stats returns current sizes for diagnostics.
func (m *Manager) Stats() (documents int, backEntries int, forwardEntries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.back {
		if len(v) > 0 {
			documents++
		}
		backEntries += len(v)
	}
	for _, v := range m.fwd {
		forwardEntries += len(v)
	}
	return documents, backEntries, forwardEntries
}

func (m *Manager) enforceCapLocked(doc string) {
	stack := m.back[doc]
	if len(stack) > m.cfg.MaxPerDocument {
		// drop the oldest extras
		toDrop := len(stack) - m.cfg.MaxPerDocument
		m.back[doc] = append([]Entry{}, stack[toDrop:]...)
	}
}
