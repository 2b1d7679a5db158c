/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package telemetry reports anonymous reader usage and crash reports when the
// user opts in. Only registered events with registered props are sent, so
// document names and paths never leave the machine.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	applog "bookreader/internal/log"
	"bookreader/internal/version"
)

// Environment variables read by FromEnv. Without a URL nothing is sent, even when opted in.
const (
	EnvOptIn     = "BKR_TELEMETRY_OPT_IN"
	EnvEventsURL = "BKR_TELEMETRY_URL"
	EnvCrashURL  = "BKR_CRASH_UPLOAD_URL"
	EnvTimeoutMs = "BKR_TELEMETRY_TIMEOUT_MS"
	EnvDebug     = "BKR_TELEMETRY_DEBUG"
)

// Config holds the endpoints and the opt-in switch. The zero value sends nothing.
type Config struct {
	OptIn        bool
	EventsURL    string
	CrashURL     string
	Timeout      time.Duration
	DebugLogging bool
}

// FromEnv reads the BKR_TELEMETRY_* variables.
func FromEnv() Config {
	cfg := Config{
		OptIn:        parseBool(os.Getenv(EnvOptIn)),
		EventsURL:    strings.TrimSpace(os.Getenv(EnvEventsURL)),
		CrashURL:     strings.TrimSpace(os.Getenv(EnvCrashURL)),
		Timeout:      1500 * time.Millisecond,
		DebugLogging: os.Getenv(EnvDebug) != "",
	}
	if ms := strings.TrimSpace(os.Getenv(EnvTimeoutMs)); ms != "" {
		if v, err := time.ParseDuration(ms + "ms"); err == nil && v > 0 {
			cfg.Timeout = v
		}
	}
	return cfg
}

// WithOptIn returns cfg with OptIn also enabled when the user config opts in.
func (cfg Config) WithOptIn(configOptIn bool) Config {
	cfg.OptIn = cfg.OptIn || configOptIn
	return cfg
}

func parseBool(v string) bool {
	s := strings.ToLower(strings.TrimSpace(v))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// Client posts events from one background goroutine. Event never blocks;
// when the queue is full the event is dropped.
type Client struct {
	cfg Config
	log *slog.Logger
	cli *http.Client

	q chan outgoing
	// pending counts items queued or being sent.
	pending atomic.Int64
	sent    atomic.Int64
	dropped atomic.Int64

	once   sync.Once
	closed chan struct{}
}

type outgoing struct {
	url         string
	contentType string
	body        []byte
}

// payload is the JSON body of one event.
type payload struct {
	Name    string         `json:"name"`
	TS      string         `json:"ts"`
	Version string         `json:"version"`
	OS      string         `json:"os"`
	Arch    string         `json:"arch"`
	Props   map[string]any `json:"props,omitempty"`
}

const queueSize = 64

// New constructs a client and starts its sender.
func New(cfg Config) *Client {
	c := &Client{
		cfg:    cfg,
		log:    applog.WithComponent("telemetry"),
		cli:    &http.Client{Timeout: cfg.Timeout},
		q:      make(chan outgoing, queueSize),
		closed: make(chan struct{}),
	}
	go c.loop()
	return c
}

// Enabled reports whether events are sent: the user opted in and an endpoint is configured.
func (c *Client) Enabled() bool { return c != nil && c.cfg.OptIn && c.cfg.EventsURL != "" }

// Event queues name with the props registered for it. Unknown events are
// dropped; unregistered or mistyped props are left out.
func (c *Client) Event(name string, props map[string]any) {
	if !c.Enabled() {
		return
	}
	clean, ok := sanitize(name, props)
	if !ok {
		c.dropped.Add(1)
		if c.cfg.DebugLogging {
			c.log.Debug("unregistered telemetry event dropped", slog.String("event", name))
		}
		return
	}
	body, err := json.Marshal(payload{
		Name:    name,
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		Version: version.String(),
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
		Props:   clean,
	})
	if err != nil {
		c.dropped.Add(1)
		return
	}
	c.enqueue(outgoing{url: c.cfg.EventsURL, contentType: "application/json", body: body})
}

// UploadCrash queues a crash report for the crash endpoint when opted in.
// Unlike events it waits for room in the queue, up to the client timeout.
func (c *Client) UploadCrash(report []byte) {
	if c == nil || !c.cfg.OptIn || c.cfg.CrashURL == "" {
		return
	}
	item := outgoing{url: c.cfg.CrashURL, contentType: "text/plain; charset=utf-8", body: append([]byte(nil), report...)}
	c.pending.Add(1)
	select {
	case c.q <- item:
	case <-c.closed:
		c.drop()
	case <-time.After(c.cfg.Timeout):
		c.drop()
	}
}

func (c *Client) enqueue(item outgoing) {
	select {
	case <-c.closed:
		c.dropped.Add(1)
		return
	default:
	}
	c.pending.Add(1)
	select {
	case c.q <- item:
	default:
		c.drop()
	}
}

func (c *Client) drop() {
	c.dropped.Add(1)
	c.pending.Add(-1)
}

// Flush waits until every queued event and crash report has been attempted,
// or ctx ends.
func (c *Client) Flush(ctx context.Context) {
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for c.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

// Stats returns how many items were delivered and how many were dropped.
func (c *Client) Stats() (sent, dropped int64) { return c.sent.Load(), c.dropped.Load() }

// Close stops the sender. Items still queued are dropped.
func (c *Client) Close() { c.once.Do(func() { close(c.closed) }) }

func (c *Client) loop() {
	for {
		select {
		case <-c.closed:
			for {
				select {
				case <-c.q:
					c.drop()
				default:
					return
				}
			}
		case item := <-c.q:
			if err := c.send(item); err != nil {
				if c.cfg.DebugLogging {
					c.log.Debug("telemetry send failed", slog.String("url", item.url), slog.Any("err", err))
				}
			} else {
				c.sent.Add(1)
			}
			c.pending.Add(-1)
		}
	}
}

func (c *Client) send(item outgoing) error {
	req, err := http.NewRequest(http.MethodPost, item.url, bytes.NewReader(item.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", item.contentType)
	resp, err := c.cli.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %s", resp.Status)
	}
	return nil
}

var (
	defaultMu     sync.Mutex
	defaultClient *Client
)

// InitDefault builds the package client from the environment unless one is installed.
func InitDefault() { _ = current() }

// NewDefault installs a client built from cfg, closing the previous one.
func NewDefault(cfg Config) {
	c := New(cfg)
	defaultMu.Lock()
	old := defaultClient
	defaultClient = c
	defaultMu.Unlock()
	if old != nil {
		old.Close()
	}
}

func current() *Client {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultClient == nil {
		defaultClient = New(FromEnv())
	}
	return defaultClient
}

// Enabled reports whether the package client sends events.
func Enabled() bool { return current().Enabled() }

// Event sends through the package client.
func Event(name string, props map[string]any) { current().Event(name, props) }

// UploadCrash sends through the package client.
func UploadCrash(report []byte) { current().UploadCrash(report) }

// Flush waits for the package client.
func Flush(ctx context.Context) { current().Flush(ctx) }
