/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	applog "bookreader/internal/log"
	"bookreader/internal/version"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

const (
	// schemaVersion tracks the local SQLite schema for the embedded index.
	// Bump this when you perform breaking schema changes and add migrations.
	schemaVersion = 2

	// DefaultPreviewsMaxBytes caps the thumbnail cache when no cap is configured.
	DefaultPreviewsMaxBytes = 64 << 20
)

// Options tune an opened index.
type Options struct {
	// PreviewsMaxBytes is the LRU cap for cached thumbnails; <= 0 uses DefaultPreviewsMaxBytes.
	PreviewsMaxBytes int64
}

// Index is an open library index. Methods are safe for concurrent use.
type Index struct {
	db       *sql.DB
	path     string
	capBytes int64
	log      *slog.Logger
}

// FileInfo describes an indexed document.
type FileInfo struct {
	Path      string
	Pages     int
	Size      int64
	ModTime   time.Time
	IndexedAt time.Time
	Title     string
}

// OpenIndex opens (creating if needed) the index at path, enables WAL mode and
// ensures the meta/version tables, core schema and migrations.
func OpenIndex(path string, opts Options) (*Index, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "index_open").With(slog.String("path", path))
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("index path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		l.Error("create index dir failed", slog.Any("err", err))
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	// Use a URI with shared cache and set busy timeout. Convert to forward slashes for SQLite URI.
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		l.Error("sqlite open failed", slog.Any("err", err))
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		l.Error("enable WAL failed", slog.Any("err", err))
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := ensureMetaAndVersion(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure meta/version failed", slog.Any("err", err))
		return nil, err
	}
	if err := ensureIndexSchema(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure index schema failed", slog.Any("err", err))
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		l.Error("run migrations failed", slog.Any("err", err))
		return nil, err
	}

	capBytes := opts.PreviewsMaxBytes
	if capBytes <= 0 {
		capBytes = DefaultPreviewsMaxBytes
	}
	l.Debug("index ready")
	return &Index{db: db, path: path, capBytes: capBytes, log: applog.WithComponent("storage")}, nil
}

// OpenOrRebuild opens the index and, when it cannot be opened or fails an
// integrity check, backs it up, deletes it and creates a fresh one.
// The returned bool reports whether a rebuild happened; callers re-index documents.
func OpenOrRebuild(path string, opts Options) (*Index, bool, error) {
	idx, err := OpenIndex(path, opts)
	if err == nil {
		var chk string
		qerr := idx.db.QueryRow(`PRAGMA quick_check;`).Scan(&chk)
		if qerr == nil && strings.Contains(strings.ToLower(chk), "ok") {
			return idx, false, nil
		}
		_ = idx.Close()
	}
	backupIndexFile(path)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}
	idx, rerr := OpenIndex(path, opts)
	if rerr != nil {
		return nil, false, fmt.Errorf("rebuild index: %w (open err: %v)", rerr, err)
	}
	idx.log.Warn("index rebuilt", slog.String("path", path))
	return idx, true, nil
}

// Path returns the database file location.
func (x *Index) Path() string { return x.path }

// DB exposes the underlying handle for diagnostics and tests.
func (x *Index) DB() *sql.DB { return x.db }

// Close closes the database.
func (x *Index) Close() error { return x.db.Close() }

func ensureMetaAndVersion(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	appv := version.String()
	var curSchema int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&curSchema)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, ?, ?, ?, ?)`, schemaVersion, appv, now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		// Keep the stored schema; runMigrations moves it forward.
		if _, err := db.ExecContext(ctx, `UPDATE version SET app=?, updated_at=? WHERE id=1`, appv, now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

// runMigrations applies incremental schema migrations up to schemaVersion.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var cur int
	if err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if cur > schemaVersion {
		// Never downgrade.
		return nil
	}
	for cur < schemaVersion {
		next := cur + 1
		var stmts []string
		switch next {
		case 2:
			has, err := hasColumn(ctx, db, "files", "title")
			if err != nil {
				return err
			}
			if !has {
				stmts = append(stmts, `ALTER TABLE files ADD COLUMN title TEXT NOT NULL DEFAULT '';`)
			}
			stmts = append(stmts, `CREATE INDEX IF NOT EXISTS idx_previews_access ON previews(last_access);`)
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", next, err)
		}
		for _, q := range stmts {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d stmt failed: %w", next, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE version SET schema=?, updated_at=? WHERE id=1`, next, time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d update version: %w", next, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d commit: %w", next, err)
		}
		cur = next
	}
	// Best-effort FTS optimize.
	_, _ = db.ExecContext(ctx, `INSERT INTO fts_documents(fts_documents) VALUES('optimize')`)
	return nil
}

// ensureIndexSchema creates the current tables and FTS structures if they do not exist.
// Databases created by older versions are brought forward by runMigrations.
func ensureIndexSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS files (
			path       TEXT PRIMARY KEY,
			pages      INTEGER NOT NULL,
			size       INTEGER NOT NULL,
			mod_time   INTEGER NOT NULL,
			indexed_at INTEGER NOT NULL,
			title      TEXT    NOT NULL DEFAULT ''
		);`,
		// One row per page of text.
		`CREATE TABLE IF NOT EXISTS documents (
			doc_id INTEGER PRIMARY KEY,
			path   TEXT    NOT NULL,
			page   INTEGER NOT NULL,
			text   TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(path, page);`,

		// External-content FTS5 index fed from documents via triggers.
		`CREATE VIRTUAL TABLE IF NOT EXISTS fts_documents USING fts5(
			text,
			content='documents',
			content_rowid='doc_id',
			tokenize = 'unicode61'
		);`,

		// Thumbnail cache keyed by document page and pixel size.
		`CREATE TABLE IF NOT EXISTS previews (
			id          INTEGER PRIMARY KEY,
			path        TEXT    NOT NULL,
			page        INTEGER NOT NULL,
			w           INTEGER NOT NULL,
			h           INTEGER NOT NULL,
			blob        BLOB    NOT NULL,
			size        INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL,
			last_access INTEGER NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_previews_variant ON previews(path, page, w, h);`,
		`CREATE INDEX IF NOT EXISTS idx_previews_access ON previews(last_access);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure index schema: %w", err)
		}
	}
	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
			INSERT INTO fts_documents(rowid, text) VALUES (new.doc_id, new.text);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
			INSERT INTO fts_documents(fts_documents, rowid, text) VALUES ('delete', old.doc_id, old.text);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE OF text ON documents BEGIN
			INSERT INTO fts_documents(fts_documents, rowid, text) VALUES ('delete', old.doc_id, old.text);
			INSERT INTO fts_documents(rowid, text) VALUES (new.doc_id, new.text);
		END;`,
	}
	for _, q := range triggers {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure fts triggers: %w", err)
		}
	}
	return nil
}

func hasColumn(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s);`, table))
	if err != nil {
		return false, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()
	found := false
	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			found = true
		}
	}
	return found, rows.Err()
}

// IndexDocument replaces the indexed text of the document at path with pages
// (0-based page order) in one transaction. Empty pages are skipped.
func (x *Index) IndexDocument(ctx context.Context, path, title string, pages []string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("document path is required")
	}
	var size, mod int64
	if st, err := os.Stat(path); err == nil {
		size, mod = st.Size(), st.ModTime().UnixNano()
	}
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path=?`, path); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear documents: %w", err)
	}
	ins, err := tx.PrepareContext(ctx, `INSERT INTO documents(path, page, text) VALUES(?,?,?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer ins.Close()
	for i, text := range pages {
		if strings.TrimSpace(text) == "" {
			continue
		}
		if _, err := ins.ExecContext(ctx, path, i, text); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert page %d: %w", i, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO files(path, pages, size, mod_time, indexed_at, title) VALUES(?,?,?,?,?,?)
		ON CONFLICT(path) DO UPDATE SET pages=excluded.pages, size=excluded.size, mod_time=excluded.mod_time,
		indexed_at=excluded.indexed_at, title=excluded.title`,
		path, len(pages), size, mod, time.Now().UnixNano(), title); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("upsert file: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	x.log.Debug("document indexed", slog.String("path", path), slog.Int("pages", len(pages)))
	return nil
}

// Indexed reports whether path is indexed and still matches the file on disk
// (same size and modification time).
func (x *Index) Indexed(ctx context.Context, path string) (bool, error) {
	var size, mod int64
	err := x.db.QueryRowContext(ctx, `SELECT size, mod_time FROM files WHERE path=?`, path).Scan(&size, &mod)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query file: %w", err)
	}
	st, err := os.Stat(path)
	if err != nil {
		return false, nil
	}
	return st.Size() == size && st.ModTime().UnixNano() == mod, nil
}

// Files lists indexed documents ordered by path.
func (x *Index) Files(ctx context.Context) ([]FileInfo, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT path, pages, size, mod_time, indexed_at, title FROM files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()
	var out []FileInfo
	for rows.Next() {
		var fi FileInfo
		var mod, at int64
		if err := rows.Scan(&fi.Path, &fi.Pages, &fi.Size, &mod, &at, &fi.Title); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		fi.ModTime = time.Unix(0, mod)
		fi.IndexedAt = time.Unix(0, at)
		out = append(out, fi)
	}
	return out, rows.Err()
}

// Forget removes every row stored for path: text, file record and thumbnails.
func (x *Index) Forget(ctx context.Context, path string) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	for _, q := range []string{
		`DELETE FROM documents WHERE path=?`,
		`DELETE FROM files WHERE path=?`,
		`DELETE FROM previews WHERE path=?`,
	} {
		if _, err := tx.ExecContext(ctx, q, path); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("forget %s: %w", filepath.Base(path), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// backupIndexFile copies the current index file into a timestamped backup next to it.
func backupIndexFile(indexPath string) {
	bdir := filepath.Join(filepath.Dir(indexPath), "backups")
	_ = os.MkdirAll(bdir, 0o755)
	stamp := time.Now().Format("20060102-150405")
	bak := filepath.Join(bdir, fmt.Sprintf("%s.%s.bak", filepath.Base(indexPath), stamp))
	if data, err := os.ReadFile(indexPath); err == nil {
		_ = os.WriteFile(bak, data, 0o644)
	}
}
