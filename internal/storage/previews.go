/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * Licensed under the Apache License, Version 2.0.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PreviewKey identifies a cached thumbnail: a document page at a pixel size.
type PreviewKey struct {
	Path string
	Page int
	W, H int
}

// GetPreview returns the cached blob for key and refreshes its access time.
// A miss returns nil, nil.
func (x *Index) GetPreview(ctx context.Context, key PreviewKey) ([]byte, error) {
	var blob []byte
	err := x.db.QueryRowContext(ctx, `SELECT blob FROM previews WHERE path=? AND page=? AND w=? AND h=?`,
		key.Path, key.Page, key.W, key.H).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query preview: %w", err)
	}
	// touch
	_, _ = x.db.ExecContext(ctx, `UPDATE previews SET last_access=? WHERE path=? AND page=? AND w=? AND h=?`,
		time.Now().UnixNano(), key.Path, key.Page, key.W, key.H)
	return blob, nil
}

// PutPreview upserts a preview blob and enforces the cache size cap via LRU eviction.
func (x *Index) PutPreview(ctx context.Context, key PreviewKey, blob []byte) error {
	if len(blob) == 0 {
		return errors.New("empty preview blob")
	}
	now := time.Now().UnixNano()
	_, err := x.db.ExecContext(ctx, `INSERT INTO previews(path,page,w,h,blob,size,updated_at,last_access)
		VALUES(?,?,?,?,?,?,?,?)
		ON CONFLICT(path,page,w,h) DO UPDATE SET blob=excluded.blob, size=excluded.size, updated_at=excluded.updated_at, last_access=excluded.last_access`,
		key.Path, key.Page, key.W, key.H, blob, len(blob), now, now)
	if err != nil {
		return fmt.Errorf("upsert preview: %w", err)
	}
	return x.EvictPreviewsToFit(ctx, x.capBytes)
}

// GetOrCreatePreview fetches a preview or generates and stores it using gen.
func (x *Index) GetOrCreatePreview(ctx context.Context, key PreviewKey, gen func(context.Context) ([]byte, error)) ([]byte, error) {
	if b, err := x.GetPreview(ctx, key); err != nil {
		return nil, err
	} else if b != nil {
		return b, nil
	}
	if gen == nil {
		return nil, nil
	}
	data, err := gen(ctx)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	if err := x.PutPreview(ctx, key, data); err != nil {
		return nil, err
	}
	return data, nil
}

// EvictPreviewsToFit deletes least-recently-used rows until total size <= capBytes.
func (x *Index) EvictPreviewsToFit(ctx context.Context, capBytes int64) error {
	var total int64
	if err := x.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size),0) FROM previews`).Scan(&total); err != nil {
		return fmt.Errorf("sum previews size: %w", err)
	}
	if total <= capBytes {
		return nil
	}
	rows, err := x.db.QueryContext(ctx, `SELECT id, size FROM previews ORDER BY last_access ASC, id ASC`)
	if err != nil {
		return fmt.Errorf("select victims: %w", err)
	}
	toDelete := make([]any, 0, 32)
	cur := total
	for rows.Next() {
		var id, sz int64
		if err := rows.Scan(&id, &sz); err != nil {
			_ = rows.Close()
			return err
		}
		toDelete = append(toDelete, id)
		cur -= sz
		if cur <= capBytes {
			break
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	// The single connection must be released before writing.
	if err := rows.Close(); err != nil {
		return err
	}
	if len(toDelete) == 0 {
		return nil
	}
	q := `DELETE FROM previews WHERE id IN (` + placeholders(len(toDelete)) + `)`
	if _, err := x.db.ExecContext(ctx, q, toDelete...); err != nil {
		return fmt.Errorf("evict delete: %w", err)
	}
	return nil
}

// TotalPreviewBytes returns total bytes tracked by previews.size.
func (x *Index) TotalPreviewBytes(ctx context.Context) (int64, error) {
	var total int64
	if err := x.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size),0) FROM previews`).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
