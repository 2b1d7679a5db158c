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
)

// ErrEmptyQuery is returned by Search when no search text is given.
var ErrEmptyQuery = errors.New("search text is required")

// SearchQuery describes a library search.
// Text uses SQLite FTS5 syntax (simple terms, phrases in quotes, AND/OR/NOT).
// Path optionally restricts results to one document.
// Limit/Offset implement pagination; a zero Limit means 100.
type SearchQuery struct {
	Text   string
	Path   string
	Limit  int
	Offset int
}

// SearchResult is a single matching page. Page is 0-based.
// Snippet is an excerpt with the matches wrapped in [ ] markers.
type SearchResult struct {
	DocID   int64
	Path    string
	Page    int
	Snippet string
}

// Search runs a full-text query over indexed page text, best matches first.
func (x *Index) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, ErrEmptyQuery
	}
	var sb strings.Builder
	args := []any{text}
	sb.WriteString("SELECT d.doc_id, d.path, d.page, snippet(fts_documents, 0, '[', ']', '…', 12)\n")
	sb.WriteString("FROM fts_documents JOIN documents d ON fts_documents.rowid = d.doc_id\n")
	sb.WriteString("WHERE fts_documents MATCH ?\n")
	if p := strings.TrimSpace(q.Path); p != "" {
		sb.WriteString(" AND d.path = ?\n")
		args = append(args, p)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	sb.WriteString("ORDER BY bm25(fts_documents), d.path, d.page\n")
	sb.WriteString("LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := x.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()
	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		var sn sql.NullString
		if err := rows.Scan(&r.DocID, &r.Path, &r.Page, &sn); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if sn.Valid {
			r.Snippet = sn.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PageText returns the indexed text of one page, or "" when none is stored.
func (x *Index) PageText(ctx context.Context, path string, page int) (string, error) {
	var text sql.NullString
	err := x.db.QueryRowContext(ctx, `SELECT text FROM documents WHERE path=? AND page=?`, path, page).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("page text: %w", err)
	}
	return text.String, nil
}
