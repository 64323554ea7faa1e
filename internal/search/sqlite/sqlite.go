// Package sqlite keeps a local FTS4 index in a single file next to the media
// root, for deployments without a search server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"papervault/config/database"
	"papervault/internal/apperr"
	"papervault/internal/search/model"
	"papervault/pkg/logger"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS docs (
    rowid INTEGER PRIMARY KEY,
    id TEXT UNIQUE NOT NULL,
    kind TEXT NOT NULL,
    node_type TEXT NOT NULL,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    breadcrumb TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',
    document_id TEXT NOT NULL DEFAULT '',
    version_id TEXT NOT NULL DEFAULT '',
    page_number INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS docs_document_idx ON docs(document_id);

CREATE TABLE IF NOT EXISTS readers (
    doc_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    PRIMARY KEY (doc_id, user_id)
);

CREATE VIRTUAL TABLE IF NOT EXISTS docs_fts USING fts4(title, breadcrumb, tags, text, tokenize=unicode61);
`

// column weights in docs_fts order
var weights = []float64{4, 2, 2, 1}

var columns = map[string]bool{"title": true, "breadcrumb": true, "tags": true, "text": true}

type Engine struct {
	DB *sql.DB
}

// Open creates or opens the index at path. ":memory:" keeps it in memory.
func Open(ctx context.Context, path string) (*Engine, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBackend, err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		if strings.Contains(err.Error(), "CGO_ENABLED") {
			return nil, fmt.Errorf("%w: sqlite3 needs cgo", model.ErrMissingDependency)
		}
		return nil, fmt.Errorf("%w: %v", model.ErrBackend, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", model.ErrBackend, err)
	}
	logger.Sugar.Infof("Opened local search index at %s", path)
	return &Engine{DB: db}, nil
}

func (e *Engine) Update(ctx context.Context, docs []model.Doc) error {
	if len(docs) == 0 {
		return nil
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return database.WithTx(ctx, e.DB, func(tx database.DBTX) error {
		if err := remove(ctx, tx, ids, false); err != nil {
			return err
		}
		for _, d := range docs {
			if err := insert(ctx, tx, d); err != nil {
				logger.Sugar.Errorf("Failed to index %s %s: %v", d.Kind, d.ID, err)
				return fmt.Errorf("%w: %v", model.ErrBackend, err)
			}
		}
		return nil
	})
}

func insert(ctx context.Context, tx database.DBTX, d model.Doc) error {
	tags, err := json.Marshal(d.Tags)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO docs (id, kind, node_type, user_id, title, breadcrumb, tags, document_id, version_id, page_number, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Kind, d.NodeType, d.UserID, d.Title, d.Breadcrumb, string(tags), d.DocumentID, d.VersionID,
		d.PageNumber, d.UpdatedAt)
	if err != nil {
		return err
	}
	rowid, err := res.LastInsertId()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO docs_fts (docid, title, breadcrumb, tags, text) VALUES (?, ?, ?, ?, ?)`,
		rowid, d.Title, d.Breadcrumb, d.TagNames(), d.Text)
	if err != nil {
		return err
	}
	for _, u := range d.Readers {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO readers (doc_id, user_id) VALUES (?, ?)`, d.ID, u); err != nil {
			return err
		}
	}
	return nil
}

// remove deletes docs by id and, with pages set, every page doc of those
// documents as well.
func remove(ctx context.Context, tx database.DBTX, ids []string, pages bool) error {
	marks := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	where := "id IN (" + marks + ")"
	args := make([]interface{}, 0, 2*len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	if pages {
		where += " OR document_id IN (" + marks + ")"
		args = append(args, args...)
	}

	stmts := []string{
		"DELETE FROM docs_fts WHERE docid IN (SELECT rowid FROM docs WHERE " + where + ")",
		"DELETE FROM readers WHERE doc_id IN (SELECT id FROM docs WHERE " + where + ")",
		"DELETE FROM docs WHERE " + where,
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s, args...); err != nil {
			logger.Sugar.Errorf("Failed to remove index entries: %v", err)
			return fmt.Errorf("%w: %v", model.ErrBackend, err)
		}
	}
	return nil
}

func (e *Engine) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return database.WithTx(ctx, e.DB, func(tx database.DBTX) error {
		return remove(ctx, tx, ids, true)
	})
}

func (e *Engine) Clear(ctx context.Context) error {
	return database.WithTx(ctx, e.DB, func(tx database.DBTX) error {
		for _, table := range []string{"docs_fts", "readers", "docs"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				logger.Sugar.Errorf("Failed to clear %s: %v", table, err)
				return fmt.Errorf("%w: %v", model.ErrBackend, err)
			}
		}
		return nil
	})
}

func (e *Engine) Search(ctx context.Context, q model.Query) (model.Results, error) {
	expr, err := MatchExpr(q.Filter)
	if err != nil {
		return model.Results{}, err
	}
	if expr == "" {
		return model.Empty(), nil
	}

	rows, err := e.DB.QueryContext(ctx, `
		SELECT d.id, d.kind, d.node_type, d.title, d.breadcrumb, d.tags, d.document_id, d.page_number,
			snippet(docs_fts, '<b>', '</b>', '...', -1, 15), matchinfo(docs_fts, 'pcx')
		FROM docs_fts JOIN docs d ON d.rowid = docs_fts.docid
		WHERE docs_fts MATCH ?
			AND (? OR d.id IN (SELECT doc_id FROM readers WHERE user_id = ?))
			AND (? = '' OR d.node_type = ?)`, expr, q.AnyReader, q.UserID, q.NodeType, q.NodeType)
	if err != nil {
		logger.Sugar.Errorf("Failed to search %q: %v", expr, err)
		return model.Results{}, fmt.Errorf("%w: %v", model.ErrBackend, err)
	}
	defer rows.Close()

	var hits []model.Hit
	for rows.Next() {
		var h model.Hit
		var tags string
		var info []byte
		if err := rows.Scan(&h.ID, &h.Kind, &h.NodeType, &h.Title, &h.Breadcrumb, &tags,
			&h.DocumentID, &h.PageNumber, &h.Highlight, &info); err != nil {
			return model.Results{}, err
		}
		if err := json.Unmarshal([]byte(tags), &h.Tags); err != nil {
			return model.Results{}, fmt.Errorf("decode tags of %s: %w", h.ID, err)
		}
		h.Score = score(info)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return model.Results{}, fmt.Errorf("%w: %v", model.ErrBackend, err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Title < hits[j].Title
	})

	res := model.Empty()
	res.Hits = len(hits)
	offset, limit := q.Window()
	if offset < len(hits) {
		end := offset + limit
		if end > len(hits) {
			end = len(hits)
		}
		res.Results = hits[offset:end]
	}
	return res, nil
}

func (e *Engine) Close() error { return e.DB.Close() }

// score weighs the share of each phrase's hits that fall in this row, per
// column. info is the matchinfo 'pcx' blob.
func score(info []byte) float64 {
	if len(info) < 8 {
		return 0
	}
	u := func(i int) float64 {
		return float64(binary.NativeEndian.Uint32(info[4*i:]))
	}
	phrases, cols := int(u(0)), int(u(1))
	if len(info) < 4*(2+3*phrases*cols) {
		return 0
	}
	var total float64
	for p := 0; p < phrases; p++ {
		for c := 0; c < cols; c++ {
			base := 2 + 3*(p*cols+c)
			inRow, inAll := u(base), u(base+1)
			if inAll == 0 {
				continue
			}
			w := 1.0
			if c < len(weights) {
				w = weights[c]
			}
			total += w * inRow / inAll
		}
	}
	return total
}

// MatchExpr renders q in the FTS enhanced query syntax. NOT is binary there,
// so negated terms need a positive sibling.
func MatchExpr(q *model.SQ) (string, error) {
	if q == nil {
		return "", nil
	}
	if q.Negated {
		return "", apperr.Invalid("query needs at least one term that is not negated")
	}
	return render(q)
}

func render(q *model.SQ) (string, error) {
	if q.IsLeaf() {
		return phrase(*q.Term), nil
	}
	var pos, neg []string
	for _, c := range q.Children {
		plain := *c
		plain.Negated = false
		s, err := render(&plain)
		if err != nil {
			return "", err
		}
		if s == "" {
			continue
		}
		if c.Negated {
			neg = append(neg, s)
		} else {
			pos = append(pos, s)
		}
	}
	if len(neg) > 0 && (q.Connector == model.OpOr || len(pos) == 0) {
		return "", apperr.Invalid("negated terms must be combined with AND and a term that is not negated")
	}
	if len(pos) == 0 {
		return "", nil
	}
	s := strings.Join(pos, " "+q.Connector+" ")
	for _, n := range neg {
		s += " NOT " + n
	}
	if len(pos)+len(neg) > 1 {
		s = "(" + s + ")"
	}
	return s, nil
}

func phrase(t model.Term) string {
	words := strings.FieldsFunc(t.Value, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return ""
	}
	s := strings.Join(words, " ")
	if t.Filter == "startswith" {
		s += "*"
	}
	s = `"` + s + `"`
	if columns[t.Field] {
		s = t.Field + ":" + s
	}
	return s
}
