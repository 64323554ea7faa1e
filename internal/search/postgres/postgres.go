// Package postgres indexes documents into a tsvector column of the main
// database.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"papervault/config/database"
	"papervault/internal/search/model"
	"papervault/pkg/logger"

	"github.com/lib/pq"
)

const searchConfig = "simple"

type Engine struct {
	DB database.DBTX
}

func New(db database.DBTX) *Engine {
	return &Engine{DB: db}
}

const upsert = `
	INSERT INTO search_index (id, kind, node_type, user_id, readers, title, breadcrumb, tags, text,
		document_id, version_id, page_number, updated_at, tsv)
	VALUES ($1, $2, $3, $4, $5, $6::text, $7::text, $8, $9::text, $10, $11, $12, $13,
		setweight(to_tsvector('simple', $6::text), 'A') ||
		setweight(to_tsvector('simple', $7::text || ' ' || $14::text), 'B') ||
		setweight(to_tsvector('simple', $9::text), 'C'))
	ON CONFLICT (id) DO UPDATE SET
		node_type = EXCLUDED.node_type, user_id = EXCLUDED.user_id, readers = EXCLUDED.readers,
		title = EXCLUDED.title, breadcrumb = EXCLUDED.breadcrumb, tags = EXCLUDED.tags,
		text = EXCLUDED.text, document_id = EXCLUDED.document_id, version_id = EXCLUDED.version_id,
		page_number = EXCLUDED.page_number, updated_at = EXCLUDED.updated_at, tsv = EXCLUDED.tsv`

func (e *Engine) Update(ctx context.Context, docs []model.Doc) error {
	if len(docs) == 0 {
		return nil
	}
	return database.WithTx(ctx, e.DB, func(tx database.DBTX) error {
		for _, d := range docs {
			tags, err := json.Marshal(d.Tags)
			if err != nil {
				return fmt.Errorf("marshal tags of %s: %w", d.ID, err)
			}
			_, err = tx.ExecContext(ctx, upsert,
				d.ID, d.Kind, d.NodeType, d.UserID, pq.Array(d.Readers), d.Title, d.Breadcrumb, tags, d.Text,
				d.DocumentID, d.VersionID, d.PageNumber, d.UpdatedAt, d.TagNames())
			if err != nil {
				logger.Sugar.Errorf("Failed to index %s %s: %v", d.Kind, d.ID, err)
				return fmt.Errorf("%w: %v", model.ErrBackend, err)
			}
		}
		return nil
	})
}

func (e *Engine) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := e.DB.ExecContext(ctx,
		`DELETE FROM search_index WHERE id = ANY($1) OR document_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		logger.Sugar.Errorf("Failed to remove index entries: %v", err)
		return fmt.Errorf("%w: %v", model.ErrBackend, err)
	}
	return nil
}

func (e *Engine) Clear(ctx context.Context) error {
	if _, err := e.DB.ExecContext(ctx, `DELETE FROM search_index`); err != nil {
		logger.Sugar.Errorf("Failed to clear search index: %v", err)
		return fmt.Errorf("%w: %v", model.ErrBackend, err)
	}
	return nil
}

func (e *Engine) Search(ctx context.Context, q model.Query) (model.Results, error) {
	tsq := TSQuery(q.Filter)
	if tsq == "" {
		return model.Empty(), nil
	}
	offset, limit := q.Window()

	rows, err := e.DB.QueryContext(ctx, `
		SELECT id, kind, node_type, title, breadcrumb, tags, document_id, page_number,
			ts_rank(tsv, q) AS score,
			ts_headline('simple', title || ' ' || text, q, 'StartSel=<b>, StopSel=</b>, MaxFragments=2'),
			COUNT(*) OVER ()
		FROM search_index, to_tsquery('simple', $1) q
		WHERE tsv @@ q AND ($6 OR $2 = ANY(readers)) AND ($3 = '' OR node_type = $3)
		ORDER BY score DESC, title
		LIMIT $4 OFFSET $5`, tsq, q.UserID, q.NodeType, limit, offset, q.AnyReader)
	if err != nil {
		logger.Sugar.Errorf("Failed to search %q: %v", tsq, err)
		return model.Results{}, fmt.Errorf("%w: %v", model.ErrBackend, err)
	}
	defer rows.Close()

	res := model.Empty()
	for rows.Next() {
		var h model.Hit
		var tags []byte
		if err := rows.Scan(&h.ID, &h.Kind, &h.NodeType, &h.Title, &h.Breadcrumb, &tags,
			&h.DocumentID, &h.PageNumber, &h.Score, &h.Highlight, &res.Hits); err != nil {
			return model.Results{}, err
		}
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &h.Tags); err != nil {
				return model.Results{}, fmt.Errorf("decode tags of %s: %w", h.ID, err)
			}
		}
		res.Results = append(res.Results, h)
	}
	return res, rows.Err()
}

func (e *Engine) Close() error { return nil }

var weights = map[string]string{
	"title":      "A",
	"tags":       "B",
	"breadcrumb": "B",
	"text":       "C",
}

// TSQuery renders q in to_tsquery syntax. Terms without a word character
// are dropped; an empty result means nothing to search for.
func TSQuery(q *model.SQ) string {
	if q == nil {
		return ""
	}
	var s string
	if q.IsLeaf() {
		s = lexemes(*q.Term)
	} else {
		op := " & "
		if q.Connector == model.OpOr {
			op = " | "
		}
		parts := make([]string, 0, len(q.Children))
		for _, c := range q.Children {
			if p := TSQuery(c); p != "" {
				parts = append(parts, p)
			}
		}
		s = strings.Join(parts, op)
		if len(parts) > 1 {
			s = "(" + s + ")"
		}
	}
	if s == "" {
		return ""
	}
	if q.Negated {
		return "!" + wrap(s)
	}
	return s
}

func lexemes(t model.Term) string {
	words := strings.FieldsFunc(t.Value, func(r rune) bool {
		return strings.ContainsRune(" \t\n'\\&|!():*<>", r)
	})
	if len(words) == 0 {
		return ""
	}
	weight := weights[t.Field]
	for i, w := range words {
		suffix := weight
		if t.Filter == "startswith" && i == len(words)-1 {
			suffix = "*" + suffix
		}
		words[i] = "'" + w + "'"
		if suffix != "" {
			words[i] += ":" + suffix
		}
	}
	if len(words) == 1 {
		return words[0]
	}
	return "(" + strings.Join(words, " <-> ") + ")"
}

func wrap(s string) string {
	if strings.HasPrefix(s, "(") {
		return s
	}
	return "(" + s + ")"
}
