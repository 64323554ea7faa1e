package repository

import (
	"context"
	"time"

	"papervault/config/database"
	"papervault/internal/search/model"
	"papervault/pkg/logger"

	"github.com/lib/pq"
)

// SearchRepository reads the tree rows the indexer turns into search docs.
type SearchRepository struct {
	DB database.DBTX
}

func NewSearchRepository(db database.DBTX) *SearchRepository {
	return &SearchRepository{DB: db}
}

type NodeRow struct {
	ID        string
	Title     string
	CType     string
	UserID    string
	UpdatedAt time.Time
}

type PageRow struct {
	ID         string
	DocumentID string
	VersionID  string
	Number     int
	Text       string
}

func (r *SearchRepository) Nodes(ctx context.Context, ids []string) ([]NodeRow, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, title, ctype, user_id, updated_at FROM nodes WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		logger.Sugar.Errorf("Failed to load nodes for indexing: %v", err)
		return nil, err
	}
	defer rows.Close()

	var out []NodeRow
	for rows.Next() {
		var n NodeRow
		if err := rows.Scan(&n.ID, &n.Title, &n.CType, &n.UserID, &n.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Breadcrumbs maps each node to the titles of its ancestors, root first and
// joined with " / ". Root nodes have no entry.
func (r *SearchRepository) Breadcrumbs(ctx context.Context, ids []string) (map[string]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
		WITH RECURSIVE chain AS (
			SELECT id AS node_id, parent_id, 0 AS depth, ''::text AS title FROM nodes WHERE id = ANY($1)
			UNION ALL
			SELECT c.node_id, p.parent_id, c.depth + 1, p.title FROM nodes p JOIN chain c ON p.id = c.parent_id
		)
		SELECT node_id, string_agg(title, ' / ' ORDER BY depth DESC)
		FROM chain WHERE depth > 0 GROUP BY node_id`, pq.Array(ids))
	if err != nil {
		logger.Sugar.Errorf("Failed to load breadcrumbs: %v", err)
		return nil, err
	}
	defer rows.Close()
	return scanPairs(rows)
}

func (r *SearchRepository) Tags(ctx context.Context, ids []string) (map[string][]model.Tag, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT nt.node_id, t.name, t.bg_color, t.fg_color
		FROM node_tags nt JOIN tags t ON t.id = nt.tag_id
		WHERE nt.node_id = ANY($1) ORDER BY t.name`, pq.Array(ids))
	if err != nil {
		logger.Sugar.Errorf("Failed to load tags for indexing: %v", err)
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]model.Tag)
	for rows.Next() {
		var nodeID string
		var t model.Tag
		if err := rows.Scan(&nodeID, &t.Name, &t.BgColor, &t.FgColor); err != nil {
			return nil, err
		}
		out[nodeID] = append(out[nodeID], t)
	}
	return out, rows.Err()
}

// Readers maps each node to the users allowed to read it.
func (r *SearchRepository) Readers(ctx context.Context, ids []string) (map[string][]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id::text, user_id::text FROM nodes WHERE id = ANY($1)
		UNION
		SELECT node_id::text, user_id::text FROM access
		WHERE node_id = ANY($1) AND user_id IS NOT NULL AND 'read' = ANY(perms)
		UNION
		SELECT a.node_id::text, ug.user_id::text FROM access a JOIN user_groups ug ON ug.group_id = a.group_id
		WHERE a.node_id = ANY($1) AND 'read' = ANY(a.perms)`, pq.Array(ids))
	if err != nil {
		logger.Sugar.Errorf("Failed to load readers for indexing: %v", err)
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var nodeID, userID string
		if err := rows.Scan(&nodeID, &userID); err != nil {
			return nil, err
		}
		out[nodeID] = append(out[nodeID], userID)
	}
	return out, rows.Err()
}

// LastTexts maps each document to the text of its latest version.
func (r *SearchRepository) LastTexts(ctx context.Context, docIDs []string) (map[string]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT DISTINCT ON (document_id) document_id, text
		FROM document_versions WHERE document_id = ANY($1)
		ORDER BY document_id, number DESC`, pq.Array(docIDs))
	if err != nil {
		logger.Sugar.Errorf("Failed to load version texts: %v", err)
		return nil, err
	}
	defer rows.Close()
	return scanPairs(rows)
}

// LastPages lists the pages of the latest version of each document.
func (r *SearchRepository) LastPages(ctx context.Context, docIDs []string) ([]PageRow, error) {
	rows, err := r.DB.QueryContext(ctx, `
		WITH latest AS (
			SELECT DISTINCT ON (document_id) id, document_id
			FROM document_versions WHERE document_id = ANY($1)
			ORDER BY document_id, number DESC
		)
		SELECT p.id, l.document_id, l.id, p.number, p.text
		FROM pages p JOIN latest l ON l.id = p.version_id
		ORDER BY l.document_id, p.number`, pq.Array(docIDs))
	if err != nil {
		logger.Sugar.Errorf("Failed to load pages for indexing: %v", err)
		return nil, err
	}
	defer rows.Close()

	var out []PageRow
	for rows.Next() {
		var p PageRow
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.VersionID, &p.Number, &p.Text); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SubtreeIDs lists rootIDs and all their descendants.
func (r *SearchRepository) SubtreeIDs(ctx context.Context, rootIDs []string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
		WITH RECURSIVE tree AS (
			SELECT id FROM nodes WHERE id = ANY($1)
			UNION ALL
			SELECT c.id FROM nodes c JOIN tree t ON c.parent_id = t.id
		)
		SELECT id FROM tree`, pq.Array(rootIDs))
	if err != nil {
		logger.Sugar.Errorf("Failed to list subtree of %v: %v", rootIDs, err)
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// AllNodeIDs lists every node except the special home and inbox folders.
func (r *SearchRepository) AllNodeIDs(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id FROM nodes
		WHERE id NOT IN (
			SELECT home_folder_id FROM users WHERE home_folder_id IS NOT NULL
			UNION
			SELECT inbox_folder_id FROM users WHERE inbox_folder_id IS NOT NULL
		)
		ORDER BY created_at`)
	if err != nil {
		logger.Sugar.Errorf("Failed to list nodes: %v", err)
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows rowScanner) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanPairs(rows rowScanner) (map[string]string, error) {
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
