package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"papervault/config/database"
	"papervault/internal/apperr"
	"papervault/internal/node/model"
	"papervault/pkg/logger"

	"github.com/lib/pq"
)

type NodeRepository struct {
	DB database.DBTX
}

func NewNodeRepository(db database.DBTX) *NodeRepository {
	return &NodeRepository{DB: db}
}

func (r *NodeRepository) With(db database.DBTX) *NodeRepository {
	return &NodeRepository{DB: db}
}

const nodeColumns = `n.id, n.title, n.ctype, n.parent_id, n.user_id, n.created_at, n.updated_at, COALESCE(d.ocr_status, '')`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanNode(row scanner) (model.Node, error) {
	var n model.Node
	var parent sql.NullString
	if err := row.Scan(&n.ID, &n.Title, &n.CType, &parent, &n.UserID, &n.CreatedAt, &n.UpdatedAt, &n.OCRStatus); err != nil {
		return n, err
	}
	if parent.Valid {
		n.ParentID = &parent.String
	}
	n.Tags = []model.TagInfo{}
	return n, nil
}

func (r *NodeRepository) Create(ctx context.Context, n model.Node) error {
	var parent interface{}
	if n.ParentID != nil {
		parent = *n.ParentID
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO nodes (id, title, ctype, parent_id, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())`,
		n.ID, n.Title, n.CType, parent, n.UserID)
	if err != nil {
		logger.Sugar.Errorf("Failed to create node %q: %v", n.Title, err)
	}
	return err
}

func (r *NodeRepository) Get(ctx context.Context, id string) (model.Node, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+nodeColumns+`
		FROM nodes n LEFT JOIN documents d ON d.node_id = n.id WHERE n.id = $1`, id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return n, fmt.Errorf("node %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get node %s: %v", id, err)
	}
	return n, err
}

func (r *NodeRepository) GetMany(ctx context.Context, ids []string) ([]model.Node, error) {
	return r.query(ctx, `SELECT `+nodeColumns+`
		FROM nodes n LEFT JOIN documents d ON d.node_id = n.id
		WHERE n.id = ANY($1) ORDER BY n.title`, pq.Array(ids))
}

// orderClause maps the order-by query value; default is -type.
func orderClause(orderBy string) string {
	switch orderBy {
	case "date":
		return "n.created_at ASC"
	case "-date":
		return "n.created_at DESC"
	case "title":
		return "LOWER(n.title) ASC"
	case "-title":
		return "LOWER(n.title) DESC"
	case "type":
		return "n.ctype ASC"
	default:
		return "n.ctype DESC"
	}
}

// ListChildren returns the children of parentID without the inbox. A tag
// filter replaces the parent constraint and searches the whole tree.
func (r *NodeRepository) ListChildren(ctx context.Context, parentID string, opts model.ListOptions) ([]model.Node, error) {
	var where []string
	args := []interface{}{model.InboxTitle}
	where = append(where, "n.title <> $1")

	switch {
	case opts.Tag != "":
		args = append(args, opts.Tag)
		where = append(where, fmt.Sprintf(`EXISTS (SELECT 1 FROM node_tags nt JOIN tags t ON t.id = nt.tag_id
			WHERE nt.node_id = n.id AND t.name = $%d)`, len(args)))
	case parentID == "":
		where = append(where, "n.parent_id IS NULL")
	default:
		args = append(args, parentID)
		where = append(where, fmt.Sprintf("n.parent_id = $%d", len(args)))
	}

	q := `SELECT ` + nodeColumns + `
		FROM nodes n LEFT JOIN documents d ON d.node_id = n.id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY ` + orderClause(opts.OrderBy) + `, n.id`
	return r.query(ctx, q, args...)
}

func (r *NodeRepository) query(ctx context.Context, q string, args ...interface{}) ([]model.Node, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		logger.Sugar.Errorf("Failed to query nodes: %v", err)
		return nil, err
	}
	defer rows.Close()

	nodes := []model.Node{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			logger.Sugar.Errorf("Failed to scan node: %v", err)
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (r *NodeRepository) TagsForNodes(ctx context.Context, ids []string) (map[string][]model.TagInfo, error) {
	out := make(map[string][]model.TagInfo)
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT nt.node_id, t.name, t.bg_color, t.fg_color
		FROM node_tags nt JOIN tags t ON t.id = nt.tag_id
		WHERE nt.node_id = ANY($1) ORDER BY t.name`, pq.Array(ids))
	if err != nil {
		logger.Sugar.Errorf("Failed to load node tags: %v", err)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var nodeID string
		var t model.TagInfo
		if err := rows.Scan(&nodeID, &t.Name, &t.BgColor, &t.FgColor); err != nil {
			return nil, err
		}
		out[nodeID] = append(out[nodeID], t)
	}
	return out, rows.Err()
}

// Ancestors returns the path from the root down to id, id included.
func (r *NodeRepository) Ancestors(ctx context.Context, id string) ([]model.Node, error) {
	return r.query(ctx, `
		WITH RECURSIVE chain AS (
			SELECT id, parent_id, 0 AS depth FROM nodes WHERE id = $1
			UNION ALL
			SELECT p.id, p.parent_id, c.depth + 1 FROM nodes p JOIN chain c ON p.id = c.parent_id
		)
		SELECT `+nodeColumns+`
		FROM chain JOIN nodes n ON n.id = chain.id
		LEFT JOIN documents d ON d.node_id = n.id
		ORDER BY chain.depth DESC`, id)
}

// IsWithin reports whether nodeID is rootID or one of its descendants.
func (r *NodeRepository) IsWithin(ctx context.Context, rootID, nodeID string) (bool, error) {
	var within bool
	err := r.DB.QueryRowContext(ctx, `
		WITH RECURSIVE chain AS (
			SELECT id, parent_id FROM nodes WHERE id = $2
			UNION ALL
			SELECT p.id, p.parent_id FROM nodes p JOIN chain c ON p.id = c.parent_id
		)
		SELECT EXISTS (SELECT 1 FROM chain WHERE id = $1)`, rootID, nodeID).Scan(&within)
	if err != nil {
		logger.Sugar.Errorf("Failed to check ancestry of %s: %v", nodeID, err)
	}
	return within, err
}

func (r *NodeRepository) ByTitle(ctx context.Context, userID, title string) (model.ByTitleResponse, error) {
	var res model.ByTitleResponse
	err := r.DB.QueryRowContext(ctx, `
		SELECT n.id, n.title, (SELECT COUNT(*) FROM nodes c WHERE c.parent_id = n.id)
		FROM nodes n WHERE n.user_id = $1 AND LOWER(n.title) = LOWER($2)
		ORDER BY n.created_at LIMIT 1`, userID, title).Scan(&res.ID, &res.Title, &res.ChildrenCount)
	if errors.Is(err, sql.ErrNoRows) {
		return res, fmt.Errorf("node titled %q: %w", title, apperr.ErrNotFound)
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get node by title %q: %v", title, err)
	}
	return res, err
}

func (r *NodeRepository) HomeFolderID(ctx context.Context, userID string) (string, error) {
	return r.specialFolder(ctx, userID, "home_folder_id")
}

func (r *NodeRepository) InboxFolderID(ctx context.Context, userID string) (string, error) {
	return r.specialFolder(ctx, userID, "inbox_folder_id")
}

func (r *NodeRepository) specialFolder(ctx context.Context, userID, column string) (string, error) {
	var id sql.NullString
	err := r.DB.QueryRowContext(ctx, "SELECT "+column+" FROM users WHERE id = $1", userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !id.Valid) {
		return "", fmt.Errorf("%s of %s: %w", column, userID, apperr.ErrNotFound)
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to read %s of %s: %v", column, userID, err)
	}
	return id.String, err
}

// VersionFile resolves a document version; number 0 means the latest.
func (r *NodeRepository) VersionFile(ctx context.Context, docID string, number int) (int, string, string, error) {
	var (
		n              int
		fileName, mime string
	)
	err := r.DB.QueryRowContext(ctx, `
		SELECT number, file_name, mime_type FROM document_versions
		WHERE document_id = $1 AND ($2 = 0 OR number = $2)
		ORDER BY number DESC LIMIT 1`, docID, number).Scan(&n, &fileName, &mime)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", "", fmt.Errorf("version %d of %s: %w", number, docID, apperr.ErrNotFound)
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to resolve version %d of %s: %v", number, docID, err)
	}
	return n, fileName, mime, err
}

func (r *NodeRepository) UpdateTitle(ctx context.Context, id, title string) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE nodes SET title = $1, updated_at = NOW() WHERE id = $2", title, id)
	if err != nil {
		logger.Sugar.Errorf("Failed to update title of node %s: %v", id, err)
	}
	return err
}

func (r *NodeRepository) SetParent(ctx context.Context, id, parentID string) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE nodes SET parent_id = $1, updated_at = NOW() WHERE id = $2", parentID, id)
	if err != nil {
		logger.Sugar.Errorf("Failed to move node %s under %s: %v", id, parentID, err)
	}
	return err
}

func (r *NodeRepository) Delete(ctx context.Context, ids []string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM nodes WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		logger.Sugar.Errorf("Failed to delete nodes %v: %v", ids, err)
		return 0, err
	}
	return res.RowsAffected()
}

// AutomatesTargeting lists names of automates filing into any of folderIDs.
func (r *NodeRepository) AutomatesTargeting(ctx context.Context, folderIDs []string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, "SELECT name FROM automates WHERE dst_folder_id = ANY($1) ORDER BY name", pq.Array(folderIDs))
	if err != nil {
		logger.Sugar.Errorf("Failed to check automates: %v", err)
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Subtree walks every root and its descendants. Paths are built from titles;
// documents carry their latest version.
func (r *NodeRepository) Subtree(ctx context.Context, rootIDs []string) ([]model.ArchiveEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `
		WITH RECURSIVE tree AS (
			SELECT id, ctype, user_id, title::text AS path FROM nodes WHERE id = ANY($1)
			UNION ALL
			SELECT c.id, c.ctype, c.user_id, t.path || '/' || c.title FROM nodes c JOIN tree t ON c.parent_id = t.id
		)
		SELECT t.id, t.ctype, t.user_id, t.path, COALESCE(v.number, 0), COALESCE(v.file_name, '')
		FROM tree t
		LEFT JOIN LATERAL (
			SELECT number, file_name FROM document_versions
			WHERE document_id = t.id ORDER BY number DESC LIMIT 1
		) v ON TRUE
		ORDER BY t.path`, pq.Array(rootIDs))
	if err != nil {
		logger.Sugar.Errorf("Failed to walk subtree: %v", err)
		return nil, err
	}
	defer rows.Close()

	var entries []model.ArchiveEntry
	for rows.Next() {
		var e model.ArchiveEntry
		if err := rows.Scan(&e.NodeID, &e.CType, &e.UserID, &e.Path, &e.Version, &e.FileName); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DocumentsIn lists (owner, document) pairs inside the given subtrees, used
// to clean files before a delete cascades.
func (r *NodeRepository) DocumentsIn(ctx context.Context, rootIDs []string) ([][2]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
		WITH RECURSIVE tree AS (
			SELECT id, ctype, user_id FROM nodes WHERE id = ANY($1)
			UNION ALL
			SELECT c.id, c.ctype, c.user_id FROM nodes c JOIN tree t ON c.parent_id = t.id
		)
		SELECT user_id, id FROM tree WHERE ctype = 'document'`, pq.Array(rootIDs))
	if err != nil {
		logger.Sugar.Errorf("Failed to list documents in subtree: %v", err)
		return nil, err
	}
	defer rows.Close()

	var out [][2]string
	for rows.Next() {
		var pair [2]string
		if err := rows.Scan(&pair[0], &pair[1]); err != nil {
			return nil, err
		}
		out = append(out, pair)
	}
	return out, rows.Err()
}

// DescendantIDs returns every node below rootIDs, roots included.
func (r *NodeRepository) DescendantIDs(ctx context.Context, rootIDs []string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
		WITH RECURSIVE tree AS (
			SELECT id FROM nodes WHERE id = ANY($1)
			UNION ALL
			SELECT c.id FROM nodes c JOIN tree t ON c.parent_id = t.id
		)
		SELECT id FROM tree`, pq.Array(rootIDs))
	if err != nil {
		logger.Sugar.Errorf("Failed to list descendants: %v", err)
		return nil, err
	}
	defer rows.Close()

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
