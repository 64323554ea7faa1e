package repository

import (
	"context"
	"database/sql"

	"papervault/config/database"
	"papervault/internal/access/model"
	"papervault/pkg/logger"

	"github.com/lib/pq"
)

type AccessRepository struct {
	DB database.DBTX
}

func NewAccessRepository(db database.DBTX) *AccessRepository {
	return &AccessRepository{DB: db}
}

// With returns a copy bound to db, usually a transaction.
func (r *AccessRepository) With(db database.DBTX) *AccessRepository {
	return &AccessRepository{DB: db}
}

func (r *AccessRepository) IsSuperuser(ctx context.Context, userID string) (bool, error) {
	var super bool
	err := r.DB.QueryRowContext(ctx, "SELECT is_superuser FROM users WHERE id = $1", userID).Scan(&super)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to read superuser flag of %s: %v", userID, err)
	}
	return super, err
}

// NodePerms is the raw permission row of one node as seen by one user.
type NodePerms struct {
	NodeID  string
	IsOwner bool
	Perms   []string
}

// PermsForNodes collects ownership and the union of user and group grants.
// Nodes that do not exist are absent from the result.
func (r *AccessRepository) PermsForNodes(ctx context.Context, userID string, nodeIDs []string) ([]NodePerms, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT n.id, n.user_id = $1 AS is_owner,
		       COALESCE(array_agg(DISTINCT p) FILTER (WHERE p IS NOT NULL), '{}') AS perms
		FROM nodes n
		LEFT JOIN access a ON a.node_id = n.id
		     AND (a.user_id = $1 OR a.group_id IN (SELECT group_id FROM user_groups WHERE user_id = $1))
		LEFT JOIN LATERAL unnest(a.perms) AS p ON TRUE
		WHERE n.id = ANY($2)
		GROUP BY n.id, n.user_id`, userID, pq.Array(nodeIDs))
	if err != nil {
		logger.Sugar.Errorf("Failed to query perms for user %s: %v", userID, err)
		return nil, err
	}
	defer rows.Close()

	var out []NodePerms
	for rows.Next() {
		var np NodePerms
		if err := rows.Scan(&np.NodeID, &np.IsOwner, pq.Array(&np.Perms)); err != nil {
			logger.Sugar.Errorf("Failed to scan perms row: %v", err)
			return nil, err
		}
		out = append(out, np)
	}
	return out, rows.Err()
}

func (r *AccessRepository) List(ctx context.Context, nodeID string) ([]model.Entry, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, node_id, COALESCE(user_id::text, ''), COALESCE(group_id::text, ''), perms, inherited
		FROM access WHERE node_id = $1 ORDER BY inherited, id`, nodeID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list access of node %s: %v", nodeID, err)
		return nil, err
	}
	defer rows.Close()

	entries := []model.Entry{}
	for rows.Next() {
		var e model.Entry
		if err := rows.Scan(&e.ID, &e.NodeID, &e.UserID, &e.GroupID, pq.Array(&e.Perms), &e.Inherited); err != nil {
			logger.Sugar.Errorf("Failed to scan access row: %v", err)
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (r *AccessRepository) Create(ctx context.Context, e model.Entry) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO access (id, node_id, user_id, group_id, perms, inherited)
		VALUES ($1, $2, $3, $4, $5, FALSE)`,
		e.ID, e.NodeID, nullable(e.UserID), nullable(e.GroupID), pq.Array(e.Perms))
	if err != nil {
		logger.Sugar.Errorf("Failed to create access entry on node %s: %v", e.NodeID, err)
	}
	return err
}

// PropagateToDescendants copies entry to every node below its node as an
// inherited entry pointing back at it.
func (r *AccessRepository) PropagateToDescendants(ctx context.Context, e model.Entry) error {
	_, err := r.DB.ExecContext(ctx, `
		WITH RECURSIVE tree AS (
			SELECT id FROM nodes WHERE parent_id = $1
			UNION ALL
			SELECT n.id FROM nodes n JOIN tree t ON n.parent_id = t.id
		)
		INSERT INTO access (id, node_id, user_id, group_id, perms, inherited, source_id)
		SELECT gen_random_uuid(), tree.id, $2, $3, $4, TRUE, $5 FROM tree`,
		e.NodeID, nullable(e.UserID), nullable(e.GroupID), pq.Array(e.Perms), e.ID)
	if err != nil {
		logger.Sugar.Errorf("Failed to propagate access entry %s: %v", e.ID, err)
	}
	return err
}

// InheritFromParent copies every entry of parentID onto nodeID.
func (r *AccessRepository) InheritFromParent(ctx context.Context, nodeID, parentID string) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO access (id, node_id, user_id, group_id, perms, inherited, source_id)
		SELECT gen_random_uuid(), $1, user_id, group_id, perms, TRUE, COALESCE(source_id, id)
		FROM access WHERE node_id = $2`, nodeID, parentID)
	if err != nil {
		logger.Sugar.Errorf("Failed to inherit access of %s into %s: %v", parentID, nodeID, err)
	}
	return err
}

// Delete removes a direct entry; inherited copies go with it through the
// source_id cascade.
func (r *AccessRepository) Delete(ctx context.Context, nodeID, entryID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM access WHERE id = $1 AND node_id = $2 AND NOT inherited", entryID, nodeID)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete access entry %s: %v", entryID, err)
		return 0, err
	}
	return res.RowsAffected()
}

// ReadersOf lists users that may read nodeID: the owner, direct grantees and
// members of granted groups.
func (r *AccessRepository) ReadersOf(ctx context.Context, nodeID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT user_id::text FROM nodes WHERE id = $1
		UNION
		SELECT user_id::text FROM access
		WHERE node_id = $1 AND user_id IS NOT NULL AND 'read' = ANY(perms)
		UNION
		SELECT ug.user_id::text FROM access a JOIN user_groups ug ON ug.group_id = a.group_id
		WHERE a.node_id = $1 AND 'read' = ANY(a.perms)`, nodeID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list readers of %s: %v", nodeID, err)
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

// Reinherit rebuilds inherited entries of rootID and its descendants from the
// direct entries of their current ancestors, used after a move.
func (r *AccessRepository) Reinherit(ctx context.Context, rootID string) error {
	_, err := r.DB.ExecContext(ctx, `
		WITH RECURSIVE tree AS (
			SELECT id FROM nodes WHERE id = $1
			UNION ALL
			SELECT c.id FROM nodes c JOIN tree t ON c.parent_id = t.id
		)
		DELETE FROM access WHERE inherited AND node_id IN (SELECT id FROM tree)`, rootID)
	if err != nil {
		logger.Sugar.Errorf("Failed to reset inherited access below %s: %v", rootID, err)
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
		WITH RECURSIVE tree AS (
			SELECT id FROM nodes WHERE id = $1
			UNION ALL
			SELECT c.id FROM nodes c JOIN tree t ON c.parent_id = t.id
		), anc AS (
			SELECT t.id AS node_id, n.parent_id AS ancestor_id
			FROM tree t JOIN nodes n ON n.id = t.id WHERE n.parent_id IS NOT NULL
			UNION ALL
			SELECT a.node_id, p.parent_id FROM anc a JOIN nodes p ON p.id = a.ancestor_id
			WHERE p.parent_id IS NOT NULL
		)
		INSERT INTO access (id, node_id, user_id, group_id, perms, inherited, source_id)
		SELECT gen_random_uuid(), anc.node_id, a.user_id, a.group_id, a.perms, TRUE, a.id
		FROM anc JOIN access a ON a.node_id = anc.ancestor_id AND NOT a.inherited`, rootID)
	if err != nil {
		logger.Sugar.Errorf("Failed to rebuild inherited access below %s: %v", rootID, err)
	}
	return err
}
