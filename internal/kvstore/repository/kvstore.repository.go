package repository

import (
	"context"

	"papervault/config/database"
	"papervault/internal/kvstore/model"
	"papervault/pkg/logger"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type KVRepository struct {
	DB database.DBTX
}

func NewKVRepository(db database.DBTX) *KVRepository {
	return &KVRepository{DB: db}
}

func (r *KVRepository) With(db database.DBTX) *KVRepository {
	return &KVRepository{DB: db}
}

func (r *KVRepository) List(ctx context.Context, nodeID string) ([]model.Item, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, node_id, key, value, kv_type, kv_format, kv_inherited
		FROM kv_items WHERE node_id = $1 ORDER BY key`, nodeID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list kv of node %s: %v", nodeID, err)
		return nil, err
	}
	defer rows.Close()

	items := []model.Item{}
	for rows.Next() {
		var it model.Item
		if err := rows.Scan(&it.ID, &it.NodeID, &it.Key, &it.Value, &it.KVType, &it.KVFormat, &it.KVInherited); err != nil {
			logger.Sugar.Errorf("Failed to scan kv row: %v", err)
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// DeleteOwnExcept removes the node's own keys that are not in keep.
func (r *KVRepository) DeleteOwnExcept(ctx context.Context, nodeID string, keep []string) error {
	_, err := r.DB.ExecContext(ctx, `
		DELETE FROM kv_items WHERE node_id = $1 AND NOT kv_inherited AND NOT (key = ANY($2))`,
		nodeID, pq.Array(keep))
	if err != nil {
		logger.Sugar.Errorf("Failed to prune kv of node %s: %v", nodeID, err)
	}
	return err
}

// Upsert writes an own key, overriding an inherited one of the same name.
func (r *KVRepository) Upsert(ctx context.Context, nodeID string, it model.Item) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO kv_items (id, node_id, key, value, kv_type, kv_format, kv_inherited)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)
		ON CONFLICT (node_id, key) DO UPDATE
		SET value = EXCLUDED.value, kv_type = EXCLUDED.kv_type, kv_format = EXCLUDED.kv_format, kv_inherited = FALSE`,
		uuid.NewString(), nodeID, it.Key, it.Value, it.KVType, it.KVFormat)
	if err != nil {
		logger.Sugar.Errorf("Failed to upsert kv %s of node %s: %v", it.Key, nodeID, err)
	}
	return err
}

// Reinherit rebuilds the inherited keys of rootID and every node below it
// from the own keys of their ancestors. The nearest ancestor wins and a
// node's own key is never overridden.
func (r *KVRepository) Reinherit(ctx context.Context, rootID string) error {
	_, err := r.DB.ExecContext(ctx, `
		WITH RECURSIVE tree AS (
			SELECT id FROM nodes WHERE id = $1
			UNION ALL
			SELECT c.id FROM nodes c JOIN tree t ON c.parent_id = t.id
		)
		DELETE FROM kv_items WHERE kv_inherited AND node_id IN (SELECT id FROM tree)`, rootID)
	if err != nil {
		logger.Sugar.Errorf("Failed to reset inherited kv below %s: %v", rootID, err)
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
		WITH RECURSIVE tree AS (
			SELECT id FROM nodes WHERE id = $1
			UNION ALL
			SELECT c.id FROM nodes c JOIN tree t ON c.parent_id = t.id
		), anc AS (
			SELECT t.id AS node_id, n.parent_id AS ancestor_id, 1 AS depth
			FROM tree t JOIN nodes n ON n.id = t.id WHERE n.parent_id IS NOT NULL
			UNION ALL
			SELECT a.node_id, p.parent_id, a.depth + 1 FROM anc a JOIN nodes p ON p.id = a.ancestor_id
			WHERE p.parent_id IS NOT NULL
		)
		INSERT INTO kv_items (id, node_id, key, value, kv_type, kv_format, kv_inherited)
		SELECT DISTINCT ON (anc.node_id, k.key)
			gen_random_uuid(), anc.node_id, k.key, k.value, k.kv_type, k.kv_format, TRUE
		FROM anc JOIN kv_items k ON k.node_id = anc.ancestor_id AND NOT k.kv_inherited
		ORDER BY anc.node_id, k.key, anc.depth
		ON CONFLICT (node_id, key) DO NOTHING`, rootID)
	if err != nil {
		logger.Sugar.Errorf("Failed to rebuild inherited kv below %s: %v", rootID, err)
	}
	return err
}

// InheritFromParent copies every key of parentID onto a new child.
func (r *KVRepository) InheritFromParent(ctx context.Context, nodeID, parentID string) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO kv_items (id, node_id, key, value, kv_type, kv_format, kv_inherited)
		SELECT gen_random_uuid(), $1, key, value, kv_type, kv_format, TRUE
		FROM kv_items WHERE node_id = $2
		ON CONFLICT (node_id, key) DO NOTHING`, nodeID, parentID)
	if err != nil {
		logger.Sugar.Errorf("Failed to inherit kv of %s into %s: %v", parentID, nodeID, err)
	}
	return err
}

func (r *KVRepository) Exists(ctx context.Context, nodeID string) (bool, error) {
	var ok bool
	err := r.DB.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM nodes WHERE id = $1)", nodeID).Scan(&ok)
	if err != nil {
		logger.Sugar.Errorf("Failed to look up node %s: %v", nodeID, err)
	}
	return ok, err
}
