package repository

import (
	"context"
	"database/sql"
	"errors"

	"papervault/config/database"
	"papervault/internal/tag/model"
	"papervault/pkg/logger"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type TagRepository struct {
	DB database.DBTX
}

func NewTagRepository(db database.DBTX) *TagRepository {
	return &TagRepository{DB: db}
}

func (r *TagRepository) With(db database.DBTX) *TagRepository {
	return &TagRepository{DB: db}
}

func (r *TagRepository) List(ctx context.Context, userID string) ([]model.Tag, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, user_id, name, bg_color, fg_color, description, pinned
		FROM tags WHERE user_id = $1 ORDER BY pinned DESC, name`, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list tags of %s: %v", userID, err)
		return nil, err
	}
	defer rows.Close()

	tags := []model.Tag{}
	for rows.Next() {
		var t model.Tag
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.BgColor, &t.FgColor, &t.Description, &t.Pinned); err != nil {
			logger.Sugar.Errorf("Failed to scan tag: %v", err)
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// Create returns false when the user already owns a tag with that name.
func (r *TagRepository) Create(ctx context.Context, t model.Tag) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO tags (id, user_id, name, bg_color, fg_color, description, pinned)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, name) DO NOTHING`,
		t.ID, t.UserID, t.Name, t.BgColor, t.FgColor, t.Description, t.Pinned)
	if err != nil {
		logger.Sugar.Errorf("Failed to create tag %q: %v", t.Name, err)
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *TagRepository) Delete(ctx context.Context, userID, id string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM tags WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete tag %s: %v", id, err)
		return 0, err
	}
	return res.RowsAffected()
}

// EnsureByName returns the id of the user's tag called name, creating it
// with default colors when missing.
func (r *TagRepository) EnsureByName(ctx context.Context, userID, name string) (string, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO tags (id, user_id, name, bg_color, fg_color)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, uuid.NewString(), userID, name, model.DefaultBgColor, model.DefaultFgColor).Scan(&id)
	if err != nil {
		logger.Sugar.Errorf("Failed to ensure tag %q: %v", name, err)
	}
	return id, err
}

func (r *TagRepository) Attach(ctx context.Context, nodeID, tagID string) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO node_tags (node_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, nodeID, tagID)
	if err != nil {
		logger.Sugar.Errorf("Failed to tag node %s: %v", nodeID, err)
	}
	return err
}

func (r *TagRepository) Detach(ctx context.Context, nodeID string, names []string) error {
	_, err := r.DB.ExecContext(ctx, `
		DELETE FROM node_tags nt USING tags t
		WHERE nt.tag_id = t.id AND nt.node_id = $1 AND t.name = ANY($2)`, nodeID, pq.Array(names))
	if err != nil {
		logger.Sugar.Errorf("Failed to untag node %s: %v", nodeID, err)
	}
	return err
}

// NodeOwner returns the owner of nodeID; tags are created in the owner's
// namespace.
func (r *TagRepository) NodeOwner(ctx context.Context, nodeID string) (string, error) {
	var owner string
	err := r.DB.QueryRowContext(ctx, "SELECT user_id FROM nodes WHERE id = $1", nodeID).Scan(&owner)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		logger.Sugar.Errorf("Failed to read owner of %s: %v", nodeID, err)
	}
	return owner, err
}

// AssignNames ensures every tag exists for ownerID and attaches it to nodeID.
func (r *TagRepository) AssignNames(ctx context.Context, ownerID, nodeID string, names []string) error {
	for _, name := range names {
		id, err := r.EnsureByName(ctx, ownerID, name)
		if err != nil {
			return err
		}
		if err := r.Attach(ctx, nodeID, id); err != nil {
			return err
		}
	}
	return nil
}
