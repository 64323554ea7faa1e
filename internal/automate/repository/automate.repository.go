package repository

import (
	"context"

	"papervault/config/database"
	"papervault/internal/automate/model"
	"papervault/pkg/logger"

	"github.com/lib/pq"
)

type AutomateRepository struct {
	DB database.DBTX
}

func NewAutomateRepository(db database.DBTX) *AutomateRepository {
	return &AutomateRepository{DB: db}
}

func (r *AutomateRepository) With(db database.DBTX) *AutomateRepository {
	return &AutomateRepository{DB: db}
}

// List returns the automates of userID, oldest first.
func (r *AutomateRepository) List(ctx context.Context, userID string) ([]model.Automate, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, user_id, name, match, matching_algorithm, is_case_sensitive, dst_folder_id, tags, created_at
		FROM automates WHERE user_id = $1 ORDER BY created_at, name`, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list automates of %s: %v", userID, err)
		return nil, err
	}
	defer rows.Close()

	out := []model.Automate{}
	for rows.Next() {
		var a model.Automate
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &a.Match, &a.MatchingAlgorithm, &a.IsCaseSensitive,
			&a.DstFolderID, pq.Array(&a.Tags), &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AutomateRepository) Create(ctx context.Context, a model.Automate) error {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO automates (id, user_id, name, match, matching_algorithm, is_case_sensitive, dst_folder_id, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.UserID, a.Name, a.Match, a.MatchingAlgorithm, a.IsCaseSensitive, a.DstFolderID, pq.Array(tags), a.CreatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to create automate %q: %v", a.Name, err)
	}
	return err
}

func (r *AutomateRepository) Delete(ctx context.Context, userID, id string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM automates WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete automate %s: %v", id, err)
		return 0, err
	}
	return res.RowsAffected()
}
