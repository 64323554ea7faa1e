package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"papervault/config/database"
	"papervault/internal/apperr"
	"papervault/internal/user/model"
	"papervault/pkg/logger"

	"github.com/lib/pq"
)

type UserRepository struct {
	DB database.DBTX
}

func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{DB: db}
}

func (r *UserRepository) With(db database.DBTX) *UserRepository {
	return &UserRepository{DB: db}
}

func (r *UserRepository) Create(ctx context.Context, u model.User) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, is_superuser, lang)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.IsSuperuser, u.Lang)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: username %q is taken", apperr.ErrConflict, u.Username)
		}
		logger.Sugar.Errorf("Failed to create user %s: %v", u.Username, err)
	}
	return err
}

func (r *UserRepository) SetSpecialFolders(ctx context.Context, userID, homeID, inboxID string) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE users SET home_folder_id = $1, inbox_folder_id = $2 WHERE id = $3", homeID, inboxID, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to set special folders of %s: %v", userID, err)
	}
	return err
}

const userColumns = `id, username, email, password_hash, is_superuser, lang,
	COALESCE(home_folder_id::text, ''), COALESCE(inbox_folder_id::text, ''), created_at`

func (r *UserRepository) scanOne(row *sql.Row, what string) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsSuperuser, &u.Lang,
		&u.HomeFolderID, &u.InboxFolderID, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, fmt.Errorf("user %s: %w", what, apperr.ErrNotFound)
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to load user %s: %v", what, err)
	}
	return u, err
}

func (r *UserRepository) Get(ctx context.Context, id string) (model.User, error) {
	return r.scanOne(r.DB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id), id)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (model.User, error) {
	return r.scanOne(r.DB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE username = $1", username), username)
}

func (r *UserRepository) NodeIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, "SELECT id FROM nodes WHERE user_id = $1", userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list nodes of %s: %v", userID, err)
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

func (r *UserRepository) Delete(ctx context.Context, id string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete user %s: %v", id, err)
		return 0, err
	}
	return res.RowsAffected()
}

func (r *UserRepository) CreateGroup(ctx context.Context, g model.Group) error {
	_, err := r.DB.ExecContext(ctx, "INSERT INTO groups (id, name) VALUES ($1, $2)", g.ID, g.Name)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: group %q exists", apperr.ErrConflict, g.Name)
		}
		logger.Sugar.Errorf("Failed to create group %s: %v", g.Name, err)
	}
	return err
}

func (r *UserRepository) AddToGroup(ctx context.Context, userID, groupID string) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO user_groups (user_id, group_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, groupID)
	if err != nil {
		logger.Sugar.Errorf("Failed to add %s to group %s: %v", userID, groupID, err)
	}
	return err
}

func (r *UserRepository) GrantPermission(ctx context.Context, userID, codename string) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO user_permissions (user_id, codename) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, codename)
	if err != nil {
		logger.Sugar.Errorf("Failed to grant %s to %s: %v", codename, userID, err)
	}
	return err
}

func (r *UserRepository) GrantGroupPermission(ctx context.Context, groupID, codename string) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO group_permissions (group_id, codename) VALUES ($1, $2) ON CONFLICT DO NOTHING`, groupID, codename)
	if err != nil {
		logger.Sugar.Errorf("Failed to grant %s to group %s: %v", codename, groupID, err)
	}
	return err
}

// PermCodenames unions direct and group permissions.
func (r *UserRepository) PermCodenames(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT codename FROM user_permissions WHERE user_id = $1
		UNION
		SELECT gp.codename FROM group_permissions gp
		JOIN user_groups ug ON ug.group_id = gp.group_id WHERE ug.user_id = $1
		ORDER BY codename`, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to load perm codenames of %s: %v", userID, err)
		return nil, err
	}
	defer rows.Close()

	codenames := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		codenames = append(codenames, c)
	}
	return codenames, rows.Err()
}
