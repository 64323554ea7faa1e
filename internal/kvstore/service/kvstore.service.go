package service

import (
	"context"
	"fmt"

	"papervault/config/database"
	accessmodel "papervault/internal/access/model"
	"papervault/internal/apperr"
	"papervault/internal/kvstore/model"
	"papervault/internal/kvstore/repository"
)

// PermChecker is the slice of the access service kvstore needs.
type PermChecker interface {
	Require(ctx context.Context, userID, perm, nodeID string) error
}

type KVService struct {
	Repo   *repository.KVRepository
	Access PermChecker
}

func NewKVService(repo *repository.KVRepository, access PermChecker) *KVService {
	return &KVService{Repo: repo, Access: access}
}

func (s *KVService) List(ctx context.Context, userID, nodeID string) ([]model.Item, error) {
	if err := s.Access.Require(ctx, userID, accessmodel.PermRead, nodeID); err != nil {
		return nil, err
	}
	return s.Repo.List(ctx, nodeID)
}

// Update sanitizes raw (a decoded JSON list) and makes it the node's own
// metadata. Inherited keys of the node and everything below it are rebuilt,
// so keys added to a folder reach its descendants and removed keys vanish
// from them.
func (s *KVService) Update(ctx context.Context, userID, nodeID string, raw interface{}) ([]model.Item, error) {
	sanitized, err := model.Sanitize(raw)
	if err != nil {
		return nil, err
	}
	items, err := model.ToItems(sanitized)
	if err != nil {
		return nil, err
	}
	if err := s.Access.Require(ctx, userID, accessmodel.PermWrite, nodeID); err != nil {
		return nil, err
	}

	exists, err := s.Repo.Exists(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("node %s: %w", nodeID, apperr.ErrNotFound)
	}

	keys := make([]string, 0, len(items))
	for _, it := range items {
		keys = append(keys, it.Key)
	}

	err = database.WithTx(ctx, s.Repo.DB, func(tx database.DBTX) error {
		repo := s.Repo.With(tx)
		if err := repo.DeleteOwnExcept(ctx, nodeID, keys); err != nil {
			return err
		}
		for _, it := range items {
			if err := repo.Upsert(ctx, nodeID, it); err != nil {
				return err
			}
		}
		return repo.Reinherit(ctx, nodeID)
	})
	if err != nil {
		return nil, err
	}
	return s.Repo.List(ctx, nodeID)
}

// Inherit gives a freshly created node the metadata of its parent.
func (s *KVService) Inherit(ctx context.Context, db database.DBTX, nodeID, parentID string) error {
	return s.Repo.With(db).InheritFromParent(ctx, nodeID, parentID)
}

// Reinherit rebuilds inherited metadata below rootID after it changed parent.
func (s *KVService) Reinherit(ctx context.Context, db database.DBTX, rootID string) error {
	return s.Repo.With(db).Reinherit(ctx, rootID)
}
