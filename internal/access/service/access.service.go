package service

import (
	"context"
	"fmt"

	"papervault/config/database"
	"papervault/internal/access/model"
	"papervault/internal/access/repository"
	"papervault/internal/apperr"
	"papervault/internal/cache"
	"papervault/pkg/logger"

	"github.com/google/uuid"
)

// SubtreeIndexer refreshes search entries whose readers changed.
type SubtreeIndexer interface {
	IndexSubtree(ctx context.Context, rootIDs ...string) error
}

type AccessService struct {
	Repo    *repository.AccessRepository
	Cache   cache.Client
	Indexer SubtreeIndexer
}

func NewAccessService(repo *repository.AccessRepository, c cache.Client) *AccessService {
	return &AccessService{Repo: repo, Cache: c}
}

// PermsDict returns node -> perm -> granted for every existing node in
// nodeIDs. Owners and superusers get the full set.
func (s *AccessService) PermsDict(ctx context.Context, userID string, nodeIDs []string) (map[string]model.PermSet, error) {
	out := make(map[string]model.PermSet, len(nodeIDs))
	if len(nodeIDs) == 0 {
		return out, nil
	}
	super, err := s.Repo.IsSuperuser(ctx, userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.Repo.PermsForNodes(ctx, userID, nodeIDs)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if super || row.IsOwner {
			out[row.NodeID] = model.Full()
			continue
		}
		out[row.NodeID] = model.FromList(row.Perms)
	}
	return out, nil
}

func (s *AccessService) IsSuperuser(ctx context.Context, userID string) (bool, error) {
	return s.Repo.IsSuperuser(ctx, userID)
}

func (s *AccessService) HasPerm(ctx context.Context, userID, perm, nodeID string) (bool, error) {
	perms, err := s.PermsDict(ctx, userID, []string{nodeID})
	if err != nil {
		return false, err
	}
	set, ok := perms[nodeID]
	if !ok {
		return false, fmt.Errorf("node %s: %w", nodeID, apperr.ErrNotFound)
	}
	return set[perm], nil
}

// Require fails with a forbidden error unless userID holds perm on nodeID.
func (s *AccessService) Require(ctx context.Context, userID, perm, nodeID string) error {
	return s.RequireAll(ctx, userID, perm, []string{nodeID})
}

// RequireAll is all-or-nothing: a single missing grant fails the whole set.
func (s *AccessService) RequireAll(ctx context.Context, userID, perm string, nodeIDs []string) error {
	perms, err := s.PermsDict(ctx, userID, nodeIDs)
	if err != nil {
		return err
	}
	for _, id := range nodeIDs {
		set, ok := perms[id]
		if !ok {
			return fmt.Errorf("node %s: %w", id, apperr.ErrNotFound)
		}
		if !set[perm] {
			return apperr.Forbidden(userID, perm, id)
		}
	}
	return nil
}

func (s *AccessService) List(ctx context.Context, userID, nodeID string) ([]model.Entry, error) {
	if err := s.Require(ctx, userID, model.PermRead, nodeID); err != nil {
		return nil, err
	}
	return s.Repo.List(ctx, nodeID)
}

// Grant adds an entry on nodeID and copies it onto every descendant.
func (s *AccessService) Grant(ctx context.Context, userID, nodeID string, req model.GrantRequest) (model.Entry, error) {
	if (req.UserID == "") == (req.GroupID == "") {
		return model.Entry{}, apperr.Invalid("exactly one of user_id or group_id is required")
	}
	if len(req.Perms) == 0 {
		return model.Entry{}, apperr.Invalid("perms cannot be empty")
	}
	for _, p := range req.Perms {
		if !model.IsValid(p) {
			return model.Entry{}, apperr.Invalid("unknown permission %q", p)
		}
	}
	if err := s.Require(ctx, userID, model.PermChangePerm, nodeID); err != nil {
		return model.Entry{}, err
	}

	entry := model.Entry{
		ID:      uuid.NewString(),
		NodeID:  nodeID,
		UserID:  req.UserID,
		GroupID: req.GroupID,
		Perms:   req.Perms,
	}
	err := database.WithTx(ctx, s.Repo.DB, func(tx database.DBTX) error {
		repo := s.Repo.With(tx)
		if err := repo.Create(ctx, entry); err != nil {
			return err
		}
		return repo.PropagateToDescendants(ctx, entry)
	})
	if err != nil {
		return model.Entry{}, err
	}
	s.invalidate(ctx)
	s.reindex(ctx, nodeID)
	return entry, nil
}

func (s *AccessService) Revoke(ctx context.Context, userID, nodeID, entryID string) error {
	if err := s.Require(ctx, userID, model.PermChangePerm, nodeID); err != nil {
		return err
	}
	n, err := s.Repo.Delete(ctx, nodeID, entryID)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("access entry %s: %w", entryID, apperr.ErrNotFound)
	}
	s.invalidate(ctx)
	s.reindex(ctx, nodeID)
	return nil
}

// Inherit copies the parent's entries onto a freshly created node.
func (s *AccessService) Inherit(ctx context.Context, db database.DBTX, nodeID, parentID string) error {
	return s.Repo.With(db).InheritFromParent(ctx, nodeID, parentID)
}

// Reinherit recomputes inherited entries below a moved node.
func (s *AccessService) Reinherit(ctx context.Context, db database.DBTX, rootID string) error {
	if err := s.Repo.With(db).Reinherit(ctx, rootID); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// Readers lists the users allowed to read nodeID.
func (s *AccessService) Readers(ctx context.Context, nodeID string) ([]string, error) {
	return s.Repo.ReadersOf(ctx, nodeID)
}

func (s *AccessService) invalidate(ctx context.Context) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.DeleteByPrefix(ctx, cache.PermsPrefix); err != nil {
		logger.Sugar.Warnf("Failed to invalidate perms cache: %v", err)
	}
}

func (s *AccessService) reindex(ctx context.Context, nodeID string) {
	if s.Indexer == nil {
		return
	}
	if err := s.Indexer.IndexSubtree(ctx, nodeID); err != nil {
		logger.Sugar.Warnf("Failed to reindex readers below %s: %v", nodeID, err)
	}
}
