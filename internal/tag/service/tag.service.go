package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"papervault/config/database"
	accessmodel "papervault/internal/access/model"
	"papervault/internal/apperr"
	"papervault/internal/tag/model"
	"papervault/internal/tag/repository"
	"papervault/pkg/logger"

	"github.com/google/uuid"
)

type PermChecker interface {
	Require(ctx context.Context, userID, perm, nodeID string) error
}

type Indexer interface {
	IndexNodes(ctx context.Context, ids ...string) error
}

type TagService struct {
	Repo    *repository.TagRepository
	Access  PermChecker
	Indexer Indexer
}

func NewTagService(repo *repository.TagRepository, access PermChecker, indexer Indexer) *TagService {
	return &TagService{Repo: repo, Access: access, Indexer: indexer}
}

var colorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

func (s *TagService) List(ctx context.Context, userID string) ([]model.Tag, error) {
	return s.Repo.List(ctx, userID)
}

func (s *TagService) Create(ctx context.Context, userID string, req model.CreateTagRequest) (model.Tag, error) {
	t := model.Tag{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        strings.TrimSpace(req.Name),
		BgColor:     req.BgColor,
		FgColor:     req.FgColor,
		Description: req.Description,
		Pinned:      req.Pinned,
	}
	if t.Name == "" {
		return t, apperr.Invalid("tag name cannot be empty")
	}
	if t.BgColor == "" {
		t.BgColor = model.DefaultBgColor
	}
	if t.FgColor == "" {
		t.FgColor = model.DefaultFgColor
	}
	if !colorRe.MatchString(t.BgColor) || !colorRe.MatchString(t.FgColor) {
		return t, apperr.Invalid("colors must look like #rrggbb")
	}

	created, err := s.Repo.Create(ctx, t)
	if err != nil {
		return t, err
	}
	if !created {
		return t, fmt.Errorf("%w: tag %q already exists", apperr.ErrConflict, t.Name)
	}
	return t, nil
}

func (s *TagService) Delete(ctx context.Context, userID, id string) error {
	n, err := s.Repo.Delete(ctx, userID, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("tag %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// Assign tags nodeID with names, creating missing tags in the owner's set.
func (s *TagService) Assign(ctx context.Context, userID, nodeID string, names []string) error {
	names = cleanNames(names)
	if len(names) == 0 {
		return apperr.Invalid("tags cannot be empty")
	}
	if err := s.Access.Require(ctx, userID, accessmodel.PermWrite, nodeID); err != nil {
		return err
	}
	owner, err := s.Repo.NodeOwner(ctx, nodeID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("node %s: %w", nodeID, apperr.ErrNotFound)
	}
	if err != nil {
		return err
	}

	err = database.WithTx(ctx, s.Repo.DB, func(tx database.DBTX) error {
		return s.Repo.With(tx).AssignNames(ctx, owner, nodeID, names)
	})
	if err != nil {
		return err
	}
	s.reindex(ctx, nodeID)
	return nil
}

// AssignTx is Assign without the permission check, for callers already
// inside a transaction (automates).
func (s *TagService) AssignTx(ctx context.Context, db database.DBTX, ownerID, nodeID string, names []string) error {
	names = cleanNames(names)
	if len(names) == 0 {
		return nil
	}
	return s.Repo.With(db).AssignNames(ctx, ownerID, nodeID, names)
}

func (s *TagService) Remove(ctx context.Context, userID, nodeID string, names []string) error {
	names = cleanNames(names)
	if len(names) == 0 {
		return apperr.Invalid("tags cannot be empty")
	}
	if err := s.Access.Require(ctx, userID, accessmodel.PermWrite, nodeID); err != nil {
		return err
	}
	if err := s.Repo.Detach(ctx, nodeID, names); err != nil {
		return err
	}
	s.reindex(ctx, nodeID)
	return nil
}

func (s *TagService) reindex(ctx context.Context, nodeID string) {
	if s.Indexer == nil {
		return
	}
	if err := s.Indexer.IndexNodes(ctx, nodeID); err != nil {
		logger.Sugar.Warnf("Failed to reindex node %s after tagging: %v", nodeID, err)
	}
}

func cleanNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
