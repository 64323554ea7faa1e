package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"papervault/config/database"
	accessmodel "papervault/internal/access/model"
	"papervault/internal/apperr"
	"papervault/internal/automate/model"
	"papervault/internal/automate/repository"
	noderepo "papervault/internal/node/repository"
	"papervault/pkg/logger"
	"papervault/socket"

	"github.com/google/uuid"
)

type PermService interface {
	Require(ctx context.Context, userID, perm, nodeID string) error
	Reinherit(ctx context.Context, db database.DBTX, rootID string) error
}

type KVInheritor interface {
	Reinherit(ctx context.Context, db database.DBTX, rootID string) error
}

type TagAssigner interface {
	AssignTx(ctx context.Context, db database.DBTX, ownerID, nodeID string, names []string) error
}

type AutomateService struct {
	Repo      *repository.AutomateRepository
	Nodes     *noderepo.NodeRepository
	Access    PermService
	KV        KVInheritor
	Tags      TagAssigner
	Publisher socket.Publisher
}

func NewAutomateService(repo *repository.AutomateRepository, nodes *noderepo.NodeRepository, access PermService,
	kv KVInheritor, tags TagAssigner, pub socket.Publisher) *AutomateService {
	return &AutomateService{Repo: repo, Nodes: nodes, Access: access, KV: kv, Tags: tags, Publisher: pub}
}

func (s *AutomateService) List(ctx context.Context, userID string) ([]model.Automate, error) {
	return s.Repo.List(ctx, userID)
}

func (s *AutomateService) Create(ctx context.Context, userID string, req model.CreateRequest) (model.Automate, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return model.Automate{}, apperr.Invalid("name cannot be empty")
	}
	if strings.TrimSpace(req.Match) == "" {
		return model.Automate{}, apperr.Invalid("match cannot be empty")
	}
	if !model.IsValidAlgorithm(req.MatchingAlgorithm) {
		return model.Automate{}, apperr.Invalid("unknown matching algorithm %q", req.MatchingAlgorithm)
	}
	if req.MatchingAlgorithm == model.MatchRegex {
		if _, err := regexp.Compile(req.Match); err != nil {
			return model.Automate{}, apperr.Invalid("invalid regular expression: %v", err)
		}
	}
	if req.DstFolderID == "" {
		return model.Automate{}, apperr.Invalid("dst_folder_id is required")
	}
	dst, err := s.Nodes.Get(ctx, req.DstFolderID)
	if err != nil {
		return model.Automate{}, err
	}
	if !dst.IsFolder() {
		return model.Automate{}, apperr.Invalid("destination %s is not a folder", req.DstFolderID)
	}
	if err := s.Access.Require(ctx, userID, accessmodel.PermWrite, dst.ID); err != nil {
		return model.Automate{}, err
	}

	a := model.Automate{
		ID:                uuid.NewString(),
		UserID:            userID,
		Name:              name,
		Match:             req.Match,
		MatchingAlgorithm: req.MatchingAlgorithm,
		IsCaseSensitive:   req.IsCaseSensitive,
		DstFolderID:       dst.ID,
		Tags:              cleanTags(req.Tags),
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.Repo.Create(ctx, a); err != nil {
		return model.Automate{}, err
	}
	return a, nil
}

func (s *AutomateService) Delete(ctx context.Context, userID, id string) error {
	n, err := s.Repo.Delete(ctx, userID, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("automate %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// Apply runs the automates of userID against the OCR text of docID. The
// first matching automate moves the document and tags it; Apply reports
// whether one matched.
func (s *AutomateService) Apply(ctx context.Context, userID, docID, text string) (bool, error) {
	automates, err := s.Repo.List(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, a := range automates {
		if !a.Matches(text) {
			continue
		}
		if err := s.file(ctx, a, docID); err != nil {
			return false, fmt.Errorf("automate %q: %w", a.Name, err)
		}
		logger.Sugar.Infof("Automate %q filed document %s into %s", a.Name, docID, a.DstFolderID)
		return true, nil
	}
	return false, nil
}

func (s *AutomateService) file(ctx context.Context, a model.Automate, docID string) error {
	doc, err := s.Nodes.Get(ctx, docID)
	if err != nil {
		return err
	}
	moved := doc.ParentID == nil || *doc.ParentID != a.DstFolderID

	err = database.WithTx(ctx, s.Repo.DB, func(tx database.DBTX) error {
		if moved {
			if err := s.Nodes.With(tx).SetParent(ctx, docID, a.DstFolderID); err != nil {
				return err
			}
			if err := s.Access.Reinherit(ctx, tx, docID); err != nil {
				return err
			}
			if err := s.KV.Reinherit(ctx, tx, docID); err != nil {
				return err
			}
		}
		return s.Tags.AssignTx(ctx, tx, doc.UserID, docID, a.Tags)
	})
	if err != nil {
		return err
	}

	if moved && s.Publisher != nil {
		msg := socket.NewMessage(socket.NodeMovedType, doc.UserID, docID, map[string]interface{}{
			"node_ids":  []string{docID},
			"parent_id": a.DstFolderID,
			"automate":  a.Name,
		})
		if err := s.Publisher.Publish(ctx, msg); err != nil {
			logger.Sugar.Warnf("Failed to publish automate move of %s: %v", docID, err)
		}
	}
	return nil
}

func cleanTags(names []string) []string {
	out := []string{}
	seen := map[string]bool{}
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
