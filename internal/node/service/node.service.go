package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"papervault/config/database"
	accessmodel "papervault/internal/access/model"
	"papervault/internal/apperr"
	"papervault/internal/cache"
	kvmodel "papervault/internal/kvstore/model"
	"papervault/internal/node/model"
	"papervault/internal/node/repository"
	"papervault/internal/storage"
	"papervault/pkg/logger"
	"papervault/socket"

	"github.com/google/uuid"
)

type PermService interface {
	PermsDict(ctx context.Context, userID string, nodeIDs []string) (map[string]accessmodel.PermSet, error)
	Require(ctx context.Context, userID, perm, nodeID string) error
	RequireAll(ctx context.Context, userID, perm string, nodeIDs []string) error
	Inherit(ctx context.Context, db database.DBTX, nodeID, parentID string) error
	Reinherit(ctx context.Context, db database.DBTX, rootID string) error
}

type KVStore interface {
	List(ctx context.Context, userID, nodeID string) ([]kvmodel.Item, error)
	Update(ctx context.Context, userID, nodeID string, raw interface{}) ([]kvmodel.Item, error)
	Inherit(ctx context.Context, db database.DBTX, nodeID, parentID string) error
	Reinherit(ctx context.Context, db database.DBTX, rootID string) error
}

// Indexer keeps the search index in step with the tree.
type Indexer interface {
	IndexNodes(ctx context.Context, ids ...string) error
	RemoveNodes(ctx context.Context, ids ...string) error
}

type NodeService struct {
	Repo      *repository.NodeRepository
	Access    PermService
	KV        KVStore
	Cache     cache.Client
	CacheTTL  time.Duration
	Storage   *storage.Local
	Indexer   Indexer
	Publisher socket.Publisher
}

func NewNodeService(repo *repository.NodeRepository, access PermService, kv KVStore, c cache.Client, ttl time.Duration,
	store *storage.Local, indexer Indexer, pub socket.Publisher) *NodeService {
	return &NodeService{
		Repo:      repo,
		Access:    access,
		KV:        kv,
		Cache:     c,
		CacheTTL:  ttl,
		Storage:   store,
		Indexer:   indexer,
		Publisher: pub,
	}
}

func (s *NodeService) CreateFolder(ctx context.Context, userID string, req model.CreateFolderRequest) (model.Node, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return model.Node{}, apperr.Invalid("title cannot be empty")
	}
	if strings.Contains(title, "/") {
		return model.Node{}, apperr.Invalid("title cannot contain '/'")
	}

	parentID := req.ParentID
	if parentID == "" {
		home, err := s.Repo.HomeFolderID(ctx, userID)
		if err != nil {
			return model.Node{}, err
		}
		parentID = home
	}
	parent, err := s.Repo.Get(ctx, parentID)
	if err != nil {
		return model.Node{}, err
	}
	if !parent.IsFolder() {
		return model.Node{}, apperr.Invalid("parent %s is not a folder", parentID)
	}
	if err := s.Access.Require(ctx, userID, accessmodel.PermWrite, parentID); err != nil {
		return model.Node{}, err
	}

	node := model.Node{ID: uuid.NewString(), Title: title, CType: model.CTypeFolder, ParentID: &parentID, UserID: userID}
	err = database.WithTx(ctx, s.Repo.DB, func(tx database.DBTX) error {
		if err := s.Repo.With(tx).Create(ctx, node); err != nil {
			return err
		}
		if err := s.Access.Inherit(ctx, tx, node.ID, parentID); err != nil {
			return err
		}
		return s.KV.Inherit(ctx, tx, node.ID, parentID)
	})
	if err != nil {
		return model.Node{}, err
	}

	s.afterChange(ctx, userID, socket.NodeCreatedType, []string{node.ID}, map[string]string{"id": node.ID, "title": title, "parent_id": parentID})
	return s.Repo.Get(ctx, node.ID)
}

// List returns readable children of parentID ("" lists root nodes), the
// parent's metadata and a pagination block.
func (s *NodeService) List(ctx context.Context, userID, parentID string, opts model.ListOptions) (model.ListResponse, error) {
	nodes, err := s.Repo.ListChildren(ctx, parentID, opts)
	if err != nil {
		return model.ListResponse{}, err
	}
	perms, err := s.nodesPerms(ctx, userID, parentID, nodes)
	if err != nil {
		return model.ListResponse{}, err
	}

	readable := make([]model.Node, 0, len(nodes))
	for _, n := range nodes {
		if perms[n.ID][accessmodel.PermRead] {
			n.UserPerms = perms[n.ID]
			readable = append(readable, n)
		}
	}

	pagination, start, end := Paginate(len(readable), model.PerPage, opts.Page)
	current := readable[start:end]
	if err := s.attachTags(ctx, current); err != nil {
		return model.ListResponse{}, err
	}

	resp := model.ListResponse{CurrentNodes: current, ParentKV: []kvmodel.Item{}, Pagination: pagination}
	if parentID != "" {
		resp.ParentID = &parentID
		kv, err := s.KV.List(ctx, userID, parentID)
		if err == nil {
			resp.ParentKV = kv
		} else if !errors.Is(err, apperr.ErrForbidden) {
			return model.ListResponse{}, err
		}
	}
	return resp, nil
}

// nodesPerms reads the cached perms dict of (user, parent) and computes
// entries only for nodes that appeared since it was stored.
func (s *NodeService) nodesPerms(ctx context.Context, userID, parentID string, nodes []model.Node) (map[string]accessmodel.PermSet, error) {
	key := cache.ReadableNodesKey(userID, parentID)
	perms := map[string]accessmodel.PermSet{}
	if s.Cache != nil {
		if raw, err := s.Cache.Get(ctx, key); err == nil {
			if err := json.Unmarshal(raw, &perms); err != nil {
				logger.Sugar.Warnf("Discarding corrupt perms cache %s: %v", key, err)
				perms = map[string]accessmodel.PermSet{}
			}
		}
	}

	var missing []string
	for _, n := range nodes {
		if _, ok := perms[n.ID]; !ok {
			missing = append(missing, n.ID)
		}
	}
	if len(missing) == 0 {
		return perms, nil
	}

	fresh, err := s.Access.PermsDict(ctx, userID, missing)
	if err != nil {
		return nil, err
	}
	for id, p := range fresh {
		perms[id] = p
	}
	if s.Cache != nil {
		if raw, err := json.Marshal(perms); err == nil {
			if err := s.Cache.Set(ctx, key, raw, s.CacheTTL); err != nil {
				logger.Sugar.Warnf("Failed to cache perms %s: %v", key, err)
			}
		}
	}
	return perms, nil
}

func (s *NodeService) attachTags(ctx context.Context, nodes []model.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	tags, err := s.Repo.TagsForNodes(ctx, ids)
	if err != nil {
		return err
	}
	for i := range nodes {
		if t, ok := tags[nodes[i].ID]; ok {
			nodes[i].Tags = t
		}
	}
	return nil
}

func (s *NodeService) Get(ctx context.Context, userID, nodeID string) (model.Node, error) {
	node, err := s.Repo.Get(ctx, nodeID)
	if err != nil {
		return node, err
	}
	perms, err := s.Access.PermsDict(ctx, userID, []string{nodeID})
	if err != nil {
		return node, err
	}
	if !perms[nodeID][accessmodel.PermRead] {
		return node, apperr.Forbidden(userID, accessmodel.PermRead, node.Title)
	}
	node.UserPerms = perms[nodeID]
	nodes := []model.Node{node}
	if err := s.attachTags(ctx, nodes); err != nil {
		return node, err
	}
	return nodes[0], nil
}

// Update renames the node and/or replaces its metadata.
func (s *NodeService) Update(ctx context.Context, userID, nodeID string, req model.UpdateRequest) (model.Node, error) {
	if err := s.Access.Require(ctx, userID, accessmodel.PermWrite, nodeID); err != nil {
		return model.Node{}, err
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" || strings.Contains(title, "/") {
			return model.Node{}, apperr.Invalid("invalid title %q", *req.Title)
		}
		if err := s.Repo.UpdateTitle(ctx, nodeID, title); err != nil {
			return model.Node{}, err
		}
	}
	if req.KVStore != nil {
		if _, err := s.KV.Update(ctx, userID, nodeID, req.KVStore); err != nil {
			return model.Node{}, err
		}
	}
	if req.Title != nil {
		s.reindexSubtree(ctx, []string{nodeID})
	}
	return s.Get(ctx, userID, nodeID)
}

func (s *NodeService) Breadcrumb(ctx context.Context, userID, nodeID string) (model.BreadcrumbResponse, error) {
	if err := s.Access.Require(ctx, userID, accessmodel.PermRead, nodeID); err != nil {
		return model.BreadcrumbResponse{}, err
	}
	nodes, err := s.Repo.Ancestors(ctx, nodeID)
	if err != nil {
		return model.BreadcrumbResponse{}, err
	}
	return model.BreadcrumbResponse{Nodes: nodes}, nil
}

func (s *NodeService) ByTitle(ctx context.Context, userID, title string) (model.ByTitleResponse, error) {
	return s.Repo.ByTitle(ctx, userID, title)
}

// Move reparents nodes under a folder. Folders cannot land in their own
// subtree.
func (s *NodeService) Move(ctx context.Context, userID string, req model.MoveRequest) error {
	if len(req.NodeIDs) == 0 || req.ParentID == "" {
		return apperr.Invalid("node_ids and parent_id are required")
	}
	target, err := s.Repo.Get(ctx, req.ParentID)
	if err != nil {
		return err
	}
	if !target.IsFolder() {
		return apperr.Invalid("target %s is not a folder", req.ParentID)
	}
	if err := s.Access.Require(ctx, userID, accessmodel.PermWrite, req.ParentID); err != nil {
		return err
	}
	if err := s.Access.RequireAll(ctx, userID, accessmodel.PermWrite, req.NodeIDs); err != nil {
		return err
	}
	for _, id := range req.NodeIDs {
		within, err := s.Repo.IsWithin(ctx, id, req.ParentID)
		if err != nil {
			return err
		}
		if within {
			return apperr.Invalid("cannot move node %s into itself or its descendants", id)
		}
	}

	err = database.WithTx(ctx, s.Repo.DB, func(tx database.DBTX) error {
		repo := s.Repo.With(tx)
		for _, id := range req.NodeIDs {
			if err := repo.SetParent(ctx, id, req.ParentID); err != nil {
				return err
			}
			if err := s.Access.Reinherit(ctx, tx, id); err != nil {
				return err
			}
			if err := s.KV.Reinherit(ctx, tx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidatePerms(ctx)
	s.reindexSubtree(ctx, req.NodeIDs)
	s.notify(ctx, userID, socket.NodeMovedType, map[string]interface{}{"node_ids": req.NodeIDs, "parent_id": req.ParentID})
	return nil
}

// Delete removes every node or none: a single missing delete grant forbids
// the whole operation, and a subtree holding a folder referenced by an
// automate is refused.
func (s *NodeService) Delete(ctx context.Context, userID string, nodeIDs []string) error {
	if len(nodeIDs) == 0 {
		return apperr.Invalid("node_ids cannot be empty")
	}
	removed, err := s.Repo.DescendantIDs(ctx, nodeIDs)
	if err != nil {
		return err
	}
	names, err := s.Repo.AutomatesTargeting(ctx, removed)
	if err != nil {
		return err
	}
	if len(names) > 0 {
		return fmt.Errorf("%w: following automates have references to folders you are trying to delete: %s. Please delete mentioned automates first",
			apperr.ErrConflict, strings.Join(names, ", "))
	}
	if err := s.Access.RequireAll(ctx, userID, accessmodel.PermDelete, nodeIDs); err != nil {
		return err
	}

	docs, err := s.Repo.DocumentsIn(ctx, nodeIDs)
	if err != nil {
		return err
	}
	if _, err := s.Repo.Delete(ctx, nodeIDs); err != nil {
		return err
	}

	for _, d := range docs {
		if err := s.Storage.RemoveDocument(d[0], d[1]); err != nil {
			logger.Sugar.Warnf("Failed to remove files of document %s: %v", d[1], err)
		}
	}
	if s.Indexer != nil {
		if err := s.Indexer.RemoveNodes(ctx, removed...); err != nil {
			logger.Sugar.Warnf("Failed to remove nodes from index: %v", err)
		}
	}
	s.invalidatePerms(ctx)
	s.notify(ctx, userID, socket.NodeDeletedType, map[string]interface{}{"node_ids": nodeIDs})
	return nil
}

func (s *NodeService) afterChange(ctx context.Context, userID, event string, ids []string, payload interface{}) {
	if s.Indexer != nil {
		if err := s.Indexer.IndexNodes(ctx, ids...); err != nil {
			logger.Sugar.Warnf("Failed to index nodes %v: %v", ids, err)
		}
	}
	s.notify(ctx, userID, event, payload)
}

func (s *NodeService) reindexSubtree(ctx context.Context, roots []string) {
	if s.Indexer == nil {
		return
	}
	ids, err := s.Repo.DescendantIDs(ctx, roots)
	if err != nil {
		return
	}
	if err := s.Indexer.IndexNodes(ctx, ids...); err != nil {
		logger.Sugar.Warnf("Failed to reindex subtree of %v: %v", roots, err)
	}
}

func (s *NodeService) notify(ctx context.Context, userID, event string, payload interface{}) {
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.Publish(ctx, socket.NewMessage(event, userID, "", payload)); err != nil {
		logger.Sugar.Warnf("Failed to publish %s: %v", event, err)
	}
}

func (s *NodeService) invalidatePerms(ctx context.Context) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.DeleteByPrefix(ctx, cache.PermsPrefix); err != nil {
		logger.Sugar.Warnf("Failed to invalidate perms cache: %v", err)
	}
}
