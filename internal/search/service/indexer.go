package service

import (
	"context"
	"sync/atomic"

	"papervault/internal/search/model"
	"papervault/internal/search/repository"
	"papervault/pkg/logger"

	"golang.org/x/sync/errgroup"
)

const (
	NodeTypeFolder   = "folder"
	NodeTypeDocument = "document"
	NodeTypePage     = "page"

	reindexBatch = 100
)

// Indexer keeps the search backend in step with the database. Services call
// it after every change of a node, its tags, access or text.
type Indexer struct {
	Repo    *repository.SearchRepository
	Backend model.Backend
}

func NewIndexer(repo *repository.SearchRepository, backend model.Backend) *Indexer {
	return &Indexer{Repo: repo, Backend: backend}
}

// IndexNodes rebuilds the entries of ids. Ids no longer in the database are
// dropped from the index.
func (i *Indexer) IndexNodes(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	docs, missing, err := i.Build(ctx, ids)
	if err != nil {
		return err
	}

	// Page docs of a document are replaced as a whole.
	stale := missing
	for _, d := range docs {
		if d.Kind == model.KindNode && d.NodeType == NodeTypeDocument {
			stale = append(stale, d.ID)
		}
	}
	if err := i.Backend.Remove(ctx, stale...); err != nil {
		return err
	}
	if err := i.Backend.Update(ctx, docs); err != nil {
		return err
	}
	logger.Sugar.Debugf("Indexed %d search docs for %d nodes", len(docs), len(ids))
	return nil
}

// IndexSubtree reindexes rootIDs and everything below them.
func (i *Indexer) IndexSubtree(ctx context.Context, rootIDs ...string) error {
	ids, err := i.Repo.SubtreeIDs(ctx, rootIDs)
	if err != nil {
		return err
	}
	for start := 0; start < len(ids); start += reindexBatch {
		end := start + reindexBatch
		if end > len(ids) {
			end = len(ids)
		}
		if err := i.IndexNodes(ctx, ids[start:end]...); err != nil {
			return err
		}
	}
	return nil
}

func (i *Indexer) RemoveNodes(ctx context.Context, ids ...string) error {
	return i.Backend.Remove(ctx, ids...)
}

// Build loads ids and turns them into node and page docs. missing lists the
// ids that were not found.
func (i *Indexer) Build(ctx context.Context, ids []string) (docs []model.Doc, missing []string, err error) {
	nodes, err := i.Repo.Nodes(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	found := make(map[string]bool, len(nodes))
	var docIDs []string
	for _, n := range nodes {
		found[n.ID] = true
		if n.CType == NodeTypeDocument {
			docIDs = append(docIDs, n.ID)
		}
	}
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	if len(nodes) == 0 {
		return nil, missing, nil
	}

	crumbs, err := i.Repo.Breadcrumbs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	tags, err := i.Repo.Tags(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	readers, err := i.Repo.Readers(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	texts := map[string]string{}
	var pages []repository.PageRow
	if len(docIDs) > 0 {
		if texts, err = i.Repo.LastTexts(ctx, docIDs); err != nil {
			return nil, nil, err
		}
		if pages, err = i.Repo.LastPages(ctx, docIDs); err != nil {
			return nil, nil, err
		}
	}

	byID := make(map[string]repository.NodeRow, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
		docs = append(docs, model.Doc{
			ID:         n.ID,
			Kind:       model.KindNode,
			NodeType:   n.CType,
			UserID:     n.UserID,
			Readers:    readers[n.ID],
			Title:      n.Title,
			Breadcrumb: crumbs[n.ID],
			Tags:       tags[n.ID],
			Text:       texts[n.ID],
			UpdatedAt:  n.UpdatedAt,
		})
	}
	for _, p := range pages {
		doc := byID[p.DocumentID]
		docs = append(docs, model.Doc{
			ID:         p.ID,
			Kind:       model.KindPage,
			NodeType:   NodeTypePage,
			UserID:     doc.UserID,
			Readers:    readers[doc.ID],
			Title:      doc.Title,
			Breadcrumb: crumbs[doc.ID],
			Tags:       tags[doc.ID],
			Text:       p.Text,
			DocumentID: p.DocumentID,
			VersionID:  p.VersionID,
			PageNumber: p.Number,
			UpdatedAt:  doc.UpdatedAt,
		})
	}
	return docs, missing, nil
}

// Reindex clears the backend and indexes every node again. progress, when
// set, receives the number of nodes done after each batch.
func (i *Indexer) Reindex(ctx context.Context, workers int, progress func(done int)) (int, error) {
	ids, err := i.Repo.AllNodeIDs(ctx)
	if err != nil {
		return 0, err
	}
	if err := i.Backend.Clear(ctx); err != nil {
		return 0, err
	}
	if workers < 1 {
		workers = 1
	}

	var done int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < len(ids); start += reindexBatch {
		end := start + reindexBatch
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]
		g.Go(func() error {
			if err := i.IndexNodes(gctx, batch...); err != nil {
				return err
			}
			n := atomic.AddInt64(&done, int64(len(batch)))
			if progress != nil {
				progress(int(n))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(atomic.LoadInt64(&done)), err
	}
	return len(ids), nil
}
