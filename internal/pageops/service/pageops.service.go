package service

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"papervault/config/database"
	accessmodel "papervault/internal/access/model"
	"papervault/internal/apperr"
	docmodel "papervault/internal/document/model"
	docrepo "papervault/internal/document/repository"
	nodemodel "papervault/internal/node/model"
	noderepo "papervault/internal/node/repository"
	"papervault/internal/pageops/model"
	"papervault/internal/pdfops"
	"papervault/internal/storage"
	"papervault/pkg/logger"
	"papervault/socket"

	"github.com/google/uuid"
)

type PermChecker interface {
	Require(ctx context.Context, userID, perm, nodeID string) error
}

type Inheritor interface {
	Inherit(ctx context.Context, db database.DBTX, nodeID, parentID string) error
}

type Indexer interface {
	IndexNodes(ctx context.Context, ids ...string) error
	RemoveNodes(ctx context.Context, ids ...string) error
}

// PageService edits pages of PDF documents. Every edit writes a new
// document version and carries OCR text of surviving pages into it.
type PageService struct {
	Docs      *docrepo.DocumentRepository
	Nodes     *noderepo.NodeRepository
	Access    PermChecker
	AccessInh Inheritor
	KV        Inheritor
	Editor    pdfops.Editor
	Storage   *storage.Local
	Indexer   Indexer
	Publisher socket.Publisher
}

type loaded struct {
	doc  docmodel.Document
	ver  docmodel.Version
	data []byte
}

type pageSource struct {
	docID   string
	version int
	number  int
	text    string
}

func (l loaded) sources(numbers []int) []pageSource {
	texts := make(map[int]string, len(l.ver.Pages))
	for _, p := range l.ver.Pages {
		texts[p.Number] = p.Text
	}
	out := make([]pageSource, len(numbers))
	for i, n := range numbers {
		out[i] = pageSource{docID: l.doc.ID, version: l.ver.Number, number: n, text: texts[n]}
	}
	return out
}

func (l loaded) checkPages(pages []int) error {
	for _, p := range pages {
		if p < 1 || p > l.ver.PageCount {
			return apperr.Invalid("page %d out of range 1..%d", p, l.ver.PageCount)
		}
	}
	return nil
}

func (s *PageService) load(ctx context.Context, userID, docID, perm string) (loaded, error) {
	if err := s.Access.Require(ctx, userID, perm, docID); err != nil {
		return loaded{}, err
	}
	doc, err := s.Docs.Get(ctx, docID)
	if err != nil {
		return loaded{}, err
	}
	ver, err := s.Docs.Version(ctx, docID, 0)
	if err != nil {
		return loaded{}, err
	}
	if !ver.IsPDF() {
		return loaded{}, apperr.Invalid("%s is %s; pages can only be edited in PDF documents", doc.Title, ver.MimeType)
	}
	data, err := s.Storage.ReadFile(storage.VersionPath(doc.UserID, doc.ID, ver.Number, ver.FileName))
	if err != nil {
		return loaded{}, fmt.Errorf("read version %d of %s: %w", ver.Number, doc.ID, err)
	}
	return loaded{doc: doc, ver: ver, data: data}, nil
}

type staged struct {
	doc   docmodel.Document
	ver   docmodel.Version
	texts []string
}

// stage writes the file and page texts of the version after prev.
func (s *PageService) stage(doc docmodel.Document, prev int, fileName string, data []byte, sources []pageSource) (staged, error) {
	number := prev + 1
	size, err := s.Storage.Save(storage.VersionPath(doc.UserID, doc.ID, number, fileName), bytes.NewReader(data))
	if err != nil {
		return staged{}, err
	}
	texts := make([]string, len(sources))
	for i, src := range sources {
		texts[i] = src.text
		if err := s.Storage.CopyPageText(src.docID, src.version, src.number, doc.ID, number, i+1); err != nil {
			s.Storage.RemoveVersion(doc.UserID, doc.ID, number)
			return staged{}, fmt.Errorf("copy text of page %d: %w", src.number, err)
		}
	}
	return staged{
		doc: doc,
		ver: docmodel.Version{
			DocumentID: doc.ID,
			Number:     number,
			FileName:   fileName,
			MimeType:   docmodel.MimePDF,
			Size:       size,
			PageCount:  len(sources),
		},
		texts: texts,
	}, nil
}

func (s *PageService) discard(stages ...*staged) {
	for _, st := range stages {
		if st == nil {
			continue
		}
		if err := s.Storage.RemoveVersion(st.doc.UserID, st.doc.ID, st.ver.Number); err != nil {
			logger.Sugar.Warnf("Failed to remove staged version %d of %s: %v", st.ver.Number, st.doc.ID, err)
		}
	}
}

func (s *PageService) record(ctx context.Context, tx database.DBTX, st *staged) error {
	v, err := s.Docs.With(tx).CreateVersion(ctx, st.ver, st.doc.Lang, st.texts)
	if err != nil {
		return err
	}
	st.ver = v
	return s.Docs.With(tx).Touch(ctx, st.doc.ID)
}

// lock holds the rows of the given documents until tx ends and fails with a
// conflict when one gained a version after it was loaded. Rows are locked in
// id order.
func (s *PageService) lock(ctx context.Context, tx database.DBTX, docs ...loaded) error {
	sort.Slice(docs, func(i, j int) bool { return docs[i].doc.ID < docs[j].doc.ID })
	for _, l := range docs {
		latest, err := s.Docs.With(tx).LockLatest(ctx, l.doc.ID)
		if err != nil {
			return err
		}
		if latest != l.ver.Number {
			return fmt.Errorf("%w: %s changed to version %d while version %d was being edited",
				apperr.ErrConflict, l.doc.Title, latest, l.ver.Number)
		}
	}
	return nil
}

// commit writes the next version of l under its row lock. Staged files are
// removed before the lock is released when anything fails.
func (s *PageService) commit(ctx context.Context, l loaded, data []byte, sources []pageSource) (staged, error) {
	var st staged
	err := database.WithTx(ctx, s.Docs.DB, func(tx database.DBTX) error {
		if err := s.lock(ctx, tx, l); err != nil {
			return err
		}
		var err error
		if st, err = s.stage(l.doc, l.ver.Number, l.ver.FileName, data, sources); err != nil {
			return err
		}
		if err := s.record(ctx, tx, &st); err != nil {
			s.discard(&st)
			return err
		}
		return nil
	})
	return st, err
}

func (s *PageService) apply(ctx context.Context, l loaded, data []byte, sources []pageSource) (model.Result, error) {
	st, err := s.commit(ctx, l, data, sources)
	if err != nil {
		return model.Result{}, err
	}
	s.reindex(ctx, l.doc.ID)
	return model.Result{DocumentID: l.doc.ID, Version: st.ver}, nil
}

func (s *PageService) DeletePages(ctx context.Context, userID, docID string, pages []int) (model.Result, error) {
	pages = unique(pages)
	if len(pages) == 0 {
		return model.Result{}, apperr.Invalid("no pages given")
	}
	l, err := s.load(ctx, userID, docID, accessmodel.PermWrite)
	if err != nil {
		return model.Result{}, err
	}
	if err := l.checkPages(pages); err != nil {
		return model.Result{}, err
	}
	if len(pages) >= l.ver.PageCount {
		return model.Result{}, apperr.Invalid("cannot delete all pages of %s", l.doc.Title)
	}

	recycle, err := pdfops.PageRecycleMap(l.ver.PageCount, pages)
	if err != nil {
		return model.Result{}, apperr.Invalid("%v", err)
	}
	out, err := s.Editor.RemovePages(l.data, pages)
	if err != nil {
		return model.Result{}, fmt.Errorf("delete pages of %s: %w", docID, err)
	}
	old := make([]int, len(recycle))
	for i, item := range recycle {
		old[i] = item.OldNumber
	}
	return s.apply(ctx, l, out, l.sources(old))
}

func (s *PageService) ReorderPages(ctx context.Context, userID, docID string, moves []pdfops.PageMove) (model.Result, error) {
	if len(moves) == 0 {
		return model.Result{}, apperr.Invalid("no pages given")
	}
	l, err := s.load(ctx, userID, docID, accessmodel.PermWrite)
	if err != nil {
		return model.Result{}, err
	}
	order := pdfops.ReorderedList(moves, l.ver.PageCount)
	if err := pdfops.ValidateOrder(order); err != nil {
		return model.Result{}, apperr.Invalid("%v", err)
	}
	out, err := s.Editor.Select(l.data, order)
	if err != nil {
		return model.Result{}, fmt.Errorf("reorder pages of %s: %w", docID, err)
	}
	return s.apply(ctx, l, out, l.sources(order))
}

func (s *PageService) RotatePages(ctx context.Context, userID, docID string, items []model.RotateItem) (model.Result, error) {
	if len(items) == 0 {
		return model.Result{}, apperr.Invalid("no pages given")
	}
	l, err := s.load(ctx, userID, docID, accessmodel.PermWrite)
	if err != nil {
		return model.Result{}, err
	}

	angles := make(map[int]int, len(items))
	var byID []map[string]interface{}
	for _, it := range items {
		if it.ID != "" {
			byID = append(byID, map[string]interface{}{"id": it.ID, "angle": it.Angle})
			continue
		}
		angles[it.Number] = it.Angle
	}
	if len(byID) > 0 {
		refs := make([]pdfops.PageRef, len(l.ver.Pages))
		for i, p := range l.ver.Pages {
			refs[i] = pdfops.PageRef{ID: p.ID, Number: p.Number}
		}
		annotated := pdfops.AnnotatePageData(refs, byID, "angle")
		if len(annotated) != len(byID) {
			return model.Result{}, apperr.Invalid("unknown page id in rotation of %s", l.doc.Title)
		}
		for _, a := range annotated {
			angles[a["number"].(int)] = a["angle"].(int)
		}
	}

	numbers := make([]int, 0, len(angles))
	for n, a := range angles {
		if _, err := pdfops.NormalizeAngle(a); err != nil {
			return model.Result{}, apperr.Invalid("%v", err)
		}
		numbers = append(numbers, n)
	}
	if err := l.checkPages(numbers); err != nil {
		return model.Result{}, err
	}

	out, err := s.Editor.Rotate(l.data, angles)
	if err != nil {
		return model.Result{}, fmt.Errorf("rotate pages of %s: %w", docID, err)
	}
	return s.apply(ctx, l, out, l.sources(span(1, l.ver.PageCount)))
}

// MovePages moves pages between documents. Moving every page of the source
// deletes it.
func (s *PageService) MovePages(ctx context.Context, userID string, req model.MoveRequest) (model.MoveResult, error) {
	pages := unique(req.Pages)
	if len(pages) == 0 {
		return model.MoveResult{}, apperr.Invalid("no pages given")
	}
	if req.TargetID == req.SourceID {
		return model.MoveResult{}, apperr.Invalid("source and target are the same document")
	}
	src, err := s.load(ctx, userID, req.SourceID, accessmodel.PermWrite)
	if err != nil {
		return model.MoveResult{}, err
	}
	if err := src.checkPages(pages); err != nil {
		return model.MoveResult{}, err
	}
	total := len(pages) == src.ver.PageCount
	if total {
		if err := s.Access.Require(ctx, userID, accessmodel.PermDelete, src.doc.ID); err != nil {
			return model.MoveResult{}, err
		}
	}

	var (
		target   docmodel.Document
		dst      loaded
		fileName string
		out      []byte
		sources  []pageSource
		created  bool
	)
	if req.TargetID == "" {
		created = true
		target = docmodel.Document{
			ID:        uuid.NewString(),
			ParentID:  src.doc.ParentID,
			UserID:    userID,
			Lang:      src.doc.Lang,
			OCRStatus: src.doc.OCRStatus,
		}
		target.Title = splitTitle(src.doc.Title, target.ID)
		fileName = target.Title
		if out, err = s.Editor.Insert(nil, src.data, pages, 0); err != nil {
			return model.MoveResult{}, fmt.Errorf("extract pages of %s: %w", src.doc.ID, err)
		}
		sources = src.sources(pages)
	} else {
		if dst, err = s.load(ctx, userID, req.TargetID, accessmodel.PermWrite); err != nil {
			return model.MoveResult{}, err
		}
		if req.Position < 0 || req.Position > dst.ver.PageCount {
			return model.MoveResult{}, apperr.Invalid("position %d out of range 0..%d", req.Position, dst.ver.PageCount)
		}
		target, fileName = dst.doc, dst.ver.FileName
		if out, err = s.Editor.Insert(dst.data, src.data, pages, req.Position); err != nil {
			return model.MoveResult{}, fmt.Errorf("insert pages into %s: %w", dst.doc.ID, err)
		}
		sources = append(sources, dst.sources(span(1, req.Position))...)
		sources = append(sources, src.sources(pages)...)
		sources = append(sources, dst.sources(span(req.Position+1, dst.ver.PageCount))...)
	}

	var (
		remaining []byte
		kept      []int
	)
	if !total {
		recycle, err := pdfops.PageRecycleMap(src.ver.PageCount, pages)
		if err != nil {
			return model.MoveResult{}, apperr.Invalid("%v", err)
		}
		if remaining, err = s.Editor.RemovePages(src.data, pages); err != nil {
			return model.MoveResult{}, fmt.Errorf("remove pages of %s: %w", src.doc.ID, err)
		}
		kept = make([]int, len(recycle))
		for i, item := range recycle {
			kept[i] = item.OldNumber
		}
	}

	var (
		tgt  staged
		rest *staged
	)
	err = database.WithTx(ctx, s.Docs.DB, func(tx database.DBTX) error {
		locked := []loaded{src}
		if !created {
			locked = append(locked, dst)
		}
		if err := s.lock(ctx, tx, locked...); err != nil {
			return err
		}
		var err error
		if tgt, err = s.stage(target, dst.ver.Number, fileName, out, sources); err != nil {
			return err
		}
		if !total {
			st, err := s.stage(src.doc, src.ver.Number, src.ver.FileName, remaining, src.sources(kept))
			if err != nil {
				s.discard(&tgt)
				return err
			}
			rest = &st
		}
		if err := s.moveRecords(ctx, tx, created, target, &tgt, rest, src.doc.ID); err != nil {
			s.discard(&tgt, rest)
			return err
		}
		return nil
	})
	if err != nil {
		if created {
			s.Storage.RemoveDocument(target.UserID, target.ID)
		}
		return model.MoveResult{}, err
	}

	res := model.MoveResult{Target: model.Result{DocumentID: target.ID, Version: tgt.ver}, SourceDeleted: total}
	s.reindex(ctx, target.ID)
	if created {
		s.notify(ctx, userID, socket.NodeCreatedType, map[string]interface{}{"id": target.ID, "title": target.Title, "parent_id": target.ParentID})
	}
	if total {
		if err := s.Storage.RemoveDocument(src.doc.UserID, src.doc.ID); err != nil {
			logger.Sugar.Warnf("Failed to remove files of merged document %s: %v", src.doc.ID, err)
		}
		if s.Indexer != nil {
			if err := s.Indexer.RemoveNodes(ctx, src.doc.ID); err != nil {
				logger.Sugar.Warnf("Failed to remove %s from index: %v", src.doc.ID, err)
			}
		}
		s.notify(ctx, userID, socket.NodeDeletedType, map[string]interface{}{"node_ids": []string{src.doc.ID}})
	} else {
		res.Source = &model.Result{DocumentID: src.doc.ID, Version: rest.ver}
		s.reindex(ctx, src.doc.ID)
	}
	logger.Sugar.Infof("Moved %d pages of %s into %s (source deleted: %t)", len(pages), src.doc.ID, target.ID, total)
	return res, nil
}

func (s *PageService) moveRecords(ctx context.Context, tx database.DBTX, created bool, target docmodel.Document,
	tgt, rest *staged, srcID string) error {
	if created {
		if err := s.createDocument(ctx, tx, target); err != nil {
			return err
		}
	}
	if err := s.record(ctx, tx, tgt); err != nil {
		return err
	}
	if rest != nil {
		return s.record(ctx, tx, rest)
	}
	_, err := s.Nodes.With(tx).Delete(ctx, []string{srcID})
	return err
}

func (s *PageService) createDocument(ctx context.Context, tx database.DBTX, doc docmodel.Document) error {
	node := nodemodel.Node{ID: doc.ID, Title: doc.Title, CType: nodemodel.CTypeDocument, ParentID: doc.ParentID, UserID: doc.UserID}
	if err := s.Nodes.With(tx).Create(ctx, node); err != nil {
		return err
	}
	if err := s.Docs.With(tx).Create(ctx, doc.ID, doc.Lang, doc.OCRStatus); err != nil {
		return err
	}
	if doc.ParentID == nil {
		return nil
	}
	if err := s.AccessInh.Inherit(ctx, tx, doc.ID, *doc.ParentID); err != nil {
		return err
	}
	return s.KV.Inherit(ctx, tx, doc.ID, *doc.ParentID)
}

func (s *PageService) reindex(ctx context.Context, docID string) {
	if s.Indexer == nil {
		return
	}
	if err := s.Indexer.IndexNodes(ctx, docID); err != nil {
		logger.Sugar.Warnf("Failed to reindex %s: %v", docID, err)
	}
}

func (s *PageService) notify(ctx context.Context, userID, event string, payload interface{}) {
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.Publish(ctx, socket.NewMessage(event, userID, "", payload)); err != nil {
		logger.Sugar.Warnf("Failed to publish %s: %v", event, err)
	}
}

func splitTitle(title, id string) string {
	base := strings.TrimSuffix(title, filepath.Ext(title))
	return fmt.Sprintf("%s-%s.pdf", base, id[:8])
}

// unique drops repeated page numbers, keeping the first occurrence.
func unique(numbers []int) []int {
	seen := make(map[int]bool, len(numbers))
	out := make([]int, 0, len(numbers))
	for _, n := range numbers {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func span(from, to int) []int {
	if to < from {
		return nil
	}
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}
