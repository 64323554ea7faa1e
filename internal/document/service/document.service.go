package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"papervault/config/database"
	"papervault/internal/apperr"
	accessmodel "papervault/internal/access/model"
	"papervault/internal/document/model"
	"papervault/internal/document/repository"
	nodemodel "papervault/internal/node/model"
	noderepo "papervault/internal/node/repository"
	"papervault/internal/queue"
	"papervault/internal/storage"
	"papervault/pkg/logger"
	"papervault/socket"

	"github.com/google/uuid"
)

// MaxUploadSize bounds a single uploaded file.
const MaxUploadSize = 256 << 20

type PermService interface {
	Require(ctx context.Context, userID, perm, nodeID string) error
	Inherit(ctx context.Context, db database.DBTX, nodeID, parentID string) error
}

type KVInheritor interface {
	Inherit(ctx context.Context, db database.DBTX, nodeID, parentID string) error
}

// PageCounter reads the number of pages of a stored file.
type PageCounter interface {
	PageCount(data []byte, mime string) (int, error)
}

type Indexer interface {
	IndexNodes(ctx context.Context, ids ...string) error
}

type DocumentService struct {
	Repo        *repository.DocumentRepository
	Nodes       *noderepo.NodeRepository
	Access      PermService
	KV          KVInheritor
	Pages       PageCounter
	Storage     *storage.Local
	Queue       queue.Queue
	Indexer     Indexer
	Publisher   socket.Publisher
	DefaultLang string
}

func (s *DocumentService) Upload(ctx context.Context, userID, parentID, fileName string, r io.Reader) (model.UploadResponse, error) {
	fileName = filepath.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." || fileName == string(filepath.Separator) {
		return model.UploadResponse{}, apperr.Invalid("file name cannot be empty")
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return model.UploadResponse{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return model.UploadResponse{}, apperr.Invalid("uploaded file is empty")
	}
	if len(data) > MaxUploadSize {
		return model.UploadResponse{}, apperr.Invalid("uploaded file exceeds %d bytes", MaxUploadSize)
	}
	mime, err := DetectMime(data)
	if err != nil {
		return model.UploadResponse{}, err
	}

	if parentID == "" {
		if parentID, err = s.Nodes.InboxFolderID(ctx, userID); err != nil {
			return model.UploadResponse{}, err
		}
	}
	parent, err := s.Nodes.Get(ctx, parentID)
	if err != nil {
		return model.UploadResponse{}, err
	}
	if !parent.IsFolder() {
		return model.UploadResponse{}, apperr.Invalid("parent %s is not a folder", parentID)
	}
	if err := s.Access.Require(ctx, userID, accessmodel.PermWrite, parentID); err != nil {
		return model.UploadResponse{}, err
	}

	pageCount := 1
	if mime == model.MimePDF {
		if pageCount, err = s.Pages.PageCount(data, mime); err != nil {
			return model.UploadResponse{}, apperr.Invalid("cannot read %s: %v", fileName, err)
		}
	}

	lang, err := s.Repo.UserLang(ctx, userID)
	if err != nil {
		return model.UploadResponse{}, err
	}
	if lang == "" {
		lang = s.DefaultLang
	}

	docID := uuid.NewString()
	rel := storage.VersionPath(userID, docID, 1, fileName)
	size, err := s.Storage.Save(rel, bytes.NewReader(data))
	if err != nil {
		return model.UploadResponse{}, fmt.Errorf("store %s: %w", fileName, err)
	}

	node := nodemodel.Node{ID: docID, Title: fileName, CType: nodemodel.CTypeDocument, ParentID: &parentID, UserID: userID}
	version := model.Version{DocumentID: docID, Number: 1, FileName: fileName, MimeType: mime, Size: size, PageCount: pageCount}
	err = database.WithTx(ctx, s.Repo.DB, func(tx database.DBTX) error {
		if err := s.Nodes.With(tx).Create(ctx, node); err != nil {
			return err
		}
		if err := s.Repo.With(tx).Create(ctx, docID, lang, model.OCRPending); err != nil {
			return err
		}
		if version, err = s.Repo.With(tx).CreateVersion(ctx, version, lang, nil); err != nil {
			return err
		}
		if err := s.Access.Inherit(ctx, tx, docID, parentID); err != nil {
			return err
		}
		return s.KV.Inherit(ctx, tx, docID, parentID)
	})
	if err != nil {
		if rmErr := s.Storage.RemoveDocument(userID, docID); rmErr != nil {
			logger.Sugar.Warnf("Failed to clean up files of %s: %v", docID, rmErr)
		}
		return model.UploadResponse{}, err
	}
	logger.Sugar.Infof("User %s uploaded %s (%s, %d pages) as %s", userID, fileName, mime, pageCount, docID)

	s.enqueue(ctx, queue.NewJob(docID, 1, userID, lang))
	s.index(ctx, docID)
	s.notify(ctx, userID, socket.NodeCreatedType, docID, map[string]string{"id": docID, "title": fileName, "parent_id": parentID})

	doc, err := s.Repo.Get(ctx, docID)
	if err != nil {
		return model.UploadResponse{}, err
	}
	return model.UploadResponse{Document: doc, Version: version}, nil
}

// Get returns the document with its version list.
func (s *DocumentService) Get(ctx context.Context, userID, docID string) (model.Document, error) {
	if err := s.Access.Require(ctx, userID, accessmodel.PermRead, docID); err != nil {
		return model.Document{}, err
	}
	doc, err := s.Repo.Get(ctx, docID)
	if err != nil {
		return model.Document{}, err
	}
	if doc.Versions, err = s.Repo.Versions(ctx, docID); err != nil {
		return model.Document{}, err
	}
	return doc, nil
}

func (s *DocumentService) Versions(ctx context.Context, userID, docID string) ([]model.Version, error) {
	if err := s.Access.Require(ctx, userID, accessmodel.PermRead, docID); err != nil {
		return nil, err
	}
	return s.Repo.Versions(ctx, docID)
}

func (s *DocumentService) Version(ctx context.Context, userID, docID string, number int) (model.Version, error) {
	if number < 1 {
		return model.Version{}, apperr.Invalid("version number must be positive")
	}
	if err := s.Access.Require(ctx, userID, accessmodel.PermRead, docID); err != nil {
		return model.Version{}, err
	}
	return s.Repo.Version(ctx, docID, number)
}

func (s *DocumentService) LastVersion(ctx context.Context, userID, docID string) (model.Version, error) {
	if err := s.Access.Require(ctx, userID, accessmodel.PermRead, docID); err != nil {
		return model.Version{}, err
	}
	return s.Repo.Version(ctx, docID, 0)
}

// RunOCR queues the latest version of a document for OCR again.
func (s *DocumentService) RunOCR(ctx context.Context, userID, docID string) error {
	if err := s.Access.Require(ctx, userID, accessmodel.PermWrite, docID); err != nil {
		return err
	}
	doc, err := s.Repo.Get(ctx, docID)
	if err != nil {
		return err
	}
	v, err := s.Repo.Version(ctx, docID, 0)
	if err != nil {
		return err
	}
	if err := s.Repo.SetOCRStatus(ctx, docID, model.OCRPending); err != nil {
		return err
	}
	return s.Queue.Enqueue(ctx, queue.NewJob(docID, v.Number, doc.UserID, doc.Lang))
}

func (s *DocumentService) enqueue(ctx context.Context, job queue.Job) {
	if err := s.Queue.Enqueue(ctx, job); err != nil {
		logger.Sugar.Errorf("Failed to enqueue OCR of %s v%d: %v", job.DocumentID, job.Version, err)
		if err := s.Repo.SetOCRStatus(ctx, job.DocumentID, model.OCRUnknown); err != nil {
			logger.Sugar.Warnf("Failed to reset ocr status of %s: %v", job.DocumentID, err)
		}
	}
}

func (s *DocumentService) index(ctx context.Context, docID string) {
	if s.Indexer == nil {
		return
	}
	if err := s.Indexer.IndexNodes(ctx, docID); err != nil {
		logger.Sugar.Warnf("Failed to index document %s: %v", docID, err)
	}
}

func (s *DocumentService) notify(ctx context.Context, userID, event, docID string, payload interface{}) {
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.Publish(ctx, socket.NewMessage(event, userID, docID, payload)); err != nil {
		logger.Sugar.Warnf("Failed to publish %s: %v", event, err)
	}
}
