package service

import (
	"context"
	"database/sql"
	"fmt"

	"papervault/config"
	"papervault/internal/apperr"
	"papervault/internal/search/elastic"
	"papervault/internal/search/model"
	"papervault/internal/search/postgres"
	"papervault/internal/search/sqlite"
	"papervault/pkg/logger"
)

const maxPerPage = 100

// Open returns the backend named by cfg.Engine. The postgres engine shares db.
func Open(ctx context.Context, cfg config.SearchConfig, db *sql.DB) (model.Backend, error) {
	logger.Sugar.Infof("Using %s search engine", cfg.Engine)
	switch cfg.Engine {
	case "postgres":
		return postgres.New(db), nil
	case "sqlite":
		e, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "elasticsearch":
		e, err := elastic.Open(ctx, cfg.URL, cfg.Index)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownEngine, cfg.Engine)
	}
}

type SuperuserChecker interface {
	IsSuperuser(ctx context.Context, userID string) (bool, error)
}

type SearchService struct {
	Backend    model.Backend
	PerPage    int
	Superusers SuperuserChecker
}

func NewSearchService(backend model.Backend, perPage int, supers SuperuserChecker) *SearchService {
	if perPage < 1 {
		perPage = model.PerPage
	}
	return &SearchService{Backend: backend, PerPage: perPage, Superusers: supers}
}

type Request struct {
	Text     string
	NodeType string
	Page     int
	PerPage  int
}

// Search runs text for userID. Text without terms yields no hits. Superusers
// see every node regardless of its readers.
func (s *SearchService) Search(ctx context.Context, userID string, req Request) (model.Results, error) {
	switch req.NodeType {
	case "", NodeTypeFolder, NodeTypeDocument, NodeTypePage:
	default:
		return model.Results{}, apperr.Invalid("unknown node_type %q", req.NodeType)
	}
	filter := model.ParseQuery(req.Text)
	if filter == nil {
		return model.Empty(), nil
	}

	perPage := req.PerPage
	if perPage < 1 {
		perPage = s.PerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	var super bool
	if s.Superusers != nil {
		var err error
		if super, err = s.Superusers.IsSuperuser(ctx, userID); err != nil {
			return model.Results{}, err
		}
	}
	return s.Backend.Search(ctx, model.Query{
		UserID:    userID,
		AnyReader: super,
		Filter:    filter,
		NodeType:  req.NodeType,
		Page:      req.Page,
		PerPage:   perPage,
	})
}
