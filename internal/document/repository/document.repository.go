package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"papervault/config/database"
	"papervault/internal/apperr"
	"papervault/internal/document/model"
	"papervault/pkg/logger"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type DocumentRepository struct {
	DB database.DBTX
}

func NewDocumentRepository(db database.DBTX) *DocumentRepository {
	return &DocumentRepository{DB: db}
}

func (r *DocumentRepository) With(db database.DBTX) *DocumentRepository {
	return &DocumentRepository{DB: db}
}

// Create adds the document row of an existing node.
func (r *DocumentRepository) Create(ctx context.Context, nodeID, lang, status string) error {
	_, err := r.DB.ExecContext(ctx, "INSERT INTO documents (node_id, lang, ocr_status) VALUES ($1, $2, $3)", nodeID, lang, status)
	if err != nil {
		logger.Sugar.Errorf("Failed to create document %s: %v", nodeID, err)
	}
	return err
}

func (r *DocumentRepository) Get(ctx context.Context, id string) (model.Document, error) {
	var (
		d      model.Document
		parent sql.NullString
	)
	err := r.DB.QueryRowContext(ctx, `
		SELECT n.id, n.title, n.parent_id, n.user_id, d.lang, d.ocr_status, n.created_at, n.updated_at
		FROM nodes n JOIN documents d ON d.node_id = n.id WHERE n.id = $1`, id).
		Scan(&d.ID, &d.Title, &parent, &d.UserID, &d.Lang, &d.OCRStatus, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, fmt.Errorf("document %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to load document %s: %v", id, err)
		return d, err
	}
	if parent.Valid {
		d.ParentID = &parent.String
	}
	return d, nil
}

func (r *DocumentRepository) SetOCRStatus(ctx context.Context, id, status string) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE documents SET ocr_status = $1 WHERE node_id = $2", status, id)
	if err != nil {
		logger.Sugar.Errorf("Failed to set ocr status of %s to %s: %v", id, status, err)
	}
	return err
}

// LockLatest locks the document row for the rest of the transaction and
// returns its latest version number.
func (r *DocumentRepository) LockLatest(ctx context.Context, id string) (int, error) {
	var latest int
	err := r.DB.QueryRowContext(ctx, `
		SELECT COALESCE((SELECT MAX(number) FROM document_versions WHERE document_id = d.node_id), 0)
		FROM documents d WHERE d.node_id = $1 FOR UPDATE`, id).Scan(&latest)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("document %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to lock document %s: %v", id, err)
	}
	return latest, err
}

// CreateVersion stores v and its page rows. Page texts are taken from
// texts when given, one per page.
func (r *DocumentRepository) CreateVersion(ctx context.Context, v model.Version, lang string, texts []string) (model.Version, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if texts != nil {
		v.Text = strings.TrimSpace(strings.Join(texts, "\n"))
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO document_versions (id, document_id, number, file_name, mime_type, size, page_count, text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID, v.DocumentID, v.Number, v.FileName, v.MimeType, v.Size, v.PageCount, v.Text)
	if err != nil {
		logger.Sugar.Errorf("Failed to create version %d of %s: %v", v.Number, v.DocumentID, err)
		return v, err
	}

	v.Pages = make([]model.Page, 0, v.PageCount)
	for i := 1; i <= v.PageCount; i++ {
		p := model.Page{ID: uuid.NewString(), VersionID: v.ID, Number: i, Lang: lang}
		if i <= len(texts) {
			p.Text = texts[i-1]
		}
		if _, err := r.DB.ExecContext(ctx, `
			INSERT INTO pages (id, version_id, number, text, lang) VALUES ($1, $2, $3, $4, $5)`,
			p.ID, p.VersionID, p.Number, p.Text, p.Lang); err != nil {
			logger.Sugar.Errorf("Failed to create page %d of version %s: %v", i, v.ID, err)
			return v, err
		}
		v.Pages = append(v.Pages, p)
	}
	return v, nil
}

const versionColumns = "id, document_id, number, file_name, mime_type, size, page_count, text, created_at"

func scanVersion(row interface{ Scan(...interface{}) error }) (model.Version, error) {
	var v model.Version
	err := row.Scan(&v.ID, &v.DocumentID, &v.Number, &v.FileName, &v.MimeType, &v.Size, &v.PageCount, &v.Text, &v.CreatedAt)
	return v, err
}

func (r *DocumentRepository) Versions(ctx context.Context, docID string) ([]model.Version, error) {
	rows, err := r.DB.QueryContext(ctx, "SELECT "+versionColumns+" FROM document_versions WHERE document_id = $1 ORDER BY number", docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list versions of %s: %v", docID, err)
		return nil, err
	}
	defer rows.Close()

	versions := []model.Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Version loads one version with its pages; number 0 means the latest.
func (r *DocumentRepository) Version(ctx context.Context, docID string, number int) (model.Version, error) {
	v, err := scanVersion(r.DB.QueryRowContext(ctx, "SELECT "+versionColumns+`
		FROM document_versions WHERE document_id = $1 AND ($2 = 0 OR number = $2)
		ORDER BY number DESC LIMIT 1`, docID, number))
	if errors.Is(err, sql.ErrNoRows) {
		return v, fmt.Errorf("version %d of document %s: %w", number, docID, apperr.ErrNotFound)
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to load version %d of %s: %v", number, docID, err)
		return v, err
	}
	v.Pages, err = r.Pages(ctx, v.ID)
	return v, err
}

func (r *DocumentRepository) Pages(ctx context.Context, versionID string) ([]model.Page, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, version_id, number, text, lang FROM pages WHERE version_id = $1 ORDER BY number`, versionID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list pages of version %s: %v", versionID, err)
		return nil, err
	}
	defer rows.Close()

	pages := []model.Page{}
	for rows.Next() {
		var p model.Page
		if err := rows.Scan(&p.ID, &p.VersionID, &p.Number, &p.Text, &p.Lang); err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// SaveText stores OCR output of every page and the joined version text.
func (r *DocumentRepository) SaveText(ctx context.Context, versionID string, texts []string) error {
	for i, text := range texts {
		if _, err := r.DB.ExecContext(ctx, "UPDATE pages SET text = $1 WHERE version_id = $2 AND number = $3", text, versionID, i+1); err != nil {
			logger.Sugar.Errorf("Failed to save text of page %d in version %s: %v", i+1, versionID, err)
			return err
		}
	}
	_, err := r.DB.ExecContext(ctx, "UPDATE document_versions SET text = $1 WHERE id = $2",
		strings.TrimSpace(strings.Join(texts, "\n")), versionID)
	if err != nil {
		logger.Sugar.Errorf("Failed to save text of version %s: %v", versionID, err)
	}
	return err
}

func (r *DocumentRepository) UserLang(ctx context.Context, userID string) (string, error) {
	var lang string
	err := r.DB.QueryRowContext(ctx, "SELECT lang FROM users WHERE id = $1", userID).Scan(&lang)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to read language of %s: %v", userID, err)
	}
	return lang, err
}

func (r *DocumentRepository) Touch(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE nodes SET updated_at = NOW() WHERE id = $1", id)
	if err != nil {
		logger.Sugar.Errorf("Failed to touch document %s: %v", id, err)
	}
	return err
}

// AllIDs lists every document, for reindexing and OCR sweeps.
func (r *DocumentRepository) AllIDs(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, "SELECT node_id FROM documents ORDER BY node_id")
	if err != nil {
		logger.Sugar.Errorf("Failed to list documents: %v", err)
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

// Unfinished lists documents left pending or started, with their latest
// version.
func (r *DocumentRepository) Unfinished(ctx context.Context) ([]model.Backlog, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT d.node_id, MAX(v.number), n.user_id, d.lang
		FROM documents d
		JOIN nodes n ON n.id = d.node_id
		JOIN document_versions v ON v.document_id = d.node_id
		WHERE d.ocr_status = ANY($1)
		GROUP BY d.node_id, n.user_id, d.lang
		ORDER BY d.node_id`, pq.Array([]string{model.OCRPending, model.OCRStarted}))
	if err != nil {
		logger.Sugar.Errorf("Failed to list unfinished ocr: %v", err)
		return nil, err
	}
	defer rows.Close()
	var out []model.Backlog
	for rows.Next() {
		var b model.Backlog
		if err := rows.Scan(&b.DocumentID, &b.Version, &b.UserID, &b.Lang); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
