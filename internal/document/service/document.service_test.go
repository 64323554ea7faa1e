package service

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"papervault/config/database"
	"papervault/internal/apperr"
	"papervault/internal/document/model"
	"papervault/internal/document/repository"
	noderepo "papervault/internal/node/repository"
	"papervault/internal/queue"
	"papervault/internal/storage"
	"papervault/socket"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type permStub struct {
	denied  bool
	inherit []string
}

func (p *permStub) Require(ctx context.Context, userID, perm, nodeID string) error {
	if p.denied {
		return apperr.Forbidden(userID, perm, nodeID)
	}
	return nil
}

func (p *permStub) Inherit(ctx context.Context, db database.DBTX, nodeID, parentID string) error {
	p.inherit = append(p.inherit, nodeID+"<"+parentID)
	return nil
}

type kvStub struct{}

func (kvStub) Inherit(ctx context.Context, db database.DBTX, nodeID, parentID string) error { return nil }

type fixedCounter int

func (c fixedCounter) PageCount(data []byte, mime string) (int, error) { return int(c), nil }

type recorder struct {
	indexed []string
	events  []socket.WSMessage
}

func (r *recorder) IndexNodes(ctx context.Context, ids ...string) error {
	r.indexed = append(r.indexed, ids...)
	return nil
}

func (r *recorder) Publish(ctx context.Context, msg socket.WSMessage) error {
	r.events = append(r.events, msg)
	return nil
}

var (
	nodeCols = []string{"id", "title", "ctype", "parent_id", "user_id", "created_at", "updated_at", "ocr_status"}
	docCols  = []string{"id", "title", "parent_id", "user_id", "lang", "ocr_status", "created_at", "updated_at"}
	verCols  = []string{"id", "document_id", "number", "file_name", "mime_type", "size", "page_count", "text", "created_at"}
)

type fixture struct {
	svc   *DocumentService
	mock  sqlmock.Sqlmock
	perms *permStub
	rec   *recorder
	queue *queue.MemoryQueue
	store *storage.Local
}

func newFixture(t *testing.T) *fixture {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{mock: mock, perms: &permStub{}, rec: &recorder{}, queue: queue.NewMemoryQueue(4), store: storage.New(t.TempDir())}
	f.svc = &DocumentService{
		Repo:        repository.NewDocumentRepository(db),
		Nodes:       noderepo.NewNodeRepository(db),
		Access:      f.perms,
		KV:          kvStub{},
		Pages:       fixedCounter(3),
		Storage:     f.store,
		Queue:       f.queue,
		Indexer:     f.rec,
		Publisher:   f.rec,
		DefaultLang: "eng",
	}
	return f
}

func TestUploadPDFIntoInbox(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	f.mock.ExpectQuery("SELECT inbox_folder_id FROM users").WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"inbox_folder_id"}).AddRow("inbox"))
	f.mock.ExpectQuery("WHERE n.id = \\$1").WithArgs("inbox").
		WillReturnRows(sqlmock.NewRows(nodeCols).AddRow("inbox", ".inbox", "folder", nil, "u1", now, now, ""))
	f.mock.ExpectQuery("SELECT lang FROM users").WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"lang"}).AddRow("deu"))
	f.mock.ExpectBegin()
	f.mock.ExpectExec("INSERT INTO nodes").WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("INSERT INTO documents").WithArgs(sqlmock.AnyArg(), "deu", model.OCRPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("INSERT INTO document_versions").WillReturnResult(sqlmock.NewResult(0, 1))
	for i := 1; i <= 3; i++ {
		f.mock.ExpectExec("INSERT INTO pages").WillReturnResult(sqlmock.NewResult(0, 1))
	}
	f.mock.ExpectCommit()
	f.mock.ExpectQuery("FROM nodes n JOIN documents d").
		WillReturnRows(sqlmock.NewRows(docCols).AddRow("d1", "scan.pdf", "inbox", "u1", "deu", "pending", now, now))

	res, err := f.svc.Upload(context.Background(), "u1", "", "scan.pdf", strings.NewReader("%PDF-1.4 body"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Version.PageCount)
	assert.Len(t, res.Version.Pages, 3)
	assert.Equal(t, model.MimePDF, res.Version.MimeType)
	assert.True(t, f.store.Exists(storage.VersionPath("u1", res.Version.DocumentID, 1, "scan.pdf")))

	job, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.Version.DocumentID, job.DocumentID)
	assert.Equal(t, 1, job.Version)
	assert.Equal(t, "deu", job.Lang)

	assert.Equal(t, []string{res.Version.DocumentID}, f.rec.indexed)
	require.Len(t, f.rec.events, 1)
	assert.Equal(t, socket.NodeCreatedType, f.rec.events[0].Type)
	assert.Len(t, f.perms.inherit, 1)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Upload(context.Background(), "u1", "p1", "notes.txt", strings.NewReader("plain text"))
	assert.ErrorIs(t, err, apperr.ErrUnsupportedFormat)

	_, err = f.svc.Upload(context.Background(), "u1", "p1", "empty.pdf", bytes.NewReader(nil))
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestUploadRollsBackFiles(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	f.mock.ExpectQuery("WHERE n.id = \\$1").WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(nodeCols).AddRow("p1", "Docs", "folder", nil, "u1", now, now, ""))
	f.mock.ExpectQuery("SELECT lang FROM users").WillReturnRows(sqlmock.NewRows([]string{"lang"}).AddRow(""))
	f.mock.ExpectBegin()
	f.mock.ExpectExec("INSERT INTO nodes").WillReturnError(assert.AnError)
	f.mock.ExpectRollback()

	_, err := f.svc.Upload(context.Background(), "u1", "p1", "photo.png", strings.NewReader("\x89PNG\r\n\x1a\nrest"))
	assert.Error(t, err)
	assert.Empty(t, f.rec.indexed)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = f.queue.Dequeue(ctx)
	assert.Error(t, err)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestUploadForbidden(t *testing.T) {
	f := newFixture(t)
	f.perms.denied = true
	now := time.Now()
	f.mock.ExpectQuery("WHERE n.id = \\$1").WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(nodeCols).AddRow("p1", "Docs", "folder", nil, "u2", now, now, ""))

	_, err := f.svc.Upload(context.Background(), "u1", "p1", "photo.png", strings.NewReader("\x89PNG\r\n\x1a\nrest"))
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestRunOCRRequeuesLatestVersion(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	f.mock.ExpectQuery("FROM nodes n JOIN documents d").WithArgs("d1").
		WillReturnRows(sqlmock.NewRows(docCols).AddRow("d1", "scan.pdf", "p1", "owner", "fra", "failed", now, now))
	f.mock.ExpectQuery("FROM document_versions").WithArgs("d1", 0).
		WillReturnRows(sqlmock.NewRows(verCols).AddRow("v2", "d1", 2, "scan.pdf", model.MimePDF, 10, 1, "", now))
	f.mock.ExpectQuery("FROM pages").WithArgs("v2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version_id", "number", "text", "lang"}).AddRow("pg1", "v2", 1, "", "fra"))
	f.mock.ExpectExec("UPDATE documents SET ocr_status").WithArgs(model.OCRPending, "d1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, f.svc.RunOCR(context.Background(), "u1", "d1"))
	job, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, job.Version)
	assert.Equal(t, "owner", job.UserID)
	assert.Equal(t, "fra", job.Lang)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}
