package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"papervault/config/database"
	"papervault/internal/apperr"
	docmodel "papervault/internal/document/model"
	docrepo "papervault/internal/document/repository"
	noderepo "papervault/internal/node/repository"
	"papervault/internal/pageops/model"
	"papervault/internal/pdfops"
	"papervault/internal/storage"
	"papervault/socket"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEditor encodes the page list of a file as "pages:1,2,3".
type fakeEditor struct{}

func parsePages(src []byte) []string {
	return strings.Split(strings.TrimPrefix(string(src), "pages:"), ",")
}

func encode(pages []string) []byte { return []byte("pages:" + strings.Join(pages, ",")) }

func (fakeEditor) PageCount(src []byte) (int, error) { return len(parsePages(src)), nil }

func (fakeEditor) RemovePages(src []byte, pages []int) ([]byte, error) {
	drop := map[int]bool{}
	for _, p := range pages {
		drop[p] = true
	}
	var out []string
	for i, p := range parsePages(src) {
		if !drop[i+1] {
			out = append(out, p)
		}
	}
	return encode(out), nil
}

func (fakeEditor) Select(src []byte, pages []int) ([]byte, error) {
	all := parsePages(src)
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = all[p-1]
	}
	return encode(out), nil
}

func (fakeEditor) Rotate(src []byte, angles map[int]int) ([]byte, error) {
	all := parsePages(src)
	for n, a := range angles {
		all[n-1] = fmt.Sprintf("%s@%d", all[n-1], a)
	}
	return encode(all), nil
}

func (e fakeEditor) Insert(dst, src []byte, srcPages []int, position int) ([]byte, error) {
	moved, _ := e.Select(src, srcPages)
	if dst == nil {
		return moved, nil
	}
	d := parsePages(dst)
	out := append([]string{}, d[:position]...)
	out = append(out, parsePages(moved)...)
	out = append(out, d[position:]...)
	return encode(out), nil
}

var _ pdfops.Editor = fakeEditor{}

type allow struct{ denied map[string]bool }

func (a allow) Require(ctx context.Context, userID, perm, nodeID string) error {
	if a.denied[perm+":"+nodeID] {
		return apperr.Forbidden(userID, perm, nodeID)
	}
	return nil
}

func (allow) Inherit(ctx context.Context, db database.DBTX, nodeID, parentID string) error { return nil }

type sink struct {
	indexed, removed []string
	events           []string
}

func (s *sink) IndexNodes(ctx context.Context, ids ...string) error {
	s.indexed = append(s.indexed, ids...)
	return nil
}

func (s *sink) RemoveNodes(ctx context.Context, ids ...string) error {
	s.removed = append(s.removed, ids...)
	return nil
}

func (s *sink) Publish(ctx context.Context, msg socket.WSMessage) error {
	s.events = append(s.events, msg.Type)
	return nil
}

var (
	docCols  = []string{"id", "title", "parent_id", "user_id", "lang", "ocr_status", "created_at", "updated_at"}
	verCols  = []string{"id", "document_id", "number", "file_name", "mime_type", "size", "page_count", "text", "created_at"}
	pageCols = []string{"id", "version_id", "number", "text", "lang"}
)

type fixture struct {
	svc   *PageService
	mock  sqlmock.Sqlmock
	store *storage.Local
	sink  *sink
	perms allow
}

func newFixture(t *testing.T) *fixture {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	f := &fixture{mock: mock, store: storage.New(t.TempDir()), sink: &sink{}, perms: allow{denied: map[string]bool{}}}
	f.svc = &PageService{
		Docs:      docrepo.NewDocumentRepository(db),
		Nodes:     noderepo.NewNodeRepository(db),
		Access:    f.perms,
		AccessInh: f.perms,
		KV:        f.perms,
		Editor:    fakeEditor{},
		Storage:   f.store,
		Indexer:   f.sink,
		Publisher: f.sink,
	}
	return f
}

// seed stores version n of docID with pages named "<docID>p<k>" and OCR text
// "text <k>", and queues the queries load issues for it.
func (f *fixture) seed(t *testing.T, docID string, n, pages int, mime string) {
	names := make([]string, pages)
	rows := sqlmock.NewRows(pageCols)
	for k := 1; k <= pages; k++ {
		names[k-1] = fmt.Sprintf("%sp%d", docID, k)
		rows.AddRow(fmt.Sprintf("%s-pg%d", docID, k), docID+"-v", k, fmt.Sprintf("text %d", k), "eng")
		require.NoError(t, f.store.WriteText(storage.PageTextPath(docID, n, k), fmt.Sprintf("text %d", k)))
	}
	_, err := f.store.Save(storage.VersionPath("u1", docID, n, docID+".pdf"), strings.NewReader(string(encode(names))))
	require.NoError(t, err)

	now := time.Now()
	f.mock.ExpectQuery("FROM nodes n JOIN documents d").WithArgs(docID).
		WillReturnRows(sqlmock.NewRows(docCols).AddRow(docID, docID+".pdf", "folder", "u1", "eng", "succeeded", now, now))
	f.mock.ExpectQuery("FROM document_versions").WithArgs(docID, 0).
		WillReturnRows(sqlmock.NewRows(verCols).AddRow(docID+"-v", docID, n, docID+".pdf", mime, 10, pages, "", now))
	f.mock.ExpectQuery("FROM pages").WithArgs(docID + "-v").WillReturnRows(rows)
}

func (f *fixture) expectLock(docID string, latest int) {
	f.mock.ExpectQuery("FOR UPDATE").WithArgs(docID).
		WillReturnRows(sqlmock.NewRows([]string{"latest"}).AddRow(latest))
}

func (f *fixture) expectVersion(docID string, number, pages int) {
	f.mock.ExpectExec("INSERT INTO document_versions").
		WithArgs(sqlmock.AnyArg(), docID, number, sqlmock.AnyArg(), docmodel.MimePDF, sqlmock.AnyArg(), pages, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for i := 0; i < pages; i++ {
		f.mock.ExpectExec("INSERT INTO pages").WillReturnResult(sqlmock.NewResult(0, 1))
	}
	f.mock.ExpectExec("UPDATE nodes SET updated_at").WithArgs(docID).WillReturnResult(sqlmock.NewResult(0, 1))
}

func (f *fixture) file(t *testing.T, docID string, n int, name string) []string {
	data, err := f.store.ReadFile(storage.VersionPath("u1", docID, n, name))
	require.NoError(t, err)
	return parsePages(data)
}

func (f *fixture) text(t *testing.T, docID string, n, page int) string {
	text, err := f.store.ReadText(storage.PageTextPath(docID, n, page))
	require.NoError(t, err)
	return text
}

func TestDeletePagesBumpsVersionAndReusesText(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "d1", 1, 3, docmodel.MimePDF)
	f.mock.ExpectBegin()
	f.expectLock("d1", 1)
	f.expectVersion("d1", 2, 2)
	f.mock.ExpectCommit()

	res, err := f.svc.DeletePages(context.Background(), "u1", "d1", []int{2})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Version.Number)
	assert.Equal(t, []string{"d1p1", "d1p3"}, f.file(t, "d1", 2, "d1.pdf"))
	assert.Equal(t, "text 3", f.text(t, "d1", 2, 2))
	assert.Equal(t, "text 1\ntext 3", res.Version.Text)
	assert.Equal(t, []string{"d1"}, f.sink.indexed)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDeleteAllPagesRejected(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "d1", 1, 2, docmodel.MimePDF)

	_, err := f.svc.DeletePages(context.Background(), "u1", "d1", []int{1, 2})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestPageOpsRejectImages(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "d1", 1, 1, docmodel.MimePNG)

	_, err := f.svc.RotatePages(context.Background(), "u1", "d1", []model.RotateItem{{Number: 1, Angle: 90}})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestReorderPages(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "d1", 1, 4, docmodel.MimePDF)
	f.mock.ExpectBegin()
	f.expectLock("d1", 1)
	f.expectVersion("d1", 2, 4)
	f.mock.ExpectCommit()

	_, err := f.svc.ReorderPages(context.Background(), "u1", "d1", []pdfops.PageMove{
		{OldNumber: 3, NewNumber: 4}, {OldNumber: 4, NewNumber: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"d1p1", "d1p2", "d1p4", "d1p3"}, f.file(t, "d1", 2, "d1.pdf"))
	assert.Equal(t, "text 4", f.text(t, "d1", 2, 3))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestReorderRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "d1", 1, 3, docmodel.MimePDF)

	_, err := f.svc.ReorderPages(context.Background(), "u1", "d1", []pdfops.PageMove{{OldNumber: 1, NewNumber: 2}})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestRotateByNumberAndID(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "d1", 1, 3, docmodel.MimePDF)
	f.mock.ExpectBegin()
	f.expectLock("d1", 1)
	f.expectVersion("d1", 2, 3)
	f.mock.ExpectCommit()

	_, err := f.svc.RotatePages(context.Background(), "u1", "d1", []model.RotateItem{
		{Number: 1, Angle: 90},
		{ID: "d1-pg3", Angle: 180},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"d1p1@90", "d1p2", "d1p3@180"}, f.file(t, "d1", 2, "d1.pdf"))

	f.seed(t, "d1", 2, 3, docmodel.MimePDF)
	_, err = f.svc.RotatePages(context.Background(), "u1", "d1", []model.RotateItem{{Number: 1, Angle: 45}})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestTotalMergeDeletesSource(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "src", 1, 2, docmodel.MimePDF)
	f.seed(t, "dst", 1, 2, docmodel.MimePDF)
	f.mock.ExpectBegin()
	f.expectLock("dst", 1)
	f.expectLock("src", 1)
	f.expectVersion("dst", 2, 4)
	f.mock.ExpectExec("DELETE FROM nodes").WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	res, err := f.svc.MovePages(context.Background(), "u1", model.MoveRequest{
		SourceID: "src", TargetID: "dst", Pages: []int{1, 2}, Position: 1,
	})
	require.NoError(t, err)
	assert.True(t, res.SourceDeleted)
	assert.Nil(t, res.Source)
	assert.Equal(t, []string{"dstp1", "srcp1", "srcp2", "dstp2"}, f.file(t, "dst", 2, "dst.pdf"))
	assert.Equal(t, "text 1", f.text(t, "dst", 2, 2))
	assert.Equal(t, "text 2", f.text(t, "dst", 2, 4))
	assert.False(t, f.store.Exists(storage.VersionPath("u1", "src", 1, "src.pdf")))
	assert.Equal(t, []string{"src"}, f.sink.removed)
	assert.Contains(t, f.sink.events, socket.NodeDeletedType)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestTotalMergeNeedsDeletePerm(t *testing.T) {
	f := newFixture(t)
	f.perms.denied["delete:src"] = true
	f.seed(t, "src", 1, 1, docmodel.MimePDF)

	_, err := f.svc.MovePages(context.Background(), "u1", model.MoveRequest{SourceID: "src", TargetID: "dst", Pages: []int{1}})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestPartialMoveIntoNewDocument(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "src", 1, 3, docmodel.MimePDF)
	f.mock.ExpectBegin()
	f.expectLock("src", 1)
	f.mock.ExpectExec("INSERT INTO nodes").WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("INSERT INTO document_versions").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 1, sqlmock.AnyArg(), docmodel.MimePDF, sqlmock.AnyArg(), 1, "text 2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("INSERT INTO pages").WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("UPDATE nodes SET updated_at").WillReturnResult(sqlmock.NewResult(0, 1))
	f.expectVersion("src", 2, 2)
	f.mock.ExpectCommit()

	res, err := f.svc.MovePages(context.Background(), "u1", model.MoveRequest{SourceID: "src", Pages: []int{2}})
	require.NoError(t, err)
	assert.False(t, res.SourceDeleted)
	require.NotNil(t, res.Source)
	assert.Equal(t, 2, res.Source.Version.Number)
	assert.True(t, strings.HasPrefix(res.Target.Version.FileName, "src-"))
	assert.Equal(t, []string{"srcp1", "srcp3"}, f.file(t, "src", 2, "src.pdf"))
	assert.Equal(t, []string{"srcp2"}, f.file(t, res.Target.DocumentID, 1, res.Target.Version.FileName))
	assert.Contains(t, f.sink.events, socket.NodeCreatedType)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestEditOfStaleVersionConflicts(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "d1", 1, 3, docmodel.MimePDF)
	// A concurrent edit already committed version 2.
	_, err := f.store.Save(storage.VersionPath("u1", "d1", 2, "d1.pdf"), strings.NewReader("pages:other"))
	require.NoError(t, err)
	f.mock.ExpectBegin()
	f.expectLock("d1", 2)
	f.mock.ExpectRollback()

	_, err = f.svc.DeletePages(context.Background(), "u1", "d1", []int{2})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, []string{"other"}, f.file(t, "d1", 2, "d1.pdf"))
	assert.Empty(t, f.sink.indexed)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestFailedRecordRemovesStagedFiles(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "d1", 1, 3, docmodel.MimePDF)
	f.mock.ExpectBegin()
	f.expectLock("d1", 1)
	f.mock.ExpectExec("INSERT INTO document_versions").WillReturnError(fmt.Errorf("duplicate key"))
	f.mock.ExpectRollback()

	_, err := f.svc.DeletePages(context.Background(), "u1", "d1", []int{2})
	require.Error(t, err)
	assert.False(t, f.store.Exists(storage.VersionPath("u1", "d1", 2, "d1.pdf")))
	assert.True(t, f.store.Exists(storage.VersionPath("u1", "d1", 1, "d1.pdf")))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestMoveLocksBothDocumentsAndDetectsStaleTarget(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "src", 1, 3, docmodel.MimePDF)
	f.seed(t, "dst", 1, 2, docmodel.MimePDF)
	f.mock.ExpectBegin()
	f.expectLock("dst", 3)
	f.mock.ExpectRollback()

	_, err := f.svc.MovePages(context.Background(), "u1", model.MoveRequest{
		SourceID: "src", TargetID: "dst", Pages: []int{1}, Position: 0,
	})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.False(t, f.store.Exists(storage.VersionPath("u1", "src", 2, "src.pdf")))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}
