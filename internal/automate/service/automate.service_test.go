package service

import (
	"context"
	"testing"
	"time"

	"papervault/config/database"
	"papervault/internal/apperr"
	"papervault/internal/automate/model"
	"papervault/internal/automate/repository"
	noderepo "papervault/internal/node/repository"
	"papervault/socket"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccess struct {
	denied     bool
	reinherits []string
}

func (f *fakeAccess) Require(ctx context.Context, userID, perm, nodeID string) error {
	if f.denied {
		return apperr.Forbidden(userID, perm, nodeID)
	}
	return nil
}

func (f *fakeAccess) Reinherit(ctx context.Context, db database.DBTX, rootID string) error {
	f.reinherits = append(f.reinherits, rootID)
	return nil
}

type fakeKV struct{ reinherits []string }

func (f *fakeKV) Reinherit(ctx context.Context, db database.DBTX, rootID string) error {
	f.reinherits = append(f.reinherits, rootID)
	return nil
}

type fakeTags struct {
	owner string
	names []string
}

func (f *fakeTags) AssignTx(ctx context.Context, db database.DBTX, ownerID, nodeID string, names []string) error {
	f.owner = ownerID
	f.names = names
	return nil
}

type recordingPublisher struct{ msgs []socket.WSMessage }

func (p *recordingPublisher) Publish(ctx context.Context, msg socket.WSMessage) error {
	p.msgs = append(p.msgs, msg)
	return nil
}

var automateCols = []string{"id", "user_id", "name", "match", "matching_algorithm", "is_case_sensitive", "dst_folder_id", "tags", "created_at"}

var nodeCols = []string{"id", "title", "ctype", "parent_id", "user_id", "created_at", "updated_at", "ocr_status"}

func newService(t *testing.T) (*AutomateService, sqlmock.Sqlmock, *fakeAccess, *fakeTags, *recordingPublisher) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	access, tags, pub := &fakeAccess{}, &fakeTags{}, &recordingPublisher{}
	s := NewAutomateService(repository.NewAutomateRepository(db), noderepo.NewNodeRepository(db), access, &fakeKV{}, tags, pub)
	return s, mock, access, tags, pub
}

func TestApplyFirstMatchMovesAndTags(t *testing.T) {
	s, mock, access, tags, pub := newService(t)
	now := time.Now()

	mock.ExpectQuery("FROM automates WHERE user_id").WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(automateCols).
			AddRow("a1", "u1", "contracts", "contract", "any", false, "f-contracts", "{legal}", now).
			AddRow("a2", "u1", "bills", "invoice", "any", false, "f-bills", "{paid,2024}", now).
			AddRow("a3", "u1", "all", "*", "fuzzy", false, "f-all", "{}", now))
	mock.ExpectQuery("FROM nodes n LEFT JOIN documents").WithArgs("d1").
		WillReturnRows(sqlmock.NewRows(nodeCols).AddRow("d1", "scan.pdf", "document", "inbox", "u1", now, now, "succeeded"))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE nodes SET parent_id").WithArgs("f-bills", "d1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := s.Apply(context.Background(), "u1", "d1", "INVOICE 42")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, []string{"d1"}, access.reinherits)
	assert.Equal(t, []string{"d1"}, s.KV.(*fakeKV).reinherits)
	assert.Equal(t, "u1", tags.owner)
	assert.Equal(t, []string{"paid", "2024"}, tags.names)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, socket.NodeMovedType, pub.msgs[0].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyAlreadyInPlaceOnlyTags(t *testing.T) {
	s, mock, access, tags, pub := newService(t)
	now := time.Now()

	mock.ExpectQuery("FROM automates").
		WillReturnRows(sqlmock.NewRows(automateCols).AddRow("a2", "u1", "bills", "invoice", "any", false, "f-bills", "{paid}", now))
	mock.ExpectQuery("FROM nodes n").
		WillReturnRows(sqlmock.NewRows(nodeCols).AddRow("d1", "scan.pdf", "document", "f-bills", "u1", now, now, ""))
	mock.ExpectBegin()
	mock.ExpectCommit()

	applied, err := s.Apply(context.Background(), "u1", "d1", "invoice")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Empty(t, access.reinherits)
	assert.Empty(t, s.KV.(*fakeKV).reinherits)
	assert.Equal(t, []string{"paid"}, tags.names)
	assert.Empty(t, pub.msgs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyNoMatch(t *testing.T) {
	s, mock, _, _, _ := newService(t)
	mock.ExpectQuery("FROM automates").
		WillReturnRows(sqlmock.NewRows(automateCols).AddRow("a1", "u1", "x", "contract", "all", false, "f", "{}", time.Now()))

	applied, err := s.Apply(context.Background(), "u1", "d1", "invoice")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateValidates(t *testing.T) {
	s, _, _, _, _ := newService(t)
	ctx := context.Background()

	bad := []model.CreateRequest{
		{Match: "x", MatchingAlgorithm: "any", DstFolderID: "f"},
		{Name: "n", MatchingAlgorithm: "any", DstFolderID: "f"},
		{Name: "n", Match: "x", MatchingAlgorithm: "sometimes", DstFolderID: "f"},
		{Name: "n", Match: "(", MatchingAlgorithm: "regex", DstFolderID: "f"},
		{Name: "n", Match: "x", MatchingAlgorithm: "any"},
	}
	for _, req := range bad {
		_, err := s.Create(ctx, "u1", req)
		assert.ErrorIs(t, err, apperr.ErrInvalidInput, req.Name+req.Match)
	}
}

func TestCreateRequiresFolder(t *testing.T) {
	s, mock, _, _, _ := newService(t)
	now := time.Now()
	mock.ExpectQuery("FROM nodes n").WithArgs("d1").
		WillReturnRows(sqlmock.NewRows(nodeCols).AddRow("d1", "a.pdf", "document", nil, "u1", now, now, ""))

	_, err := s.Create(context.Background(), "u1", model.CreateRequest{Name: "n", Match: "x", MatchingAlgorithm: "any", DstFolderID: "d1"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestCreateStoresAutomate(t *testing.T) {
	s, mock, _, _, _ := newService(t)
	now := time.Now()
	mock.ExpectQuery("FROM nodes n").WithArgs("f1").
		WillReturnRows(sqlmock.NewRows(nodeCols).AddRow("f1", "Bills", "folder", nil, "u1", now, now, ""))
	mock.ExpectExec("INSERT INTO automates").
		WithArgs(sqlmock.AnyArg(), "u1", "bills", "invoice", "any", false, "f1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	a, err := s.Create(context.Background(), "u1", model.CreateRequest{
		Name: " bills ", Match: "invoice", MatchingAlgorithm: "any", DstFolderID: "f1", Tags: []string{"paid", " ", "paid"},
	})
	require.NoError(t, err)
	assert.Equal(t, "bills", a.Name)
	assert.Equal(t, []string{"paid"}, a.Tags)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateForbidden(t *testing.T) {
	s, mock, access, _, _ := newService(t)
	access.denied = true
	now := time.Now()
	mock.ExpectQuery("FROM nodes n").
		WillReturnRows(sqlmock.NewRows(nodeCols).AddRow("f1", "Bills", "folder", nil, "u2", now, now, ""))

	_, err := s.Create(context.Background(), "u1", model.CreateRequest{Name: "n", Match: "x", MatchingAlgorithm: "any", DstFolderID: "f1"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestDeleteMissing(t *testing.T) {
	s, mock, _, _, _ := newService(t)
	mock.ExpectExec("DELETE FROM automates").WithArgs("a9", "u1").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.Delete(context.Background(), "u1", "a9"), apperr.ErrNotFound)
}
