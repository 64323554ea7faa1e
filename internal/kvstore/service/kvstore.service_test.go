package service

import (
	"context"
	"encoding/json"
	"testing"

	"papervault/internal/apperr"
	"papervault/internal/kvstore/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allowAll struct{ denied bool }

func (a allowAll) Require(ctx context.Context, userID, perm, nodeID string) error {
	if a.denied {
		return apperr.Forbidden(userID, perm, nodeID)
	}
	return nil
}

func decode(t *testing.T, s string) interface{} {
	var v interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

var kvCols = []string{"id", "node_id", "key", "value", "kv_type", "kv_format", "kv_inherited"}

func expectExists(mock sqlmock.Sqlmock, id string, ok bool) {
	mock.ExpectQuery("SELECT EXISTS").WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(ok))
}

func TestUpdateFolderRebuildsSubtree(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewKVService(repository.NewKVRepository(db), allowAll{})

	expectExists(mock, "f1", true)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM kv_items WHERE node_id").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO kv_items").WithArgs(sqlmock.AnyArg(), "f1", "shop", "lidl", "text", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM kv_items WHERE kv_inherited").WithArgs("f1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("SELECT DISTINCT ON").WithArgs("f1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT id, node_id, key, value, kv_type, kv_format, kv_inherited").WithArgs("f1").
		WillReturnRows(sqlmock.NewRows(kvCols).AddRow("k1", "f1", "shop", "lidl", "text", "", false))

	items, err := s.Update(context.Background(), "u1", "f1", decode(t, `[{"key": "shop", "value": "lidl"}]`))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "lidl", items[0].Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRemovedKeyLeavesDescendants(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewKVService(repository.NewKVRepository(db), allowAll{})

	// "shop" was set on f1 and inherited below; clearing it must drop the copies.
	expectExists(mock, "f1", true)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM kv_items WHERE node_id").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM kv_items WHERE kv_inherited").WithArgs("f1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("SELECT DISTINCT ON").WithArgs("f1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT id, node_id, key").WillReturnRows(sqlmock.NewRows(kvCols))

	items, err := s.Update(context.Background(), "u1", "f1", decode(t, `[]`))
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDocumentKeepsInheritedKeys(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewKVService(repository.NewKVRepository(db), allowAll{})

	expectExists(mock, "d1", true)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM kv_items WHERE node_id").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM kv_items WHERE kv_inherited").WithArgs("d1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SELECT DISTINCT ON").WithArgs("d1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT id, node_id, key").
		WillReturnRows(sqlmock.NewRows(kvCols).AddRow("k2", "d1", "shop", "lidl", "text", "", true))

	items, err := s.Update(context.Background(), "u1", "d1", decode(t, `[]`))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].KVInherited)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMissingNode(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewKVService(repository.NewKVRepository(db), allowAll{})

	expectExists(mock, "gone", false)

	_, err = s.Update(context.Background(), "u1", "gone", decode(t, `[]`))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReinheritRunsOnGivenExecutor(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewKVService(repository.NewKVRepository(db), allowAll{})

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM kv_items WHERE kv_inherited").WithArgs("d1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SELECT DISTINCT ON").WithArgs("d1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, s.Reinherit(context.Background(), tx, "d1"))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRejectsBadInputBeforeTouchingDB(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewKVService(repository.NewKVRepository(db), allowAll{})

	_, err = s.Update(context.Background(), "u1", "d1", decode(t, `{"key": "x"}`))
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateForbidden(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewKVService(repository.NewKVRepository(db), allowAll{denied: true})

	_, err = s.Update(context.Background(), "u1", "d1", decode(t, `[{"key": "x"}]`))
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}
