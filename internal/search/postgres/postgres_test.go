package postgres

import (
	"context"
	"testing"
	"time"

	"papervault/internal/search/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTSQuery(t *testing.T) {
	cases := []struct {
		query *model.SQ
		want  string
	}{
		{nil, ""},
		{model.Q("content", "invoice"), "'invoice'"},
		{model.Q("title__startswith", "inv"), "'inv':*A"},
		{model.Q("text", "total amount"), "('total':C <-> 'amount':C)"},
		{model.And(model.Q("content", "a"), model.Q("tags", "b")), "('a' & 'b':B)"},
		{model.Or(model.Q("content", "a"), model.Q("content", "b")), "('a' | 'b')"},
		{model.And(model.Q("content", "a"), model.Not(model.Q("content", "b"))), "('a' & !('b'))"},
		{model.Q("content", "&|!"), ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, TSQuery(c.query), c.query.String())
	}
}

func TestUpdateUpsertsInTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	e := New(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO search_index").
		WithArgs("d1", model.KindNode, "document", "u1", sqlmock.AnyArg(), "Invoice", "Home", sqlmock.AnyArg(),
			"total 42", "", "", 0, sqlmock.AnyArg(), "paid").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = e.Update(context.Background(), []model.Doc{{
		ID: "d1", Kind: model.KindNode, NodeType: "document", UserID: "u1", Readers: []string{"u1"},
		Title: "Invoice", Breadcrumb: "Home", Tags: []model.Tag{{Name: "paid"}}, Text: "total 42",
		UpdatedAt: time.Now(),
	}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchEmptyQuery(t *testing.T) {
	e := New(nil)
	res, err := e.Search(context.Background(), model.Query{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, model.Results{Hits: 0, Results: []model.Hit{}}, res)
}

func TestSearchScansHits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	e := New(db)

	cols := []string{"id", "kind", "node_type", "title", "breadcrumb", "tags", "document_id", "page_number", "score", "headline", "count"}
	mock.ExpectQuery("FROM search_index").
		WithArgs("'invoice'", "u1", "", 10, 10, false).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("d1", "node", "document", "Invoice", "Home", []byte(`[{"name":"paid"}]`), "", 0, 0.5, "<b>Invoice</b>", 11))

	res, err := e.Search(context.Background(), model.Query{UserID: "u1", Filter: model.Q("content", "invoice"), Page: 2, PerPage: 10})
	require.NoError(t, err)
	assert.Equal(t, 11, res.Hits)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "paid", res.Results[0].Tags[0].Name)
	assert.Equal(t, "<b>Invoice</b>", res.Results[0].Highlight)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveDropsPages(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM search_index WHERE id = ANY\(\$1\) OR document_id = ANY\(\$1\)`).
		WillReturnResult(sqlmock.NewResult(0, 4))
	require.NoError(t, New(db).Remove(context.Background(), "d1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
