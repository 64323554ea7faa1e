package elastic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"papervault/internal/search/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCluster struct {
	mu       sync.Mutex
	exists   bool
	requests []string
	bodies   map[string]string
	reply    map[string]string
}

func newFakeCluster(exists bool) *fakeCluster {
	return &fakeCluster{exists: exists, bodies: map[string]string{}, reply: map[string]string{}}
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	key := r.Method + " " + r.URL.Path

	f.mu.Lock()
	f.requests = append(f.requests, key)
	f.bodies[key] = string(body)
	reply, ok := f.reply[key]
	exists := f.exists
	f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodHead:
		if !exists {
			w.WriteHeader(http.StatusNotFound)
		}
	case ok:
		io.WriteString(w, reply)
	default:
		io.WriteString(w, `{"acknowledged": true}`)
	}
}

func openEngine(t *testing.T, f *fakeCluster) *Engine {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	e, err := Open(context.Background(), srv.URL, "papervault")
	require.NoError(t, err)
	return e
}

func TestOpenCreatesMissingIndex(t *testing.T) {
	f := newFakeCluster(false)
	openEngine(t, f)

	assert.Equal(t, []string{"HEAD /papervault", "PUT /papervault"}, f.requests)
	assert.Contains(t, f.bodies["PUT /papervault"], `"readers"`)
}

func TestOpenKeepsExistingIndex(t *testing.T) {
	f := newFakeCluster(true)
	openEngine(t, f)
	assert.Equal(t, []string{"HEAD /papervault"}, f.requests)
}

func TestUpdateSendsBulk(t *testing.T) {
	f := newFakeCluster(true)
	f.reply["POST /_bulk"] = `{"errors": false, "items": []}`
	e := openEngine(t, f)

	err := e.Update(context.Background(), []model.Doc{{ID: "d1", Kind: model.KindNode, Title: "Invoice"}})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(f.bodies["POST /_bulk"]), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"index": {"_index": "papervault", "_id": "d1"}}`, lines[0])
	assert.Contains(t, lines[1], `"title":"Invoice"`)
}

func TestUpdateReportsItemErrors(t *testing.T) {
	f := newFakeCluster(true)
	f.reply["POST /_bulk"] = `{"errors": true, "items": []}`
	e := openEngine(t, f)

	err := e.Update(context.Background(), []model.Doc{{ID: "d1"}})
	assert.ErrorIs(t, err, model.ErrBackend)
}

func TestSearchParsesHits(t *testing.T) {
	f := newFakeCluster(true)
	f.reply["POST /papervault/_search"] = `{
		"hits": {
			"total": {"value": 1},
			"hits": [{
				"_id": "d1", "_score": 1.5,
				"_source": {"id": "d1", "kind": "node", "node_type": "document", "title": "Invoice",
					"breadcrumb": "Home", "tags": [{"name": "paid", "bg_color": "#c41fff", "fg_color": "#ffffff"}]},
				"highlight": {"text": ["total <b>invoice</b>"]}
			}]
		}
	}`
	e := openEngine(t, f)

	res, err := e.Search(context.Background(), model.Query{UserID: "u1", Filter: model.ParseQuery("invoice")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Hits)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "Invoice", res.Results[0].Title)
	assert.Equal(t, "paid", res.Results[0].Tags[0].Name)
	assert.Equal(t, "total <b>invoice</b>", res.Results[0].Highlight)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(f.bodies["POST /papervault/_search"]), &body))
	assert.Contains(t, f.bodies["POST /papervault/_search"], `{"term":{"readers":"u1"}}`)
}

func TestSearchEmptySkipsCluster(t *testing.T) {
	f := newFakeCluster(true)
	e := openEngine(t, f)

	res, err := e.Search(context.Background(), model.Query{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, model.Results{Hits: 0, Results: []model.Hit{}}, res)
	assert.Equal(t, []string{"HEAD /papervault"}, f.requests)
}

func TestRemoveMatchesDocumentPages(t *testing.T) {
	f := newFakeCluster(true)
	e := openEngine(t, f)

	require.NoError(t, e.Remove(context.Background(), "d1"))
	body := f.bodies["POST /papervault/_delete_by_query"]
	assert.Contains(t, body, `{"terms":{"document_id":["d1"]}}`)
	assert.Contains(t, body, `{"terms":{"id":["d1"]}}`)
}

func TestTranslate(t *testing.T) {
	q := model.And(model.Q("title__startswith", "inv"), model.Not(model.Q("content", "draft")))
	got, err := json.Marshal(Translate(q))
	require.NoError(t, err)
	assert.JSONEq(t, `{"bool": {
		"must": [{"multi_match": {"query": "inv", "fields": ["title"], "type": "phrase_prefix"}}],
		"must_not": [{"bool": {"must": [{"multi_match": {"query": "draft", "operator": "and",
			"fields": ["title^4", "breadcrumb^2", "tags.name^2", "text"]}}]}}]
	}}`, string(got))
}

func TestSearchBodyReaders(t *testing.T) {
	q := model.Query{UserID: "u1", Filter: model.ParseQuery("invoice"), NodeType: "document"}
	raw, err := json.Marshal(SearchBody(q))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `{"term":{"readers":"u1"}}`)

	q.AnyReader = true
	raw, err = json.Marshal(SearchBody(q))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"readers"`)
	assert.Contains(t, string(raw), `{"term":{"node_type":"document"}}`)
}
