// Package elastic stores the search index in an Elasticsearch cluster.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"papervault/internal/search/model"
	"papervault/pkg/logger"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const mapping = `{
  "mappings": {
    "properties": {
      "id":          {"type": "keyword"},
      "kind":        {"type": "keyword"},
      "node_type":   {"type": "keyword"},
      "user_id":     {"type": "keyword"},
      "readers":     {"type": "keyword"},
      "title":       {"type": "text", "fields": {"keyword": {"type": "keyword"}}},
      "breadcrumb":  {"type": "text"},
      "tags": {
        "properties": {
          "name":     {"type": "text"},
          "bg_color": {"type": "keyword", "index": false},
          "fg_color": {"type": "keyword", "index": false}
        }
      },
      "text":        {"type": "text"},
      "document_id": {"type": "keyword"},
      "version_id":  {"type": "keyword"},
      "page_number": {"type": "integer"},
      "updated_at":  {"type": "date"}
    }
  }
}`

// fields searched for each query field; content spans all of them
var fields = map[string][]string{
	model.DefaultField: {"title^4", "breadcrumb^2", "tags.name^2", "text"},
	"title":            {"title"},
	"breadcrumb":       {"breadcrumb"},
	"tags":             {"tags.name"},
	"text":             {"text"},
}

type Engine struct {
	Client *elasticsearch.Client
	Index  string
}

// Open connects to url and creates index with the papervault mapping unless it
// already exists.
func Open(ctx context.Context, url, index string) (*Engine, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{url}})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBackend, err)
	}
	e := &Engine{Client: client, Index: index}
	if err := e.ensureIndex(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) ensureIndex(ctx context.Context) error {
	res, err := e.Client.Indices.Exists([]string{e.Index}, e.Client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrBackend, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = e.Client.Indices.Create(e.Index,
		e.Client.Indices.Create.WithContext(ctx),
		e.Client.Indices.Create.WithBody(strings.NewReader(mapping)))
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrBackend, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("create index", res)
	}
	logger.Sugar.Infof("Created search index %s", e.Index)
	return nil
}

func responseError(op string, res *esapi.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	logger.Sugar.Errorf("Elasticsearch %s failed: %s %s", op, res.Status(), body)
	return fmt.Errorf("%w: %s: %s", model.ErrBackend, op, res.Status())
}

func (e *Engine) Update(ctx context.Context, docs []model.Doc) error {
	if len(docs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range docs {
		meta := map[string]interface{}{"index": map[string]string{"_index": e.Index, "_id": d.ID}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("encode %s: %w", d.ID, err)
		}
	}

	res, err := e.Client.Bulk(&buf, e.Client.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrBackend, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("bulk", res)
	}

	var out struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return fmt.Errorf("%w: decode bulk response: %v", model.ErrBackend, err)
	}
	if out.Errors {
		logger.Sugar.Errorf("Elasticsearch rejected part of a bulk request of %d docs", len(docs))
		return fmt.Errorf("%w: bulk request had item errors", model.ErrBackend)
	}
	return nil
}

func (e *Engine) deleteByQuery(ctx context.Context, op string, query map[string]interface{}) error {
	body, err := json.Marshal(map[string]interface{}{"query": query})
	if err != nil {
		return err
	}
	res, err := e.Client.DeleteByQuery([]string{e.Index}, bytes.NewReader(body),
		e.Client.DeleteByQuery.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrBackend, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError(op, res)
	}
	return nil
}

func (e *Engine) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return e.deleteByQuery(ctx, "remove", map[string]interface{}{
		"bool": map[string]interface{}{
			"should": []interface{}{
				map[string]interface{}{"terms": map[string]interface{}{"id": ids}},
				map[string]interface{}{"terms": map[string]interface{}{"document_id": ids}},
			},
			"minimum_should_match": 1,
		},
	})
}

func (e *Engine) Clear(ctx context.Context) error {
	return e.deleteByQuery(ctx, "clear", map[string]interface{}{"match_all": map[string]interface{}{}})
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID        string              `json:"_id"`
			Score     float64             `json:"_score"`
			Source    model.Doc           `json:"_source"`
			Highlight map[string][]string `json:"highlight"`
		} `json:"hits"`
	} `json:"hits"`
}

func (e *Engine) Search(ctx context.Context, q model.Query) (model.Results, error) {
	if len(q.Filter.Terms()) == 0 {
		return model.Empty(), nil
	}
	body, err := json.Marshal(SearchBody(q))
	if err != nil {
		return model.Results{}, err
	}

	res, err := e.Client.Search(
		e.Client.Search.WithContext(ctx),
		e.Client.Search.WithIndex(e.Index),
		e.Client.Search.WithBody(bytes.NewReader(body)))
	if err != nil {
		return model.Results{}, fmt.Errorf("%w: %v", model.ErrBackend, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return model.Results{}, responseError("search", res)
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return model.Results{}, fmt.Errorf("%w: decode search response: %v", model.ErrBackend, err)
	}
	out := model.Empty()
	out.Hits = sr.Hits.Total.Value
	for _, h := range sr.Hits.Hits {
		hit := model.Hit{
			ID:         h.ID,
			Kind:       h.Source.Kind,
			NodeType:   h.Source.NodeType,
			Title:      h.Source.Title,
			Breadcrumb: h.Source.Breadcrumb,
			Tags:       h.Source.Tags,
			DocumentID: h.Source.DocumentID,
			PageNumber: h.Source.PageNumber,
			Score:      h.Score,
		}
		for _, f := range []string{"text", "title"} {
			if frags := h.Highlight[f]; len(frags) > 0 {
				hit.Highlight = strings.Join(frags, " ... ")
				break
			}
		}
		out.Results = append(out.Results, hit)
	}
	return out, nil
}

func (e *Engine) Close() error { return nil }

// SearchBody builds the request body for q, restricted to documents the user
// may read.
func SearchBody(q model.Query) map[string]interface{} {
	offset, limit := q.Window()
	filter := []interface{}{}
	if !q.AnyReader {
		filter = append(filter, map[string]interface{}{"term": map[string]interface{}{"readers": q.UserID}})
	}
	if q.NodeType != "" {
		filter = append(filter, map[string]interface{}{"term": map[string]interface{}{"node_type": q.NodeType}})
	}
	return map[string]interface{}{
		"from": offset,
		"size": limit,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must":   []interface{}{Translate(q.Filter)},
				"filter": filter,
			},
		},
		"sort": []interface{}{"_score", map[string]interface{}{"title.keyword": "asc"}},
		"highlight": map[string]interface{}{
			"pre_tags":  []string{"<b>"},
			"post_tags": []string{"</b>"},
			"fields":    map[string]interface{}{"text": map[string]interface{}{}, "title": map[string]interface{}{}},
		},
	}
}

// Translate turns q into an Elasticsearch query clause.
func Translate(q *model.SQ) map[string]interface{} {
	var clause map[string]interface{}
	if q.IsLeaf() {
		clause = leaf(*q.Term)
	} else {
		var must, should, mustNot []interface{}
		for _, c := range q.Children {
			switch {
			case c.Negated && q.Connector == model.OpAnd:
				plain := *c
				plain.Negated = false
				mustNot = append(mustNot, Translate(&plain))
			case q.Connector == model.OpOr:
				should = append(should, Translate(c))
			default:
				must = append(must, Translate(c))
			}
		}
		b := map[string]interface{}{}
		if len(must) > 0 {
			b["must"] = must
		}
		if len(mustNot) > 0 {
			b["must_not"] = mustNot
		}
		if len(should) > 0 {
			b["should"] = should
			b["minimum_should_match"] = 1
		}
		clause = map[string]interface{}{"bool": b}
	}
	if q.Negated {
		return map[string]interface{}{"bool": map[string]interface{}{"must_not": []interface{}{clause}}}
	}
	return clause
}

func leaf(t model.Term) map[string]interface{} {
	fs, ok := fields[t.Field]
	if !ok {
		fs = fields[model.DefaultField]
	}
	mm := map[string]interface{}{"query": t.Value, "fields": fs}
	switch t.Filter {
	case "startswith":
		mm["type"] = "phrase_prefix"
	case "exact":
		mm["type"] = "phrase"
	case "fuzzy":
		mm["fuzziness"] = "AUTO"
		mm["operator"] = "and"
	default:
		mm["operator"] = "and"
	}
	return map[string]interface{}{"multi_match": mm}
}
