package model

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrBackend           = errors.New("search backend error")
	ErrMissingDependency = errors.New("search backend dependency missing")
	ErrUnknownEngine     = errors.New("unknown search engine")
)

const (
	KindNode = "node"
	KindPage = "page"

	PerPage = 30
)

type Tag struct {
	Name    string `json:"name"`
	BgColor string `json:"bg_color"`
	FgColor string `json:"fg_color"`
}

// Doc is one entry of the index. Node docs describe folders and documents,
// page docs one page of the latest document version.
type Doc struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	NodeType   string    `json:"node_type"`
	UserID     string    `json:"user_id"`
	Readers    []string  `json:"readers"`
	Title      string    `json:"title"`
	Breadcrumb string    `json:"breadcrumb"`
	Tags       []Tag     `json:"tags"`
	Text       string    `json:"text"`
	DocumentID string    `json:"document_id,omitempty"`
	VersionID  string    `json:"version_id,omitempty"`
	PageNumber int       `json:"page_number,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TagNames is the space separated tag list used for full-text matching.
func (d Doc) TagNames() string {
	names := make([]string, len(d.Tags))
	for i, t := range d.Tags {
		names[i] = t.Name
	}
	return strings.Join(names, " ")
}

type Hit struct {
	ID         string  `json:"id"`
	Kind       string  `json:"kind"`
	NodeType   string  `json:"node_type"`
	Title      string  `json:"title"`
	Breadcrumb string  `json:"breadcrumb"`
	Tags       []Tag   `json:"tags"`
	DocumentID string  `json:"document_id,omitempty"`
	PageNumber int     `json:"page_number,omitempty"`
	Score      float64 `json:"score"`
	Highlight  string  `json:"highlight"`
}

type Results struct {
	Hits    int   `json:"hits"`
	Results []Hit `json:"results"`
}

// Empty is the answer to a query without terms.
func Empty() Results {
	return Results{Hits: 0, Results: []Hit{}}
}

// MaxResultWindow caps how deep into the results a query may page.
const MaxResultWindow = 10000

type Query struct {
	UserID string
	// AnyReader lifts the readers restriction, for superusers.
	AnyReader bool
	Filter    *SQ
	NodeType  string
	Page      int
	PerPage   int
}

// Window returns the offset and limit for the requested page. Pages past
// MaxResultWindow are clamped to the last reachable one.
func (q Query) Window() (int, int) {
	per := q.PerPage
	if per < 1 {
		per = PerPage
	}
	if per > MaxResultWindow {
		per = MaxResultWindow
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	if last := MaxResultWindow / per; page > last {
		page = last
	}
	return (page - 1) * per, per
}

// Backend is implemented by every search engine.
type Backend interface {
	Update(ctx context.Context, docs []Doc) error
	// Remove drops the given docs along with page docs of the given documents.
	Remove(ctx context.Context, ids ...string) error
	Clear(ctx context.Context) error
	Search(ctx context.Context, q Query) (Results, error)
	Close() error
}
