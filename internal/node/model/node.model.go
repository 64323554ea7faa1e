package model

import (
	"time"

	accessmodel "papervault/internal/access/model"
	kvmodel "papervault/internal/kvstore/model"
)

const (
	CTypeFolder   = "folder"
	CTypeDocument = "document"

	HomeTitle  = ".home"
	InboxTitle = ".inbox"

	PerPage = 30
)

type TagInfo struct {
	Name    string `json:"name"`
	BgColor string `json:"bg_color"`
	FgColor string `json:"fg_color"`
}

type Node struct {
	ID        string              `json:"id"`
	Title     string              `json:"title"`
	CType     string              `json:"ctype"`
	ParentID  *string             `json:"parent_id"`
	UserID    string              `json:"user_id"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
	OCRStatus string              `json:"ocr_status,omitempty"`
	Tags      []TagInfo           `json:"tags"`
	UserPerms accessmodel.PermSet `json:"user_perms,omitempty"`
}

func (n Node) IsFolder() bool { return n.CType == CTypeFolder }

// ListOptions mirror the folder listing query string.
type ListOptions struct {
	OrderBy string
	Tag     string
	Page    int
}

type PageInfo struct {
	HasPrevious        bool `json:"has_previous"`
	HasNext            bool `json:"has_next"`
	PreviousPageNumber int  `json:"previous_page_number"`
	NextPageNumber     int  `json:"next_page_number"`
}

type Pagination struct {
	PageNumber int      `json:"page_number"`
	Pages      []int    `json:"pages"`
	NumPages   int      `json:"num_pages"`
	Page       PageInfo `json:"page"`
}

type ListResponse struct {
	CurrentNodes []Node         `json:"current_nodes"`
	ParentID     *string        `json:"parent_id"`
	ParentKV     []kvmodel.Item `json:"parent_kv"`
	Pagination   Pagination     `json:"pagination"`
}

type BreadcrumbResponse struct {
	Nodes []Node `json:"nodes"`
}

type ByTitleResponse struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	ChildrenCount int    `json:"children_count"`
}

type CreateFolderRequest struct {
	Title    string `json:"title"`
	ParentID string `json:"parent_id"`
}

type UpdateRequest struct {
	Title   *string     `json:"title"`
	KVStore interface{} `json:"kvstore"`
}

type MoveRequest struct {
	NodeIDs  []string `json:"node_ids"`
	ParentID string   `json:"parent_id"`
}

type DeleteRequest struct {
	NodeIDs []string `json:"node_ids"`
}

// ArchiveEntry is one node of a subtree being downloaded.
type ArchiveEntry struct {
	NodeID   string
	CType    string
	UserID   string
	Path     string
	Version  int
	FileName string
}
