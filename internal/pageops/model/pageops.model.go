package model

import (
	docmodel "papervault/internal/document/model"
	"papervault/internal/pdfops"
)

type DeleteRequest struct {
	Pages []int `json:"pages"`
}

type ReorderRequest struct {
	Pages []pdfops.PageMove `json:"pages"`
}

// RotateItem addresses a page by number or by page id.
type RotateItem struct {
	ID     string `json:"id,omitempty"`
	Number int    `json:"number,omitempty"`
	Angle  int    `json:"angle"`
}

type RotateRequest struct {
	Pages []RotateItem `json:"pages"`
}

// MoveRequest moves pages of SourceID into TargetID after Position pages.
// An empty TargetID creates a new document next to the source.
type MoveRequest struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id,omitempty"`
	Pages    []int  `json:"pages"`
	Position int    `json:"position"`
}

type Result struct {
	DocumentID string           `json:"document_id"`
	Version    docmodel.Version `json:"version"`
}

type MoveResult struct {
	Target        Result  `json:"target"`
	Source        *Result `json:"source,omitempty"`
	SourceDeleted bool    `json:"source_deleted"`
}
