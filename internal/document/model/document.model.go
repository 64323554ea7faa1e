package model

import "time"

const (
	OCRUnknown   = "unknown"
	OCRPending   = "pending"
	OCRStarted   = "started"
	OCRSucceeded = "succeeded"
	OCRFailed    = "failed"
)

const (
	MimePDF  = "application/pdf"
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeTIFF = "image/tiff"
)

type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	ParentID  *string   `json:"parent_id"`
	UserID    string    `json:"user_id"`
	Lang      string    `json:"lang"`
	OCRStatus string    `json:"ocr_status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Versions  []Version `json:"versions,omitempty"`
}

type Version struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Number     int       `json:"number"`
	FileName   string    `json:"file_name"`
	MimeType   string    `json:"mime_type"`
	Size       int64     `json:"size"`
	PageCount  int       `json:"page_count"`
	Text       string    `json:"text,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Pages      []Page    `json:"pages,omitempty"`
}

// IsPDF reports whether pages of the version can be edited.
func (v Version) IsPDF() bool { return v.MimeType == MimePDF }

// Backlog is a document whose OCR was accepted but never finished.
type Backlog struct {
	DocumentID string
	Version    int
	UserID     string
	Lang       string
}

type Page struct {
	ID        string `json:"id"`
	VersionID string `json:"version_id"`
	Number    int    `json:"number"`
	Text      string `json:"text,omitempty"`
	Lang      string `json:"lang"`
}

type UploadResponse struct {
	Document Document `json:"document"`
	Version  Version  `json:"version"`
}
