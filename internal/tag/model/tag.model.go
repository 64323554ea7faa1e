package model

const (
	DefaultBgColor = "#c41fff"
	DefaultFgColor = "#ffffff"
)

type Tag struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	BgColor     string `json:"bg_color"`
	FgColor     string `json:"fg_color"`
	Description string `json:"description"`
	Pinned      bool   `json:"pinned"`
}

type CreateTagRequest struct {
	Name        string `json:"name"`
	BgColor     string `json:"bg_color"`
	FgColor     string `json:"fg_color"`
	Description string `json:"description"`
	Pinned      bool   `json:"pinned"`
}

type AssignRequest struct {
	Tags []string `json:"tags"`
}
