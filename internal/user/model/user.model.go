package model

import "time"

type User struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	IsSuperuser   bool      `json:"is_superuser"`
	Lang          string    `json:"lang"`
	HomeFolderID  string    `json:"home_folder_id"`
	InboxFolderID string    `json:"inbox_folder_id"`
	CreatedAt     time.Time `json:"created_at"`
	PasswordHash  string    `json:"-"`
}

type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Lang     string `json:"lang"`
}

type TokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type CreateGroupRequest struct {
	Name string `json:"name"`
}

type MemberRequest struct {
	UserID string `json:"user_id"`
}

type PermissionRequest struct {
	Codename string `json:"codename"`
}
