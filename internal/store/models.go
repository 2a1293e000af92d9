package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

const DefaultFileVersion = "25.04.46.1"

type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	LastLogin    *time.Time
}

type Workspace struct {
	ID          string
	Name        string
	Description string
	OwnerID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// File is a source file inside a workspace. Content is empty when bodies are
// kept in object storage.
type File struct {
	ID          string
	WorkspaceID string
	Type        string
	Content     string
	Version     string
	Size        int
	Attributes  map[string]any
	CreatedBy   string
	UpdatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Session is a login session. RefreshHash is the hash of the current refresh
// token; older refresh tokens for the session are rejected.
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	RefreshHash string    `json:"refresh_hash"`
	CreatedAt   time.Time `json:"created_at"`
	LastActive  time.Time `json:"last_active"`
	ExpiresAt   time.Time `json:"expires_at"`
}
