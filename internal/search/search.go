package search

import (
	"context"
	"encoding/hex"
)

// DefaultLimit is the page size used when a query does not set one.
const DefaultLimit = 20

// Result is a single search hit returned to the caller.
type Result struct {
	FileID      string `json:"file_id"`
	WorkspaceID string `json:"workspace_id"`
	Type        string `json:"type"`
	Snippet     string `json:"snippet"`
}

// Query describes a search request. An empty WorkspaceID searches every
// workspace.
type Query struct {
	Text        string
	WorkspaceID string
	Limit       int
	Offset      int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Index is a searcher that also accepts writes.
type Index interface {
	Searcher
	IndexFiles(records []FileRecord) error
	DeleteFile(workspaceID, fileID string) error
}

// FileRecord is the data we index for a file.
type FileRecord struct {
	ID          string `json:"id"`
	FileID      string `json:"fileId"`
	WorkspaceID string `json:"workspaceId"`
	Type        string `json:"type"`
	Content     string `json:"content"`
}

// NewFileRecord builds a record whose ID is safe as a Meilisearch primary key.
func NewFileRecord(workspaceID, fileID, fileType, content string) FileRecord {
	return FileRecord{
		ID:          recordID(workspaceID, fileID),
		FileID:      fileID,
		WorkspaceID: workspaceID,
		Type:        fileType,
		Content:     content,
	}
}

func recordID(workspaceID, fileID string) string {
	return hex.EncodeToString([]byte(workspaceID + "\x00" + fileID))
}
