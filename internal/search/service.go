package search

import (
	"context"
	"log/slog"
)

// Service is the facade that tries the primary index first and falls back to
// Postgres full-text search.
type Service struct {
	primary  Index
	fallback Searcher
	loader   func(ctx context.Context) ([]FileRecord, error)
	logger   *slog.Logger
}

// NewService creates a search service. primary may be nil when Meilisearch is
// not configured.
func NewService(primary Index, pgfts *PgFTS, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{primary: primary, logger: logger}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts.LoadAllRecords
	}
	return s
}

func (s *Service) primaryReady() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search tries the primary index if healthy, otherwise the fallback. Errors
// are logged and produce an empty response.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primaryReady() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("search primary failed, falling back", "error", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("search fallback failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexFile pushes a file to the primary index in the background.
func (s *Service) IndexFile(record FileRecord) {
	if !s.primaryReady() {
		return
	}
	go func() {
		if err := s.primary.IndexFiles([]FileRecord{record}); err != nil {
			s.logger.Warn("search index file", "workspace_id", record.WorkspaceID, "file_id", record.FileID, "error", err)
		}
	}()
}

// DeleteFile removes a file from the primary index in the background.
func (s *Service) DeleteFile(workspaceID, fileID string) {
	if !s.primaryReady() {
		return
	}
	go func() {
		if err := s.primary.DeleteFile(workspaceID, fileID); err != nil {
			s.logger.Warn("search delete file", "workspace_id", workspaceID, "file_id", fileID, "error", err)
		}
	}()
}

// ReindexAll loads every file from Postgres and pushes it to the primary
// index. It returns the number of records sent.
func (s *Service) ReindexAll(ctx context.Context) int {
	if !s.primaryReady() || s.loader == nil {
		return 0
	}
	records, err := s.loader(ctx)
	if err != nil {
		s.logger.Error("search reindex load failed", "error", err)
		return 0
	}
	if err := s.primary.IndexFiles(records); err != nil {
		s.logger.Error("search reindex failed", "error", err)
		return 0
	}
	return len(records)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
