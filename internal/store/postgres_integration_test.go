package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("MVEDITOR_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("MVEDITOR_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func TestPostgresFileLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, User{ID: "u1", Username: "alice", PasswordHash: "x"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.CreateUser(ctx, User{ID: "u2", Username: "alice", PasswordHash: "x"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate username, got %v", err)
	}

	file := File{
		ID:          "BP/MAIN.PROG",
		WorkspaceID: "default",
		Type:        "program",
		Content:     "PRINT 1",
		Version:     DefaultFileVersion,
		Size:        7,
		Attributes:  map[string]any{"language": "mvbasic"},
		CreatedBy:   "alice",
	}
	if err := s.CreateFile(ctx, file, file.Content); err != nil {
		t.Fatalf("create file: %v", err)
	}
	if err := s.CreateFile(ctx, file, file.Content); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err := s.GetFile(ctx, "default", "BP/MAIN.PROG")
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if got.Content != "PRINT 1" || got.Attributes["language"] != "mvbasic" {
		t.Fatalf("unexpected file %+v", got)
	}

	file.Content = "PRINT 2"
	file.UpdatedBy = "bob"
	if err := s.UpdateFile(ctx, file, file.Content); err != nil {
		t.Fatalf("update file: %v", err)
	}
	listed, err := s.ListFiles(ctx, "default", "BP/")
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if len(listed) != 1 || listed[0].UpdatedBy != "bob" {
		t.Fatalf("unexpected listing %+v", listed)
	}

	if err := s.DeleteFile(ctx, "default", "BP/MAIN.PROG"); err != nil {
		t.Fatalf("delete file: %v", err)
	}
	if _, err := s.GetFile(ctx, "default", "BP/MAIN.PROG"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresSessionRotation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, User{ID: "u1", Username: "alice", PasswordHash: "x"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	now := time.Now()
	if err := s.CreateSession(ctx, Session{ID: "s1", UserID: "u1", Username: "alice", RefreshHash: "h1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := s.ValidateSession(ctx, "s1"); err != nil {
		t.Fatalf("validate session: %v", err)
	}
	if err := s.RotateRefresh(ctx, "s1", "stale", "h2", now.Add(time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected stale rotation to fail, got %v", err)
	}
	if err := s.RotateRefresh(ctx, "s1", "h1", "h2", now.Add(time.Hour)); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if err := s.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if err := s.ValidateSession(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
