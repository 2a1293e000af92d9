package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash)
		VALUES ($1, $2, $3)
	`, user.ID, user.Username, user.PasswordHash)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at, last_login
		FROM users
		WHERE username=$1
	`, username))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at, last_login
		FROM users
		WHERE id=$1
	`, userID))
}

func (s *PostgresStore) scanUser(row *sql.Row) (User, error) {
	var user User
	var lastLogin sql.NullTime
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("read user: %w", err)
	}
	if lastLogin.Valid {
		at := lastLogin.Time
		user.LastLogin = &at
	}
	return user, nil
}

func (s *PostgresStore) TouchLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login=$2 WHERE id=$1`, userID, at)
	if err != nil {
		return fmt.Errorf("touch login: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, COALESCE(owner_id, ''), created_at, updated_at
		FROM workspaces
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	items := make([]Workspace, 0)
	for rows.Next() {
		var item Workspace
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error) {
	var item Workspace
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, COALESCE(owner_id, ''), created_at, updated_at
		FROM workspaces
		WHERE id=$1
	`, workspaceID).Scan(&item.ID, &item.Name, &item.Description, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Workspace{}, ErrNotFound
	}
	if err != nil {
		return Workspace{}, fmt.Errorf("get workspace: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) CreateWorkspace(ctx context.Context, item Workspace) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, description, owner_id)
		VALUES ($1, $2, $3, NULLIF($4, ''))
	`, item.ID, item.Name, item.Description, item.OwnerID)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateWorkspace(ctx context.Context, item Workspace) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE workspaces
		SET name=$2, description=$3, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Name, item.Description)
	if err != nil {
		return fmt.Errorf("update workspace: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id=$1`, workspaceID)
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	return requireRow(result)
}

// ListFiles returns the files of a workspace whose id starts with prefix,
// ordered by id.
func (s *PostgresStore) ListFiles(ctx context.Context, workspaceID, prefix string) ([]File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, type, version, size, attributes::text, created_by, updated_by, created_at, updated_at
		FROM files
		WHERE workspace_id=$1 AND starts_with(id, $2)
		ORDER BY id ASC
	`, workspaceID, prefix)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	items := make([]File, 0)
	for rows.Next() {
		var item File
		var attributes string
		if err := rows.Scan(&item.ID, &item.WorkspaceID, &item.Type, &item.Version, &item.Size, &attributes, &item.CreatedBy, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		if err := json.Unmarshal([]byte(attributes), &item.Attributes); err != nil {
			return nil, fmt.Errorf("decode file attributes: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetFile(ctx context.Context, workspaceID, fileID string) (File, error) {
	var item File
	var attributes string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, type, content, version, size, attributes::text, created_by, updated_by, created_at, updated_at
		FROM files
		WHERE workspace_id=$1 AND id=$2
	`, workspaceID, fileID).Scan(&item.ID, &item.WorkspaceID, &item.Type, &item.Content, &item.Version, &item.Size, &attributes, &item.CreatedBy, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, ErrNotFound
	}
	if err != nil {
		return File{}, fmt.Errorf("get file: %w", err)
	}
	if err := json.Unmarshal([]byte(attributes), &item.Attributes); err != nil {
		return File{}, fmt.Errorf("decode file attributes: %w", err)
	}
	return item, nil
}

// CreateFile inserts item. searchBody is indexed for full-text search even
// when Content is kept elsewhere.
func (s *PostgresStore) CreateFile(ctx context.Context, item File, searchBody string) error {
	attributes, err := encodeAttributes(item.Attributes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO files (id, workspace_id, type, content, version, size, attributes, created_by, updated_by, search_body)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $8, $9)
	`, item.ID, item.WorkspaceID, item.Type, item.Content, item.Version, item.Size, attributes, item.CreatedBy, searchBody)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateFile(ctx context.Context, item File, searchBody string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE files
		SET content=$3, version=$4, size=$5, updated_by=$6, search_body=$7, updated_at=NOW()
		WHERE workspace_id=$1 AND id=$2
	`, item.WorkspaceID, item.ID, item.Content, item.Version, item.Size, item.UpdatedBy, searchBody)
	if err != nil {
		return fmt.Errorf("update file: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) DeleteFile(ctx context.Context, workspaceID, fileID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE workspace_id=$1 AND id=$2`, workspaceID, fileID)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) CreateSession(ctx context.Context, session Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, username, refresh_hash, created_at, last_active, expires_at)
		VALUES ($1, $2, $3, $4, $5, $5, $6)
	`, session.ID, session.UserID, session.Username, session.RefreshHash, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	var item Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, username, refresh_hash, created_at, last_active, expires_at
		FROM sessions
		WHERE id=$1 AND expires_at > NOW()
	`, sessionID).Scan(&item.ID, &item.UserID, &item.Username, &item.RefreshHash, &item.CreatedAt, &item.LastActive, &item.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return item, nil
}

// ValidateSession records activity on a live session.
func (s *PostgresStore) ValidateSession(ctx context.Context, sessionID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_active=NOW()
		WHERE id=$1 AND expires_at > NOW()
	`, sessionID)
	if err != nil {
		return fmt.Errorf("validate session: %w", err)
	}
	return requireRow(result)
}

// RotateRefresh swaps the refresh hash only when oldHash is still current.
func (s *PostgresStore) RotateRefresh(ctx context.Context, sessionID, oldHash, newHash string, expiresAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET refresh_hash=$3, expires_at=$4, last_active=NOW()
		WHERE id=$1 AND refresh_hash=$2 AND expires_at > NOW()
	`, sessionID, oldHash, newHash, expiresAt)
	if err != nil {
		return fmt.Errorf("rotate session: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id=$1`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeAttributes(attributes map[string]any) (string, error) {
	if len(attributes) == 0 {
		return "{}", nil
	}
	encoded, err := json.Marshal(attributes)
	if err != nil {
		return "", fmt.Errorf("encode file attributes: %w", err)
	}
	return string(encoded), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return err != nil && strings.Contains(err.Error(), "duplicate key")
}
