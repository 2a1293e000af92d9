package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mveditor/api/internal/auth"
	"mveditor/api/internal/authpw"
	"mveditor/api/internal/config"
	"mveditor/api/internal/gitrepo"
	"mveditor/api/internal/mvbasic"
	"mveditor/api/internal/realtime"
	"mveditor/api/internal/search"
	"mveditor/api/internal/store"
	"mveditor/api/internal/util"
)

const (
	DefaultWorkspaceID = "default"
	defaultFileType    = "program"
	defaultHistorySize = 50
)

type dataStore interface {
	Ping(context.Context) error
	ListWorkspaces(context.Context) ([]store.Workspace, error)
	GetWorkspace(context.Context, string) (store.Workspace, error)
	CreateWorkspace(context.Context, store.Workspace) error
	UpdateWorkspace(context.Context, store.Workspace) error
	DeleteWorkspace(context.Context, string) error
	ListFiles(context.Context, string, string) ([]store.File, error)
	GetFile(context.Context, string, string) (store.File, error)
	CreateFile(context.Context, store.File, string) error
	UpdateFile(context.Context, store.File, string) error
	DeleteFile(context.Context, string, string) error
}

type sessionStore interface {
	CreateSession(context.Context, store.Session) error
	GetSession(context.Context, string) (store.Session, error)
	ValidateSession(context.Context, string) error
	RotateRefresh(context.Context, string, string, string, time.Time) error
	DeleteSession(context.Context, string) error
}

type passwordAuth interface {
	SignIn(ctx context.Context, username, password string) (store.User, error)
}

type historyStore interface {
	Record(workspaceID string, rev gitrepo.Revision) (gitrepo.Entry, error)
	History(workspaceID, fileID string, limit int) ([]gitrepo.Entry, error)
}

// contentStore keeps file bodies outside Postgres.
type contentStore interface {
	Put(ctx context.Context, workspaceID, fileID, content string) error
	Get(ctx context.Context, workspaceID, fileID string) (string, error)
	Delete(ctx context.Context, workspaceID, fileID string) error
}

type searchService interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexFile(record search.FileRecord)
	DeleteFile(workspaceID, fileID string)
}

// Dependencies wires the service. Blobs and Search are optional.
type Dependencies struct {
	Store     dataStore
	Sessions  sessionStore
	Passwords passwordAuth
	History   historyStore
	Blobs     contentStore
	Search    searchService
	Registry  *realtime.Registry
	Logger    *slog.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	passwords passwordAuth
	history   historyStore
	blobs     contentStore
	search    searchService
	registry  *realtime.Registry
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(cfg config.Config, deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		sessions:  deps.Sessions,
		passwords: deps.Passwords,
		history:   deps.History,
		blobs:     deps.Blobs,
		search:    deps.Search,
		registry:  deps.Registry,
		logger:    logger,
		now:       time.Now,
	}
}

// Principal is the authenticated caller of an HTTP request.
type Principal struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	SessionID    string `json:"session_id"`
}

type WorkspaceView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     string    `json:"owner_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ActiveUsers []string  `json:"active_users"`
}

type WorkspaceInput struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type FileInfo struct {
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	Size         int            `json:"size"`
	LastModified time.Time      `json:"last_modified"`
	Version      string         `json:"version"`
	Attributes   map[string]any `json:"attributes"`
}

type FileView struct {
	FileID       string    `json:"file_id"`
	WorkspaceID  string    `json:"workspace_id"`
	Content      string    `json:"content"`
	Version      string    `json:"version"`
	Type         string    `json:"type"`
	Size         int       `json:"size"`
	LastModified time.Time `json:"last_modified"`
	UpdatedBy    string    `json:"updated_by"`
}

type FileInput struct {
	Content *string `json:"content"`
	Version string  `json:"version"`
	Type    string  `json:"type"`
}

type HistoryEntry struct {
	Hash      string    `json:"hash"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Action    string    `json:"action"`
	Changes   string    `json:"changes"`
}

type CompletionInput struct {
	FileID string `json:"file_id"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
	Prefix string `json:"prefix"`
}

type Stats struct {
	Workspaces  int `json:"workspaces"`
	Connections int `json:"connections"`
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Login verifies credentials and opens a session.
func (s *Service) Login(ctx context.Context, username, password string) (Tokens, error) {
	user, err := s.passwords.SignIn(ctx, username, password)
	if err != nil {
		switch {
		case errors.Is(err, authpw.ErrMissingFields):
			return Tokens{}, validationError(err.Error())
		case errors.Is(err, authpw.ErrInvalidCredentials):
			return Tokens{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Incorrect username or password", nil)
		}
		return Tokens{}, err
	}

	now := s.now()
	sessionID := util.NewID("ses")
	tokens, refreshHash, err := s.issueTokens(user.ID, user.Username, sessionID, now)
	if err != nil {
		return Tokens{}, err
	}
	if err := s.sessions.CreateSession(ctx, store.Session{
		ID:          sessionID,
		UserID:      user.ID,
		Username:    user.Username,
		RefreshHash: refreshHash,
		CreatedAt:   now.UTC(),
		LastActive:  now.UTC(),
		ExpiresAt:   now.Add(s.cfg.RefreshTTL).UTC(),
	}); err != nil {
		return Tokens{}, fmt.Errorf("create session: %w", err)
	}
	s.logger.Info("user logged in", "user_id", user.ID, "session_id", sessionID)
	return tokens, nil
}

// Refresh rotates both tokens. A refresh token can be used once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), refreshToken, auth.RefreshToken)
	if err != nil {
		return Tokens{}, unauthorized("Invalid refresh token")
	}

	now := s.now()
	tokens, refreshHash, err := s.issueTokens(claims.Subject, claims.Username, claims.SessionID, now)
	if err != nil {
		return Tokens{}, err
	}
	err = s.sessions.RotateRefresh(ctx, claims.SessionID, auth.HashToken(refreshToken), refreshHash, now.Add(s.cfg.RefreshTTL).UTC())
	if errors.Is(err, store.ErrNotFound) {
		return Tokens{}, unauthorized("Session expired or revoked")
	}
	if err != nil {
		return Tokens{}, fmt.Errorf("rotate session: %w", err)
	}
	return tokens, nil
}

func (s *Service) Logout(ctx context.Context, principal Principal) error {
	if err := s.sessions.DeleteSession(ctx, principal.SessionID); err != nil {
		return err
	}
	s.logger.Info("user logged out", "user_id", principal.UserID, "session_id", principal.SessionID)
	return nil
}

// Authenticate resolves an access token to its principal and marks the
// session active.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), accessToken, auth.AccessToken)
	if err != nil {
		return Principal{}, unauthorized("Could not validate credentials")
	}
	if err := s.sessions.ValidateSession(ctx, claims.SessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Principal{}, unauthorized("Session expired or revoked")
		}
		return Principal{}, err
	}
	return Principal{
		UserID:    claims.Subject,
		Username:  claims.Username,
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

func (s *Service) issueTokens(userID, username, sessionID string, now time.Time) (Tokens, string, error) {
	secret := []byte(s.cfg.JWTSecret)
	access, err := auth.IssueToken(secret, auth.NewClaims(userID, username, sessionID, auth.AccessToken, s.cfg.AccessTTL, now))
	if err != nil {
		return Tokens{}, "", err
	}
	refresh, err := auth.IssueToken(secret, auth.NewClaims(userID, username, sessionID, auth.RefreshToken, s.cfg.RefreshTTL, now))
	if err != nil {
		return Tokens{}, "", err
	}
	return Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		UserID:       userID,
		Username:     username,
		SessionID:    sessionID,
	}, auth.HashToken(refresh), nil
}

func (s *Service) ListWorkspaces(ctx context.Context) ([]WorkspaceView, error) {
	items, err := s.store.ListWorkspaces(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]WorkspaceView, 0, len(items))
	for _, item := range items {
		views = append(views, s.workspaceView(item))
	}
	return views, nil
}

func (s *Service) GetWorkspace(ctx context.Context, workspaceID string) (WorkspaceView, error) {
	item, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return WorkspaceView{}, notFoundAs(err, "WORKSPACE_NOT_FOUND", "Workspace not found")
	}
	return s.workspaceView(item), nil
}

func (s *Service) CreateWorkspace(ctx context.Context, principal Principal, input WorkspaceInput) (WorkspaceView, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return WorkspaceView{}, validationError("name is required")
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = util.NewID("ws")
	}
	if strings.Contains(id, "/") {
		return WorkspaceView{}, validationError("id must not contain '/'")
	}

	now := s.now().UTC()
	item := store.Workspace{
		ID:          id,
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		OwnerID:     principal.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateWorkspace(ctx, item); err != nil {
		return WorkspaceView{}, conflictAs(err, "WORKSPACE_EXISTS", "Workspace already exists")
	}
	return s.workspaceView(item), nil
}

// InitWorkspace makes sure workspaceID exists, creating it when missing. It
// reports whether the workspace was created by this call.
func (s *Service) InitWorkspace(ctx context.Context, principal Principal, workspaceID string) (WorkspaceView, bool, error) {
	workspaceID = firstNonEmpty(strings.TrimSpace(workspaceID), DefaultWorkspaceID)
	if item, err := s.store.GetWorkspace(ctx, workspaceID); err == nil {
		return s.workspaceView(item), false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return WorkspaceView{}, false, err
	}

	name := workspaceID
	if workspaceID == DefaultWorkspaceID {
		name = "Default"
	}
	view, err := s.CreateWorkspace(ctx, principal, WorkspaceInput{ID: workspaceID, Name: name})
	if errors.Is(err, store.ErrConflict) {
		item, getErr := s.store.GetWorkspace(ctx, workspaceID)
		if getErr != nil {
			return WorkspaceView{}, false, getErr
		}
		return s.workspaceView(item), false, nil
	}
	if err != nil {
		return WorkspaceView{}, false, err
	}
	s.logger.Info("workspace initialized", "workspace_id", workspaceID, "user_id", principal.UserID)
	return view, true, nil
}

func (s *Service) UpdateWorkspace(ctx context.Context, workspaceID string, input WorkspaceInput) (WorkspaceView, error) {
	item, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return WorkspaceView{}, notFoundAs(err, "WORKSPACE_NOT_FOUND", "Workspace not found")
	}
	if name := strings.TrimSpace(input.Name); name != "" {
		item.Name = name
	}
	item.Description = strings.TrimSpace(input.Description)
	if err := s.store.UpdateWorkspace(ctx, item); err != nil {
		return WorkspaceView{}, notFoundAs(err, "WORKSPACE_NOT_FOUND", "Workspace not found")
	}
	item.UpdatedAt = s.now().UTC()
	return s.workspaceView(item), nil
}

func (s *Service) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	if err := s.store.DeleteWorkspace(ctx, workspaceID); err != nil {
		return notFoundAs(err, "WORKSPACE_NOT_FOUND", "Workspace not found")
	}
	return nil
}

func (s *Service) workspaceView(item store.Workspace) WorkspaceView {
	active := []string{}
	if s.registry != nil {
		active = s.registry.Users(item.ID)
	}
	return WorkspaceView{
		ID:          item.ID,
		Name:        item.Name,
		Description: item.Description,
		OwnerID:     item.OwnerID,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
		ActiveUsers: active,
	}
}

func (s *Service) ListFiles(ctx context.Context, workspaceID, prefix string) ([]FileInfo, error) {
	files, err := s.store.ListFiles(ctx, workspaceID, prefix)
	if err != nil {
		return nil, err
	}
	items := make([]FileInfo, 0, len(files))
	for _, file := range files {
		attributes := file.Attributes
		if attributes == nil {
			attributes = map[string]any{}
		}
		items = append(items, FileInfo{
			Name:         file.ID,
			Type:         file.Type,
			Size:         file.Size,
			LastModified: file.UpdatedAt,
			Version:      file.Version,
			Attributes:   attributes,
		})
	}
	return items, nil
}

func (s *Service) GetFile(ctx context.Context, workspaceID, fileID string) (FileView, error) {
	file, err := s.store.GetFile(ctx, workspaceID, fileID)
	if err != nil {
		return FileView{}, notFoundAs(err, "FILE_NOT_FOUND", "File not found")
	}
	content, err := s.readContent(ctx, file)
	if err != nil {
		return FileView{}, err
	}
	return fileView(file, content), nil
}

func (s *Service) CreateFile(ctx context.Context, principal Principal, workspaceID, fileID string, input FileInput) (FileView, error) {
	if strings.TrimSpace(fileID) == "" {
		return FileView{}, validationError("file id is required")
	}
	if _, err := s.store.GetWorkspace(ctx, workspaceID); err != nil {
		return FileView{}, notFoundAs(err, "WORKSPACE_NOT_FOUND", "Workspace not found")
	}

	content := ""
	if input.Content != nil {
		content = *input.Content
	}
	now := s.now().UTC()
	file := store.File{
		ID:          fileID,
		WorkspaceID: workspaceID,
		Type:        firstNonEmpty(input.Type, defaultFileType),
		Version:     firstNonEmpty(input.Version, store.DefaultFileVersion),
		Size:        len(content),
		Attributes:  map[string]any{},
		CreatedBy:   principal.Username,
		UpdatedBy:   principal.Username,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if s.blobs == nil {
		file.Content = content
	}
	if err := s.store.CreateFile(ctx, file, content); err != nil {
		return FileView{}, conflictAs(err, "FILE_EXISTS", "File already exists")
	}
	if err := s.writeContent(ctx, file, content); err != nil {
		return FileView{}, err
	}
	s.recordChange(workspaceID, file, content, gitrepo.ActionCreated, principal.Username)
	return fileView(file, content), nil
}

func (s *Service) UpdateFile(ctx context.Context, principal Principal, workspaceID, fileID string, input FileInput) (FileView, error) {
	file, err := s.store.GetFile(ctx, workspaceID, fileID)
	if err != nil {
		return FileView{}, notFoundAs(err, "FILE_NOT_FOUND", "File not found")
	}
	if input.Content == nil {
		return FileView{}, validationError("content is required")
	}

	content := *input.Content
	file.Version = firstNonEmpty(input.Version, file.Version)
	file.Size = len(content)
	file.UpdatedBy = principal.Username
	file.UpdatedAt = s.now().UTC()
	file.Content = ""
	if s.blobs == nil {
		file.Content = content
	}
	if err := s.store.UpdateFile(ctx, file, content); err != nil {
		return FileView{}, notFoundAs(err, "FILE_NOT_FOUND", "File not found")
	}
	if err := s.writeContent(ctx, file, content); err != nil {
		return FileView{}, err
	}
	s.recordChange(workspaceID, file, content, gitrepo.ActionUpdated, principal.Username)
	return fileView(file, content), nil
}

func (s *Service) DeleteFile(ctx context.Context, principal Principal, workspaceID, fileID string) error {
	file, err := s.store.GetFile(ctx, workspaceID, fileID)
	if err != nil {
		return notFoundAs(err, "FILE_NOT_FOUND", "File not found")
	}
	if err := s.store.DeleteFile(ctx, workspaceID, fileID); err != nil {
		return notFoundAs(err, "FILE_NOT_FOUND", "File not found")
	}
	if s.blobs != nil {
		if err := s.blobs.Delete(ctx, workspaceID, fileID); err != nil {
			s.logger.Warn("delete file body", "workspace_id", workspaceID, "file_id", fileID, "error", err)
		}
	}
	if s.search != nil {
		s.search.DeleteFile(workspaceID, fileID)
	}
	s.recordChange(workspaceID, file, "", gitrepo.ActionDeleted, principal.Username)
	return nil
}

func (s *Service) FileHistory(ctx context.Context, workspaceID, fileID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistorySize
	}
	entries, err := s.history.History(workspaceID, fileID, limit)
	if err != nil {
		return nil, err
	}
	// Deleted files keep their history; only unknown files are missing.
	if len(entries) == 0 {
		if _, err := s.store.GetFile(ctx, workspaceID, fileID); err != nil {
			return nil, notFoundAs(err, "FILE_NOT_FOUND", "File not found")
		}
	}
	items := make([]HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		items = append(items, HistoryEntry{
			Hash:      entry.Hash,
			Version:   entry.Version,
			Timestamp: entry.Timestamp,
			User:      entry.User,
			Action:    entry.Action,
			Changes:   entry.Changes(),
		})
	}
	return items, nil
}

func (s *Service) Completions(ctx context.Context, workspaceID string, input CompletionInput) ([]mvbasic.CompletionItem, error) {
	file, err := s.GetFile(ctx, workspaceID, input.FileID)
	if err != nil {
		return nil, err
	}
	files, err := s.store.ListFiles(ctx, workspaceID, "")
	if err != nil {
		return nil, err
	}
	programs := make([]string, 0, len(files))
	for _, item := range files {
		programs = append(programs, item.ID)
	}
	return mvbasic.Complete(input.Prefix, file.Content, programs), nil
}

func (s *Service) SyntaxTokens(ctx context.Context, workspaceID, fileID string) ([]mvbasic.Token, error) {
	file, err := s.GetFile(ctx, workspaceID, fileID)
	if err != nil {
		return nil, err
	}
	return mvbasic.Tokenize(file.Content), nil
}

func (s *Service) Validate(ctx context.Context, workspaceID, fileID string) (mvbasic.Result, error) {
	file, err := s.GetFile(ctx, workspaceID, fileID)
	if err != nil {
		return mvbasic.Result{}, err
	}
	return mvbasic.Validate(file.Content), nil
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

func (s *Service) Stats() Stats {
	if s.registry == nil {
		return Stats{}
	}
	workspaces, connections := s.registry.Stats()
	return Stats{Workspaces: workspaces, Connections: connections}
}

func (s *Service) Version() string {
	return s.cfg.Version
}

func (s *Service) readContent(ctx context.Context, file store.File) (string, error) {
	if s.blobs == nil {
		return file.Content, nil
	}
	content, err := s.blobs.Get(ctx, file.WorkspaceID, file.ID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	return content, err
}

func (s *Service) writeContent(ctx context.Context, file store.File, content string) error {
	if s.blobs != nil {
		if err := s.blobs.Put(ctx, file.WorkspaceID, file.ID, content); err != nil {
			return err
		}
	}
	if s.search != nil {
		s.search.IndexFile(search.NewFileRecord(file.WorkspaceID, file.ID, file.Type, content))
	}
	return nil
}

// recordChange commits the change to file history. History failures are
// logged; the write itself has already succeeded.
func (s *Service) recordChange(workspaceID string, file store.File, content, action, actor string) {
	if s.history == nil {
		return
	}
	_, err := s.history.Record(workspaceID, gitrepo.Revision{
		FileID:  file.ID,
		Content: content,
		Version: file.Version,
		Action:  action,
		Author:  actor,
	})
	if err != nil {
		s.logger.Error("record file history", "workspace_id", workspaceID, "file_id", file.ID, "action", action, "error", err)
	}
}

func fileView(file store.File, content string) FileView {
	return FileView{
		FileID:       file.ID,
		WorkspaceID:  file.WorkspaceID,
		Content:      content,
		Version:      file.Version,
		Type:         file.Type,
		Size:         file.Size,
		LastModified: file.UpdatedAt,
		UpdatedBy:    file.UpdatedBy,
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
