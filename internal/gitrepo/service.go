package gitrepo

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Actions recorded in file history.
const (
	ActionCreated = "CREATED"
	ActionUpdated = "UPDATED"
	ActionDeleted = "DELETED"
)

const filesDir = "files"

// Revision is one change to a file.
type Revision struct {
	FileID  string
	Content string
	Version string
	Action  string
	Author  string
}

// Entry is a recorded revision as reported by History.
type Entry struct {
	Hash      string
	FileID    string
	Version   string
	Action    string
	User      string
	Timestamp time.Time
	Added     int
	Removed   int
}

// Changes summarises the line delta of the entry.
func (e Entry) Changes() string {
	return fmt.Sprintf("+%d -%d", e.Added, e.Removed)
}

// Service keeps one git repository per workspace and commits every file
// write to it.
type Service struct {
	baseDir string
	now     func() time.Time
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Record commits rev to the workspace repository, creating it on first use.
func (s *Service) Record(workspaceID string, rev Revision) (Entry, error) {
	lock := s.workspaceLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(workspaceID)
	if err != nil {
		return Entry{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Entry{}, fmt.Errorf("open worktree: %w", err)
	}

	rel := path.Join(filesDir, url.PathEscape(rev.FileID))
	abs := filepath.Join(worktree.Filesystem.Root(), filepath.FromSlash(rel))
	if rev.Action == ActionDeleted {
		if _, err := os.Stat(abs); err == nil {
			if _, err := worktree.Remove(rel); err != nil {
				return Entry{}, fmt.Errorf("git rm %s: %w", rev.FileID, err)
			}
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return Entry{}, fmt.Errorf("create files dir: %w", err)
		}
		if err := os.WriteFile(abs, []byte(rev.Content), 0o644); err != nil {
			return Entry{}, fmt.Errorf("write %s: %w", rev.FileID, err)
		}
		if _, err := worktree.Add(rel); err != nil {
			return Entry{}, fmt.Errorf("git add %s: %w", rev.FileID, err)
		}
	}

	hash, err := worktree.Commit(commitMessage(rev), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  rev.Author,
			Email: fmt.Sprintf("%s@local.mveditor.dev", sanitizeEmail(rev.Author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return Entry{}, fmt.Errorf("commit %s: %w", rev.FileID, err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Entry{}, fmt.Errorf("read commit object: %w", err)
	}
	return toEntry(commitObj, rel)
}

// History lists revisions of fileID, newest first. A workspace without a
// repository has no history.
func (s *Service) History(workspaceID, fileID string, limit int) ([]Entry, error) {
	lock := s.workspaceLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(workspaceID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return []Entry{}, nil
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	rel := path.Join(filesDir, url.PathEscape(fileID))
	items := []Entry{}
	err = iter.ForEach(func(commitObj *object.Commit) error {
		_, id, _, ok := parseMessage(commitObj.Message)
		if !ok || id != fileID {
			return nil
		}
		entry, err := toEntry(commitObj, rel)
		if err != nil {
			return err
		}
		items = append(items, entry)
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// ContentAt returns the file body as of the given commit.
func (s *Service) ContentAt(workspaceID, fileID, hash string) (string, error) {
	lock := s.workspaceLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(workspaceID))
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", hash, err)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", hash, err)
	}
	file, err := commitObj.File(path.Join(filesDir, url.PathEscape(fileID)))
	if err != nil {
		return "", fmt.Errorf("read %s at %s: %w", fileID, hash, err)
	}
	return file.Contents()
}

func (s *Service) openOrInit(workspaceID string) (*git.Repository, error) {
	repoPath := s.repoPath(workspaceID)
	repo, err := git.PlainOpen(repoPath)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(repoPath, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(repoPath, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(workspaceID string) string {
	return filepath.Join(s.baseDir, url.PathEscape(workspaceID))
}

func (s *Service) workspaceLock(workspaceID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[workspaceID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[workspaceID] = lock
	return lock
}

// commitMessage encodes the revision as "ACTION file-id version".
func commitMessage(rev Revision) string {
	return fmt.Sprintf("%s %s %s\n", rev.Action, url.PathEscape(rev.FileID), url.PathEscape(rev.Version))
}

func parseMessage(message string) (action, fileID, version string, ok bool) {
	fields := strings.Fields(strings.SplitN(message, "\n", 2)[0])
	if len(fields) != 3 {
		return "", "", "", false
	}
	id, err := url.PathUnescape(fields[1])
	if err != nil {
		return "", "", "", false
	}
	version, err = url.PathUnescape(fields[2])
	if err != nil {
		return "", "", "", false
	}
	return fields[0], id, version, true
}

func toEntry(commitObj *object.Commit, rel string) (Entry, error) {
	action, fileID, version, _ := parseMessage(commitObj.Message)
	entry := Entry{
		Hash:      commitObj.Hash.String()[:7],
		FileID:    fileID,
		Version:   version,
		Action:    action,
		User:      commitObj.Author.Name,
		Timestamp: commitObj.Author.When.UTC(),
	}
	stats, err := commitObj.Stats()
	if err != nil {
		return Entry{}, fmt.Errorf("commit stats: %w", err)
	}
	for _, stat := range stats {
		if stat.Name == rel {
			entry.Added += stat.Addition
			entry.Removed += stat.Deletion
		}
	}
	return entry, nil
}

func sanitizeEmail(input string) string {
	bytes := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			bytes = append(bytes, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			bytes = append(bytes, '.')
		}
	}
	if len(bytes) == 0 {
		return "user"
	}
	return string(bytes)
}
