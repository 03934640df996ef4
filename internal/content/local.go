package content

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// LocalStore keeps documents in a local git repository and mimics the GitHub
// store's sha discipline: the lock token is the blob hash of the committed
// file, and a Put presenting a stale one fails with ErrSHAConflict.
type LocalStore struct {
	dir string
	mu  sync.Mutex
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	_, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, initErr := git.PlainInit(dir, false)
		if initErr != nil {
			return nil, fmt.Errorf("init repo: %w", initErr)
		}
		if refErr := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); refErr != nil {
			return nil, fmt.Errorf("set HEAD to main: %w", refErr)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Get(_ context.Context, path string) (File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	full, err := s.resolve(path)
	if err != nil {
		return File{}, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return File{}, fmt.Errorf("get %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return File{}, fmt.Errorf("read %s: %w", path, err)
	}
	return File{Data: data, SHA: blobSHA(data)}, nil
}

func (s *LocalStore) Put(_ context.Context, path string, data []byte, message, sha string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}

	existing, readErr := os.ReadFile(full)
	switch {
	case readErr == nil:
		if sha == "" || sha != blobSHA(existing) {
			return "", fmt.Errorf("put %s: %w", path, ErrSHAConflict)
		}
	case errors.Is(readErr, os.ErrNotExist):
		if sha != "" {
			return "", fmt.Errorf("put %s: %w", path, ErrSHAConflict)
		}
	default:
		return "", fmt.Errorf("stat %s: %w", path, readErr)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create parent dirs: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	repo, err := git.PlainOpen(s.dir)
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}
	rel := filepath.ToSlash(strings.TrimLeft(path, "/"))
	if _, err := worktree.Add(rel); err != nil {
		return "", fmt.Errorf("git add %s: %w", rel, err)
	}
	if _, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "geoportal",
			Email: "geoportal@localhost",
			When:  time.Now(),
		},
	}); err != nil {
		return "", fmt.Errorf("commit %s: %w", rel, err)
	}

	return blobSHA(data), nil
}

func (s *LocalStore) List(_ context.Context, path string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	items, err := os.ReadDir(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("list %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		if item.Name() == ".git" {
			continue
		}
		entry := Entry{
			Name: item.Name(),
			Path: strings.TrimLeft(filepath.ToSlash(filepath.Join(path, item.Name())), "/"),
			Type: "file",
		}
		if item.IsDir() {
			entry.Type = "dir"
		} else if data, readErr := os.ReadFile(filepath.Join(full, item.Name())); readErr == nil {
			entry.SHA = blobSHA(data)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *LocalStore) Ping(_ context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("store dir unavailable: %w", err)
	}
	return nil
}

func (s *LocalStore) resolve(path string) (string, error) {
	cleaned := filepath.Clean("/" + strings.TrimLeft(path, "/"))
	if strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid path %q", path)
	}
	return filepath.Join(s.dir, cleaned), nil
}

// blobSHA is the git blob hash of data, identical to the sha the GitHub
// Contents API reports for the same bytes.
func blobSHA(data []byte) string {
	return plumbing.ComputeHash(plumbing.BlobObject, data).String()
}
