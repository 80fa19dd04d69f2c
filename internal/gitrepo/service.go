// Package gitrepo keeps a plain git repository per vault and records a
// commit for every persisted document flush, so each markdown file has a
// browsable edit history independent of the database.
package gitrepo

import (
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

// CommitInfo describes a single snapshot commit.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Service manages one repository per vault under baseDir.
type Service struct {
	baseDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Snapshot writes the current text of a document to <fileID>.md in the
// vault's repository and commits it attributed to the last editor. The
// repository is created on first use. Unchanged content is a no-op.
func (s *Service) Snapshot(vaultID, fileID, text, author string) (CommitInfo, error) {
	lock := s.vaultLock(vaultID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(vaultID)
	if err != nil {
		return CommitInfo{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("worktree: %w", err)
	}

	relPath := fileID + ".md"
	fullPath := filepath.Join(s.repoPath(vaultID), relPath)
	if err := os.WriteFile(fullPath, []byte(text), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write snapshot: %w", err)
	}

	if _, err := worktree.Add(relPath); err != nil {
		return CommitInfo{}, fmt.Errorf("stage snapshot: %w", err)
	}

	hash, err := worktree.Commit(fmt.Sprintf("Update %s", relPath), &git.CommitOptions{
		Author: signature(author),
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		return CommitInfo{}, nil
	}
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit snapshot: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// History returns snapshot commits touching the given document, newest
// first, up to limit entries. A limit of 0 means no cap.
func (s *Service) History(vaultID, fileID string, limit int) ([]CommitInfo, error) {
	lock := s.vaultLock(vaultID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(vaultID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	// Snapshots are linear, so walking parent links from HEAD yields
	// newest-first without relying on second-resolution commit times.
	relPath := fileID + ".md"
	iter, err := repo.Log(&git.LogOptions{
		FileName: &relPath,
	})
	if err != nil {
		return nil, fmt.Errorf("log: %w", err)
	}
	defer iter.Close()

	var history []CommitInfo
	for {
		commitObj, err := iter.Next()
		if err != nil {
			break
		}
		history = append(history, toCommitInfo(commitObj))
		if limit > 0 && len(history) >= limit {
			break
		}
	}
	return history, nil
}

// ContentAt returns the document text as of a specific snapshot commit.
func (s *Service) ContentAt(vaultID, fileID, hash string) (string, error) {
	lock := s.vaultLock(vaultID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(vaultID))
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}

	commitObj, err := repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return "", fmt.Errorf("resolve commit %s: %w", hash, err)
	}
	file, err := commitObj.File(fileID + ".md")
	if err != nil {
		return "", fmt.Errorf("file at commit: %w", err)
	}
	return file.Contents()
}

func (s *Service) openOrInit(vaultID string) (*git.Repository, error) {
	path := s.repoPath(vaultID)

	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))
	if err := repo.Storer.SetReference(head); err != nil {
		return nil, fmt.Errorf("set head: %w", err)
	}
	cfg, err := repo.Config()
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg.Init.DefaultBranch = "main"
	if err := repo.SetConfig(cfg); err != nil {
		return nil, fmt.Errorf("write config: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(vaultID string) string {
	return filepath.Join(s.baseDir, vaultID)
}

func (s *Service) vaultLock(vaultID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[vaultID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[vaultID] = lock
	}
	return lock
}

func signature(author string) *object.Signature {
	name := strings.TrimSpace(author)
	if name == "" {
		name = "inkvault"
	}
	return &object.Signature{
		Name:  name,
		Email: fmt.Sprintf("%s@local.inkvault.dev", sanitizeEmail(name)),
		When:  time.Now(),
	}
}

func sanitizeEmail(input string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(input) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '.':
			b.WriteRune('.')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "editor"
	}
	return out
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String(),
		Author:    commitObj.Author.Name,
		Message:   strings.TrimSpace(commitObj.Message),
		Timestamp: commitObj.Author.When,
	}
}
