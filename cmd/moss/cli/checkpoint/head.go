// Package checkpoint tracks how shadow history lines up with the real VCS
// HEAD and enforces the checkpoint boundary for navigation.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// HeadResolver reports the real VCS HEAD of a worktree.
type HeadResolver interface {
	// RealHead returns the HEAD commit hash, or "" when the worktree has no
	// real VCS or its branch is unborn.
	RealHead(ctx context.Context) (string, error)

	// FileAtHead returns path as committed at the real HEAD. exists is false
	// when there is no real HEAD or the file is not in it.
	FileAtHead(ctx context.Context, path string) (content []byte, exists bool, err error)
}

// GitHeadResolver reads the real repository with go-git. Linked worktrees are
// supported through their common git dir.
type GitHeadResolver struct {
	WorktreeRoot string
}

func (g GitHeadResolver) open() (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(g.WorktreeRoot, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository: %w", err)
	}
	return repo, nil
}

func (g GitHeadResolver) headCommit() (*object.Commit, error) {
	repo, err := g.open()
	if err != nil || repo == nil {
		return nil, err
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD: %w", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD commit: %w", err)
	}
	return commit, nil
}

func (g GitHeadResolver) RealHead(_ context.Context) (string, error) {
	commit, err := g.headCommit()
	if err != nil || commit == nil {
		return "", err
	}
	return commit.Hash.String(), nil
}

func (g GitHeadResolver) FileAtHead(_ context.Context, path string) ([]byte, bool, error) {
	commit, err := g.headCommit()
	if err != nil || commit == nil {
		return nil, false, err
	}
	file, err := commit.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s at HEAD: %w", path, err)
	}
	rd, err := file.Reader()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s at HEAD: %w", path, err)
	}
	defer rd.Close()
	content, err := io.ReadAll(rd)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s at HEAD: %w", path, err)
	}
	return content, true, nil
}
