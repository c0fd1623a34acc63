// Package paths centralizes the on-disk layout of a moss worktree.
package paths

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Directory constants (relative to the worktree root).
const (
	MossDir      = ".moss"
	LogsDir      = ".moss/logs"
	ShadowDir    = ".moss/shadow"
	SettingsFile = ".moss/settings.json"
	LocalFile    = ".moss/settings.local.json"
)

// Files inside the shadow store.
const (
	HeadFileName           = "HEAD_SHADOW"
	FormatFileName         = "FORMAT"
	LockFileName           = "lock"
	RetentionStampFileName = "retention-stamp"
	CommitMetadataFileName = "meta.json"
	BeforeTreeDir          = "before"
	AfterTreeDir           = "after"
	TipRefPrefix           = "refs/moss/tips/"
	RegistryDirName        = "moss"
	RegistryFileName       = "worktrees.db"
	RegistryPathEnvVar     = "MOSS_REGISTRY_PATH"
	gitDir                 = ".git"
)

var (
	worktreeRootMu       sync.RWMutex
	worktreeRootCache    string
	worktreeRootCacheDir string
)

// WorktreeRoot returns the root of the current worktree.
// Uses 'git rev-parse --show-toplevel' and falls back to the current directory
// when not inside a git repository, since moss also tracks plain directories.
// The result is cached per working directory.
func WorktreeRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	worktreeRootMu.RLock()
	if worktreeRootCache != "" && worktreeRootCacheDir == cwd {
		cached := worktreeRootCache
		worktreeRootMu.RUnlock()
		return cached, nil
	}
	worktreeRootMu.RUnlock()

	root := cwd
	cmd := exec.CommandContext(context.Background(), "git", "rev-parse", "--show-toplevel")
	if output, err := cmd.Output(); err == nil {
		root = strings.TrimSpace(string(output))
	}

	worktreeRootMu.Lock()
	worktreeRootCache = root
	worktreeRootCacheDir = cwd
	worktreeRootMu.Unlock()

	return root, nil
}

// ClearWorktreeRootCache clears the cached worktree root.
// This is primarily useful for testing when changing directories.
func ClearWorktreeRootCache() {
	worktreeRootMu.Lock()
	worktreeRootCache = ""
	worktreeRootCacheDir = ""
	worktreeRootMu.Unlock()
}

// ShadowStorePath returns the shadow store directory for a worktree.
func ShadowStorePath(worktreeRoot string) string {
	return filepath.Join(worktreeRoot, ShadowDir)
}

// IsInfrastructurePath returns true if the path is part of moss's own state
// (i.e., inside the .moss or .git directory).
func IsInfrastructurePath(path string) bool {
	path = filepath.ToSlash(path)
	return path == MossDir || strings.HasPrefix(path, MossDir+"/") ||
		path == gitDir || strings.HasPrefix(path, gitDir+"/")
}

// ToRelativePath converts a path to a slash-separated path relative to root.
// Returns an error if the path escapes the worktree.
func ToRelativePath(root, path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", fmt.Errorf("failed to relativize %s: %w", path, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the worktree", path)
	}
	return filepath.ToSlash(rel), nil
}

// GitCommonDir returns the shared git directory for the worktree, which is the
// same for every linked worktree of one repository.
// Returns an error if the directory is not inside a git repository.
func GitCommonDir(ctx context.Context, worktreeRoot string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--git-common-dir")
	cmd.Dir = worktreeRoot
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get git common dir: %w", err)
	}

	commonDir := strings.TrimSpace(string(output))
	if commonDir == "" {
		return "", errors.New("empty git common dir")
	}
	// git rev-parse --git-common-dir returns paths relative to cmd.Dir
	if !filepath.IsAbs(commonDir) {
		commonDir = filepath.Join(worktreeRoot, commonDir)
	}
	return filepath.Clean(commonDir), nil
}

// LogicalRepoID identifies the logical repository a worktree belongs to.
// Worktrees sharing a git common dir get the same ID; directories without a
// real VCS are their own logical repository.
func LogicalRepoID(ctx context.Context, worktreeRoot string) string {
	key := worktreeRoot
	if commonDir, err := GitCommonDir(ctx, worktreeRoot); err == nil {
		if resolved, err := filepath.EvalSymlinks(commonDir); err == nil {
			commonDir = resolved
		}
		key = commonDir
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// RegistryPath returns the path of the cross-worktree registry database.
// MOSS_REGISTRY_PATH overrides the default under the user config directory.
func RegistryPath() (string, error) {
	if p := os.Getenv(RegistryPathEnvVar); p != "" {
		return p, nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config dir: %w", err)
	}
	return filepath.Join(configDir, RegistryDirName, RegistryFileName), nil
}
