// Package conflict compares working files against the content the shadow
// history expects them to hold. It never writes.
package conflict

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/shadow"
)

// Status is the outcome of a check.
type Status int

const (
	Match Status = iota
	Diverged
)

func (s Status) String() string {
	if s == Match {
		return "match"
	}
	return "diverged"
}

// Result describes one checked file. Hashes are git blob hashes;
// plumbing.ZeroHash means the file is absent.
type Result struct {
	Path     string
	Status   Status
	Expected plumbing.Hash
	Actual   plumbing.Hash
}

// Detector checks working files under Root.
type Detector struct {
	Root string

	// NormalizeLineEndings compares content after converting CRLF to LF.
	NormalizeLineEndings bool

	// Lookup returns the content of an expected blob. It is only needed when
	// NormalizeLineEndings is set, since hashes alone cannot be normalized.
	Lookup func(plumbing.Hash) ([]byte, error)
}

// ExpectedHash returns the blob hash recorded for content, or ZeroHash when
// the file does not exist.
func ExpectedHash(content []byte, exists bool) plumbing.Hash {
	if !exists {
		return plumbing.ZeroHash
	}
	return plumbing.ComputeHash(plumbing.BlobObject, content)
}

// ReadWorkingFile reads a worktree-relative path. exists is false when the
// file is missing, including when a parent directory has become a file.
func ReadWorkingFile(root, path string) (content []byte, exists bool, err error) {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(path))) //nolint:gosec // path is validated worktree-relative
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, syscall.ENOTDIR) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, true, nil
}

// Check compares the on-disk content of path with expected.
func (d *Detector) Check(path string, expected plumbing.Hash) (Result, error) {
	content, exists, err := ReadWorkingFile(d.Root, path)
	if err != nil {
		return Result{}, err
	}
	actual := ExpectedHash(content, exists)
	res := Result{Path: path, Expected: expected, Actual: actual, Status: Match}
	if actual == expected {
		return res, nil
	}

	if d.NormalizeLineEndings && exists && expected != plumbing.ZeroHash && d.Lookup != nil {
		want, err := d.Lookup(expected)
		if err != nil {
			return Result{}, err
		}
		if bytes.Equal(normalize(want), normalize(content)) {
			return res, nil
		}
	}
	res.Status = Diverged
	return res, nil
}

// CheckAll checks every path against its expected hash and returns a
// *shadow.ConflictError listing all diverged files, or nil.
func (d *Detector) CheckAll(expected map[string]plumbing.Hash, order []string) ([]Result, error) {
	results := make([]Result, 0, len(order))
	var conflicts []shadow.FileConflict
	for _, path := range order {
		res, err := d.Check(path, expected[path])
		if err != nil {
			return nil, err
		}
		results = append(results, res)
		if res.Status == Diverged {
			conflicts = append(conflicts, shadow.FileConflict{Path: path, Expected: res.Expected, Actual: res.Actual})
		}
	}
	if len(conflicts) > 0 {
		return results, &shadow.ConflictError{Conflicts: conflicts}
	}
	return results, nil
}

func normalize(b []byte) []byte {
	return bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
}
