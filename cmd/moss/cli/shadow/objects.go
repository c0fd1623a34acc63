package shadow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/logging"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/paths"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/trailers"
)

const (
	authorName  = "moss"
	authorEmail = "moss@localhost"
)

// commitMeta is the meta.json document stored in every commit tree.
type commitMeta struct {
	Seq         int64      `json:"seq"`
	Parent      string     `json:"parent,omitempty"`
	Operation   Operation  `json:"operation"`
	Targets     []string   `json:"targets,omitempty"`
	Files       []fileMeta `json:"files"`
	Message     string     `json:"message,omitempty"`
	Workflow    string     `json:"workflow,omitempty"`
	RealVCSHead string     `json:"real_vcs_head,omitempty"`
	Checkpoint  bool       `json:"checkpoint,omitempty"`
	Resync      bool       `json:"resync,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

type fileMeta struct {
	Path   string `json:"path"`
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
}

func hashString(h plumbing.Hash) string {
	if h == plumbing.ZeroHash {
		return ""
	}
	return h.String()
}

func parseHash(s string) plumbing.Hash {
	if s == "" {
		return plumbing.ZeroHash
	}
	return plumbing.NewHash(s)
}

// WriteBlob stores content and returns its git blob hash.
func (r *Repository) WriteBlob(content []byte) (plumbing.Hash, error) {
	if err := r.Writable(); err != nil {
		return plumbing.ZeroHash, err
	}
	hash, err := r.writeBlob(content)
	if err != nil {
		return plumbing.ZeroHash, &IOError{Op: "write blob", Err: err}
	}
	return hash, nil
}

func (r *Repository) writeBlob(content []byte) (plumbing.Hash, error) {
	obj := r.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(content)))

	writer, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to get object writer: %w", err)
	}
	if _, err := writer.Write(content); err != nil {
		_ = writer.Close()
		return plumbing.ZeroHash, fmt.Errorf("failed to write blob content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to close blob writer: %w", err)
	}

	hash, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to store blob object: %w", err)
	}
	return hash, nil
}

// ReadBlob returns the content of a stored blob. ZeroHash means the file was
// absent and yields nil content with no error.
func (r *Repository) ReadBlob(hash plumbing.Hash) ([]byte, error) {
	if hash == plumbing.ZeroHash {
		return nil, nil
	}
	if r.repo == nil {
		return nil, ErrDisabled
	}
	blob, err := r.repo.BlobObject(hash)
	if err != nil {
		return nil, &IOError{Op: "read blob", Path: hash.String(), Err: err}
	}
	rd, err := blob.Reader()
	if err != nil {
		return nil, &IOError{Op: "read blob", Path: hash.String(), Err: err}
	}
	defer rd.Close()
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, &IOError{Op: "read blob", Path: hash.String(), Err: err}
	}
	return data, nil
}

// WriteCommit stores c as a child of c.Parent and makes it reachable through a
// tip ref. It fills in c.ID and c.Seq. Head is not moved; the caller swaps it
// with SetHead once everything else has succeeded.
func (r *Repository) WriteCommit(ctx context.Context, c *Commit) (plumbing.Hash, error) {
	if err := r.Writable(); err != nil {
		return plumbing.ZeroHash, err
	}
	if err := r.validateNew(c); err != nil {
		return plumbing.ZeroHash, err
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}
	c.Seq = r.nextSeq

	treeHash, err := r.buildCommitTree(c)
	if err != nil {
		return plumbing.ZeroHash, &IOError{Op: "write commit tree", Err: err}
	}

	sig := object.Signature{Name: authorName, Email: authorEmail, When: c.Timestamp}
	gc := &object.Commit{
		TreeHash:  treeHash,
		Author:    sig,
		Committer: sig,
		Message: trailers.Format(c.Message, trailers.Fields{
			Operation:   string(c.Operation),
			Workflow:    c.Workflow,
			RealVCSHead: c.RealVCSHead,
			Checkpoint:  c.Checkpoint,
		}),
	}
	if c.Parent != plumbing.ZeroHash {
		gc.ParentHashes = []plumbing.Hash{c.Parent}
	}

	obj := r.repo.Storer.NewEncodedObject()
	if err := gc.Encode(obj); err != nil {
		return plumbing.ZeroHash, &IOError{Op: "encode commit", Err: err}
	}
	id, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, &IOError{Op: "store commit", Err: err}
	}
	c.ID = id

	if err := r.setTip(id); err != nil {
		return plumbing.ZeroHash, err
	}
	if c.Parent != plumbing.ZeroHash {
		// The parent is no longer a leaf. A crash before this point leaves an
		// extra tip, which is harmless.
		if err := r.removeTip(c.Parent); err != nil {
			return plumbing.ZeroHash, err
		}
	}

	r.addToArena(c)
	logging.Debug(ctx, "shadow commit written",
		slog.String("commit", c.ShortID()),
		slog.String("parent", ShortHash(c.Parent)),
		slog.String("operation", string(c.Operation)),
		slog.Int("files", len(c.Files)),
	)
	return id, nil
}

func (r *Repository) validateNew(c *Commit) error {
	if c.Parent == plumbing.ZeroHash {
		if r.root != plumbing.ZeroHash {
			return fmt.Errorf("%w: store already has a root commit", ErrInvalidEdit)
		}
	} else if _, ok := r.commits[c.Parent]; !ok {
		return fmt.Errorf("parent %s: %w", c.Parent, ErrCommitNotFound)
	}
	if c.Checkpoint && c.RealVCSHead == "" {
		return fmt.Errorf("%w: checkpoint commit without a real VCS head", ErrInvalidEdit)
	}
	seen := make(map[string]bool, len(c.Files))
	for _, f := range c.Files {
		if seen[f.Path] {
			return fmt.Errorf("%w: duplicate path %s", ErrInvalidEdit, f.Path)
		}
		seen[f.Path] = true
	}
	return nil
}

// buildCommitTree writes meta.json and the before/after blobs into a tree.
func (r *Repository) buildCommitTree(c *Commit) (plumbing.Hash, error) {
	meta := commitMeta{
		Seq:         c.Seq,
		Parent:      hashString(c.Parent),
		Operation:   c.Operation,
		Targets:     c.Targets,
		Files:       make([]fileMeta, 0, len(c.Files)),
		Message:     c.Message,
		Workflow:    c.Workflow,
		RealVCSHead: c.RealVCSHead,
		Checkpoint:  c.Checkpoint,
		Resync:      c.Resync,
		Timestamp:   c.Timestamp,
	}
	entries := make(map[string]object.TreeEntry, 2*len(c.Files)+1)
	for _, f := range c.Files {
		meta.Files = append(meta.Files, fileMeta{Path: f.Path, Before: hashString(f.Before), After: hashString(f.After)})
		if f.Before != plumbing.ZeroHash {
			p := paths.BeforeTreeDir + "/" + f.Path
			entries[p] = object.TreeEntry{Name: p, Mode: filemode.Regular, Hash: f.Before}
		}
		if f.After != plumbing.ZeroHash {
			p := paths.AfterTreeDir + "/" + f.Path
			entries[p] = object.TreeEntry{Name: p, Mode: filemode.Regular, Hash: f.After}
		}
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to marshal commit metadata: %w", err)
	}
	metaHash, err := r.writeBlob(data)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	entries[paths.CommitMetadataFileName] = object.TreeEntry{
		Name: paths.CommitMetadataFileName,
		Mode: filemode.Regular,
		Hash: metaHash,
	}
	return r.buildTreeFromEntries(entries)
}

// readCommit decodes a stored commit from its git object.
func (r *Repository) readCommit(id plumbing.Hash) (*Commit, []plumbing.Hash, error) {
	gc, err := r.repo.CommitObject(id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read commit %s: %w", id, err)
	}
	tree, err := gc.Tree()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read tree of %s: %w", id, err)
	}
	file, err := tree.File(paths.CommitMetadataFileName)
	if err != nil {
		return nil, nil, fmt.Errorf("commit %s has no %s: %w", id, paths.CommitMetadataFileName, err)
	}
	content, err := file.Contents()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s of %s: %w", paths.CommitMetadataFileName, id, err)
	}

	var meta commitMeta
	if err := json.Unmarshal([]byte(content), &meta); err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s of %s: %w", paths.CommitMetadataFileName, id, err)
	}

	c := &Commit{
		ID:          id,
		Parent:      parseHash(meta.Parent),
		Seq:         meta.Seq,
		Operation:   meta.Operation,
		Targets:     meta.Targets,
		Files:       make([]FileChange, 0, len(meta.Files)),
		Message:     meta.Message,
		Workflow:    meta.Workflow,
		RealVCSHead: meta.RealVCSHead,
		Checkpoint:  meta.Checkpoint,
		Resync:      meta.Resync,
		Timestamp:   meta.Timestamp,
	}
	for _, f := range meta.Files {
		c.Files = append(c.Files, FileChange{Path: f.Path, Before: parseHash(f.Before), After: parseHash(f.After)})
	}
	return c, gc.ParentHashes, nil
}

// treeNode represents a directory while building a nested tree.
type treeNode struct {
	dirs  map[string]*treeNode
	files []object.TreeEntry
}

// buildTreeFromEntries builds nested git trees from slash-separated entries.
func (r *Repository) buildTreeFromEntries(entries map[string]object.TreeEntry) (plumbing.Hash, error) {
	root := &treeNode{dirs: make(map[string]*treeNode)}
	for fullPath, entry := range entries {
		insertIntoTree(root, strings.Split(fullPath, "/"), entry)
	}
	return r.writeTreeNode(root)
}

func insertIntoTree(node *treeNode, parts []string, entry object.TreeEntry) {
	if len(parts) == 1 {
		node.files = append(node.files, object.TreeEntry{Name: parts[0], Mode: entry.Mode, Hash: entry.Hash})
		return
	}
	sub := node.dirs[parts[0]]
	if sub == nil {
		sub = &treeNode{dirs: make(map[string]*treeNode)}
		node.dirs[parts[0]] = sub
	}
	insertIntoTree(sub, parts[1:], entry)
}

func (r *Repository) writeTreeNode(node *treeNode) (plumbing.Hash, error) {
	treeEntries := append([]object.TreeEntry(nil), node.files...)
	for name, sub := range node.dirs {
		subHash, err := r.writeTreeNode(sub)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		treeEntries = append(treeEntries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: subHash})
	}
	sortTreeEntries(treeEntries)

	tree := &object.Tree{Entries: treeEntries}
	obj := r.repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode tree: %w", err)
	}
	hash, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to store tree: %w", err)
	}
	return hash, nil
}

// sortTreeEntries sorts entries in git order: directories compare as if they
// had a trailing slash.
func sortTreeEntries(entries []object.TreeEntry) {
	key := func(e object.TreeEntry) string {
		if e.Mode == filemode.Dir {
			return e.Name + "/"
		}
		return e.Name
	}
	sort.Slice(entries, func(i, j int) bool {
		return key(entries[i]) < key(entries[j])
	})
}

// setTip points refs/moss/tips/<id> at id.
func (r *Repository) setTip(id plumbing.Hash) error {
	ref := plumbing.NewHashReference(tipRefName(id), id)
	if err := r.repo.Storer.SetReference(ref); err != nil {
		return &IOError{Op: "set tip ref", Path: ref.Name().String(), Err: err}
	}
	return nil
}

// removeTip deletes the tip ref of id. A missing ref is not an error.
func (r *Repository) removeTip(id plumbing.Hash) error {
	name := tipRefName(id)
	if err := r.repo.Storer.RemoveReference(name); err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return &IOError{Op: "remove tip ref", Path: name.String(), Err: err}
	}
	return nil
}

func tipRefName(id plumbing.Hash) plumbing.ReferenceName {
	return plumbing.ReferenceName(paths.TipRefPrefix + id.String())
}
