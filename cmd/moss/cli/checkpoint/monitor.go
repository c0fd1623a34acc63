package checkpoint

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/logging"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/shadow"
)

// Monitor compares shadow history against the real VCS HEAD.
type Monitor struct {
	Repo     *shadow.Repository
	Resolver HeadResolver
}

// DivergenceReport is the result of CheckDivergence.
type DivergenceReport struct {
	// Changed is true when the real HEAD moved since Against was written.
	Changed             bool
	NewRealVCSHead      string
	PreviousRealVCSHead string

	// Against is the commit whose recorded real HEAD was compared: the most
	// recent commit on the current path touching any of the files, else the
	// root. ZeroHash when there is no history yet.
	Against plumbing.Hash
}

// CheckDivergence reports whether the real HEAD changed since the most recent
// commit touching files.
func (m *Monitor) CheckDivergence(ctx context.Context, files []string) (DivergenceReport, error) {
	current, err := m.Resolver.RealHead(ctx)
	if err != nil {
		return DivergenceReport{}, fmt.Errorf("resolving real HEAD: %w", err)
	}
	report := DivergenceReport{NewRealVCSHead: current}

	against := m.baseline(files)
	if against == nil {
		return report, nil
	}
	report.Against = against.ID
	report.PreviousRealVCSHead = against.RealVCSHead
	report.Changed = against.RealVCSHead != current

	if report.Changed {
		logging.Debug(ctx, "real HEAD moved",
			slog.String("previous", against.RealVCSHead),
			slog.String("current", current),
			slog.String("against", against.ShortID()),
		)
	}
	return report, nil
}

func (m *Monitor) baseline(files []string) *shadow.Commit {
	for _, id := range m.Repo.Ancestors(m.Repo.Head()) {
		c, err := m.Repo.Commit(id)
		if err != nil {
			return nil
		}
		for _, f := range files {
			if c.Touches(f) {
				return c
			}
		}
		if c.IsRoot() {
			return c
		}
	}
	return nil
}

// NearestCheckpoint returns the boundary navigation may not cross. When the
// real HEAD moved since head was written, head itself is the boundary;
// otherwise it is the closest ancestor-or-self flagged as a checkpoint.
// ZeroHash means there is no boundary.
func (m *Monitor) NearestCheckpoint(ctx context.Context) (plumbing.Hash, error) {
	head := m.Repo.HeadCommit()
	if head == nil {
		return plumbing.ZeroHash, nil
	}
	current, err := m.Resolver.RealHead(ctx)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolving real HEAD: %w", err)
	}
	if current != head.RealVCSHead {
		return head.ID, nil
	}
	return m.LastCheckpoint(), nil
}

// LastCheckpoint returns the closest ancestor-or-self of head flagged as a
// checkpoint, or ZeroHash.
func (m *Monitor) LastCheckpoint() plumbing.Hash {
	for _, id := range m.Repo.Ancestors(m.Repo.Head()) {
		if c, err := m.Repo.Commit(id); err == nil && c.Checkpoint {
			return id
		}
	}
	return plumbing.ZeroHash
}

// EnforceBoundary returns a *shadow.CheckpointBoundaryError when target is
// strictly older than the nearest checkpoint, that is a proper ancestor of
// it. The checkpoint itself, its descendants and commits on other branches
// are reachable.
func (m *Monitor) EnforceBoundary(ctx context.Context, target plumbing.Hash, override bool) error {
	if override {
		return nil
	}
	boundary, err := m.NearestCheckpoint(ctx)
	if err != nil {
		return err
	}
	if boundary == plumbing.ZeroHash || target == boundary || !m.Repo.IsAncestor(target, boundary) {
		return nil
	}
	return &shadow.CheckpointBoundaryError{Target: target, Checkpoint: boundary}
}
