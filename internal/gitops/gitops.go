package gitops

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// Revision identifies the commit a trainer checkout is at.
type Revision struct {
	Commit string
	Dirty  bool
}

// Describe returns the HEAD commit of the work tree containing dir and
// whether it has uncommitted changes.
func Describe(dir string) (*Revision, error) {
	head := exec.Command("git", "rev-parse", "HEAD")
	head.Dir = dir
	out, err := head.Output()
	if err != nil {
		return nil, fmt.Errorf("git rev-parse HEAD: %w", err)
	}
	rev := &Revision{Commit: strings.TrimSpace(string(out))}

	status := exec.Command("git", "status", "--porcelain", "--untracked-files=no")
	status.Dir = dir
	out, err = status.Output()
	if err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}
	rev.Dirty = len(bytes.TrimSpace(out)) > 0
	return rev, nil
}

func (r *Revision) String() string {
	if r.Dirty {
		return r.Commit + "-dirty"
	}
	return r.Commit
}
