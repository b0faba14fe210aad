// Package remote defines the contract between bifrost and a hosted Git
// repository: reading branch heads, files and trees, and creating a single
// commit guarded by an expected branch head.
package remote

import (
	"context"
	"fmt"
	"path"
	"strings"

	"emperror.dev/errors"
)

var (
	// ErrBranchNotFound is returned when a branch has no ref on the remote.
	// This is indistinguishable from a repository without any commits.
	ErrBranchNotFound = errors.Sentinel("branch not found")
	// ErrNotFound is returned when a file or directory does not exist at the
	// requested branch.
	ErrNotFound = errors.Sentinel("path not found")
	// ErrConflict matches any *ConflictError.
	ErrConflict = errors.Sentinel("branch head moved")
)

// CleanPath returns the canonical form of a repository-relative path: no
// leading or trailing slash and no empty, "." or ".." segments. The
// repository root is "". Every component keys files by this form.
func CleanPath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(p)), "/")
}

// Repository is implemented by every backend that bifrost can commit to.
type Repository interface {
	// BranchHead returns the oid of the commit the branch currently points
	// to.
	BranchHead(ctx context.Context, branch string) (string, error)
	// FileContent returns the content of a single file. An empty branch
	// means the repository's default branch.
	FileContent(ctx context.Context, path string, branch string) (*FileContent, error)
	// Tree returns the entries of a directory. An empty path is the root.
	Tree(ctx context.Context, path string, branch string) ([]TreeEntry, error)
	// CreateCommit creates exactly one commit containing every addition and
	// deletion, or none of them. If the branch no longer points to
	// req.ExpectedHeadOID, a *ConflictError is returned.
	CreateCommit(ctx context.Context, req CommitRequest) (*Commit, error)
}

type FileContent struct {
	Path    string
	Content string
	Size    int64
	OID     string
}

type TreeEntryKind int

const (
	TreeEntryFile TreeEntryKind = iota
	TreeEntryTree
)

func (k TreeEntryKind) String() string {
	switch k {
	case TreeEntryFile:
		return "file"
	case TreeEntryTree:
		return "tree"
	}
	return fmt.Sprintf("TreeEntryKind(%d)", int(k))
}

type TreeEntry struct {
	Name string
	Path string
	Kind TreeEntryKind
	OID  string
	// Size is only known for files.
	Size *int64
}

type FileAddition struct {
	Path    string
	Content string
}

type CommitRequest struct {
	Branch          string
	Headline        string
	Body            string
	Additions       []FileAddition
	Deletions       []string
	ExpectedHeadOID string
}

type Commit struct {
	OID string
	URL string
	// Verified is true if the remote reports a valid signature for the
	// commit.
	Verified bool
}

// ConflictError is returned by CreateCommit when the branch head is not the
// expected one at the time the commit is written.
type ConflictError struct {
	Branch   string
	Expected string
	// Actual is the head observed by the remote, if it reported one.
	Actual string
	// Message is the remote's own description of the failure.
	Message string
}

func (e *ConflictError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("branch %q moved (expected head %s): %s", e.Branch, e.Expected, e.Message)
	}
	if e.Actual != "" {
		return fmt.Sprintf("branch %q moved: expected head %s but found %s", e.Branch, e.Expected, e.Actual)
	}
	return fmt.Sprintf("branch %q moved (expected head %s)", e.Branch, e.Expected)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
